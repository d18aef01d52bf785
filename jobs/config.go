package jobs

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrConfigMissing is returned when a job has no config file.
var ErrConfigMissing = errors.New("job config file is missing")

// ErrConfigEmpty is returned when a job's config file exists but is empty.
var ErrConfigEmpty = errors.New("job config file is empty")

// ConfigError wraps a syntactically invalid config file, distinguishable
// from the missing and empty cases.
type ConfigError struct {
	Path  string
	Cause error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid job config %s: %v", e.Path, e.Cause)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Config is the persisted configuration of an import job. It is written
// as a human-editable YAML document; absent keys load as empty strings.
type Config struct {
	// JobID identifies the job; its URL-encoded form names the directory.
	JobID string `yaml:"job_id"`

	// Model names the content model binding in the registry.
	Model string `yaml:"model"`

	// AccessClass is an access class URI stamped on new resources.
	AccessClass string `yaml:"access,omitempty"`

	// MemberOf links new resources to an aggregation.
	MemberOf string `yaml:"member_of,omitempty"`

	// ContainerPath is the repository container new resources are minted
	// in.
	ContainerPath string `yaml:"container,omitempty"`

	// BinariesLocation is where the files named in FILES and ITEM_FILES
	// live; a path or a location URL understood by the binaries factory.
	BinariesLocation string `yaml:"binaries_location,omitempty"`

	// ExtractTextTypes lists MIME types to run text extraction on,
	// comma-separated.
	ExtractTextTypes string `yaml:"extract_text_types,omitempty"`
}

// ExtractTextTypesList returns the extract-text MIME types as a slice.
func (c *Config) ExtractTextTypesList() []string {
	if c.ExtractTextTypes == "" {
		return nil
	}
	parts := strings.Split(c.ExtractTextTypes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// LoadConfig reads the job's config file, distinguishing missing, empty,
// and malformed files.
func (j *Job) LoadConfig() (*Config, error) {
	path := j.ConfigPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrConfigMissing, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job config %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrConfigEmpty, path)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Path: path, Cause: err}
	}
	if cfg.JobID == "" {
		cfg.JobID = j.ID
	}
	return cfg, nil
}

// UpdateConfig writes the config to the job's config file.
func (j *Job) UpdateConfig(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize job config: %w", err)
	}
	if err := os.WriteFile(j.ConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write job config: %w", err)
	}
	return nil
}
