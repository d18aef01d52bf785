// Package config loads the plastrond daemon configuration.
//
// Configuration is merged from defaults, a YAML file, and environment
// variables with the PLASTROND_ prefix; later sources override earlier
// ones. Nested keys map to environment variables with underscores, e.g.
// PLASTROND_REPOSITORY_ENDPOINT or PLASTROND_BROKER_SERVER.
package config

import (
	"fmt"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// RepositoryConfig describes the LDP repository connection.
type RepositoryConfig struct {
	// Endpoint is the repository REST endpoint, e.g. http://localhost:8080/rest
	Endpoint string `mapstructure:"endpoint"`

	// ExternalURL, when distinct from Endpoint, is the public-facing URL;
	// requests then carry X-Forwarded-Host/-Proto headers.
	ExternalURL string `mapstructure:"external_url"`

	// AuthToken is a static bearer token for the repository.
	AuthToken string `mapstructure:"auth_token"`

	// JWTSecret, when set, mints short-lived HS256 tokens instead of a
	// static token.
	JWTSecret string `mapstructure:"jwt_secret"`

	// ZitiIdentity and ZitiService route repository traffic over an
	// OpenZiti overlay when both are set.
	ZitiIdentity string `mapstructure:"ziti_identity"`
	ZitiService  string `mapstructure:"ziti_service"`

	// Timeout bounds individual repository requests.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DestinationsConfig names the broker destinations.
type DestinationsConfig struct {
	Jobs            string `mapstructure:"jobs"`
	JobsSynchronous string `mapstructure:"jobs_synchronous"`
	JobStatus       string `mapstructure:"job_status"`
	JobProgress     string `mapstructure:"job_progress"`
}

// BrokerConfig describes the STOMP broker connection.
type BrokerConfig struct {
	// Server is the host:port of the STOMP listener.
	Server string `mapstructure:"server"`

	Login    string `mapstructure:"login"`
	Passcode string `mapstructure:"passcode"`

	// Heartbeat is the send/receive heartbeat interval negotiated on connect.
	Heartbeat time.Duration `mapstructure:"heartbeat"`

	Destinations DestinationsConfig `mapstructure:"destinations"`

	// MessageStoreDir holds the durable inbox and outbox.
	MessageStoreDir string `mapstructure:"message_store_dir"`
}

// WorkerConfig bounds job concurrency.
type WorkerConfig struct {
	// PoolSize is the number of concurrent job workers.
	PoolSize int `mapstructure:"pool_size"`
}

// StatusConfig describes the optional read-only status HTTP server.
type StatusConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HandlesConfig describes the external handle service.
type HandlesConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	JWTToken string `mapstructure:"jwt_token"`

	// Prefix is the handle prefix to mint under, e.g. "1903.1".
	Prefix string `mapstructure:"prefix"`

	// PublicURLPattern builds the public URL from a repository path, e.g.
	// "https://digital.example.edu%s".
	PublicURLPattern string `mapstructure:"public_url_pattern"`
}

// VocabulariesConfig configures the vocabulary cache.
type VocabulariesConfig struct {
	// CachePath is the bbolt file backing the vocabulary cache.
	CachePath string `mapstructure:"cache_path"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the full plastrond configuration.
type Config struct {
	Repository   RepositoryConfig   `mapstructure:"repository"`
	Broker       BrokerConfig       `mapstructure:"broker"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	JobsDir      string             `mapstructure:"jobs_dir"`
	BinariesDir  string             `mapstructure:"binaries_dir"`
	Status       StatusConfig       `mapstructure:"status"`
	Handles      HandlesConfig      `mapstructure:"handles"`
	Vocabularies VocabulariesConfig `mapstructure:"vocabularies"`
	Log          LogConfig          `mapstructure:"log"`
}

// Loader reads configuration with a given environment prefix.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader returns a loader using the given env prefix (normally
// "PLASTROND").
func NewLoader(envPrefix string) *Loader {
	return &Loader{v: viper.New(), prefix: envPrefix}
}

// SetDefaults installs the daemon defaults. Called before Load.
func (l *Loader) SetDefaults() {
	l.v.SetDefault("repository.endpoint", "http://localhost:8080/rest")
	l.v.SetDefault("repository.timeout", "60s")

	l.v.SetDefault("broker.server", "localhost:61613")
	l.v.SetDefault("broker.heartbeat", "30s")
	l.v.SetDefault("broker.destinations.jobs", "/queue/plastron.jobs")
	l.v.SetDefault("broker.destinations.jobs_synchronous", "/queue/plastron.jobs.synchronous")
	l.v.SetDefault("broker.destinations.job_status", "/queue/plastron.jobs.completed")
	l.v.SetDefault("broker.destinations.job_progress", "/topic/plastron.jobs.progress")
	l.v.SetDefault("broker.message_store_dir", "msg")

	l.v.SetDefault("worker.pool_size", 4)

	l.v.SetDefault("jobs_dir", "jobs")
	l.v.SetDefault("binaries_dir", "")

	l.v.SetDefault("status.enabled", false)
	l.v.SetDefault("status.port", 8099)

	l.v.SetDefault("vocabularies.cache_path", "vocab-cache.db")

	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "text")
}

// Load reads the configuration file (when cfgFile is non-empty), merges
// environment variables, and unmarshals into a Config.
func (l *Loader) Load(cfgFile string) (*Config, error) {
	if cfgFile != "" {
		expanded, err := homedir.Expand(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path: %w", err)
		}
		l.v.SetConfigFile(expanded)
	} else {
		l.v.SetConfigName("plastrond")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("$HOME/.plastron")
		l.v.AddConfigPath("/etc/plastron")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	for _, p := range []*string{&cfg.JobsDir, &cfg.BinariesDir, &cfg.Broker.MessageStoreDir, &cfg.Vocabularies.CachePath, &cfg.Repository.ZitiIdentity} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}

	return cfg, nil
}

// LoadConfig loads the plastrond configuration with standard defaults and
// validates it.
func LoadConfig(cfgFile string) (*Config, error) {
	loader := NewLoader("PLASTROND")
	loader.SetDefaults()

	cfg, err := loader.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the daemon cannot run
// without. All problems are reported at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Repository.Endpoint == "" {
		problems = append(problems, "repository.endpoint is required")
	}
	if !strings.HasPrefix(c.Repository.Endpoint, "http://") && !strings.HasPrefix(c.Repository.Endpoint, "https://") {
		problems = append(problems, fmt.Sprintf("repository.endpoint %q must be an http(s) URL", c.Repository.Endpoint))
	}
	if c.Repository.AuthToken != "" && c.Repository.JWTSecret != "" {
		problems = append(problems, "repository.auth_token and repository.jwt_secret are mutually exclusive")
	}
	if (c.Repository.ZitiIdentity == "") != (c.Repository.ZitiService == "") {
		problems = append(problems, "repository.ziti_identity and repository.ziti_service must be set together")
	}
	if c.Broker.Server == "" {
		problems = append(problems, "broker.server is required")
	}
	for key, value := range map[string]string{
		"broker.destinations.jobs":             c.Broker.Destinations.Jobs,
		"broker.destinations.jobs_synchronous": c.Broker.Destinations.JobsSynchronous,
		"broker.destinations.job_status":       c.Broker.Destinations.JobStatus,
		"broker.destinations.job_progress":     c.Broker.Destinations.JobProgress,
	} {
		if value == "" {
			problems = append(problems, key+" is required")
		}
	}
	if c.Broker.MessageStoreDir == "" {
		problems = append(problems, "broker.message_store_dir is required")
	}
	if c.Worker.PoolSize < 1 {
		problems = append(problems, fmt.Sprintf("worker.pool_size must be at least 1, got %d", c.Worker.PoolSize))
	}
	if c.JobsDir == "" {
		problems = append(problems, "jobs_dir is required")
	}
	if c.Status.Enabled && (c.Status.Port < 1 || c.Status.Port > 65535) {
		problems = append(problems, fmt.Sprintf("status.port %d out of range", c.Status.Port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
