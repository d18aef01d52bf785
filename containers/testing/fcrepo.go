package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// FedoraConfig holds configuration for Fedora repository testcontainer
// setup.
type FedoraConfig struct {
	// Image is the Docker image to use (default: "fcrepo/fcrepo:6.5.1")
	Image string
	// Username is the repository admin username (default: "fedoraAdmin")
	Username string
	// Password is the repository admin password (default: "fedoraAdmin")
	Password string
	// StartupTimeout is the maximum time to wait for the repository to be
	// ready (default: 120s)
	StartupTimeout time.Duration
}

// DefaultFedoraConfig returns the default Fedora configuration for
// testing.
func DefaultFedoraConfig() FedoraConfig {
	return FedoraConfig{
		Image:          "fcrepo/fcrepo:6.5.1",
		Username:       "fedoraAdmin",
		Password:       "fedoraAdmin",
		StartupTimeout: 120 * time.Second,
	}
}

// SetupFedora creates a Fedora repository container for integration
// testing.
//
// Fedora is the LDP server the repository client talks to: it serves RDF
// resources, accepts SPARQL Update PATCH requests, and implements the
// transaction endpoints under fcr:tx.
//
// Returns:
//   - string: REST endpoint URL (e.g. "http://localhost:32780/rest"),
//     suitable for ldp.Config.Endpoint
//   - ContainerCleanup: Function to terminate the container
//   - error: Container creation or startup errors
//
// Example Usage:
//
//	endpoint, cleanup, err := SetupFedora(ctx, t, nil)
//	require.NoError(t, err)
//	defer cleanup()
//
//	client, err := ldp.NewClient(ldp.Config{Endpoint: endpoint})
//	require.NoError(t, err)
func SetupFedora(ctx context.Context, t *testing.T, config *FedoraConfig) (string, ContainerCleanup, error) {
	if config == nil {
		cfg := DefaultFedoraConfig()
		config = &cfg
	}

	req := testcontainers.ContainerRequest{
		Image:        config.Image,
		ExposedPorts: []string{"8080/tcp"},
		Env: map[string]string{
			"CATALINA_OPTS": "-Dfcrepo.autoversioning.enabled=false",
		},
		// The REST endpoint answers 401 until auth is supplied, so wait on
		// the servlet container's startup line instead of an HTTP probe.
		WaitingFor: wait.ForLog("Server startup in").
			WithStartupTimeout(config.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", func() {}, fmt.Errorf("failed to start Fedora container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return "", func() {}, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "8080")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", func() {}, fmt.Errorf("failed to get Fedora port: %w", err)
	}

	endpoint := fmt.Sprintf("http://%s:%s/fcrepo/rest", host, port.Port())

	cleanup := createCleanupFunc(ctx, container, "Fedora")
	return endpoint, cleanup, nil
}
