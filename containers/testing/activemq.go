package testing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// ActiveMQConfig holds configuration for ActiveMQ testcontainer setup.
type ActiveMQConfig struct {
	// Image is the Docker image to use (default: "apache/activemq-classic:6.1.4")
	Image string
	// Username is the broker username (default: "admin")
	Username string
	// Password is the broker password (default: "admin")
	Password string
	// StartupTimeout is the maximum time to wait for the broker to be
	// ready (default: 60s)
	StartupTimeout time.Duration
}

// DefaultActiveMQConfig returns the default ActiveMQ configuration for
// testing.
func DefaultActiveMQConfig() ActiveMQConfig {
	return ActiveMQConfig{
		Image:          "apache/activemq-classic:6.1.4",
		Username:       "admin",
		Password:       "admin",
		StartupTimeout: 60 * time.Second,
	}
}

// SetupActiveMQ creates an ActiveMQ container for integration testing.
//
// ActiveMQ Classic speaks STOMP on port 61613, which is what the
// dispatcher's broker client connects to. The web console listens on 8161.
//
// Returns:
//   - string: STOMP listener address (e.g. "localhost:32772"), suitable
//     for messaging.STOMPConfig.Server
//   - string: Web console URL (e.g. "http://localhost:32773")
//   - ContainerCleanup: Function to terminate the container
//   - error: Container creation or startup errors
//
// Example Usage:
//
//	stompAddr, consoleURL, cleanup, err := SetupActiveMQ(ctx, t, nil)
//	require.NoError(t, err)
//	defer cleanup()
//
//	broker := messaging.NewSTOMPBroker(messaging.STOMPConfig{
//	    Server: stompAddr,
//	    Login:  "admin",
//	    Passcode: "admin",
//	})
//	require.NoError(t, broker.Connect())
func SetupActiveMQ(ctx context.Context, t *testing.T, config *ActiveMQConfig) (string, string, ContainerCleanup, error) {
	if config == nil {
		cfg := DefaultActiveMQConfig()
		config = &cfg
	}

	req := testcontainers.ContainerRequest{
		Image: config.Image,
		ExposedPorts: []string{
			"61613/tcp", // STOMP
			"8161/tcp",  // Web console
		},
		Env: map[string]string{
			"ACTIVEMQ_CONNECTION_USER":     config.Username,
			"ACTIVEMQ_CONNECTION_PASSWORD": config.Password,
		},
		// ActiveMQ logs the STOMP connector start when it is ready.
		WaitingFor: wait.ForLog("Apache ActiveMQ").
			WithStartupTimeout(config.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", "", func() {}, fmt.Errorf("failed to start ActiveMQ container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return "", "", func() {}, fmt.Errorf("failed to get container host: %w", err)
	}

	stompPort, err := container.MappedPort(ctx, "61613")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", "", func() {}, fmt.Errorf("failed to get STOMP port: %w", err)
	}

	consolePort, err := container.MappedPort(ctx, "8161")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", "", func() {}, fmt.Errorf("failed to get console port: %w", err)
	}

	stompAddr := fmt.Sprintf("%s:%s", host, stompPort.Port())
	consoleURL := fmt.Sprintf("http://%s:%s", host, consolePort.Port())

	cleanup := createCleanupFunc(ctx, container, "ActiveMQ")
	return stompAddr, consoleURL, cleanup, nil
}
