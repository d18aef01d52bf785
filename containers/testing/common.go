// Package testing provides testcontainers-based container setup for
// integration tests.
//
// Containers are ephemeral with randomized host ports and are terminated
// by the returned cleanup function. Integration tests using this package
// should carry the integration build tag:
//
//	//go:build integration
//
// Example Usage:
//
//	func TestBrokerIntegration(t *testing.T) {
//	    ctx := context.Background()
//	    stompAddr, cleanup, err := SetupActiveMQ(ctx, t, nil)
//	    require.NoError(t, err)
//	    defer cleanup()
//	    // Connect to stompAddr...
//	}
package testing

import (
	"context"
	"fmt"

	"github.com/testcontainers/testcontainers-go"
)

// ContainerCleanup is a function type for cleaning up test containers.
// Call this function in defer to ensure containers are terminated after
// tests.
type ContainerCleanup func()

// createCleanupFunc creates a standardized cleanup function for
// testcontainers, shared by every container type in this package.
func createCleanupFunc(ctx context.Context, container testcontainers.Container, containerType string) ContainerCleanup {
	return func() {
		if err := container.Terminate(ctx); err != nil {
			// Using fmt.Printf since we can't access testing.T here.
			fmt.Printf("Warning: Failed to terminate %s container: %v\n", containerType, err)
		}
	}
}
