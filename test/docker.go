// Package test starts throwaway containers for integration tests.
package test

import (
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"
)

const DefaultMaxWait = 2 * time.Minute

// StartContainer runs options and waits until ready succeeds. The test is
// skipped when no docker daemon is reachable, and the container is purged on
// cleanup.
func StartContainer(
	t *testing.T,
	options *dockertest.RunOptions,
	ready func(resource *dockertest.Resource) error,
) *dockertest.Resource {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	err = pool.Client.Ping()
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	pool.MaxWait = DefaultMaxWait

	resource, err := pool.RunWithOptions(options)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = pool.Purge(resource)
	})

	require.NoError(t, pool.Retry(func() error {
		return ready(resource)
	}))

	return resource
}
