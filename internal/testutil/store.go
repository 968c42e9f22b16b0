// Package testutil holds helpers shared by package tests: a miniredis-backed
// store, a scripted sampler and, behind the integration tag, a real Redis.
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/nlbayes/pkg/jobstore"
)

// TestInstance is the instance name used by NewStore.
const TestInstance = "test-instance"

// NewStore starts a miniredis server and returns a store client bound to it.
// Both are closed when the test ends.
func NewStore(t *testing.T) (*jobstore.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)

	client, err := jobstore.NewClient(&redis.Options{Addr: mr.Addr()}, TestInstance)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}
