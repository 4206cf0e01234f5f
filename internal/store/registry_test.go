package store

import (
	"context"
	"testing"
	"time"

	testutil "atum-server/internal/testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SharesStorePerUser(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	deps := newTestDeps(testutil.NewMemoryRepository())
	deps.Now = func() time.Time { return now }
	r := NewRegistry(deps)

	alice := r.For("alice")
	assert.Same(t, alice, r.For("alice"))
	assert.NotSame(t, alice, r.For("bob"))
	assert.NotSame(t, r.For(""), r.For(""), "signed-out callers never share state")
	assert.Equal(t, 2, r.Len())

	r.Invalidate(context.Background(), "alice")
	assert.NotSame(t, alice, r.For("alice"))

	now = now.Add(time.Hour)
	r.For("bob")
	now = now.Add(10 * time.Minute)
	require.Equal(t, 1, r.Sweep(30*time.Minute))
	assert.Equal(t, 1, r.Len())
}
