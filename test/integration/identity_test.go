package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rallyhouse/rally/pkg/identity"
	"github.com/rallyhouse/rally/test/util"
)

func TestResolveIdempotent(t *testing.T) {
	router := util.SetupRouter(t)
	r := identity.NewResolver(router)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "telegram", "12345")
	require.NoError(t, err)

	second, err := r.Resolve(ctx, "telegram", "12345")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := r.Resolve(ctx, "discord", "12345")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestSetVerified(t *testing.T) {
	router := util.SetupRouter(t)
	r := identity.NewResolver(router)
	ctx := context.Background()

	id, err := r.Resolve(ctx, "telegram", "42")
	require.NoError(t, err)

	require.NoError(t, r.SetVerified(ctx, "telegram", "42", true))

	binding, err := r.Lookup(ctx, "telegram", "42")
	require.NoError(t, err)
	assert.Equal(t, id, binding.InternalID)
	assert.True(t, binding.Verified)

	assert.ErrorIs(t, r.SetVerified(ctx, "telegram", "nobody", true), identity.ErrNotFound)
}

func TestLinkMergesBindings(t *testing.T) {
	router := util.SetupRouter(t)
	r := identity.NewResolver(router)
	ctx := context.Background()

	a, err := r.Resolve(ctx, "telegram", "alice-tg")
	require.NoError(t, err)
	b, err := r.Resolve(ctx, "discord", "alice-dc")
	require.NoError(t, err)

	survivor, err := r.Link(ctx, a, b)
	require.NoError(t, err)

	bindings, err := r.ListBindings(ctx, survivor)
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	for _, binding := range bindings {
		assert.Equal(t, survivor, binding.InternalID)
	}

	// Linking an id with itself is a no-op.
	same, err := r.Link(ctx, survivor, survivor)
	require.NoError(t, err)
	assert.Equal(t, survivor, same)
}

func TestLinkRefusesConflictingVerification(t *testing.T) {
	router := util.SetupRouter(t)
	r := identity.NewResolver(router)
	ctx := context.Background()

	a, err := r.Resolve(ctx, "telegram", "user-a")
	require.NoError(t, err)
	require.NoError(t, r.SetVerified(ctx, "telegram", "user-a", true))

	b, err := r.Resolve(ctx, "telegram", "user-b")
	require.NoError(t, err)
	require.NoError(t, r.SetVerified(ctx, "telegram", "user-b", true))

	_, err = r.Link(ctx, a, b)
	assert.ErrorIs(t, err, identity.ErrConflictingVerification)

	// Both sides keep their own bindings after the refused merge.
	bindings, err := r.ListBindings(ctx, a)
	require.NoError(t, err)
	assert.Len(t, bindings, 1)
}
