package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/homekeep/internal/gate"
)

func TestSessionDecide(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	d, cur, err := f.sessionSvc.Decide(ctx, "", gate.RouteHome)
	require.NoError(t, err)
	assert.Nil(t, cur)
	assert.Equal(t, gate.PhaseUnauthenticated, d.Phase)

	d, _, err = f.sessionSvc.Decide(ctx, "alice", gate.RouteHome)
	require.NoError(t, err)
	assert.Equal(t, gate.PhaseNeedsOnboarding, d.Phase)
	assert.True(t, d.Redirect)
	assert.Equal(t, gate.RouteOnboarding, d.Target)

	_, err = f.householdSvc.Create(ctx, "alice", "Home")
	require.NoError(t, err)

	d, cur, err = f.sessionSvc.Decide(ctx, "alice", gate.RouteRoot)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, gate.PhaseActive, d.Phase)
	assert.True(t, d.Redirect)
	assert.Equal(t, gate.RouteHome, d.Target)

	d, _, err = f.sessionSvc.Decide(ctx, "alice", gate.RouteHome)
	require.NoError(t, err)
	assert.False(t, d.Redirect)
}
