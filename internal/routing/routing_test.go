package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/master/internal/domain"
	"github.com/taskmesh/master/tests/helpers"
)

func TestCandidatesForCommandFilters(t *testing.T) {
	s := helpers.NewTestStore(t)
	svc := NewService(s)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, &domain.CapabilityDeclaration{
		AgentID: "a1", URL: "http://a1", Capabilities: []string{"analyze", "retrieve"}, Profile: "default",
	}))
	require.NoError(t, svc.Register(ctx, &domain.CapabilityDeclaration{
		AgentID: "a2", URL: "http://a2", Capabilities: []string{"evaluate"}, Profile: "default",
	}))

	candidates, err := svc.CandidatesForCommand(ctx, "retrieve")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "a1", candidates[0].AgentID)

	none, err := svc.CandidatesForCommand(ctx, "transcode")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListCapabilities(t *testing.T) {
	s := helpers.NewTestStore(t)
	svc := NewService(s)
	ctx := context.Background()

	declarations, err := svc.ListCapabilities(ctx)
	require.NoError(t, err)
	assert.Empty(t, declarations)

	require.NoError(t, svc.Register(ctx, &domain.CapabilityDeclaration{
		AgentID: "a1", URL: "http://a1", Capabilities: []string{"analyze"}, Profile: "default",
	}))

	declarations, err = svc.ListCapabilities(ctx)
	require.NoError(t, err)
	assert.Len(t, declarations, 1)
}
