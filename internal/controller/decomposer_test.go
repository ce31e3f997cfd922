package controller

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/master/internal/domain"
	"github.com/taskmesh/master/tests/helpers"
)

func TestStaticDecomposerFansOutPerCapability(t *testing.T) {
	s := helpers.NewTestStore(t)
	d := NewStaticDecomposer(s)

	capabilities := []domain.CapabilityDeclaration{
		{AgentID: "a1", URL: "http://a1", Capabilities: []string{"analyze", "finalize"}, Profile: "default"},
		{AgentID: "a2", URL: "http://a2", Capabilities: []string{"retrieve"}, Profile: "default"},
		{AgentID: "a3", URL: "http://a3", Capabilities: []string{"evaluate", "analyze", "report"}, Profile: "default"},
	}
	objective := &domain.TaskObjective{TaskID: "task-1", Objective: "do the thing"}

	decomposition, err := d.DecomposeTask(context.Background(), objective, capabilities)
	require.NoError(t, err)

	// One subtask per declared capability occurrence: 2 + 1 + 3.
	require.Len(t, decomposition.SubTasks, 6)

	idPattern := regexp.MustCompile(`^task-1-S\d+$`)
	seen := make(map[string]bool)
	for _, subtask := range decomposition.SubTasks {
		assert.Equal(t, "task-1", subtask.TaskID)
		assert.Regexp(t, idPattern, subtask.SubID)
		assert.False(t, seen[subtask.SubID], "duplicate sub id %s", subtask.SubID)
		seen[subtask.SubID] = true
		assert.Equal(t, subtask.TargetCapability, subtask.Command)
		assert.Contains(t, subtask.Description, subtask.Command)
		assert.NotEmpty(t, subtask.Metadata["agent_hint"])
	}
}

func TestStaticDecomposerEmptyRegistry(t *testing.T) {
	s := helpers.NewTestStore(t)
	d := NewStaticDecomposer(s)

	decomposition, err := d.DecomposeTask(context.Background(), &domain.TaskObjective{TaskID: "task-1", Objective: "x"}, nil)
	require.NoError(t, err)
	assert.Empty(t, decomposition.SubTasks)
}

func TestStaticDecomposerIdsUniqueAcrossCalls(t *testing.T) {
	s := helpers.NewTestStore(t)
	d := NewStaticDecomposer(s)
	ctx := context.Background()

	capabilities := []domain.CapabilityDeclaration{
		{AgentID: "a1", URL: "http://a1", Capabilities: []string{"analyze"}, Profile: "default"},
	}

	first, err := d.DecomposeTask(ctx, &domain.TaskObjective{TaskID: "task-1", Objective: "x"}, capabilities)
	require.NoError(t, err)
	second, err := d.DecomposeTask(ctx, &domain.TaskObjective{TaskID: "task-1", Objective: "x"}, capabilities)
	require.NoError(t, err)

	assert.NotEqual(t, first.SubTasks[0].SubID, second.SubTasks[0].SubID)
}
