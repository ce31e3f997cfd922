package controller

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/master/internal/domain"
	"github.com/taskmesh/master/tests/helpers"
)

type generatorFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f generatorFunc) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

func TestLLMDecomposerUsesGatewayPlan(t *testing.T) {
	s := helpers.NewTestStore(t)
	generator := generatorFunc(func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		assert.Contains(t, userPrompt, "analyze")
		return `Here is the plan: [{"command":"analyze","description":"inspect the input"}]`, nil
	})
	d := NewLLMDecomposer(generator, NewStaticDecomposer(s), s)

	capabilities := []domain.CapabilityDeclaration{declaration("a1", "analyze"), declaration("a2", "retrieve")}
	decomposition, err := d.DecomposeTask(context.Background(), &domain.TaskObjective{TaskID: "t1", Objective: "demo"}, capabilities)
	require.NoError(t, err)

	require.Len(t, decomposition.SubTasks, 1)
	assert.Equal(t, "analyze", decomposition.SubTasks[0].Command)
	assert.Equal(t, "analyze", decomposition.SubTasks[0].TargetCapability)
	assert.Equal(t, "inspect the input", decomposition.SubTasks[0].Description)
	assert.Regexp(t, `^t1-S\d+$`, decomposition.SubTasks[0].SubID)
}

func TestLLMDecomposerFallsBackOnGatewayError(t *testing.T) {
	s := helpers.NewTestStore(t)
	generator := generatorFunc(func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		return "", fmt.Errorf("gateway down")
	})
	d := NewLLMDecomposer(generator, NewStaticDecomposer(s), s)

	capabilities := []domain.CapabilityDeclaration{declaration("a1", "analyze", "retrieve")}
	decomposition, err := d.DecomposeTask(context.Background(), &domain.TaskObjective{TaskID: "t1", Objective: "demo"}, capabilities)
	require.NoError(t, err)

	// Static fallback: one subtask per declared capability occurrence.
	require.Len(t, decomposition.SubTasks, 2)
	for _, subtask := range decomposition.SubTasks {
		assert.Equal(t, subtask.TargetCapability, subtask.Command)
	}
}

func TestLLMDecomposerFallsBackOnUnregisteredCapability(t *testing.T) {
	s := helpers.NewTestStore(t)
	generator := generatorFunc(func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		return `[{"command":"transcode","description":"not offered by anyone"}]`, nil
	})
	d := NewLLMDecomposer(generator, NewStaticDecomposer(s), s)

	capabilities := []domain.CapabilityDeclaration{declaration("a1", "analyze")}
	decomposition, err := d.DecomposeTask(context.Background(), &domain.TaskObjective{TaskID: "t1", Objective: "demo"}, capabilities)
	require.NoError(t, err)

	require.Len(t, decomposition.SubTasks, 1)
	assert.Equal(t, "analyze", decomposition.SubTasks[0].TargetCapability)
}

func TestLLMDecomposerFallsBackOnMalformedPlan(t *testing.T) {
	s := helpers.NewTestStore(t)
	generator := generatorFunc(func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		return "sorry, I cannot help with that", nil
	})
	d := NewLLMDecomposer(generator, NewStaticDecomposer(s), s)

	capabilities := []domain.CapabilityDeclaration{declaration("a1", "analyze")}
	decomposition, err := d.DecomposeTask(context.Background(), &domain.TaskObjective{TaskID: "t1", Objective: "demo"}, capabilities)
	require.NoError(t, err)
	require.Len(t, decomposition.SubTasks, 1)
}
