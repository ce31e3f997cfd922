package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/taskmesh/master/internal/domain"
)

// TextGenerator produces completion text from a system and user prompt.
// The llm gateway client satisfies it.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const planSystemPrompt = `You are a task planner for a fleet of worker agents.
Given an objective and the list of available capabilities, respond with a JSON
array of steps: [{"command": "<capability>", "description": "<what to do>"}].
Only use capabilities from the provided list. Respond with JSON only.`

// LLMDecomposer asks the text-generation gateway for a plan and converts it
// into subtasks. Any gateway failure, malformed plan, or step targeting an
// unregistered capability falls back to the static policy, so the
// satisfiability contract always holds.
type LLMDecomposer struct {
	generator TextGenerator
	fallback  Decomposer
	seq       SequenceSource
}

// NewLLMDecomposer creates an LLM-assisted decomposer with a fallback policy.
func NewLLMDecomposer(generator TextGenerator, fallback Decomposer, seq SequenceSource) *LLMDecomposer {
	return &LLMDecomposer{generator: generator, fallback: fallback, seq: seq}
}

type plannedStep struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// DecomposeTask produces a plan via the gateway, falling back to the static
// policy on failure.
func (d *LLMDecomposer) DecomposeTask(ctx context.Context, objective *domain.TaskObjective, capabilities []domain.CapabilityDeclaration) (*domain.DecompositionResponse, error) {
	steps, err := d.plan(ctx, objective, capabilities)
	if err != nil {
		log.Printf("LLM decomposition failed for task %s, using static policy: %v", objective.TaskID, err)
		return d.fallback.DecomposeTask(ctx, objective, capabilities)
	}

	subtasks := make([]domain.SubTask, 0, len(steps))
	for _, step := range steps {
		n, err := d.seq.NextSubTaskSeq(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate subtask id: %w", err)
		}
		subtasks = append(subtasks, domain.SubTask{
			TaskID:           objective.TaskID,
			SubID:            fmt.Sprintf("%s-S%d", objective.TaskID, n),
			Command:          step.Command,
			Description:      step.Description,
			TargetCapability: step.Command,
			Metadata:         map[string]any{"planner": "llm"},
		})
	}
	return &domain.DecompositionResponse{TaskID: objective.TaskID, SubTasks: subtasks}, nil
}

func (d *LLMDecomposer) plan(ctx context.Context, objective *domain.TaskObjective, capabilities []domain.CapabilityDeclaration) ([]plannedStep, error) {
	registered := make(map[string]bool)
	var names []string
	for _, decl := range capabilities {
		for _, capability := range decl.Capabilities {
			if !registered[capability] {
				registered[capability] = true
				names = append(names, capability)
			}
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no capabilities registered")
	}

	userPrompt := fmt.Sprintf("Objective: %s\nAvailable capabilities: %s", objective.Objective, strings.Join(names, ", "))
	text, err := d.generator.GenerateText(ctx, planSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var steps []plannedStep
	if err := json.Unmarshal([]byte(extractJSONArray(text)), &steps); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty plan")
	}
	for _, step := range steps {
		if !registered[step.Command] {
			return nil, fmt.Errorf("plan targets unregistered capability %q", step.Command)
		}
	}
	return steps, nil
}

// extractJSONArray trims prose around the first top-level JSON array, since
// gateways occasionally wrap plans in commentary or code fences.
func extractJSONArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
