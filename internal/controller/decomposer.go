// Package controller provides task decomposition and adaptive routing.
package controller

import (
	"context"
	"fmt"

	"github.com/taskmesh/master/internal/domain"
)

// Decomposer turns a task objective plus the current registry into an
// ordered list of subtasks. Implementations are swappable; any replacement
// must only emit subtasks whose target capability is satisfiable by at least
// one registered agent at decomposition time.
type Decomposer interface {
	DecomposeTask(ctx context.Context, objective *domain.TaskObjective, capabilities []domain.CapabilityDeclaration) (*domain.DecompositionResponse, error)
}

// SequenceSource allocates cluster-unique subtask sequence numbers.
// store.Store satisfies it.
type SequenceSource interface {
	NextSubTaskSeq(ctx context.Context) (int64, error)
}

// StaticDecomposer maps capabilities to basic subtasks: one subtask per
// declared capability occurrence, so the subtask count equals the sum of all
// agents' capability counts regardless of the objective text. Emission
// follows registry iteration order.
type StaticDecomposer struct {
	seq SequenceSource
}

// NewStaticDecomposer creates the default decomposition policy.
func NewStaticDecomposer(seq SequenceSource) *StaticDecomposer {
	return &StaticDecomposer{seq: seq}
}

// DecomposeTask produces a structured decomposition using the available
// capabilities.
func (d *StaticDecomposer) DecomposeTask(ctx context.Context, objective *domain.TaskObjective, capabilities []domain.CapabilityDeclaration) (*domain.DecompositionResponse, error) {
	var subtasks []domain.SubTask
	for _, declaration := range capabilities {
		for _, capability := range declaration.Capabilities {
			n, err := d.seq.NextSubTaskSeq(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to allocate subtask id: %w", err)
			}
			subtasks = append(subtasks, domain.SubTask{
				TaskID:           objective.TaskID,
				SubID:            fmt.Sprintf("%s-S%d", objective.TaskID, n),
				Command:          capability,
				Description:      fmt.Sprintf("Execute capability '%s' for objective.", capability),
				TargetCapability: capability,
				Metadata:         map[string]any{"agent_hint": declaration.AgentID},
			})
		}
	}
	return &domain.DecompositionResponse{TaskID: objective.TaskID, SubTasks: subtasks}, nil
}
