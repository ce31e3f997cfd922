package controller

import (
	"context"

	"github.com/taskmesh/master/internal/domain"
)

// Controller is the facade combining the decomposer and the router.
type Controller struct {
	decomposer Decomposer
	router     Router
}

// New creates a controller from a decomposition policy and a routing policy.
func New(decomposer Decomposer, router Router) *Controller {
	return &Controller{decomposer: decomposer, router: router}
}

// DecomposeTask delegates to the configured decomposition policy.
func (c *Controller) DecomposeTask(ctx context.Context, objective *domain.TaskObjective, capabilities []domain.CapabilityDeclaration) (*domain.DecompositionResponse, error) {
	return c.decomposer.DecomposeTask(ctx, objective, capabilities)
}

// DecideRoute delegates to the configured routing policy.
func (c *Controller) DecideRoute(ctx context.Context, command string, candidates []domain.CapabilityDeclaration, taskContext map[string]any) (*domain.RouteDecision, error) {
	return c.router.DecideRoute(ctx, command, candidates, taskContext)
}

// RoutedSubTask pairs a subtask with its routing outcome. Err is set when
// routing failed for that subtask (e.g. no registered agent declares its
// target capability); Decision is nil in that case.
type RoutedSubTask struct {
	SubTask  domain.SubTask
	Decision *domain.RouteDecision
	Err      error
}

// PlanAndRoute decomposes the objective once, then routes every produced
// subtask against the agents declaring its target capability. Routing
// failures are isolated per subtask: one subtask's failure is recorded in its
// entry and does not abort the others.
func (c *Controller) PlanAndRoute(ctx context.Context, objective *domain.TaskObjective, capabilities []domain.CapabilityDeclaration, taskContext map[string]any) (*domain.DecompositionResponse, []RoutedSubTask, error) {
	decomposition, err := c.DecomposeTask(ctx, objective, capabilities)
	if err != nil {
		return nil, nil, err
	}

	routed := make([]RoutedSubTask, 0, len(decomposition.SubTasks))
	for _, subtask := range decomposition.SubTasks {
		var candidates []domain.CapabilityDeclaration
		for _, decl := range capabilities {
			if decl.HasCapability(subtask.TargetCapability) {
				candidates = append(candidates, decl)
			}
		}
		decision, err := c.DecideRoute(ctx, subtask.Command, candidates, taskContext)
		routed = append(routed, RoutedSubTask{SubTask: subtask, Decision: decision, Err: err})
	}
	return decomposition, routed, nil
}
