// Package dispatcher coordinates task intake, routing, and dispatch.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taskmesh/master/internal/adapter/workerclient"
	"github.com/taskmesh/master/internal/controller"
	"github.com/taskmesh/master/internal/domain"
	"github.com/taskmesh/master/internal/pipeline"
	"github.com/taskmesh/master/internal/routing"
	"github.com/taskmesh/master/internal/store"
	"github.com/taskmesh/master/policy"
)

// Dispatcher orchestrates the master workflow across decomposition, routing,
// and worker dispatch. It is stateless per request; the store is the only
// shared mutable resource.
type Dispatcher struct {
	controller *controller.Controller
	routing    *routing.Service
	store      store.Store
	workers    *workerclient.Client
	policy     *policy.Engine
	pipeline   *pipeline.Orchestrator
}

// New creates a dispatcher. pipelineOrchestrator is nil outside pipeline
// mode.
func New(ctrl *controller.Controller, routingService *routing.Service, s store.Store, workers *workerclient.Client, policyEngine *policy.Engine, pipelineOrchestrator *pipeline.Orchestrator) *Dispatcher {
	return &Dispatcher{
		controller: ctrl,
		routing:    routingService,
		store:      s,
		workers:    workers,
		policy:     policyEngine,
		pipeline:   pipelineOrchestrator,
	}
}

// PipelineEnabled reports whether the process runs in pipeline mode.
func (d *Dispatcher) PipelineEnabled() bool {
	return d.pipeline != nil
}

// RunPipeline executes the fixed-stage pipeline for a task.
func (d *Dispatcher) RunPipeline(ctx context.Context, objective *domain.TaskObjective) (*domain.PipelineResponse, error) {
	return d.pipeline.Run(ctx, objective)
}

// HandleTask decomposes the objective against the current registry, persists
// the subtasks, and returns the decomposition preview. No side effects beyond
// store writes.
func (d *Dispatcher) HandleTask(ctx context.Context, objective *domain.TaskObjective) (*domain.DecompositionResponse, error) {
	capabilities, err := d.routing.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	decomposition, err := d.controller.DecomposeTask(ctx, objective, capabilities)
	if err != nil {
		return nil, err
	}
	if err := d.store.StoreSubTasks(ctx, decomposition.SubTasks); err != nil {
		return nil, err
	}
	return decomposition, nil
}

// RegisterAgent forwards the declaration to the registry and records any
// carried metrics.
func (d *Dispatcher) RegisterAgent(ctx context.Context, declaration *domain.CapabilityDeclaration) error {
	if err := d.routing.Register(ctx, declaration); err != nil {
		return err
	}
	if declaration.Metrics != nil {
		return d.store.RecordMetrics(ctx, declaration.AgentID, declaration.Metrics)
	}
	return nil
}

// Dispatch routes the work request, posts it to the selected worker, and
// persists the route decision and a dispatch-log entry. There is no retry and
// no idempotency guard at this layer; two dispatches for the same subtask can
// race, and the last route write wins.
func (d *Dispatcher) Dispatch(ctx context.Context, work *domain.WorkRequest) (*domain.RouteDecision, error) {
	taskContext, err := d.store.GetContext(ctx, work.TaskID)
	if err != nil {
		return nil, err
	}

	candidates, err := d.routing.CandidatesForCommand(ctx, work.Command)
	if err != nil {
		return nil, err
	}
	decision, err := d.controller.DecideRoute(ctx, work.Command, candidates, taskContext)
	if err != nil {
		return nil, err
	}

	if err := d.admit(ctx, work, decision.SelectedAgent); err != nil {
		return nil, err
	}
	if err := d.postWork(ctx, decision.SelectedAgent, work); err != nil {
		return nil, err
	}

	subtask, err := d.store.GetSubTask(ctx, work.TaskID, work.SubID)
	if err != nil {
		return nil, err
	}
	if subtask == nil {
		// Externally originated dispatch; synthesize and persist a record so
		// the route decision has something to hang off and the fallback tag
		// is visible to later reads.
		subtask = fallbackSubTask(work)
		if err := d.store.StoreSubTasks(ctx, []domain.SubTask{*subtask}); err != nil {
			return nil, err
		}
	}
	if err := d.store.RecordRoute(ctx, decision, subtask); err != nil {
		return nil, err
	}

	// The log reflects attempted dispatch, not terminal outcome.
	entry := &domain.DispatchLogEntry{
		EntryID:     "dl_" + uuid.New().String(),
		TaskID:      work.TaskID,
		SubID:       work.SubID,
		AgentID:     decision.SelectedAgent,
		RouteReason: decision.Reason,
		CreatedAt:   time.Now().UTC(),
	}
	if err := d.store.AppendDispatchLog(ctx, entry); err != nil {
		return nil, err
	}
	return decision, nil
}

// HandleResult persists a worker's result report. It does not validate that a
// corresponding dispatch exists.
func (d *Dispatcher) HandleResult(ctx context.Context, payload *domain.ResultPayload) error {
	return d.store.RecordResult(ctx, payload)
}

func (d *Dispatcher) admit(ctx context.Context, work *domain.WorkRequest, agentID string) error {
	input := map[string]any{
		"command":  work.Command,
		"priority": string(work.Priority),
		"task_id":  work.TaskID,
		"agent_id": agentID,
	}
	decision, reason, err := d.policy.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	if decision == "block" {
		if reason == "" {
			reason = "blocked by dispatch policy"
		}
		return fmt.Errorf("%w: %s", domain.ErrDispatchFailed, reason)
	}
	return nil
}

func (d *Dispatcher) postWork(ctx context.Context, agentID string, work *domain.WorkRequest) error {
	declaration, err := d.findAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if _, err := d.workers.PostWork(ctx, declaration.URL, work); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) findAgent(ctx context.Context, agentID string) (*domain.CapabilityDeclaration, error) {
	capabilities, err := d.routing.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	for i := range capabilities {
		if capabilities[i].AgentID == agentID {
			return &capabilities[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrAgentNotRegistered, agentID)
}

func fallbackSubTask(work *domain.WorkRequest) *domain.SubTask {
	description := ""
	if v, ok := work.Data["description"].(string); ok {
		description = v
	}
	return &domain.SubTask{
		TaskID:           work.TaskID,
		SubID:            work.SubID,
		Command:          work.Command,
		Description:      description,
		TargetCapability: work.Command,
		Metadata:         map[string]any{"fallback": true},
	}
}
