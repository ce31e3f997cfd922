// Package pipeline runs a fixed, ordered capability sequence synchronously.
package pipeline

import (
	"context"
	"fmt"

	"github.com/taskmesh/master/internal/adapter/workerclient"
	"github.com/taskmesh/master/internal/domain"
	"github.com/taskmesh/master/internal/routing"
	"github.com/taskmesh/master/internal/store"
)

// Stage order is fixed; finalize runs only when a registered agent declares
// it.
var baseStages = []string{"analyze", "retrieve", "evaluate"}

const finalizeCapability = "finalize"

// Orchestrator executes the fixed-capability pipeline with an optional
// finalizer, threading each stage's output as context into the next.
type Orchestrator struct {
	routing *routing.Service
	store   store.Store
	workers *workerclient.Client
}

// New creates a pipeline orchestrator.
func New(routingService *routing.Service, s store.Store, workers *workerclient.Client) *Orchestrator {
	return &Orchestrator{routing: routingService, store: s, workers: workers}
}

type stageAgent struct {
	capability string
	agentID    string
	url        string
}

// Run executes the pipeline for one task. Stage agents are resolved up front
// and a missing mandatory stage fails before any network call. Each stage is
// called synchronously; its result is recorded regardless of outcome, and a
// non-succeeded status stops the walk. The response carries every stage
// attempted and the last attempted stage's output as the final output.
func (o *Orchestrator) Run(ctx context.Context, task *domain.TaskObjective) (*domain.PipelineResponse, error) {
	capabilities, err := o.routing.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	var stageAgents []stageAgent
	for _, capability := range baseStages {
		agent := selectAgent(capabilities, capability)
		if agent == nil {
			return nil, fmt.Errorf("%w %q", domain.ErrMissingStageAgent, capability)
		}
		stageAgents = append(stageAgents, stageAgent{capability: capability, agentID: agent.AgentID, url: agent.URL})
	}
	if finalizer := selectAgent(capabilities, finalizeCapability); finalizer != nil {
		stageAgents = append(stageAgents, stageAgent{capability: finalizeCapability, agentID: finalizer.AgentID, url: finalizer.URL})
	}

	var stageResults []domain.PipelineStageResult
	accumulated := cloneContext(task.Context)
	var previousOutput map[string]any

	for idx, stage := range stageAgents {
		subID := fmt.Sprintf("%s-P%d", task.TaskID, idx+1)
		// Each stage gets its own snapshot so no stage can observe a later
		// mutation of the shared context.
		stageContext := cloneContext(accumulated)
		work := &domain.WorkRequest{
			TaskID:  task.TaskID,
			SubID:   subID,
			Command: stage.capability,
			Data: map[string]any{
				"objective":       task.Objective,
				"previous_output": previousOutput,
				"context":         stageContext,
			},
			Context:  stageContext,
			Priority: domain.PriorityNormal,
		}

		response, err := o.workers.PostWork(ctx, stage.url, work)
		if err != nil {
			return nil, fmt.Errorf("stage %s failed: %w", stage.capability, err)
		}

		stageResults = append(stageResults, domain.PipelineStageResult{
			Stage:   stage.capability,
			AgentID: stage.agentID,
			SubID:   subID,
			Status:  response.Status,
			Output:  response.Output,
			Error:   response.Error,
		})

		// Persist the result for historical record keeping, success or not.
		if err := o.store.RecordResult(ctx, &domain.ResultPayload{
			TaskID:  task.TaskID,
			SubID:   subID,
			AgentID: stage.agentID,
			Status:  response.Status,
			Output:  response.Output,
			Error:   response.Error,
		}); err != nil {
			return nil, err
		}

		if response.Status != domain.StatusSucceeded {
			break
		}

		merged := cloneContext(accumulated)
		merged["stage_"+stage.capability] = response.Output
		accumulated = merged
		previousOutput = response.Output
	}

	var finalOutput map[string]any
	if len(stageResults) > 0 {
		finalOutput = stageResults[len(stageResults)-1].Output
	}
	return &domain.PipelineResponse{TaskID: task.TaskID, Stages: stageResults, FinalOutput: finalOutput}, nil
}

// selectAgent returns the first registered agent declaring the capability,
// in registry iteration order.
func selectAgent(capabilities []domain.CapabilityDeclaration, capability string) *domain.CapabilityDeclaration {
	for i := range capabilities {
		if capabilities[i].HasCapability(capability) {
			return &capabilities[i]
		}
	}
	return nil
}

func cloneContext(src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
