package domain

import "time"

// ErrorResponse is the error envelope returned by the master and workers.
type ErrorResponse struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// MetricSnapshot is an operational health sample for one agent, used by the
// router. Load is normalized to [0,1]; AvgLatencyMs and LastHeartbeat are
// optional.
type MetricSnapshot struct {
	Load           float64    `json:"load"`
	AvgLatencyMs   *float64   `json:"avg_latency_ms,omitempty"`
	RecentFailures int        `json:"recent_failures"`
	LastHeartbeat  *time.Time `json:"last_heartbeat,omitempty"`
}

// CapabilityDeclaration is the registration payload a worker submits to the
// master. A later registration for the same agent id overwrites the earlier
// one.
type CapabilityDeclaration struct {
	AgentID      string          `json:"agent_id"`
	URL          string          `json:"url"`
	Capabilities []string        `json:"capabilities"`
	Profile      string          `json:"profile"`
	Description  string          `json:"description,omitempty"`
	Metrics      *MetricSnapshot `json:"metrics,omitempty"`
}

// HasCapability reports whether the declaration includes the named capability.
func (d *CapabilityDeclaration) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// TaskObjective is a task received from an external client.
type TaskObjective struct {
	TaskID    string         `json:"task_id"`
	Objective string         `json:"objective"`
	Context   map[string]any `json:"context,omitempty"`
}

// SubTask is one decomposed unit of work to be assigned to a worker.
type SubTask struct {
	TaskID           string         `json:"task_id"`
	SubID            string         `json:"sub_id"`
	Command          string         `json:"command"`
	Description      string         `json:"description"`
	TargetCapability string         `json:"target_capability"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// DecompositionResponse is the structured set of subtasks produced for one
// task objective.
type DecompositionResponse struct {
	TaskID   string    `json:"task_id"`
	SubTasks []SubTask `json:"subtasks"`
}

// RouteDecision describes the selected agent and the reasoning behind it.
// When candidates were considered, SelectedAgent is always a key in Scores.
type RouteDecision struct {
	SelectedAgent string                  `json:"selected_agent"`
	Reason        string                  `json:"reason"`
	Considered    []CapabilityDeclaration `json:"considered"`
	Scores        map[string]float64      `json:"scores"`
}

// WorkRequest is the envelope sent from the master to a worker via /work.
type WorkRequest struct {
	TaskID   string         `json:"task_id"`
	SubID    string         `json:"sub_id"`
	Command  string         `json:"command"`
	Data     map[string]any `json:"data,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
	Priority Priority       `json:"priority"`
}

// WorkResponse is the synchronous reply from a worker's /work endpoint.
type WorkResponse struct {
	Status ExecutionStatus `json:"status"`
	Output map[string]any  `json:"output,omitempty"`
	Error  *ErrorResponse  `json:"error,omitempty"`
}

// ResultPayload is the outcome a worker reports after processing a subtask.
// Error is present only on non-success statuses.
type ResultPayload struct {
	TaskID  string           `json:"task_id"`
	SubID   string           `json:"sub_id"`
	AgentID string           `json:"agent_id"`
	Status  ExecutionStatus  `json:"status"`
	Output  map[string]any   `json:"output"`
	Trace   []map[string]any `json:"trace,omitempty"`
	Error   *ErrorResponse   `json:"error,omitempty"`
	Metrics *MetricSnapshot  `json:"metrics,omitempty"`
}

// DispatchLogEntry is an append-only audit record of one attempted dispatch.
// The master writes entries at dispatch time with Status and ErrorCode empty;
// both fields are reserved for workers annotating outcomes through the shared
// key layout.
type DispatchLogEntry struct {
	EntryID     string          `json:"entry_id"`
	TaskID      string          `json:"task_id"`
	SubID       string          `json:"sub_id"`
	AgentID     string          `json:"agent_id"`
	RouteReason string          `json:"route_reason"`
	Status      ExecutionStatus `json:"status,omitempty"`
	ErrorCode   ErrorCode       `json:"error_code,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PipelineStageResult is the outcome of one pipeline stage.
type PipelineStageResult struct {
	Stage   string          `json:"stage"`
	AgentID string          `json:"agent_id"`
	SubID   string          `json:"sub_id"`
	Status  ExecutionStatus `json:"status"`
	Output  map[string]any  `json:"output"`
	Error   *ErrorResponse  `json:"error,omitempty"`
}

// PipelineResponse is the aggregate outcome of a pipeline run. FinalOutput is
// the last attempted stage's output, or nil if no stage ran.
type PipelineResponse struct {
	TaskID      string                `json:"task_id"`
	Stages      []PipelineStageResult `json:"stages"`
	FinalOutput map[string]any        `json:"final_output"`
}
