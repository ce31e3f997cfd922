// Package store provides the shared state adapter for the master engine.
//
// All operations are independently atomic against the backing store; there
// are no cross-key transactions. Connectivity failures wrap
// domain.ErrStoreUnavailable so callers can decide whether to retry.
package store

import (
	"context"

	"github.com/taskmesh/master/internal/domain"
)

// MetricsRecorder is a sink for worker-provided metrics snapshots. Fields are
// overwritten individually on each call; absent optional fields keep their
// previous value.
type MetricsRecorder interface {
	RecordMetrics(ctx context.Context, agentID string, snapshot *domain.MetricSnapshot) error
}

// MetricsProvider supplies the latest metrics snapshot for an agent on
// demand. An agent with no recorded metrics yields (nil, nil).
type MetricsProvider interface {
	GetMetrics(ctx context.Context, agentID string) (*domain.MetricSnapshot, error)
}

// Subscription is a scoped handle on one pub/sub channel. Close always
// unsubscribes and releases the handle; Messages is closed afterwards.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

// Store is the abstract capability set the orchestration logic consumes.
// RedisStore is the networked implementation; MemoryStore is the in-process
// implementation used in tests.
type Store interface {
	MetricsRecorder
	MetricsProvider

	// RegisterAgent upserts the declaration keyed by agent id and indexes the
	// agent under every declared capability. A carried metrics snapshot is
	// recorded as a side effect.
	RegisterAgent(ctx context.Context, declaration *domain.CapabilityDeclaration) error

	// GetCapabilities returns every registered declaration, in no particular
	// order.
	GetCapabilities(ctx context.Context) ([]domain.CapabilityDeclaration, error)

	// StoreSubTasks appends each subtask to its task's ordered list and writes
	// it under an individually addressable (task_id, sub_id) key. No-op on
	// empty input.
	StoreSubTasks(ctx context.Context, subtasks []domain.SubTask) error

	// RecordRoute writes or overwrites the route decision for a subtask.
	RecordRoute(ctx context.Context, decision *domain.RouteDecision, subtask *domain.SubTask) error

	// RecordResult appends the result to the task's ordered list. Results for
	// the same sub id accumulate; nothing is overwritten. A carried metrics
	// snapshot is recorded as a side effect.
	RecordResult(ctx context.Context, payload *domain.ResultPayload) error

	// AppendDispatchLog appends one audit entry to the task's dispatch log.
	AppendDispatchLog(ctx context.Context, entry *domain.DispatchLogEntry) error

	GetResults(ctx context.Context, taskID string) ([]domain.ResultPayload, error)

	// GetSubTask returns (nil, nil) when the subtask does not exist.
	GetSubTask(ctx context.Context, taskID, subID string) (*domain.SubTask, error)

	// SetContext and GetContext store arbitrary JSON-like blobs in a single
	// global namespace; callers namespace their own keys (e.g. by task id).
	SetContext(ctx context.Context, key string, value map[string]any) error
	GetContext(ctx context.Context, key string) (map[string]any, error)

	// NextSubTaskSeq atomically increments the shared subtask sequence. The
	// sequence lives in the store so subtask ids stay unique across
	// orchestrator instances.
	NextSubTaskSeq(ctx context.Context) (int64, error)

	// Subscribe acquires a pub/sub handle bound to one channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Publish sends a message to every subscriber of a channel.
	Publish(ctx context.Context, channel, message string) error

	Close() error
}
