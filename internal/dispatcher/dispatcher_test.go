package dispatcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/master/internal/adapter/workerclient"
	"github.com/taskmesh/master/internal/controller"
	"github.com/taskmesh/master/internal/domain"
	"github.com/taskmesh/master/internal/routing"
	"github.com/taskmesh/master/internal/store"
	"github.com/taskmesh/master/policy"
	"github.com/taskmesh/master/tests/helpers"
)

func newTestDispatcher(t *testing.T, s *store.MemoryStore) *Dispatcher {
	t.Helper()

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	routingService := routing.NewService(s)
	ctrl := controller.New(controller.NewStaticDecomposer(s), controller.NewAdaptiveRouter(s))
	workers := workerclient.NewClient(2 * time.Second)
	return New(ctrl, routingService, s, workers, engine, nil)
}

func registerWorker(t *testing.T, d *Dispatcher, agentID, url string, capabilities ...string) {
	t.Helper()
	require.NoError(t, d.RegisterAgent(context.Background(), &domain.CapabilityDeclaration{
		AgentID:      agentID,
		URL:          url,
		Capabilities: capabilities,
		Profile:      "worker",
	}))
}

func TestDispatchRecordsRouteAndLog(t *testing.T) {
	s := helpers.NewTestStore(t)
	d := newTestDispatcher(t, s)
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `{"status":"succeeded","output":{}}`)
	}))
	defer server.Close()

	registerWorker(t, d, "worker-1", server.URL, "analyze")
	require.NoError(t, s.StoreSubTasks(ctx, []domain.SubTask{
		{TaskID: "t1", SubID: "t1-S1", Command: "analyze", TargetCapability: "analyze"},
	}))

	decision, err := d.Dispatch(ctx, &domain.WorkRequest{
		TaskID: "t1", SubID: "t1-S1", Command: "analyze", Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)
	assert.Equal(t, "worker-1", decision.SelectedAgent)
	assert.Equal(t, int32(1), calls.Load())

	recorded, err := s.GetRoute("t1", "t1-S1")
	require.NoError(t, err)
	require.NotNil(t, recorded)
	assert.Equal(t, "worker-1", recorded.SelectedAgent)

	log, err := s.GetDispatchLog("t1")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.True(t, strings.HasPrefix(log[0].EntryID, "dl_"))
	assert.Equal(t, "worker-1", log[0].AgentID)
	assert.Equal(t, "t1-S1", log[0].SubID)
	assert.NotEmpty(t, log[0].RouteReason)
}

func TestDispatchUnknownSubTaskStillRoutes(t *testing.T) {
	s := helpers.NewTestStore(t)
	d := newTestDispatcher(t, s)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"succeeded","output":{}}`)
	}))
	defer server.Close()

	registerWorker(t, d, "worker-1", server.URL, "analyze")

	// No subtask stored under this id; dispatch synthesizes and persists a
	// record tagged as a fallback.
	decision, err := d.Dispatch(ctx, &domain.WorkRequest{
		TaskID: "ext", SubID: "ext-S1", Command: "analyze", Priority: domain.PriorityNormal,
	})
	require.NoError(t, err)

	recorded, err := s.GetRoute("ext", "ext-S1")
	require.NoError(t, err)
	require.NotNil(t, recorded)
	assert.Equal(t, decision.SelectedAgent, recorded.SelectedAgent)

	subtask, err := s.GetSubTask(ctx, "ext", "ext-S1")
	require.NoError(t, err)
	require.NotNil(t, subtask)
	assert.Equal(t, "analyze", subtask.Command)
	assert.Equal(t, true, subtask.Metadata["fallback"])
}

func TestDispatchNoCandidates(t *testing.T) {
	s := helpers.NewTestStore(t)
	d := newTestDispatcher(t, s)

	_, err := d.Dispatch(context.Background(), &domain.WorkRequest{
		TaskID: "t1", SubID: "t1-S1", Command: "transcode", Priority: domain.PriorityNormal,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNoCandidates))

	log, err := s.GetDispatchLog("t1")
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestDispatchWorkerFailureLeavesNoRecords(t *testing.T) {
	s := helpers.NewTestStore(t)
	d := newTestDispatcher(t, s)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	registerWorker(t, d, "worker-1", server.URL, "analyze")

	_, err := d.Dispatch(ctx, &domain.WorkRequest{
		TaskID: "t1", SubID: "t1-S1", Command: "analyze", Priority: domain.PriorityNormal,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDispatchFailed))

	// A failed dispatch writes neither a route nor a log entry.
	recorded, err := s.GetRoute("t1", "t1-S1")
	require.NoError(t, err)
	assert.Nil(t, recorded)

	log, err := s.GetDispatchLog("t1")
	require.NoError(t, err)
	assert.Empty(t, log)
}

func TestDispatchPolicyBlocksBeforeNetwork(t *testing.T) {
	s := helpers.NewTestStore(t)
	d := newTestDispatcher(t, s)
	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `{"status":"succeeded","output":{}}`)
	}))
	defer server.Close()

	registerWorker(t, d, "worker-1", server.URL, "shutdown")

	_, err := d.Dispatch(ctx, &domain.WorkRequest{
		TaskID: "t1", SubID: "t1-S1", Command: "shutdown", Priority: domain.PriorityHigh,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDispatchFailed))
	assert.Equal(t, int32(0), calls.Load())
}

func TestHandleTaskPersistsSubTasks(t *testing.T) {
	s := helpers.NewTestStore(t)
	d := newTestDispatcher(t, s)
	ctx := context.Background()

	registerWorker(t, d, "worker-1", "http://worker-1:5000", "analyze", "retrieve")

	decomposition, err := d.HandleTask(ctx, &domain.TaskObjective{TaskID: "t1", Objective: "demo"})
	require.NoError(t, err)
	require.Len(t, decomposition.SubTasks, 2)

	for _, subtask := range decomposition.SubTasks {
		stored, err := s.GetSubTask(ctx, "t1", subtask.SubID)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, subtask.Command, stored.Command)
	}
}

func TestRegisterAgentRecordsCarriedMetrics(t *testing.T) {
	s := helpers.NewTestStore(t)
	d := newTestDispatcher(t, s)
	ctx := context.Background()

	latency := 120.0
	require.NoError(t, d.RegisterAgent(ctx, &domain.CapabilityDeclaration{
		AgentID:      "worker-1",
		URL:          "http://worker-1:5000",
		Capabilities: []string{"analyze"},
		Profile:      "worker",
		Metrics:      &domain.MetricSnapshot{Load: 0.3, RecentFailures: 1, AvgLatencyMs: &latency},
	}))

	metrics, err := s.GetMetrics(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, metrics)
	assert.Equal(t, 0.3, metrics.Load)
	require.NotNil(t, metrics.AvgLatencyMs)
	assert.Equal(t, 120.0, *metrics.AvgLatencyMs)
}

func TestHandleResultPersists(t *testing.T) {
	s := helpers.NewTestStore(t)
	d := newTestDispatcher(t, s)
	ctx := context.Background()

	require.NoError(t, d.HandleResult(ctx, &domain.ResultPayload{
		TaskID: "t1", SubID: "t1-S1", AgentID: "worker-1",
		Status: domain.StatusSucceeded, Output: map[string]any{"answer": "42"},
	}))

	results, err := s.GetResults(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "worker-1", results[0].AgentID)
}
