package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/taskmesh/master/internal/domain"
)

// MemoryStore is the in-process Store implementation used in tests. Records
// are kept as marshaled JSON, mirroring the Redis layout, so reads never
// alias a caller's maps.
type MemoryStore struct {
	mu           sync.RWMutex
	agents       map[string][]byte            // agent id -> declaration
	capIndex     map[string]map[string]bool   // capability -> agent ids
	subtaskLists map[string][][]byte          // task id -> ordered subtasks
	subtaskByKey map[string][]byte            // task:sub -> subtask
	routes       map[string][]byte            // task:sub -> decision
	results      map[string][][]byte          // task id -> ordered results
	dispatchLogs map[string][][]byte          // task id -> ordered log entries
	metrics      map[string]map[string]string // agent id -> metric fields
	contexts     map[string][]byte            // caller key -> blob
	subscribers  map[string][]*memorySubscription
	seq          int64
	closed       bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:       make(map[string][]byte),
		capIndex:     make(map[string]map[string]bool),
		subtaskLists: make(map[string][][]byte),
		subtaskByKey: make(map[string][]byte),
		routes:       make(map[string][]byte),
		results:      make(map[string][][]byte),
		dispatchLogs: make(map[string][][]byte),
		metrics:      make(map[string]map[string]string),
		contexts:     make(map[string][]byte),
		subscribers:  make(map[string][]*memorySubscription),
	}
}

// Close releases every open subscription.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	subs := s.subscribers
	s.subscribers = make(map[string][]*memorySubscription)
	s.closed = true
	s.mu.Unlock()

	for _, channelSubs := range subs {
		for _, sub := range channelSubs {
			sub.closeChan()
		}
	}
	return nil
}

// RegisterAgent upserts the declaration and updates the capability index.
func (s *MemoryStore) RegisterAgent(ctx context.Context, declaration *domain.CapabilityDeclaration) error {
	raw, err := json.Marshal(declaration)
	if err != nil {
		return fmt.Errorf("failed to marshal declaration: %w", err)
	}

	s.mu.Lock()
	s.agents[declaration.AgentID] = raw
	for _, capability := range declaration.Capabilities {
		if s.capIndex[capability] == nil {
			s.capIndex[capability] = make(map[string]bool)
		}
		s.capIndex[capability][declaration.AgentID] = true
	}
	s.mu.Unlock()

	if declaration.Metrics != nil {
		return s.RecordMetrics(ctx, declaration.AgentID, declaration.Metrics)
	}
	return nil
}

// GetCapabilities returns every registered declaration.
func (s *MemoryStore) GetCapabilities(ctx context.Context) ([]domain.CapabilityDeclaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	declarations := make([]domain.CapabilityDeclaration, 0, len(s.agents))
	for _, raw := range s.agents {
		var decl domain.CapabilityDeclaration
		if err := json.Unmarshal(raw, &decl); err != nil {
			return nil, fmt.Errorf("failed to decode declaration: %w", err)
		}
		declarations = append(declarations, decl)
	}
	return declarations, nil
}

// StoreSubTasks appends each subtask to its task list and writes its
// addressable key. No-op on empty input.
func (s *MemoryStore) StoreSubTasks(ctx context.Context, subtasks []domain.SubTask) error {
	if len(subtasks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range subtasks {
		raw, err := json.Marshal(&subtasks[i])
		if err != nil {
			return fmt.Errorf("failed to marshal subtask: %w", err)
		}
		s.subtaskLists[subtasks[i].TaskID] = append(s.subtaskLists[subtasks[i].TaskID], raw)
		s.subtaskByKey[subtasks[i].TaskID+":"+subtasks[i].SubID] = raw
	}
	return nil
}

// RecordRoute writes or overwrites the route decision for a subtask.
func (s *MemoryStore) RecordRoute(ctx context.Context, decision *domain.RouteDecision, subtask *domain.SubTask) error {
	raw, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal route decision: %w", err)
	}
	s.mu.Lock()
	s.routes[subtask.TaskID+":"+subtask.SubID] = raw
	s.mu.Unlock()
	return nil
}

// RecordResult appends the result and forwards any carried metrics.
func (s *MemoryStore) RecordResult(ctx context.Context, payload *domain.ResultPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	s.mu.Lock()
	s.results[payload.TaskID] = append(s.results[payload.TaskID], raw)
	s.mu.Unlock()

	if payload.Metrics != nil {
		return s.RecordMetrics(ctx, payload.AgentID, payload.Metrics)
	}
	return nil
}

// AppendDispatchLog appends one audit entry to the task's dispatch log.
func (s *MemoryStore) AppendDispatchLog(ctx context.Context, entry *domain.DispatchLogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch log entry: %w", err)
	}
	s.mu.Lock()
	s.dispatchLogs[entry.TaskID] = append(s.dispatchLogs[entry.TaskID], raw)
	s.mu.Unlock()
	return nil
}

// GetResults returns every recorded result for a task, in append order.
func (s *MemoryStore) GetResults(ctx context.Context, taskID string) ([]domain.ResultPayload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.results[taskID]
	results := make([]domain.ResultPayload, 0, len(entries))
	for _, raw := range entries {
		var payload domain.ResultPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		results = append(results, payload)
	}
	return results, nil
}

// GetSubTask returns (nil, nil) when the subtask does not exist.
func (s *MemoryStore) GetSubTask(ctx context.Context, taskID, subID string) (*domain.SubTask, error) {
	s.mu.RLock()
	raw, ok := s.subtaskByKey[taskID+":"+subID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var subtask domain.SubTask
	if err := json.Unmarshal(raw, &subtask); err != nil {
		return nil, fmt.Errorf("failed to decode subtask: %w", err)
	}
	return &subtask, nil
}

// GetRoute returns the recorded route decision for a subtask, or (nil, nil).
// Test-only helper; the orchestration logic never reads routes back.
func (s *MemoryStore) GetRoute(taskID, subID string) (*domain.RouteDecision, error) {
	s.mu.RLock()
	raw, ok := s.routes[taskID+":"+subID]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var decision domain.RouteDecision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, fmt.Errorf("failed to decode route decision: %w", err)
	}
	return &decision, nil
}

// GetDispatchLog returns the task's dispatch log entries in append order.
// Test-only helper.
func (s *MemoryStore) GetDispatchLog(taskID string) ([]domain.DispatchLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.DispatchLogEntry, 0, len(s.dispatchLogs[taskID]))
	for _, raw := range s.dispatchLogs[taskID] {
		var entry domain.DispatchLogEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode dispatch log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// SetContext stores a context blob under a caller-chosen key.
func (s *MemoryStore) SetContext(ctx context.Context, key string, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	s.mu.Lock()
	s.contexts[key] = raw
	s.mu.Unlock()
	return nil
}

// GetContext returns (nil, nil) when no blob exists for the key.
func (s *MemoryStore) GetContext(ctx context.Context, key string) (map[string]any, error) {
	s.mu.RLock()
	raw, ok := s.contexts[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}
	return value, nil
}

// NextSubTaskSeq atomically increments the shared subtask sequence.
func (s *MemoryStore) NextSubTaskSeq(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq, nil
}

// RecordMetrics overwrites the agent's metric fields individually; optional
// fields absent from the snapshot keep their previous value.
func (s *MemoryStore) RecordMetrics(ctx context.Context, agentID string, snapshot *domain.MetricSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := s.metrics[agentID]
	if fields == nil {
		fields = make(map[string]string)
		s.metrics[agentID] = fields
	}
	fields["load"] = fmt.Sprintf("%g", snapshot.Load)
	fields["recent_failures"] = fmt.Sprintf("%d", snapshot.RecentFailures)
	if snapshot.AvgLatencyMs != nil {
		fields["avg_latency_ms"] = fmt.Sprintf("%g", *snapshot.AvgLatencyMs)
	}
	if snapshot.LastHeartbeat != nil {
		fields["last_heartbeat"] = snapshot.LastHeartbeat.Format(time.RFC3339Nano)
	}
	return nil
}

// GetMetrics returns (nil, nil) for agents with no recorded metrics.
func (s *MemoryStore) GetMetrics(ctx context.Context, agentID string) (*domain.MetricSnapshot, error) {
	s.mu.RLock()
	fields, ok := s.metrics[agentID]
	if ok {
		copied := make(map[string]string, len(fields))
		for k, v := range fields {
			copied[k] = v
		}
		fields = copied
	}
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return parseMetricFields(fields)
}

// Subscribe acquires a pub/sub handle bound to one channel.
func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		store:   s,
		channel: channel,
		msgs:    make(chan string, 16),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: store closed", domain.ErrStoreUnavailable)
	}
	s.subscribers[channel] = append(s.subscribers[channel], sub)
	s.mu.Unlock()
	return sub, nil
}

// Publish delivers the message to every subscriber of the channel. Slow
// subscribers with a full buffer miss the message, as with real pub/sub.
func (s *MemoryStore) Publish(ctx context.Context, channel, message string) error {
	s.mu.RLock()
	subs := append([]*memorySubscription(nil), s.subscribers[channel]...)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.send(message)
	}
	return nil
}

type memorySubscription struct {
	store   *MemoryStore
	channel string

	// mu makes send and closeChan mutually exclusive; a send must never
	// race a channel close.
	mu     sync.Mutex
	msgs   chan string
	closed bool
}

func (s *memorySubscription) send(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.msgs <- message:
	default:
	}
}

func (s *memorySubscription) Messages() <-chan string {
	return s.msgs
}

// Close unsubscribes and releases the handle.
func (s *memorySubscription) Close() error {
	s.store.mu.Lock()
	subs := s.store.subscribers[s.channel]
	for i, sub := range subs {
		if sub == s {
			s.store.subscribers[s.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.store.mu.Unlock()

	s.closeChan()
	return nil
}

func (s *memorySubscription) closeChan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.msgs)
}

func parseMetricFields(fields map[string]string) (*domain.MetricSnapshot, error) {
	var snapshot domain.MetricSnapshot
	if v, ok := fields["load"]; ok {
		if _, err := fmt.Sscanf(v, "%g", &snapshot.Load); err != nil {
			return nil, fmt.Errorf("failed to decode load: %w", err)
		}
	}
	if v, ok := fields["recent_failures"]; ok {
		if _, err := fmt.Sscanf(v, "%d", &snapshot.RecentFailures); err != nil {
			return nil, fmt.Errorf("failed to decode recent_failures: %w", err)
		}
	}
	if v, ok := fields["avg_latency_ms"]; ok {
		var latency float64
		if _, err := fmt.Sscanf(v, "%g", &latency); err != nil {
			return nil, fmt.Errorf("failed to decode avg_latency_ms: %w", err)
		}
		snapshot.AvgLatencyMs = &latency
	}
	if v, ok := fields["last_heartbeat"]; ok {
		heartbeat, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode last_heartbeat: %w", err)
		}
		snapshot.LastHeartbeat = &heartbeat
	}
	return &snapshot, nil
}
