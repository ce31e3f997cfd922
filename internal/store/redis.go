package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskmesh/master/internal/domain"
)

// Key layout shared with the workers. Every mutation is a single-key atomic
// operation; callers must not assume two writes land together.
const (
	routingKey        = "routing"
	capIndexPrefix    = "cap_index"
	subtaskListPrefix = "subtasks"
	subtaskKeyPrefix  = "subtask"
	routePrefix       = "route"
	resultsPrefix     = "results"
	dispatchLogPrefix = "dispatch_log"
	metricsPrefix     = "metrics"
	contextKey        = "global:context"
	subtaskSeqKey     = "seq:subtask"
)

// RedisStore implements Store against a Redis server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}

// RegisterAgent upserts the declaration and updates the capability index.
func (s *RedisStore) RegisterAgent(ctx context.Context, declaration *domain.CapabilityDeclaration) error {
	raw, err := json.Marshal(declaration)
	if err != nil {
		return fmt.Errorf("failed to marshal declaration: %w", err)
	}
	if err := s.client.HSet(ctx, routingKey, declaration.AgentID, raw).Err(); err != nil {
		return storeErr(err)
	}
	for _, capability := range declaration.Capabilities {
		if err := s.client.SAdd(ctx, capIndexPrefix+":"+capability, declaration.AgentID).Err(); err != nil {
			return storeErr(err)
		}
	}
	if declaration.Metrics != nil {
		return s.RecordMetrics(ctx, declaration.AgentID, declaration.Metrics)
	}
	return nil
}

// GetCapabilities returns every registered declaration.
func (s *RedisStore) GetCapabilities(ctx context.Context) ([]domain.CapabilityDeclaration, error) {
	raw, err := s.client.HGetAll(ctx, routingKey).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	declarations := make([]domain.CapabilityDeclaration, 0, len(raw))
	for _, value := range raw {
		var decl domain.CapabilityDeclaration
		if err := json.Unmarshal([]byte(value), &decl); err != nil {
			return nil, fmt.Errorf("failed to decode declaration: %w", err)
		}
		declarations = append(declarations, decl)
	}
	return declarations, nil
}

// StoreSubTasks writes the per-task list entry and the addressable key for
// each subtask in one pipeline round trip.
func (s *RedisStore) StoreSubTasks(ctx context.Context, subtasks []domain.SubTask) error {
	if len(subtasks) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for i := range subtasks {
		raw, err := json.Marshal(&subtasks[i])
		if err != nil {
			return fmt.Errorf("failed to marshal subtask: %w", err)
		}
		pipe.RPush(ctx, fmt.Sprintf("%s:%s", subtaskListPrefix, subtasks[i].TaskID), raw)
		pipe.Set(ctx, fmt.Sprintf("%s:%s:%s", subtaskKeyPrefix, subtasks[i].TaskID, subtasks[i].SubID), raw, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr(err)
	}
	return nil
}

// RecordRoute writes the route decision for a subtask.
func (s *RedisStore) RecordRoute(ctx context.Context, decision *domain.RouteDecision, subtask *domain.SubTask) error {
	raw, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal route decision: %w", err)
	}
	key := fmt.Sprintf("%s:%s:%s", routePrefix, subtask.TaskID, subtask.SubID)
	if err := s.client.Set(ctx, key, raw, 0).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// RecordResult appends the result and forwards any carried metrics.
func (s *RedisStore) RecordResult(ctx context.Context, payload *domain.ResultPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := s.client.RPush(ctx, resultsPrefix+":"+payload.TaskID, raw).Err(); err != nil {
		return storeErr(err)
	}
	if payload.Metrics != nil {
		return s.RecordMetrics(ctx, payload.AgentID, payload.Metrics)
	}
	return nil
}

// AppendDispatchLog appends one audit entry to the task's dispatch log.
func (s *RedisStore) AppendDispatchLog(ctx context.Context, entry *domain.DispatchLogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch log entry: %w", err)
	}
	if err := s.client.RPush(ctx, dispatchLogPrefix+":"+entry.TaskID, raw).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// GetResults returns every recorded result for a task, in append order.
func (s *RedisStore) GetResults(ctx context.Context, taskID string) ([]domain.ResultPayload, error) {
	entries, err := s.client.LRange(ctx, resultsPrefix+":"+taskID, 0, -1).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	results := make([]domain.ResultPayload, 0, len(entries))
	for _, entry := range entries {
		var payload domain.ResultPayload
		if err := json.Unmarshal([]byte(entry), &payload); err != nil {
			return nil, fmt.Errorf("failed to decode result: %w", err)
		}
		results = append(results, payload)
	}
	return results, nil
}

// GetSubTask returns (nil, nil) when the subtask does not exist.
func (s *RedisStore) GetSubTask(ctx context.Context, taskID, subID string) (*domain.SubTask, error) {
	raw, err := s.client.Get(ctx, fmt.Sprintf("%s:%s:%s", subtaskKeyPrefix, taskID, subID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	var subtask domain.SubTask
	if err := json.Unmarshal([]byte(raw), &subtask); err != nil {
		return nil, fmt.Errorf("failed to decode subtask: %w", err)
	}
	return &subtask, nil
}

// SetContext stores a context blob under a caller-chosen key.
func (s *RedisStore) SetContext(ctx context.Context, key string, value map[string]any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	if err := s.client.HSet(ctx, contextKey, key, raw).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// GetContext returns (nil, nil) when no blob exists for the key.
func (s *RedisStore) GetContext(ctx context.Context, key string) (map[string]any, error) {
	raw, err := s.client.HGet(ctx, contextKey, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err)
	}
	var value map[string]any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}
	return value, nil
}

// NextSubTaskSeq atomically increments the shared subtask sequence.
func (s *RedisStore) NextSubTaskSeq(ctx context.Context) (int64, error) {
	n, err := s.client.Incr(ctx, subtaskSeqKey).Result()
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

// RecordMetrics overwrites the agent's metrics hash field by field. Optional
// fields that are absent from the snapshot keep their previous value.
func (s *RedisStore) RecordMetrics(ctx context.Context, agentID string, snapshot *domain.MetricSnapshot) error {
	fields := map[string]any{
		"load":            strconv.FormatFloat(snapshot.Load, 'f', -1, 64),
		"recent_failures": strconv.Itoa(snapshot.RecentFailures),
	}
	if snapshot.AvgLatencyMs != nil {
		fields["avg_latency_ms"] = strconv.FormatFloat(*snapshot.AvgLatencyMs, 'f', -1, 64)
	}
	if snapshot.LastHeartbeat != nil {
		fields["last_heartbeat"] = snapshot.LastHeartbeat.Format(time.RFC3339Nano)
	}
	if err := s.client.HSet(ctx, metricsPrefix+":"+agentID, fields).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

// GetMetrics returns (nil, nil) for agents with no recorded metrics.
func (s *RedisStore) GetMetrics(ctx context.Context, agentID string) (*domain.MetricSnapshot, error) {
	raw, err := s.client.HGetAll(ctx, metricsPrefix+":"+agentID).Result()
	if err != nil {
		return nil, storeErr(err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var snapshot domain.MetricSnapshot
	if v, ok := raw["load"]; ok {
		if snapshot.Load, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("failed to decode load: %w", err)
		}
	}
	if v, ok := raw["recent_failures"]; ok {
		if snapshot.RecentFailures, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("failed to decode recent_failures: %w", err)
		}
	}
	if v, ok := raw["avg_latency_ms"]; ok {
		latency, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode avg_latency_ms: %w", err)
		}
		snapshot.AvgLatencyMs = &latency
	}
	if v, ok := raw["last_heartbeat"]; ok {
		heartbeat, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("failed to decode last_heartbeat: %w", err)
		}
		snapshot.LastHeartbeat = &heartbeat
	}
	return &snapshot, nil
}

// Subscribe acquires a pub/sub handle bound to one channel.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	// Subscribe does not block; force the round trip so a dead server
	// surfaces here instead of on the first receive.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, storeErr(err)
	}

	sub := &redisSubscription{pubsub: pubsub, channel: channel, msgs: make(chan string, 16)}
	go sub.pump()
	return sub, nil
}

// Publish sends a message to every subscriber of a channel.
func (s *RedisStore) Publish(ctx context.Context, channel, message string) error {
	if err := s.client.Publish(ctx, channel, message).Err(); err != nil {
		return storeErr(err)
	}
	return nil
}

type redisSubscription struct {
	pubsub  *redis.PubSub
	channel string
	msgs    chan string
}

func (s *redisSubscription) pump() {
	defer close(s.msgs)
	for msg := range s.pubsub.Channel() {
		s.msgs <- msg.Payload
	}
}

func (s *redisSubscription) Messages() <-chan string {
	return s.msgs
}

// Close unsubscribes and releases the handle.
func (s *redisSubscription) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.pubsub.Unsubscribe(ctx, s.channel); err != nil {
		s.pubsub.Close()
		return storeErr(err)
	}
	return s.pubsub.Close()
}
