package controller

import (
	"context"
	"fmt"
	"sort"

	"github.com/taskmesh/master/internal/domain"
	"github.com/taskmesh/master/internal/store"
)

// Router scores a candidate set for a command and picks a winner.
// Implementations are swappable behind this interface.
type Router interface {
	DecideRoute(ctx context.Context, command string, candidates []domain.CapabilityDeclaration, taskContext map[string]any) (*domain.RouteDecision, error)
}

// AdaptiveRouter selects the candidate with the lowest composite score built
// from live metrics: load + min(recent_failures, 5)*0.1 + latency/5000, where
// latency defaults to 1000ms when unreported. A candidate with no recorded
// metrics scores exactly 1.0. Ties resolve to the lexicographically lowest
// agent id.
type AdaptiveRouter struct {
	metrics store.MetricsProvider
}

// NewAdaptiveRouter creates a router backed by the given metrics provider.
func NewAdaptiveRouter(metrics store.MetricsProvider) *AdaptiveRouter {
	return &AdaptiveRouter{metrics: metrics}
}

// DecideRoute picks the candidate with the minimum score. Pure computation
// plus one metrics read per candidate; no retries.
func (r *AdaptiveRouter) DecideRoute(ctx context.Context, command string, candidates []domain.CapabilityDeclaration, taskContext map[string]any) (*domain.RouteDecision, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w for command %q", domain.ErrNoCandidates, command)
	}

	ordered := append([]domain.CapabilityDeclaration(nil), candidates...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].AgentID < ordered[j].AgentID })

	scores := make(map[string]float64, len(ordered))
	selected := ""
	best := 0.0
	for _, declaration := range ordered {
		metrics, err := r.metrics.GetMetrics(ctx, declaration.AgentID)
		if err != nil {
			return nil, fmt.Errorf("failed to read metrics for %s: %w", declaration.AgentID, err)
		}
		score := scoreCandidate(metrics)
		scores[declaration.AgentID] = score
		// Strict less-than keeps the lowest agent id on equal scores.
		if selected == "" || score < best {
			selected = declaration.AgentID
			best = score
		}
	}

	reason := fmt.Sprintf("Selected %s with lowest score %.2f among %d candidates.", selected, best, len(ordered))
	return &domain.RouteDecision{
		SelectedAgent: selected,
		Reason:        reason,
		Considered:    append([]domain.CapabilityDeclaration(nil), candidates...),
		Scores:        scores,
	}, nil
}

func scoreCandidate(metrics *domain.MetricSnapshot) float64 {
	if metrics == nil {
		return 1.0
	}
	failures := metrics.RecentFailures
	if failures > 5 {
		failures = 5
	}
	latency := 1000.0
	if metrics.AvgLatencyMs != nil {
		latency = *metrics.AvgLatencyMs
	}
	return metrics.Load + float64(failures)*0.1 + latency/5000.0
}
