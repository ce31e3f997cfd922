// Package routing provides capability registry queries over the state store.
package routing

import (
	"context"
	"fmt"

	"github.com/taskmesh/master/internal/domain"
	"github.com/taskmesh/master/internal/store"
)

// Service retrieves capability data for routing decisions.
type Service struct {
	store store.Store
}

// NewService creates a routing service over the given store.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// ListCapabilities returns every registered declaration.
func (s *Service) ListCapabilities(ctx context.Context) ([]domain.CapabilityDeclaration, error) {
	declarations, err := s.store.GetCapabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list capabilities: %w", err)
	}
	return declarations, nil
}

// CandidatesForCommand returns the declarations whose capability set includes
// the command.
func (s *Service) CandidatesForCommand(ctx context.Context, command string) ([]domain.CapabilityDeclaration, error) {
	declarations, err := s.ListCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]domain.CapabilityDeclaration, 0, len(declarations))
	for _, decl := range declarations {
		if decl.HasCapability(command) {
			candidates = append(candidates, decl)
		}
	}
	return candidates, nil
}

// Register upserts a worker declaration in the registry.
func (s *Service) Register(ctx context.Context, declaration *domain.CapabilityDeclaration) error {
	if err := s.store.RegisterAgent(ctx, declaration); err != nil {
		return fmt.Errorf("failed to register agent: %w", err)
	}
	return nil
}
