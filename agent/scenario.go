package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ScenarioSource reads scenario definitions.
type ScenarioSource interface {
	ListScenarios(ctx context.Context) ([]Scenario, error)
	GetScenario(ctx context.Context, id uint) (*Scenario, error)
}

// Rebuilder is the registry surface the scenario service drives.
type Rebuilder interface {
	Rebuild(ctx context.Context, scenarioID uint) (map[string]RegistryEntry, error)
}

// =============================================================================
// 🎬 ScenarioService
// =============================================================================

// ScenarioService owns the process-wide active scenario. Switching rebuilds
// the registry exactly once; a failed build leaves the previous scenario
// active.
type ScenarioService struct {
	scenarios ScenarioSource
	registry  Rebuilder

	mu     sync.RWMutex
	active *Scenario

	logger *zap.Logger
}

// NewScenarioService creates a ScenarioService with no active scenario.
func NewScenarioService(scenarios ScenarioSource, registry Rebuilder, logger *zap.Logger) *ScenarioService {
	return &ScenarioService{
		scenarios: scenarios,
		registry:  registry,
		logger:    logger.With(zap.String("component", "scenario_service")),
	}
}

// List returns every scenario.
func (s *ScenarioService) List(ctx context.Context) ([]Scenario, error) {
	return s.scenarios.ListScenarios(ctx)
}

// Current returns the active scenario or ErrNoActiveScenario.
func (s *ScenarioService) Current() (*Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil, ErrNoActiveScenario
	}
	sc := *s.active
	return &sc, nil
}

// Set activates scenarioID. The scenario row is read first; the registry is
// then rebuilt once and the pointer moves only if the rebuild succeeded.
func (s *ScenarioService) Set(ctx context.Context, scenarioID uint) (*Scenario, error) {
	sc, err := s.scenarios.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.registry.Rebuild(ctx, sc.ID)
	if err != nil {
		s.logger.Warn("scenario switch refused",
			zap.Uint("scenario_id", sc.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("activate scenario %d: %w", sc.ID, err)
	}
	s.active = sc
	s.logger.Info("scenario activated",
		zap.Uint("scenario_id", sc.ID),
		zap.String("name", sc.Name),
		zap.Int("agents", len(entries)),
	)
	out := *sc
	return &out, nil
}

// RebuildActive rebuilds the registry for the active scenario after an admin
// write and refreshes the cached scenario row. It is a no-op when nothing is
// active.
func (s *ScenarioService) RebuildActive(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	id := s.active.ID
	if _, err := s.registry.Rebuild(ctx, id); err != nil {
		return fmt.Errorf("rebuild scenario %d: %w", id, err)
	}
	sc, err := s.scenarios.GetScenario(ctx, id)
	if err != nil {
		s.logger.Warn("refresh active scenario failed", zap.Uint("scenario_id", id), zap.Error(err))
		return nil
	}
	s.active = sc
	return nil
}
