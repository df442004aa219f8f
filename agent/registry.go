package agent

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RecordSource is the batch read the registry performs per rebuild.
type RecordSource interface {
	ListAgentRecords(ctx context.Context, scenarioID uint) ([]AgentRecord, error)
}

// Recorder receives agent-level measurements. internal/metrics.Collector
// implements it.
type Recorder interface {
	RecordRegistryRebuild(status string, agents int, duration time.Duration)
	RecordTurn(agent, status string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordRegistryRebuild(string, int, time.Duration) {}
func (nopRecorder) RecordTurn(string, string, time.Duration)         {}

// snapshot is one published build. It is never mutated after publication.
type snapshot struct {
	scenarioID uint
	entries    map[string]RegistryEntry
	builtAt    time.Time
}

// =============================================================================
// 📇 Registry
// =============================================================================

// Registry is the name-indexed cache of built graphs for the active scenario.
// Each Rebuild publishes a fresh snapshot with a single atomic swap, so a
// Lookup observes either the previous build or the next one, never a mix.
// Nodes handed out by earlier builds stay valid for callers that hold them.
type Registry struct {
	source  RecordSource
	builder *Builder
	opts    BuildOptions
	current atomic.Pointer[snapshot]

	// rebuildMu serialises rebuilds; lookups never take it.
	rebuildMu sync.Mutex

	recorder Recorder
	logger   *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryRecorder reports rebuilds to rec.
func WithRegistryRecorder(rec Recorder) RegistryOption {
	return func(r *Registry) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// NewRegistry creates an empty Registry.
func NewRegistry(source RecordSource, builder *Builder, opts BuildOptions, logger *zap.Logger, options ...RegistryOption) *Registry {
	r := &Registry{
		source:   source,
		builder:  builder,
		opts:     opts,
		recorder: nopRecorder{},
		logger:   logger.With(zap.String("component", "agent_registry")),
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Rebuild loads every record of scenarioID in one read, builds each one as a
// root and publishes the result. On any error nothing is published. The
// returned map is the published one and must be treated as read-only.
func (r *Registry) Rebuild(ctx context.Context, scenarioID uint) (map[string]RegistryEntry, error) {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	start := time.Now()
	entries, err := r.build(ctx, scenarioID)
	if err != nil {
		r.recorder.RecordRegistryRebuild("error", 0, time.Since(start))
		r.logger.Error("registry rebuild failed",
			zap.Uint("scenario_id", scenarioID),
			zap.Error(err),
		)
		return nil, err
	}

	r.current.Store(&snapshot{scenarioID: scenarioID, entries: entries, builtAt: time.Now()})
	r.recorder.RecordRegistryRebuild("success", len(entries), time.Since(start))
	r.logger.Info("registry rebuilt",
		zap.Uint("scenario_id", scenarioID),
		zap.Int("agents", len(entries)),
		zap.Duration("duration", time.Since(start)),
	)
	return entries, nil
}

func (r *Registry) build(ctx context.Context, scenarioID uint) (map[string]RegistryEntry, error) {
	records, err := r.source.ListAgentRecords(ctx, scenarioID)
	if err != nil {
		return nil, fmt.Errorf("list agent records for scenario %d: %w", scenarioID, err)
	}

	arena := make(map[uint]AgentRecord, len(records))
	for _, rec := range records {
		arena[rec.ID] = rec
	}
	ids := slices.Collect(maps.Keys(arena))
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entries := make(map[string]RegistryEntry, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec := arena[id]
		if _, dup := entries[rec.Name]; dup {
			return nil, fmt.Errorf("%w: %q in scenario %d", ErrDuplicateAgentName, rec.Name, scenarioID)
		}
		node, err := r.builder.Build(id, arena, r.opts)
		if err != nil {
			return nil, fmt.Errorf("build agent %q: %w", rec.Name, err)
		}
		entries[rec.Name] = RegistryEntry{Record: rec, Node: node}
	}
	return entries, nil
}

// Lookup returns the entry registered under name in the current build.
func (r *Registry) Lookup(name string) (RegistryEntry, error) {
	snap := r.current.Load()
	if snap == nil {
		return RegistryEntry{}, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}
	entry, ok := snap.entries[name]
	if !ok {
		return RegistryEntry{}, fmt.Errorf("%w: %q", ErrAgentNotFound, name)
	}
	return entry, nil
}

// ListNames returns every registered name, sorted.
func (r *Registry) ListNames() []string {
	snap := r.current.Load()
	if snap == nil {
		return []string{}
	}
	names := slices.Collect(maps.Keys(snap.entries))
	sort.Strings(names)
	return names
}

// ScenarioID reports the scenario of the current build.
func (r *Registry) ScenarioID() (uint, bool) {
	snap := r.current.Load()
	if snap == nil {
		return 0, false
	}
	return snap.scenarioID, true
}

// IsNotFound reports whether err means an unknown agent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAgentNotFound)
}
