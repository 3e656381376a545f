package formulas

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConfigStore manages versioned formula configs.
// At most one config per exact scope is active; Create with MakeActive and
// Activate deactivate the scope's other versions atomically.
type ConfigStore interface {
	// Create appends a new version to the request's scope
	Create(ctx context.Context, req NewFormula) (*FormulaConfig, error)

	// ListVersions returns every version in the exact scope, newest first
	ListVersions(ctx context.Context, scope Scope) ([]*FormulaConfig, error)

	// Get returns a config by id
	Get(ctx context.Context, id string) (*FormulaConfig, error)

	// Activate makes id the only active version in its scope
	Activate(ctx context.Context, id string) (*FormulaConfig, error)

	// ActiveIn returns the active config of the exact scope, without fallback
	ActiveIn(ctx context.Context, scope Scope) (*FormulaConfig, error)

	// GetActive applies the resolution policy: use case, then report, then global
	GetActive(ctx context.Context, scope Scope) (*FormulaConfig, error)

	// SeedDefaults creates the default library for reportID ("" for global
	// defaults), skipping fields that already have a version in that scope
	SeedDefaults(ctx context.Context, reportID string) ([]*FormulaConfig, error)
}

// ActiveFinder looks up the active config of one exact scope
type ActiveFinder interface {
	ActiveIn(ctx context.Context, scope Scope) (*FormulaConfig, error)
}

// ResolveActive finds the config governing scope, trying each fallback tier in turn
func ResolveActive(ctx context.Context, finder ActiveFinder, scope Scope) (*FormulaConfig, error) {
	if !scope.IsValid() {
		return nil, fmt.Errorf("%w: fieldKey %q is not a valid identifier", ErrInvalidScope, scope.FieldKey())
	}
	for _, tier := range scope.Fallbacks() {
		cfg, err := finder.ActiveIn(ctx, tier)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no active formula for %s", ErrNotFound, scope)
}

func validateNewFormula(req NewFormula) error {
	if !req.Scope.IsValid() {
		return fmt.Errorf("%w: fieldKey %q is not a valid identifier", ErrInvalidScope, req.Scope.FieldKey())
	}
	if strings.TrimSpace(req.Label) == "" {
		return fmt.Errorf("%w: label is required", ErrInvalidFormula)
	}
	if strings.TrimSpace(req.Expression) == "" {
		return fmt.Errorf("%w: expression is required", ErrInvalidFormula)
	}
	return nil
}

func seedScope(reportID, fieldKey string) Scope {
	if reportID == "" {
		return GlobalScope(fieldKey)
	}
	return ReportScope(reportID, fieldKey)
}

// InMemoryConfigStore implements ConfigStore with maps guarded by one mutex.
// Writes are fully serialized, which keeps activation atomic per scope.
type InMemoryConfigStore struct {
	configs map[string]*FormulaConfig
	scopes  map[string][]string // scope key -> ids in version order
	mu      sync.RWMutex
}

// NewInMemoryConfigStore creates an empty in-memory store
func NewInMemoryConfigStore() *InMemoryConfigStore {
	return &InMemoryConfigStore{
		configs: make(map[string]*FormulaConfig),
		scopes:  make(map[string][]string),
	}
}

// Create assigns the next version in the scope and stores the config
func (s *InMemoryConfigStore) Create(ctx context.Context, req NewFormula) (*FormulaConfig, error) {
	if err := validateNewFormula(req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createLocked(req), nil
}

func (s *InMemoryConfigStore) createLocked(req NewFormula) *FormulaConfig {
	key := req.Scope.Key()
	now := time.Now().UTC()

	version := 1
	for _, id := range s.scopes[key] {
		if v := s.configs[id].Version; v >= version {
			version = v + 1
		}
	}

	if req.MakeActive {
		s.deactivateLocked(key, now)
	}

	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = CreatedByUser
	}

	cfg := (&FormulaConfig{
		ID:          uuid.NewString(),
		Scope:       req.Scope,
		Label:       req.Label,
		Expression:  req.Expression,
		InputFields: req.InputFields,
		Constants:   req.Constants,
		Version:     version,
		IsActive:    req.MakeActive,
		Notes:       req.Notes,
		CreatedBy:   createdBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}).Clone()

	s.configs[cfg.ID] = cfg
	s.scopes[key] = append(s.scopes[key], cfg.ID)
	return cfg.Clone()
}

func (s *InMemoryConfigStore) deactivateLocked(key string, now time.Time) {
	for _, id := range s.scopes[key] {
		if cfg := s.configs[id]; cfg.IsActive {
			cfg.IsActive = false
			cfg.UpdatedAt = now
		}
	}
}

// ListVersions returns the scope's configs, newest version first
func (s *InMemoryConfigStore) ListVersions(ctx context.Context, scope Scope) ([]*FormulaConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.scopes[scope.Key()]
	out := make([]*FormulaConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.configs[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

// Get retrieves a config by id
func (s *InMemoryConfigStore) Get(ctx context.Context, id string) (*FormulaConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	return cfg.Clone(), nil
}

// Activate deactivates the siblings of id and activates it
func (s *InMemoryConfigStore) Activate(ctx context.Context, id string) (*FormulaConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, ok := s.configs[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}

	now := time.Now().UTC()
	s.deactivateLocked(cfg.Scope.Key(), now)
	cfg.IsActive = true
	cfg.UpdatedAt = now
	return cfg.Clone(), nil
}

// ActiveIn returns the single active config of the exact scope
func (s *InMemoryConfigStore) ActiveIn(ctx context.Context, scope Scope) (*FormulaConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*FormulaConfig
	for _, id := range s.scopes[scope.Key()] {
		if cfg := s.configs[id]; cfg.IsActive {
			active = append(active, cfg)
		}
	}

	switch len(active) {
	case 0:
		return nil, fmt.Errorf("%w: no active formula in %s", ErrNotFound, scope)
	case 1:
		return active[0].Clone(), nil
	}
	return nil, fmt.Errorf("%w: %d active formulas in %s", ErrActivationConflict, len(active), scope)
}

// GetActive resolves the formula in effect for scope
func (s *InMemoryConfigStore) GetActive(ctx context.Context, scope Scope) (*FormulaConfig, error) {
	return ResolveActive(ctx, s, scope)
}

// SeedDefaults creates an active version 1 for every default field not yet present
func (s *InMemoryConfigStore) SeedDefaults(ctx context.Context, reportID string) ([]*FormulaConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := []*FormulaConfig{}
	for _, d := range Defaults() {
		scope := seedScope(reportID, d.FieldKey)
		if len(s.scopes[scope.Key()]) > 0 {
			continue
		}
		created = append(created, s.createLocked(NewFromDefault(d, scope)))
	}
	return created, nil
}
