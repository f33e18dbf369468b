package policy

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mfa-engine/policy-core/internal/metrics"
	"github.com/mfa-engine/policy-core/pkg/types"
)

// MemoryStore implements an in-memory policy store. Policies live in a
// slice so insertion order survives updates; the index maps names to
// slice positions.
type MemoryStore struct {
	mu       sync.RWMutex
	policies []types.Policy
	index    map[string]int

	validator *Validator
	logger    *zap.Logger
	metrics   metrics.Metrics
}

// MemoryStoreConfig configures a MemoryStore
type MemoryStoreConfig struct {
	// Validator applied on Set and Replace. Nil defaults to the
	// standard schema validator.
	Validator *Validator
	Logger    *zap.Logger
	Metrics   metrics.Metrics
}

// NewMemoryStore creates an empty in-memory policy store
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	v := cfg.Validator
	if v == nil {
		v = NewValidator()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &MemoryStore{
		index:     make(map[string]int),
		validator: v,
		logger:    logger,
		metrics:   m,
	}
}

// Get retrieves a policy by name
func (s *MemoryStore) Get(ctx context.Context, name string) (*types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[name]
	if !ok {
		return nil, errNotFound(name)
	}
	return s.policies[i].Clone(), nil
}

// All retrieves all policies in insertion order
func (s *MemoryStore) All(ctx context.Context) ([]types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Policy, 0, len(s.policies))
	for i := range s.policies {
		out = append(out, *s.policies[i].Clone())
	}
	return out, nil
}

// Set validates and upserts a policy. An update keeps the policy's
// position; a new name appends.
func (s *MemoryStore) Set(ctx context.Context, p *types.Policy) error {
	if err := s.validator.Validate(p); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *p.Clone()
	if i, ok := s.index[p.Name]; ok {
		s.policies[i] = c
	} else {
		s.index[p.Name] = len(s.policies)
		s.policies = append(s.policies, c)
	}

	s.metrics.RecordStoreOperation("set")
	s.metrics.UpdatePolicyCount(len(s.policies))
	s.logger.Info("policy set",
		zap.String("name", p.Name),
		zap.String("scope", string(p.Scope)),
		zap.Bool("active", p.Active))
	return nil
}

// Delete removes a policy by name
func (s *MemoryStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[name]
	if !ok {
		return errNotFound(name)
	}

	s.policies = append(s.policies[:i], s.policies[i+1:]...)
	delete(s.index, name)
	for n, j := range s.index {
		if j > i {
			s.index[n] = j - 1
		}
	}

	s.metrics.RecordStoreOperation("delete")
	s.metrics.UpdatePolicyCount(len(s.policies))
	s.logger.Info("policy deleted", zap.String("name", name))
	return nil
}

// Enable activates or deactivates a policy by name
func (s *MemoryStore) Enable(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[name]
	if !ok {
		return errNotFound(name)
	}
	s.policies[i].Active = enabled

	op := "enable"
	if !enabled {
		op = "disable"
	}
	s.metrics.RecordStoreOperation(op)
	s.logger.Info("policy "+op+"d", zap.String("name", name))
	return nil
}

// Replace atomically swaps the full policy set. Every policy is
// validated first; on any failure the previous set stays in place.
func (s *MemoryStore) Replace(ctx context.Context, policies []types.Policy) error {
	next := make([]types.Policy, 0, len(policies))
	index := make(map[string]int, len(policies))
	for i := range policies {
		p := &policies[i]
		if err := s.validator.Validate(p); err != nil {
			return err
		}
		if _, dup := index[p.Name]; dup {
			return types.ParameterError("duplicate policy name %q", p.Name)
		}
		index[p.Name] = len(next)
		next = append(next, *p.Clone())
	}

	s.mu.Lock()
	s.policies = next
	s.index = index
	s.mu.Unlock()

	s.metrics.RecordStoreOperation("replace")
	s.metrics.UpdatePolicyCount(len(next))
	s.logger.Info("policy set replaced", zap.Int("policies", len(next)))
	return nil
}

// Count returns the number of policies
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.policies), nil
}
