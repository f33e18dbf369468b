// Package engine evaluates which policies apply to a request and what
// their actions say. An Engine holds one immutable policy snapshot; a
// fresh Engine is built per request so results stay consistent while
// the underlying store changes.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mfa-engine/policy-core/internal/metrics"
	"github.com/mfa-engine/policy-core/pkg/types"
)

// Source yields the policy snapshot an Engine is built from.
// Implemented by the policy stores.
type Source interface {
	All(ctx context.Context) ([]types.Policy, error)
}

// Config configures the engine
type Config struct {
	// Logger for match diagnostics. Nil defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics sink. Nil defaults to no-op metrics.
	Metrics metrics.Metrics
}

// Engine matches policies against request attributes. It is read-only
// after construction and safe for concurrent use.
type Engine struct {
	policies []types.Policy
	logger   *zap.Logger
	metrics  metrics.Metrics
}

// New creates an engine over a snapshot of the given policies
func New(policies []types.Policy, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}

	snapshot := make([]types.Policy, 0, len(policies))
	for i := range policies {
		snapshot = append(snapshot, *policies[i].Clone())
	}

	m.RecordSnapshotBuild(len(snapshot))

	return &Engine{
		policies: snapshot,
		logger:   logger,
		metrics:  m,
	}
}

// NewFromSource builds an engine from the current contents of a policy
// source, usually once per incoming request.
func NewFromSource(ctx context.Context, src Source, cfg Config) (*Engine, error) {
	policies, err := src.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy snapshot: %w", err)
	}
	return New(policies, cfg), nil
}

// Size returns the number of policies in the snapshot
func (e *Engine) Size() int {
	return len(e.policies)
}

// GetPolicies returns the policies matching the filter, in the order
// they were loaded. Filters compose by intersection; a zero filter
// returns every policy.
func (e *Engine) GetPolicies(f Filter) ([]types.Policy, error) {
	start := time.Now()

	client, hasClient, err := f.clientAddr()
	if err != nil {
		return nil, err
	}

	var matched []types.Policy
	for i := range e.policies {
		p := &e.policies[i]

		if f.Name != "" && p.Name != f.Name {
			continue
		}
		if f.Active != nil && p.Active != *f.Active {
			continue
		}
		if f.Scope != "" && p.Scope != f.Scope {
			continue
		}
		if f.Action != "" && !matchActions(p.Actions, f.Action) {
			continue
		}
		if f.User != "" && !matchList(p.Users, f.User) {
			continue
		}
		if f.Resolver != "" && !matchList(p.Resolvers, f.Resolver) {
			continue
		}
		if f.Realm != "" && !matchList(p.Realms, f.Realm) {
			continue
		}
		if hasClient && !e.matchClient(p, client) {
			continue
		}

		matched = append(matched, *p.Clone())
	}

	e.metrics.RecordPolicyQuery(string(f.Scope), len(matched), time.Since(start))
	e.logger.Debug("policy query",
		zap.String("scope", string(f.Scope)),
		zap.String("action", f.Action),
		zap.String("user", f.User),
		zap.String("realm", f.Realm),
		zap.Int("matched", len(matched)))

	return matched, nil
}

// GetActionValues collects the values configured for one action across
// all active policies in the given scope that match the filter's realm,
// resolver, user and client. With unique set, more than one distinct
// value is a KindConflict error; callers that can merge values pass
// unique=false and receive every contribution in match order.
func (e *Engine) GetActionValues(action string, scope types.Scope, f Filter, unique bool) ([]string, error) {
	start := time.Now()

	policies, err := e.GetPolicies(Filter{
		Scope:    scope,
		Action:   action,
		Realm:    f.Realm,
		Resolver: f.Resolver,
		User:     f.User,
		Client:   f.Client,
		Active:   Bool(true),
	})
	if err != nil {
		return nil, err
	}

	var values []string
	for i := range policies {
		v, ok := policies[i].Actions.Get(action)
		if !ok {
			// Matched through a wildcard action entry; nothing to collect.
			continue
		}
		values = append(values, v.Tokens()...)
	}

	if unique {
		values = dedup(values)
		if len(values) > 1 {
			e.metrics.RecordPolicyConflict(action)
			e.logger.Warn("conflicting action values",
				zap.String("action", action),
				zap.String("scope", string(scope)),
				zap.Strings("values", values))
			return nil, types.ConflictError("There are conflicting %s definitions!", action)
		}
	}

	e.metrics.RecordActionValueLookup(action, time.Since(start))
	return values, nil
}

// dedup removes duplicates preserving first-seen order
func dedup(values []string) []string {
	if len(values) < 2 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Bool returns a pointer to v, for use in Filter.Active
func Bool(v bool) *bool {
	return &v
}
