package precondition

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/mfa-engine/policy-core/internal/auth"
	"github.com/mfa-engine/policy-core/internal/metrics"
	"github.com/mfa-engine/policy-core/internal/tokens"
)

// Hook is an external check invoked before enrollment and assignment
// calls. A non-nil error aborts the request.
type Hook func(ctx context.Context, action string, r *Request) error

// Config configures a Checker
type Config struct {
	// Inventory answers token counts and serial lookups for the
	// enrollment limit rules. Required by those rules only.
	Inventory tokens.Inventory
	// Verifier validates API keys for RequireAPIKey. Required by that
	// rule only.
	Verifier *auth.Verifier
	// External is the optional site-specific hook run by CheckExternal.
	External Hook
	// Logger for rule diagnostics. Nil defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics sink. Nil defaults to no-op metrics.
	Metrics metrics.Metrics
}

// Checker evaluates pre-condition rules. It is constructed once with
// its collaborators; the policy snapshot is passed to every rule call
// so one request sees one consistent snapshot.
type Checker struct {
	inventory tokens.Inventory
	verifier  *auth.Verifier
	external  Hook
	logger    *zap.Logger
	metrics   metrics.Metrics
}

// New creates a Checker from cfg
func New(cfg Config) *Checker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Checker{
		inventory: cfg.Inventory,
		verifier:  cfg.Verifier,
		external:  cfg.External,
		logger:    logger,
		metrics:   m,
	}
}

// maxIntValue parses values as integers and returns the largest.
// Numeric comparison, not lexicographic, so "9" never beats "10".
func maxIntValue(values []string) (int, error) {
	max := 0
	for i, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, err
		}
		if i == 0 || n > max {
			max = n
		}
	}
	return max, nil
}

// uniqueValues removes duplicates preserving first-seen order
func uniqueValues(values []string) []string {
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
