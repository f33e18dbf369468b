package policy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/mfa-engine/policy-core/internal/metrics"
	"github.com/mfa-engine/policy-core/pkg/types"
)

// EncodeINI renders policies in the textual interchange format: one
// section per policy, key = value lines, list dimensions in their
// comma-joined wire form.
//
//	[policyname]
//	scope = admin
//	action = enable, otppin=userstore
//	user = *, -admin
//	active = true
func EncodeINI(policies []types.Policy) string {
	var b strings.Builder
	for i := range policies {
		p := &policies[i]
		fmt.Fprintf(&b, "[%s]\n", p.Name)
		fmt.Fprintf(&b, "scope = %s\n", p.Scope)
		fmt.Fprintf(&b, "action = %s\n", p.Actions.String())
		if len(p.Realms) > 0 {
			fmt.Fprintf(&b, "realm = %s\n", types.JoinList(p.Realms))
		}
		if len(p.Resolvers) > 0 {
			fmt.Fprintf(&b, "resolver = %s\n", types.JoinList(p.Resolvers))
		}
		if len(p.Users) > 0 {
			fmt.Fprintf(&b, "user = %s\n", types.JoinList(p.Users))
		}
		if len(p.Clients) > 0 {
			fmt.Fprintf(&b, "client = %s\n", types.JoinList(p.Clients))
		}
		fmt.Fprintf(&b, "active = %t\n", p.Active)
		if p.Time != "" {
			fmt.Fprintf(&b, "time = %s\n", p.Time)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// DecodeINI parses the interchange format back into policies, in
// section order. Blank lines and "#" comments are ignored; unknown keys
// inside a section are tolerated for compatibility with older exports.
// Duplicate section names and key lines outside a section are
// KindParameter errors.
func DecodeINI(contents string) ([]types.Policy, error) {
	var (
		policies []types.Policy
		current  *types.Policy
		seen     = map[string]bool{}
	)

	for lineno, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, types.ParameterError("malformed section header on line %d: %q", lineno+1, line)
			}
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				return nil, types.ParameterError("empty policy name on line %d", lineno+1)
			}
			if seen[name] {
				return nil, types.ParameterError("duplicate policy section %q on line %d", name, lineno+1)
			}
			seen[name] = true
			policies = append(policies, types.Policy{Name: name, Active: true})
			current = &policies[len(policies)-1]
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, types.ParameterError("malformed line %d: %q", lineno+1, line)
		}
		if current == nil {
			return nil, types.ParameterError("key %q outside of a policy section on line %d", strings.TrimSpace(key), lineno+1)
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "scope":
			current.Scope = types.Scope(value)
		case "action":
			current.Actions = types.ParseActions(value)
		case "realm":
			current.Realms = types.SplitList(value)
		case "resolver":
			current.Resolvers = types.SplitList(value)
		case "user":
			current.Users = types.SplitList(value)
		case "client":
			current.Clients = types.SplitList(value)
		case "active":
			active, err := strconv.ParseBool(value)
			if err != nil {
				return nil, types.ParameterError("invalid active value %q on line %d", value, lineno+1)
			}
			current.Active = active
		case "time":
			current.Time = value
		default:
			// Older exports carry extra row keys such as "name" or "id".
		}
	}

	return policies, nil
}

// Exchange moves policies between a store and the interchange format
type Exchange struct {
	store   Store
	logger  *zap.Logger
	metrics metrics.Metrics
}

// ExchangeConfig configures an Exchange
type ExchangeConfig struct {
	Logger  *zap.Logger
	Metrics metrics.Metrics
}

// NewExchange creates an Exchange bound to store
func NewExchange(store Store, cfg ExchangeConfig) *Exchange {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Exchange{store: store, logger: logger, metrics: m}
}

// Export renders the store's full policy set in the interchange format
func (e *Exchange) Export(ctx context.Context) (string, error) {
	policies, err := e.store.All(ctx)
	if err != nil {
		return "", fmt.Errorf("load policies: %w", err)
	}

	e.metrics.RecordExport(len(policies))
	e.logger.Info("policies exported", zap.Int("count", len(policies)))
	return EncodeINI(policies), nil
}

// Import parses contents and upserts every policy it defines. Each
// policy is validated by the store's Set; the first failure aborts the
// import, leaving earlier upserts in place. Returns the number of
// imported policies.
func (e *Exchange) Import(ctx context.Context, contents string) (int, error) {
	policies, err := DecodeINI(contents)
	if err != nil {
		return 0, err
	}

	imported := 0
	for i := range policies {
		if err := e.store.Set(ctx, &policies[i]); err != nil {
			return imported, fmt.Errorf("import policy %q: %w", policies[i].Name, err)
		}
		imported++
	}

	e.metrics.RecordImport(imported)
	e.logger.Info("policies imported", zap.Int("count", imported))
	return imported, nil
}
