package precondition

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mfa-engine/policy-core/internal/engine"
	"github.com/mfa-engine/policy-core/internal/metrics"
	"github.com/mfa-engine/policy-core/pkg/types"
)

// Rule is one named pre-condition check
type Rule struct {
	Name  string
	Check func(ctx context.Context, e *engine.Engine, r *Request) error
}

// Observer is notified of every rule outcome a Gate produces. The
// audit logger implements it.
type Observer interface {
	RuleChecked(ctx context.Context, rule string, r *Request, err error)
}

// GateConfig configures a Gate
type GateConfig struct {
	// Observer receives one callback per evaluated rule. Optional.
	Observer Observer
	// Logger for rule outcomes. Nil defaults to a no-op logger.
	Logger *zap.Logger
	// Metrics sink. Nil defaults to no-op metrics.
	Metrics metrics.Metrics
}

// Gate runs an ordered rule chain in front of an API call and stops
// at the first error.
type Gate struct {
	rules    []Rule
	observer Observer
	logger   *zap.Logger
	metrics  metrics.Metrics
}

// NewGate creates a gate over the given rules
func NewGate(rules []Rule, cfg GateConfig) *Gate {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}
	return &Gate{
		rules:    rules,
		observer: cfg.Observer,
		logger:   logger,
		metrics:  m,
	}
}

// Run evaluates the rules in order against one policy snapshot and
// returns the first rule error, leaving later rules unevaluated.
// Rules may mutate the request parameters for the rules after them.
func (g *Gate) Run(ctx context.Context, e *engine.Engine, r *Request) error {
	for _, rule := range g.rules {
		start := time.Now()
		err := rule.Check(ctx, e, r)
		g.record(ctx, rule.Name, r, err, time.Since(start))
		if err != nil {
			return err
		}
	}
	return nil
}

func (g *Gate) record(ctx context.Context, name string, r *Request, err error, d time.Duration) {
	outcome := metrics.OutcomePass
	switch {
	case err == nil:
	case types.IsDenied(err), types.IsAuthentication(err), types.IsConflict(err):
		outcome = metrics.OutcomeDeny
	default:
		outcome = metrics.OutcomeError
	}
	g.metrics.RecordPreconditionCheck(name, outcome, d)

	if err != nil {
		g.logger.Info("pre-condition failed",
			zap.String("rule", name),
			zap.String("outcome", outcome),
			zap.Error(err))
	} else {
		g.logger.Debug("pre-condition passed", zap.String("rule", name))
	}
	if g.observer != nil {
		g.observer.RuleChecked(ctx, name, r, err)
	}
}

// EnrollmentRules is the chain guarding token enrollment: realm and
// user limits, token type gating, the external hook, PIN checks, then
// the parameter-writing rules.
func (c *Checker) EnrollmentRules() []Rule {
	return []Rule{
		{Name: RuleMaxTokenRealm, Check: c.CheckMaxTokenRealm},
		{Name: RuleMaxTokenUser, Check: c.CheckMaxTokenUser},
		{Name: RuleTokenInit, Check: c.CheckTokenInit},
		c.ExternalRule("init"),
		{Name: RuleOTPPin, Check: c.CheckOTPPin},
		{Name: RuleEncryptPin, Check: c.EncryptPin},
		{Name: RuleInitTokenLabel, Check: c.InitTokenLabel},
		{Name: RuleInitRandomPIN, Check: c.InitRandomPIN},
	}
}

// AssignmentRules is the chain guarding token assignment
func (c *Checker) AssignmentRules() []Rule {
	return []Rule{
		{Name: RuleMaxTokenRealm, Check: c.CheckMaxTokenRealm},
		{Name: RuleMaxTokenUser, Check: c.CheckMaxTokenUser},
		c.ExternalRule("assign"),
		{Name: RuleOTPPin, Check: c.CheckOTPPin},
		{Name: RuleEncryptPin, Check: c.EncryptPin},
	}
}

// ValidateRules is the chain in front of the validate endpoints:
// realm rewriting, then the API key requirement against the rewritten
// realm.
func (c *Checker) ValidateRules() []Rule {
	return []Rule{
		{Name: RuleSetRealm, Check: c.SetRealm},
		{Name: RuleAPIKey, Check: c.RequireAPIKey},
	}
}

// UploadRules is the chain guarding token file import
func (c *Checker) UploadRules() []Rule {
	return []Rule{
		{Name: RuleTokenUpload, Check: c.CheckTokenUpload},
	}
}

// BaseActionRule builds a rule gating the named action, for wrapping
// single-action endpoints such as enable or delete.
func (c *Checker) BaseActionRule(action string) Rule {
	return Rule{Name: RuleBaseAction, Check: func(ctx context.Context, e *engine.Engine, r *Request) error {
		return c.CheckBaseAction(ctx, e, r, action)
	}}
}

// ExternalRule builds a rule running the external hook with the given
// action name.
func (c *Checker) ExternalRule(action string) Rule {
	return Rule{Name: RuleExternal, Check: func(ctx context.Context, e *engine.Engine, r *Request) error {
		return c.CheckExternal(ctx, e, r, action)
	}}
}
