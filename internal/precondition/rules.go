package precondition

import (
	"context"
	"fmt"
	"strconv"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mfa-engine/policy-core/internal/auth"
	"github.com/mfa-engine/policy-core/internal/engine"
	"github.com/mfa-engine/policy-core/internal/policy"
	"github.com/mfa-engine/policy-core/pkg/types"
)

// Rule names, used for metrics labels and audit events.
const (
	RuleMaxTokenUser   = "check_max_token_user"
	RuleMaxTokenRealm  = "check_max_token_realm"
	RuleOTPPin         = "check_otp_pin"
	RuleInitRandomPIN  = "init_random_pin"
	RuleInitTokenLabel = "init_tokenlabel"
	RuleEncryptPin     = "encrypt_pin"
	RuleSetRealm       = "set_realm"
	RuleBaseAction     = "check_base_action"
	RuleTokenInit      = "check_token_init"
	RuleTokenUpload    = "check_token_upload"
	RuleAPIKey         = "api_key_required"
	RuleExternal       = "check_external"
)

// CheckMaxTokenUser denies enrollment when the target user already
// holds as many tokens as the strictest max_token_per_user policy
// allows. Requests without a target user pass.
func (c *Checker) CheckMaxTokenUser(ctx context.Context, e *engine.Engine, r *Request) error {
	username, realm := r.TargetUser()
	if username == "" {
		return nil
	}
	values, err := e.GetActionValues(types.ActionMaxTokenUser, types.ScopeEnrollment, engine.Filter{
		User:   username,
		Realm:  realm,
		Client: r.Client,
	}, false)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	limit, err := maxIntValue(values)
	if err != nil {
		return types.WrapParameter(err, "invalid %s value", types.ActionMaxTokenUser)
	}
	if c.inventory == nil {
		return fmt.Errorf("no token inventory configured")
	}
	count, err := c.inventory.CountForUser(ctx, username, realm)
	if err != nil {
		return fmt.Errorf("count tokens of user %s@%s: %w", username, realm, err)
	}
	if count >= limit {
		c.logger.Info("token limit reached for user",
			zap.String("user", username),
			zap.String("realm", realm),
			zap.Int("count", count),
			zap.Int("limit", limit))
		return types.DeniedError("The number of tokens for this user is limited!")
	}
	return nil
}

// CheckMaxTokenRealm denies enrollment when the target realm already
// holds as many tokens as the strictest max_token_per_realm policy
// allows. Requests without a realm pass.
func (c *Checker) CheckMaxTokenRealm(ctx context.Context, e *engine.Engine, r *Request) error {
	_, realm := r.TargetUser()
	if realm == "" {
		return nil
	}
	values, err := e.GetActionValues(types.ActionMaxTokenRealm, types.ScopeEnrollment, engine.Filter{
		Realm:  realm,
		Client: r.Client,
	}, false)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	limit, err := maxIntValue(values)
	if err != nil {
		return types.WrapParameter(err, "invalid %s value", types.ActionMaxTokenRealm)
	}
	if c.inventory == nil {
		return fmt.Errorf("no token inventory configured")
	}
	count, err := c.inventory.CountForRealm(ctx, realm)
	if err != nil {
		return fmt.Errorf("count tokens in realm %s: %w", realm, err)
	}
	if count >= limit {
		c.logger.Info("token limit reached for realm",
			zap.String("realm", realm),
			zap.Int("count", count),
			zap.Int("limit", limit))
		return types.DeniedError("The number of tokens in this realm is limited!")
	}
	return nil
}

// CheckOTPPin validates the PIN carried by the request against the
// otp_pin_minlength, otp_pin_maxlength and otp_pin_contents policies
// of the user scope. The rule only applies to callers with the user
// role; admins set PINs unrestricted.
func (c *Checker) CheckOTPPin(ctx context.Context, e *engine.Engine, r *Request) error {
	if r.Principal.Role != auth.RoleUser {
		return nil
	}
	pin := r.PIN()
	username, realm := r.TargetUser()
	f := engine.Filter{User: username, Realm: realm, Client: r.Client}

	minlen, err := e.GetActionValues(types.ActionOTPPinMinLen, types.ScopeUser, f, true)
	if err != nil {
		return err
	}
	maxlen, err := e.GetActionValues(types.ActionOTPPinMaxLen, types.ScopeUser, f, true)
	if err != nil {
		return err
	}
	contents, err := e.GetActionValues(types.ActionOTPPinContents, types.ScopeUser, f, true)
	if err != nil {
		return err
	}

	length := utf8.RuneCountInString(pin)
	if len(minlen) == 1 {
		n, err := strconv.Atoi(minlen[0])
		if err != nil {
			return types.WrapParameter(err, "invalid %s value", types.ActionOTPPinMinLen)
		}
		if length < n {
			return types.DeniedError("The minimum OTP PIN length is %d", n)
		}
	}
	if len(maxlen) == 1 {
		n, err := strconv.Atoi(maxlen[0])
		if err != nil {
			return types.WrapParameter(err, "invalid %s value", types.ActionOTPPinMaxLen)
		}
		if length > n {
			return types.DeniedError("The maximum OTP PIN length is %d", n)
		}
	}
	if len(contents) == 1 {
		if err := CheckPINContents(pin, contents[0]); err != nil {
			return err
		}
	}
	return nil
}

// InitRandomPIN overwrites the "pin" parameter with a generated random
// PIN when exactly one otp_pin_random policy applies.
func (c *Checker) InitRandomPIN(ctx context.Context, e *engine.Engine, r *Request) error {
	username, realm := r.TargetUser()
	values, err := e.GetActionValues(types.ActionOTPPinRandom, types.ScopeEnrollment, engine.Filter{
		User:   username,
		Realm:  realm,
		Client: r.Client,
	}, true)
	if err != nil {
		return err
	}
	if len(values) != 1 {
		return nil
	}
	size, err := strconv.Atoi(values[0])
	if err != nil {
		return types.WrapParameter(err, "invalid %s value", types.ActionOTPPinRandom)
	}
	pin, err := GeneratePIN(size)
	if err != nil {
		return fmt.Errorf("generate random PIN: %w", err)
	}
	c.logger.Debug("setting random OTP PIN", zap.Int("length", size))
	r.SetParam("pin", pin)
	return nil
}

// InitTokenLabel copies the tokenlabel template into the request when
// exactly one tokenlabel policy applies. Placeholder expansion happens
// at enrollment.
func (c *Checker) InitTokenLabel(ctx context.Context, e *engine.Engine, r *Request) error {
	username, realm := r.TargetUser()
	values, err := e.GetActionValues(types.ActionTokenLabel, types.ScopeEnrollment, engine.Filter{
		User:   username,
		Realm:  realm,
		Client: r.Client,
	}, true)
	if err != nil {
		return err
	}
	if len(values) == 1 {
		r.SetParam("tokenlabel", values[0])
	}
	return nil
}

// EncryptPin sets the "encryptpin" parameter when an active
// encrypt_pin policy matches, and removes a caller-supplied one when
// none does. The policy decides, never the caller.
func (c *Checker) EncryptPin(ctx context.Context, e *engine.Engine, r *Request) error {
	username, realm := r.TargetUser()
	matched, err := e.GetPolicies(engine.Filter{
		Scope:  types.ScopeEnrollment,
		Action: types.ActionEncryptPin,
		User:   username,
		Realm:  realm,
		Client: r.Client,
		Active: engine.Bool(true),
	})
	if err != nil {
		return err
	}
	if len(matched) > 0 {
		r.SetParam("encryptpin", "True")
	} else {
		r.DeleteParam("encryptpin")
	}
	return nil
}

// SetRealm rewrites the "realm" parameter when a setrealm policy of
// the authorization scope matches the request's realm. More than one
// distinct target realm is a conflict.
func (c *Checker) SetRealm(ctx context.Context, e *engine.Engine, r *Request) error {
	_, realm := r.TargetUser()
	values, err := e.GetActionValues(types.ActionSetRealm, types.ScopeAuthorization, engine.Filter{
		Realm:  realm,
		Client: r.Client,
	}, false)
	if err != nil {
		return err
	}
	values = uniqueValues(values)
	switch {
	case len(values) > 1:
		return types.ConflictError("I do not know, to which realm I should set the new realm. Conflicting policies exist.")
	case len(values) == 1:
		c.logger.Debug("rewriting realm",
			zap.String("from", realm),
			zap.String("to", values[0]))
		r.SetParam("realm", values[0])
	}
	return nil
}

// CheckBaseAction gates one administrative or self-service action. The
// caller's role picks the scope. When the scope has any active policy
// but none matches caller, realm and action, the request is denied;
// an empty scope allows everything.
func (c *Checker) CheckBaseAction(ctx context.Context, e *engine.Engine, r *Request, action string) error {
	scope := types.ScopeAdmin
	if r.Principal.Role == auth.RoleUser {
		scope = types.ScopeUser
	}

	realm := r.Param("realm")
	if realm == "" && r.Param("serial") != "" {
		realms, err := c.serialRealms(ctx, r.Param("serial"))
		if err != nil {
			return err
		}
		if len(realms) > 0 {
			realm = realms[0]
		}
	}

	allowed, err := c.actionAllowed(e, scope, action, realm, r)
	if err != nil || allowed {
		return err
	}
	if scope == types.ScopeUser {
		return types.DeniedError("User actions are defined, but this action is not allowed!")
	}
	return types.DeniedError("Admin actions are defined, but this action is not allowed!")
}

// CheckTokenInit gates enrollment of one token type. The action name
// is derived from the "type" parameter, HOTP when absent.
func (c *Checker) CheckTokenInit(ctx context.Context, e *engine.Engine, r *Request) error {
	scope := types.ScopeAdmin
	if r.Principal.Role == auth.RoleUser {
		scope = types.ScopeUser
	}
	action := policy.EnrollAction(r.Param("type"))

	allowed, err := c.actionAllowed(e, scope, action, r.Param("realm"), r)
	if err != nil || allowed {
		return err
	}
	if scope == types.ScopeUser {
		return types.DeniedError("User actions are defined, you are not allowed to enroll this token type!")
	}
	return types.DeniedError("Admin actions are defined, but you are not allowed to enroll this token type!")
}

// CheckTokenUpload gates token file import, an admin-only action.
func (c *Checker) CheckTokenUpload(ctx context.Context, e *engine.Engine, r *Request) error {
	allowed, err := c.actionAllowed(e, types.ScopeAdmin, types.ActionImportTokens, r.Param("realm"), r)
	if err != nil || allowed {
		return err
	}
	return types.DeniedError("Admin actions are defined, but you are not allowed to upload token files.")
}

// RequireAPIKey enforces the api_key_required authorization policy:
// when one matches, the request must carry a valid JWT whose role is
// validate. On success the verified principal is stored on the
// request.
func (c *Checker) RequireAPIKey(ctx context.Context, e *engine.Engine, r *Request) error {
	username, realm := r.TargetUser()
	matched, err := e.GetPolicies(engine.Filter{
		Scope:  types.ScopeAuthorization,
		Action: types.ActionAPIKeyRequired,
		User:   username,
		Realm:  realm,
		Client: r.Client,
		Active: engine.Bool(true),
	})
	if err != nil {
		return err
	}
	if len(matched) == 0 {
		return nil
	}

	if r.AuthToken == "" {
		return types.AuthenticationError("The policy requires an API key to authenticate, but no key was passed.")
	}
	if c.verifier == nil {
		return fmt.Errorf("no API key verifier configured")
	}
	principal, err := c.verifier.Verify(r.AuthToken)
	if err != nil {
		c.logger.Debug("API key rejected", zap.Error(err))
		return types.AuthenticationError("No valid API key was passed.")
	}
	if principal.Role != auth.RoleValidate {
		return types.AuthenticationError("A correct JWT was passed, but it was no API key.")
	}
	r.Principal = principal
	return nil
}

// CheckExternal runs the configured site-specific hook. Without one
// the rule passes.
func (c *Checker) CheckExternal(ctx context.Context, _ *engine.Engine, r *Request, action string) error {
	if c.external == nil {
		return nil
	}
	if err := c.external(ctx, action, r); err != nil {
		c.logger.Info("external check rejected request",
			zap.String("action", action),
			zap.Error(err))
		return err
	}
	return nil
}

// actionAllowed reports whether the default-allow gate passes: true
// when a policy authorizes the action, or when the scope carries no
// active policies at all.
func (c *Checker) actionAllowed(e *engine.Engine, scope types.Scope, action, realm string, r *Request) (bool, error) {
	allowed, err := e.GetPolicies(engine.Filter{
		Scope:  scope,
		Action: action,
		User:   r.Principal.Username,
		Realm:  realm,
		Client: r.Client,
		Active: engine.Bool(true),
	})
	if err != nil {
		return false, err
	}
	if len(allowed) > 0 {
		return true, nil
	}
	defined, err := e.GetPolicies(engine.Filter{Scope: scope, Active: engine.Bool(true)})
	if err != nil {
		return false, err
	}
	return len(defined) == 0, nil
}

// serialRealms looks up the realms of a token serial, best effort:
// without an inventory the lookup yields nothing.
func (c *Checker) serialRealms(ctx context.Context, serial string) ([]string, error) {
	if c.inventory == nil {
		return nil, nil
	}
	realms, err := c.inventory.RealmsOfSerial(ctx, serial)
	if err != nil {
		return nil, fmt.Errorf("realms of serial %s: %w", serial, err)
	}
	return realms, nil
}
