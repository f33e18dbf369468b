package precondition_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfa-engine/policy-core/internal/auth"
	"github.com/mfa-engine/policy-core/internal/engine"
	"github.com/mfa-engine/policy-core/internal/precondition"
	"github.com/mfa-engine/policy-core/internal/tokens"
	"github.com/mfa-engine/policy-core/pkg/types"
)

func newEngine(policies ...types.Policy) *engine.Engine {
	return engine.New(policies, engine.Config{})
}

func activePolicy(name string, scope types.Scope, actions string) types.Policy {
	return types.Policy{
		Name:    name,
		Scope:   scope,
		Actions: types.ParseActions(actions),
		Active:  true,
	}
}

// seededInventory holds two tokens for alice and one for bob, all in
// realm1, plus a multi-realm hardware token.
func seededInventory(t *testing.T) *tokens.MemoryInventory {
	t.Helper()
	inv := tokens.NewMemoryInventory()
	ctx := context.Background()
	for _, tok := range []tokens.Token{
		{Serial: "OATH0001", Type: "hotp", Username: "alice", Realm: "realm1", Active: true},
		{Serial: "OATH0002", Type: "totp", Username: "alice", Realm: "realm1", Active: true},
		{Serial: "OATH0003", Type: "hotp", Username: "bob", Realm: "realm1", Active: true},
		{Serial: "SPASS001", Type: "spass", Realms: []string{"realm2"}, Active: true},
	} {
		require.NoError(t, inv.Add(ctx, tok))
	}
	return inv
}

func newChecker(t *testing.T) *precondition.Checker {
	t.Helper()
	return precondition.New(precondition.Config{Inventory: seededInventory(t)})
}

func userRequest(username, realm string) *precondition.Request {
	r := precondition.NewRequest()
	if username != "" {
		r.SetParam("user", username)
	}
	if realm != "" {
		r.SetParam("realm", realm)
	}
	return r
}

func TestCheckMaxTokenUser(t *testing.T) {
	ctx := context.Background()
	c := newChecker(t)

	t.Run("limit reached", func(t *testing.T) {
		e := newEngine(activePolicy("limit", types.ScopeEnrollment, "max_token_per_user=2"))
		err := c.CheckMaxTokenUser(ctx, e, userRequest("alice", "realm1"))
		require.Error(t, err)
		assert.Equal(t, "The number of tokens for this user is limited!", err.Error())
		assert.True(t, types.IsDenied(err))
	})

	t.Run("below limit", func(t *testing.T) {
		e := newEngine(activePolicy("limit", types.ScopeEnrollment, "max_token_per_user=3"))
		assert.NoError(t, c.CheckMaxTokenUser(ctx, e, userRequest("alice", "realm1")))
	})

	t.Run("numeric max wins over stricter policy", func(t *testing.T) {
		e := newEngine(
			activePolicy("strict", types.ScopeEnrollment, "max_token_per_user=1"),
			activePolicy("loose", types.ScopeEnrollment, "max_token_per_user=5"),
		)
		assert.NoError(t, c.CheckMaxTokenUser(ctx, e, userRequest("alice", "realm1")))
	})

	t.Run("no login skips the check", func(t *testing.T) {
		e := newEngine(activePolicy("limit", types.ScopeEnrollment, "max_token_per_user=1"))
		assert.NoError(t, c.CheckMaxTokenUser(ctx, e, userRequest("", "realm1")))
	})

	t.Run("no policy means no limit", func(t *testing.T) {
		assert.NoError(t, c.CheckMaxTokenUser(ctx, newEngine(), userRequest("alice", "realm1")))
	})
}

func TestCheckMaxTokenRealm(t *testing.T) {
	ctx := context.Background()
	c := newChecker(t)

	t.Run("limit reached", func(t *testing.T) {
		e := newEngine(activePolicy("limit", types.ScopeEnrollment, "max_token_per_realm=3"))
		err := c.CheckMaxTokenRealm(ctx, e, userRequest("alice", "realm1"))
		require.Error(t, err)
		assert.Equal(t, "The number of tokens in this realm is limited!", err.Error())
		assert.True(t, types.IsDenied(err))
	})

	t.Run("below limit", func(t *testing.T) {
		e := newEngine(activePolicy("limit", types.ScopeEnrollment, "max_token_per_realm=4"))
		assert.NoError(t, c.CheckMaxTokenRealm(ctx, e, userRequest("alice", "realm1")))
	})

	t.Run("no realm skips the check", func(t *testing.T) {
		e := newEngine(activePolicy("limit", types.ScopeEnrollment, "max_token_per_realm=1"))
		assert.NoError(t, c.CheckMaxTokenRealm(ctx, e, userRequest("alice", "")))
	})

	t.Run("realm limited policies match their realm only", func(t *testing.T) {
		p := activePolicy("limit", types.ScopeEnrollment, "max_token_per_realm=1")
		p.Realms = []string{"realm2"}
		e := newEngine(p)
		assert.NoError(t, c.CheckMaxTokenRealm(ctx, e, userRequest("alice", "realm1")))

		err := c.CheckMaxTokenRealm(ctx, e, userRequest("", "realm2"))
		require.Error(t, err)
		assert.Equal(t, "The number of tokens in this realm is limited!", err.Error())
	})
}

func TestCheckOTPPin(t *testing.T) {
	ctx := context.Background()
	c := newChecker(t)

	asUser := func(pin string) *precondition.Request {
		r := userRequest("alice", "realm1")
		r.SetParam("pin", pin)
		r.Principal = auth.Principal{Username: "alice", Realm: "realm1", Role: auth.RoleUser}
		return r
	}

	t.Run("minimum length", func(t *testing.T) {
		e := newEngine(activePolicy("pin", types.ScopeUser, "otp_pin_minlength=4"))
		err := c.CheckOTPPin(ctx, e, asUser("123"))
		require.Error(t, err)
		assert.Equal(t, "The minimum OTP PIN length is 4", err.Error())
		assert.True(t, types.IsDenied(err))

		assert.NoError(t, c.CheckOTPPin(ctx, e, asUser("1234")))
	})

	t.Run("maximum length", func(t *testing.T) {
		e := newEngine(activePolicy("pin", types.ScopeUser, "otp_pin_maxlength=6"))
		err := c.CheckOTPPin(ctx, e, asUser("1234567"))
		require.Error(t, err)
		assert.Equal(t, "The maximum OTP PIN length is 6", err.Error())

		assert.NoError(t, c.CheckOTPPin(ctx, e, asUser("123456")))
	})

	t.Run("contents", func(t *testing.T) {
		e := newEngine(activePolicy("pin", types.ScopeUser, "otp_pin_contents=cn"))
		err := c.CheckOTPPin(ctx, e, asUser("letters"))
		require.Error(t, err)
		assert.Equal(t, "Missing character in PIN: [0-9]", err.Error())

		assert.NoError(t, c.CheckOTPPin(ctx, e, asUser("letters1")))
	})

	t.Run("otppin parameter wins over pin", func(t *testing.T) {
		e := newEngine(activePolicy("pin", types.ScopeUser, "otp_pin_minlength=4"))
		r := asUser("1234")
		r.SetParam("otppin", "12")
		err := c.CheckOTPPin(ctx, e, r)
		require.Error(t, err)
		assert.Equal(t, "The minimum OTP PIN length is 4", err.Error())
	})

	t.Run("admins are not restricted", func(t *testing.T) {
		e := newEngine(activePolicy("pin", types.ScopeUser, "otp_pin_minlength=4"))
		r := asUser("1")
		r.Principal.Role = auth.RoleAdmin
		assert.NoError(t, c.CheckOTPPin(ctx, e, r))
	})

	t.Run("conflicting lengths", func(t *testing.T) {
		e := newEngine(
			activePolicy("p1", types.ScopeUser, "otp_pin_minlength=4"),
			activePolicy("p2", types.ScopeUser, "otp_pin_minlength=6"),
		)
		err := c.CheckOTPPin(ctx, e, asUser("12345"))
		require.Error(t, err)
		assert.True(t, types.IsConflict(err))
		assert.Equal(t, "There are conflicting otp_pin_minlength definitions!", err.Error())
	})
}

func TestInitRandomPIN(t *testing.T) {
	ctx := context.Background()
	c := newChecker(t)

	t.Run("sets a generated pin", func(t *testing.T) {
		e := newEngine(activePolicy("rnd", types.ScopeEnrollment, "otp_pin_random=8"))
		r := userRequest("alice", "realm1")
		r.SetParam("pin", "chosen-by-user")
		require.NoError(t, c.InitRandomPIN(ctx, e, r))
		assert.Len(t, r.Param("pin"), 8)
		assert.NotEqual(t, "chosen-by-user", r.Param("pin"))
	})

	t.Run("no policy leaves the pin alone", func(t *testing.T) {
		r := userRequest("alice", "realm1")
		r.SetParam("pin", "chosen-by-user")
		require.NoError(t, c.InitRandomPIN(ctx, newEngine(), r))
		assert.Equal(t, "chosen-by-user", r.Param("pin"))
	})

	t.Run("conflicting lengths", func(t *testing.T) {
		e := newEngine(
			activePolicy("p1", types.ScopeEnrollment, "otp_pin_random=6"),
			activePolicy("p2", types.ScopeEnrollment, "otp_pin_random=10"),
		)
		err := c.InitRandomPIN(ctx, e, userRequest("alice", "realm1"))
		require.Error(t, err)
		assert.True(t, types.IsConflict(err))
	})
}

func TestInitTokenLabel(t *testing.T) {
	ctx := context.Background()
	c := newChecker(t)

	t.Run("sets the template verbatim", func(t *testing.T) {
		e := newEngine(activePolicy("label", types.ScopeEnrollment, "tokenlabel=<u>@<r>"))
		r := userRequest("alice", "realm1")
		require.NoError(t, c.InitTokenLabel(ctx, e, r))
		assert.Equal(t, "<u>@<r>", r.Param("tokenlabel"))
	})

	t.Run("quoted template keeps its spaces", func(t *testing.T) {
		e := newEngine(activePolicy("label", types.ScopeEnrollment, "tokenlabel='<u> of <r>'"))
		r := userRequest("alice", "realm1")
		require.NoError(t, c.InitTokenLabel(ctx, e, r))
		assert.Equal(t, "<u> of <r>", r.Param("tokenlabel"))
	})

	t.Run("no policy leaves the request alone", func(t *testing.T) {
		r := userRequest("alice", "realm1")
		require.NoError(t, c.InitTokenLabel(ctx, newEngine(), r))
		assert.Equal(t, "", r.Param("tokenlabel"))
	})
}

func TestEncryptPin(t *testing.T) {
	ctx := context.Background()
	c := newChecker(t)

	t.Run("policy sets the flag", func(t *testing.T) {
		e := newEngine(activePolicy("enc", types.ScopeEnrollment, "encrypt_pin"))
		r := userRequest("alice", "realm1")
		require.NoError(t, c.EncryptPin(ctx, e, r))
		assert.Equal(t, "True", r.Param("encryptpin"))
	})

	t.Run("no policy strips a caller supplied flag", func(t *testing.T) {
		r := userRequest("alice", "realm1")
		r.SetParam("encryptpin", "True")
		require.NoError(t, c.EncryptPin(ctx, newEngine(), r))
		assert.Equal(t, "", r.Param("encryptpin"))
	})

	t.Run("inactive policy does not count", func(t *testing.T) {
		p := activePolicy("enc", types.ScopeEnrollment, "encrypt_pin")
		p.Active = false
		r := userRequest("alice", "realm1")
		r.SetParam("encryptpin", "True")
		require.NoError(t, c.EncryptPin(ctx, newEngine(p), r))
		assert.Equal(t, "", r.Param("encryptpin"))
	})
}

func TestSetRealm(t *testing.T) {
	ctx := context.Background()
	c := newChecker(t)

	t.Run("rewrites the realm", func(t *testing.T) {
		p := activePolicy("rewrite", types.ScopeAuthorization, "setrealm=realm2")
		p.Realms = []string{"realm1"}
		r := userRequest("alice", "realm1")
		require.NoError(t, c.SetRealm(ctx, newEngine(p), r))
		assert.Equal(t, "realm2", r.Param("realm"))
	})

	t.Run("no match leaves the realm alone", func(t *testing.T) {
		p := activePolicy("rewrite", types.ScopeAuthorization, "setrealm=realm2")
		p.Realms = []string{"realm3"}
		r := userRequest("alice", "realm1")
		require.NoError(t, c.SetRealm(ctx, newEngine(p), r))
		assert.Equal(t, "realm1", r.Param("realm"))
	})

	t.Run("agreeing policies are fine", func(t *testing.T) {
		r := userRequest("alice", "realm1")
		require.NoError(t, c.SetRealm(ctx, newEngine(
			activePolicy("p1", types.ScopeAuthorization, "setrealm=realm2"),
			activePolicy("p2", types.ScopeAuthorization, "setrealm=realm2"),
		), r))
		assert.Equal(t, "realm2", r.Param("realm"))
	})

	t.Run("conflicting targets", func(t *testing.T) {
		err := c.SetRealm(ctx, newEngine(
			activePolicy("p1", types.ScopeAuthorization, "setrealm=realm2"),
			activePolicy("p2", types.ScopeAuthorization, "setrealm=realm3"),
		), userRequest("alice", "realm1"))
		require.Error(t, err)
		assert.Equal(t,
			"I do not know, to which realm I should set the new realm. Conflicting policies exist.",
			err.Error())
		assert.True(t, types.IsConflict(err))
	})
}

func TestCheckBaseAction(t *testing.T) {
	ctx := context.Background()
	c := newChecker(t)

	admin := func() *precondition.Request {
		r := precondition.NewRequest()
		r.Principal = auth.Principal{Username: "root", Realm: "adminrealm", Role: auth.RoleAdmin}
		return r
	}

	t.Run("empty scope allows everything", func(t *testing.T) {
		assert.NoError(t, c.CheckBaseAction(ctx, newEngine(), admin(), "enable"))
	})

	t.Run("matching policy allows", func(t *testing.T) {
		p := activePolicy("admins", types.ScopeAdmin, "enable, disable")
		p.Users = []string{"root"}
		assert.NoError(t, c.CheckBaseAction(ctx, newEngine(p), admin(), "enable"))
	})

	t.Run("unlisted action is denied", func(t *testing.T) {
		p := activePolicy("admins", types.ScopeAdmin, "enable, disable")
		p.Users = []string{"root"}
		err := c.CheckBaseAction(ctx, newEngine(p), admin(), "delete")
		require.Error(t, err)
		assert.Equal(t, "Admin actions are defined, but this action is not allowed!", err.Error())
		assert.True(t, types.IsDenied(err))
	})

	t.Run("unlisted admin is denied", func(t *testing.T) {
		p := activePolicy("admins", types.ScopeAdmin, "enable")
		p.Users = []string{"superroot"}
		err := c.CheckBaseAction(ctx, newEngine(p), admin(), "enable")
		require.Error(t, err)
		assert.Equal(t, "Admin actions are defined, but this action is not allowed!", err.Error())
	})

	t.Run("user role uses the user scope", func(t *testing.T) {
		p := activePolicy("users", types.ScopeUser, "disable")
		r := precondition.NewRequest()
		r.Principal = auth.Principal{Username: "alice", Realm: "realm1", Role: auth.RoleUser}
		assert.NoError(t, c.CheckBaseAction(ctx, newEngine(p), r, "disable"))

		err := c.CheckBaseAction(ctx, newEngine(p), r, "delete")
		require.Error(t, err)
		assert.Equal(t, "User actions are defined, but this action is not allowed!", err.Error())
	})

	t.Run("realm comes from the serial", func(t *testing.T) {
		p := activePolicy("realm2-admins", types.ScopeAdmin, "enable")
		p.Realms = []string{"realm2"}
		e := newEngine(p)

		// SPASS001 lives in realm2, so the policy applies.
		r := admin()
		r.SetParam("serial", "SPASS001")
		assert.NoError(t, c.CheckBaseAction(ctx, e, r, "enable"))

		// OATH0001 lives in realm1 where nothing is allowed.
		r = admin()
		r.SetParam("serial", "OATH0001")
		err := c.CheckBaseAction(ctx, e, r, "enable")
		require.Error(t, err)
		assert.Equal(t, "Admin actions are defined, but this action is not allowed!", err.Error())
	})

	t.Run("wildcard action matches", func(t *testing.T) {
		p := activePolicy("superuser", types.ScopeAdmin, "*")
		p.Users = []string{"root"}
		assert.NoError(t, c.CheckBaseAction(ctx, newEngine(p), admin(), "losttoken"))
	})
}

func TestCheckTokenInit(t *testing.T) {
	ctx := context.Background()
	c := newChecker(t)

	admin := func(tokenType string) *precondition.Request {
		r := precondition.NewRequest()
		r.Principal = auth.Principal{Username: "root", Role: auth.RoleAdmin}
		if tokenType != "" {
			r.SetParam("type", tokenType)
		}
		return r
	}

	t.Run("type defaults to hotp", func(t *testing.T) {
		p := activePolicy("enroll", types.ScopeAdmin, "enrollHOTP")
		assert.NoError(t, c.CheckTokenInit(ctx, newEngine(p), admin("")))
	})

	t.Run("type is uppercased", func(t *testing.T) {
		p := activePolicy("enroll", types.ScopeAdmin, "enrollTOTP")
		assert.NoError(t, c.CheckTokenInit(ctx, newEngine(p), admin("totp")))
	})

	t.Run("unlisted type is denied for admins", func(t *testing.T) {
		p := activePolicy("enroll", types.ScopeAdmin, "enrollTOTP")
		err := c.CheckTokenInit(ctx, newEngine(p), admin(""))
		require.Error(t, err)
		assert.Equal(t,
			"Admin actions are defined, but you are not allowed to enroll this token type!",
			err.Error())
		assert.True(t, types.IsDenied(err))
	})

	t.Run("unlisted type is denied for users", func(t *testing.T) {
		p := activePolicy("enroll", types.ScopeUser, "enrollTOTP")
		r := precondition.NewRequest()
		r.Principal = auth.Principal{Username: "alice", Role: auth.RoleUser}
		r.SetParam("type", "hotp")
		err := c.CheckTokenInit(ctx, newEngine(p), r)
		require.Error(t, err)
		assert.Equal(t,
			"User actions are defined, you are not allowed to enroll this token type!",
			err.Error())
	})

	t.Run("empty scope allows any type", func(t *testing.T) {
		assert.NoError(t, c.CheckTokenInit(ctx, newEngine(), admin("yubikey")))
	})
}

func TestCheckTokenUpload(t *testing.T) {
	ctx := context.Background()
	c := newChecker(t)

	admin := func() *precondition.Request {
		r := precondition.NewRequest()
		r.Principal = auth.Principal{Username: "root", Role: auth.RoleAdmin}
		return r
	}

	t.Run("empty scope allows", func(t *testing.T) {
		assert.NoError(t, c.CheckTokenUpload(ctx, newEngine(), admin()))
	})

	t.Run("importtokens policy allows", func(t *testing.T) {
		p := activePolicy("import", types.ScopeAdmin, "importtokens")
		assert.NoError(t, c.CheckTokenUpload(ctx, newEngine(p), admin()))
	})

	t.Run("other admin policies deny upload", func(t *testing.T) {
		p := activePolicy("admins", types.ScopeAdmin, "enable, disable")
		err := c.CheckTokenUpload(ctx, newEngine(p), admin())
		require.Error(t, err)
		assert.Equal(t,
			"Admin actions are defined, but you are not allowed to upload token files.",
			err.Error())
		assert.True(t, types.IsDenied(err))
	})
}

func TestRequireAPIKey(t *testing.T) {
	ctx := context.Background()
	cfg := auth.Config{Secret: "api-key-test-secret", Validity: time.Hour}
	signer, err := auth.NewSigner(cfg)
	require.NoError(t, err)
	verifier, err := auth.NewVerifier(cfg)
	require.NoError(t, err)
	c := precondition.New(precondition.Config{Verifier: verifier})

	apiKeyPolicy := activePolicy("require-key", types.ScopeAuthorization, "api_key_required")

	t.Run("no policy passes without a key", func(t *testing.T) {
		assert.NoError(t, c.RequireAPIKey(ctx, newEngine(), userRequest("alice", "realm1")))
	})

	t.Run("missing key", func(t *testing.T) {
		err := c.RequireAPIKey(ctx, newEngine(apiKeyPolicy), userRequest("alice", "realm1"))
		require.Error(t, err)
		assert.Equal(t,
			"The policy requires an API key to authenticate, but no key was passed.",
			err.Error())
		assert.True(t, types.IsAuthentication(err))
	})

	t.Run("garbage key", func(t *testing.T) {
		r := userRequest("alice", "realm1")
		r.AuthToken = "not-a-jwt"
		err := c.RequireAPIKey(ctx, newEngine(apiKeyPolicy), r)
		require.Error(t, err)
		assert.Equal(t, "No valid API key was passed.", err.Error())
		assert.True(t, types.IsAuthentication(err))
	})

	t.Run("session token is not an api key", func(t *testing.T) {
		token, err := signer.Issue("root", "adminrealm", auth.RoleAdmin, "password")
		require.NoError(t, err)

		r := userRequest("alice", "realm1")
		r.AuthToken = token
		err = c.RequireAPIKey(ctx, newEngine(apiKeyPolicy), r)
		require.Error(t, err)
		assert.Equal(t, "A correct JWT was passed, but it was no API key.", err.Error())
		assert.True(t, types.IsAuthentication(err))
	})

	t.Run("validate key passes and sets the principal", func(t *testing.T) {
		token, err := signer.Issue("apiclient", "", auth.RoleValidate, "")
		require.NoError(t, err)

		r := userRequest("alice", "realm1")
		r.AuthToken = token
		require.NoError(t, c.RequireAPIKey(ctx, newEngine(apiKeyPolicy), r))
		assert.Equal(t, auth.RoleValidate, r.Principal.Role)
		assert.Equal(t, "apiclient", r.Principal.Username)
	})
}

func TestCheckExternal(t *testing.T) {
	ctx := context.Background()

	t.Run("no hook passes", func(t *testing.T) {
		c := precondition.New(precondition.Config{})
		assert.NoError(t, c.CheckExternal(ctx, newEngine(), precondition.NewRequest(), "init"))
	})

	t.Run("hook sees the action and may mutate", func(t *testing.T) {
		var gotAction string
		c := precondition.New(precondition.Config{
			External: func(ctx context.Context, action string, r *precondition.Request) error {
				gotAction = action
				r.SetParam("hooked", "yes")
				return nil
			},
		})
		r := precondition.NewRequest()
		require.NoError(t, c.CheckExternal(ctx, newEngine(), r, "assign"))
		assert.Equal(t, "assign", gotAction)
		assert.Equal(t, "yes", r.Param("hooked"))
	})

	t.Run("hook error aborts", func(t *testing.T) {
		boom := errors.New("site hook rejected the request")
		c := precondition.New(precondition.Config{
			External: func(ctx context.Context, action string, r *precondition.Request) error {
				return boom
			},
		})
		err := c.CheckExternal(ctx, newEngine(), precondition.NewRequest(), "init")
		assert.ErrorIs(t, err, boom)
	})
}
