package policy

import (
	"strings"

	"github.com/mfa-engine/policy-core/pkg/types"
)

// ValueType is the declared type of an action's value
type ValueType string

const (
	TypeBool   ValueType = "bool"
	TypeInt    ValueType = "int"
	TypeString ValueType = "str"
)

// Action groups used by administrative frontends
const (
	GroupTools  = "tools"
	GroupSystem = "system"
)

// ActionDefinition describes one action in the policy schema
type ActionDefinition struct {
	Type ValueType
	Desc string
	// Group is an optional frontend grouping such as "tools" or "system"
	Group string
	// Values is the closed set of allowed values, when the action has one
	Values []string
	// Min and Max bound int actions inclusively. Max 0 means unbounded.
	Min int
	Max int
}

// DefaultTokenTypes are the token types the server ships with. They
// feed the dynamic enrollment actions.
var DefaultTokenTypes = []string{
	"hotp", "totp", "motp", "pw", "spass", "sshkey", "yubikey", "remote", "radius",
}

// EnrollAction returns the dynamic enrollment action name for a token
// type, for example "enrollHOTP".
func EnrollAction(tokenType string) string {
	if tokenType == "" {
		tokenType = "hotp"
	}
	return "enroll" + strings.ToUpper(tokenType)
}

// StaticDefinitions returns the hard coded policy schema for one scope.
// Token type dependent actions are added by DynamicDefinitions.
func StaticDefinitions(scope types.Scope) map[string]ActionDefinition {
	return staticDefinitions()[scope]
}

// Definitions returns the full schema for a scope: the static table
// merged with the dynamic enrollment actions for the default token
// types.
func Definitions(scope types.Scope) map[string]ActionDefinition {
	static := staticDefinitions()[scope]
	dynamic := DynamicDefinitions(DefaultTokenTypes)[scope]
	if len(dynamic) == 0 {
		return static
	}
	merged := make(map[string]ActionDefinition, len(static)+len(dynamic))
	for name, def := range static {
		merged[name] = def
	}
	for name, def := range dynamic {
		merged[name] = def
	}
	return merged
}

// DynamicDefinitions generates the per-token-type enrollment actions
// for the admin and user scopes.
func DynamicDefinitions(tokenTypes []string) map[types.Scope]map[string]ActionDefinition {
	admin := make(map[string]ActionDefinition, len(tokenTypes))
	user := make(map[string]ActionDefinition, len(tokenTypes))
	for _, tokenType := range tokenTypes {
		name := EnrollAction(tokenType)
		upper := strings.ToUpper(tokenType)
		admin[name] = ActionDefinition{
			Type: TypeBool,
			Desc: "Admin is allowed to initialize " + upper + " tokens.",
		}
		user[name] = ActionDefinition{
			Type: TypeBool,
			Desc: "The user is allowed to enroll a " + upper + " token.",
		}
	}
	return map[types.Scope]map[string]ActionDefinition{
		types.ScopeAdmin: admin,
		types.ScopeUser:  user,
	}
}

func staticDefinitions() map[types.Scope]map[string]ActionDefinition {
	return map[types.Scope]map[string]ActionDefinition{
		types.ScopeAdmin: {
			"enable":  {Type: TypeBool, Desc: "Admin is allowed to enable tokens."},
			"disable": {Type: TypeBool, Desc: "Admin is allowed to disable tokens."},
			"set":     {Type: TypeBool, Desc: "Admin is allowed to set token properties."},
			"setpin":  {Type: TypeBool, Desc: "Admin is allowed to set the OTP PIN of tokens."},
			"resync":  {Type: TypeBool, Desc: "Admin is allowed to resync tokens."},
			"reset":   {Type: TypeBool, Desc: "Admin is allowed to reset the Failcounter of a token."},
			"assign":  {Type: TypeBool, Desc: "Admin is allowed to assign a token to a user."},
			"unassign": {
				Type: TypeBool,
				Desc: "Admin is allowed to remove the token from a user, i.e. unassign a token.",
			},
			types.ActionImportTokens: {Type: TypeBool, Desc: "Admin is allowed to import token files."},
			"delete":                 {Type: TypeBool, Desc: "Admin is allowed to remove tokens from the database."},
			"userlist":               {Type: TypeBool, Desc: "Admin is allowed to view the list of the users."},
			"machinelist":            {Type: TypeBool, Desc: "The Admin is allowed to list the machines."},
			"manage_machine_tokens": {
				Type: TypeBool,
				Desc: "The Admin is allowed to attach and detach tokens to machines.",
			},
			"fetch_authentication_items": {
				Type: TypeBool,
				Desc: "The Admin is allowed to fetch authentication items of tokens assigned to machines.",
			},
			"tokenrealms": {Type: TypeBool, Desc: "Admin is allowed to manage the realms of a token."},
			"getserial": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to retrieve a serial for a given OTP value.",
				Group: GroupTools,
			},
			"copytokenpin": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to copy the PIN of one token to another token.",
				Group: GroupTools,
			},
			"copytokenuser": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to copy the assigned user to another token, i.e. assign a user to another token.",
				Group: GroupTools,
			},
			"losttoken": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to trigger the lost token workflow.",
				Group: GroupTools,
			},
			"configwrite": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to write and modify the system configuration.",
				Group: GroupSystem,
			},
			"configdelete": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to delete keys in the system configuration.",
				Group: GroupSystem,
			},
			"policywrite": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to write and modify the policies.",
				Group: GroupSystem,
			},
			"policydelete": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to delete policies.",
				Group: GroupSystem,
			},
			"resolverwrite": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to write and modify the resolver and realm configuration.",
				Group: GroupSystem,
			},
			"resolverdelete": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to delete resolvers and realms.",
				Group: GroupSystem,
			},
			"mresolverwrite": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to write and modify the machine resolvers.",
				Group: GroupSystem,
			},
			"mresolverdelete": {
				Type:  TypeBool,
				Desc:  "Admin is allowed to delete machine resolvers.",
				Group: GroupSystem,
			},
			types.ActionAuditLog: {
				Type:  TypeBool,
				Desc:  "Admin is allowed to view the Audit log.",
				Group: GroupSystem,
			},
		},
		types.ScopeUser: {
			"assign": {
				Type: TypeBool,
				Desc: "The user is allowed to assign an existing token that is not yet assigned using the token serial number.",
			},
			"disable":  {Type: TypeBool, Desc: "The user is allowed to disable his own tokens."},
			"enable":   {Type: TypeBool, Desc: "The user is allowed to enable his own tokens."},
			"delete":   {Type: TypeBool, Desc: "The user is allowed to delete his own tokens."},
			"unassign": {Type: TypeBool, Desc: "The user is allowed to unassign his own tokens."},
			"resync":   {Type: TypeBool, Desc: "The user is allowed to resyncronize his tokens."},
			"reset":    {Type: TypeBool, Desc: "The user is allowed to reset the failcounter of his tokens."},
			"setpin":   {Type: TypeBool, Desc: "The user is allowed to set the OTP PIN of his tokens."},
			types.ActionOTPPinMaxLen: {
				Type: TypeInt,
				Desc: "Set the maximum allowed length of the OTP PIN.",
				Min:  0, Max: 31,
			},
			types.ActionOTPPinMinLen: {
				Type: TypeInt,
				Desc: "Set the minimum required length of the OTP PIN.",
				Min:  0, Max: 31,
			},
			types.ActionOTPPinContents: {
				Type: TypeString,
				Desc: "Specify the required contents of the OTP PIN. (c)haracters, (n)umeric, (s)pecial. [+/-]!",
			},
			types.ActionAuditLog: {Type: TypeBool, Desc: "Allow the user to view his own token history."},
		},
		types.ScopeEnrollment: {
			types.ActionMaxTokenRealm: {
				Type: TypeInt,
				Desc: "Limit the number of allowed tokens in a realm.",
			},
			types.ActionMaxTokenUser: {
				Type: TypeInt,
				Desc: "Limit the number of tokens a user may have assigned.",
			},
			types.ActionOTPPinRandom: {
				Type: TypeInt,
				Desc: "Set a random OTP PIN with this length for a token.",
				Min:  0, Max: 31,
			},
			types.ActionEncryptPin: {
				Type: TypeBool,
				Desc: "The OTP PIN can be hashed or encrypted. Hashing the PIN is the default behaviour.",
			},
			types.ActionTokenLabel: {
				Type: TypeString,
				Desc: "Set label for a new enrolled token. Possible tags are <u> (user), <r> (realm), <s> (serial).",
			},
			types.ActionAutoAssignment: {
				Type: TypeBool,
				Desc: "Users can assign a token just by using the unassigned token to authenticate.",
			},
			"losttoken_PW_length": {
				Type: TypeInt,
				Desc: "The length of the password in case of temporary token (lost token).",
				Min:  1, Max: 31,
			},
			"losttoken_PW_contents": {
				Type: TypeString,
				Desc: "The contents of the temporary password, described by the characters C, c, n, s.",
			},
			"losttoken_valid": {
				Type: TypeInt,
				Desc: "The length of the validity for the temporary token (in days).",
				Min:  1, Max: 60,
			},
		},
		types.ScopeAuthentication: {
			types.ActionOTPPin: {
				Type:   TypeString,
				Values: []string{types.OTPPinValueTokenPin, types.OTPPinValueUserstore, types.OTPPinValueNone},
				Desc:   "Either use the Token PIN, use the Userstore Password or use no fixed password component.",
			},
			types.ActionPassThru: {
				Type: TypeBool,
				Desc: "If set, the user in this realm will be authenticated against the UserIdResolver, if the user has no tokens assigned.",
			},
			types.ActionPassNoToken: {
				Type: TypeBool,
				Desc: "If the user has no token, the authentication request for this user will always be true.",
			},
			types.ActionPassNoUser: {
				Type: TypeBool,
				Desc: "If the user does not exist, the authentication request for this non-existing user will always be true.",
			},
		},
		types.ScopeAuthorization: {
			types.ActionTokenType: {
				Type: TypeString,
				Desc: "The user will only be authenticated with this very tokentype.",
			},
			types.ActionSerial: {
				Type: TypeString,
				Desc: "The user will only be authenticated if the serial number of the token matches this regexp.",
			},
			types.ActionSetRealm: {
				Type: TypeString,
				Desc: "The Realm of the user is set to this very realm. This is important if the user is not contained in the default realm and can not pass his realm.",
			},
			types.ActionNoDetailSuccess: {
				Type: TypeBool,
				Desc: "In case of successful authentication no additional detail information will be returned.",
			},
			types.ActionNoDetailFail: {
				Type: TypeBool,
				Desc: "In case of failed authentication no additional detail information will be returned.",
			},
			types.ActionAPIKeyRequired: {
				Type: TypeBool,
				Desc: "The validate endpoints only accept requests that carry a signed API key.",
			},
		},
		types.ScopeWebUI: {
			types.ActionLoginMode: {
				Type:   TypeString,
				Values: []string{"userstore", "server"},
				Desc:   "If set to \"server\" the users and admins need to authenticate against the server when they log in to the Web UI. Defaults to \"userstore\".",
			},
			types.ActionLogoutTime: {
				Type: TypeInt,
				Desc: "Set the time in seconds after which the user will be logged out from the WebUI. Default: 30",
			},
		},
		types.ScopeGetToken: {
			"max_count_dpw": {
				Type: TypeInt,
				Desc: "When OTP values are retrieved for a DPW token, this is the maximum number of retrievable OTP values.",
			},
			"max_count_hotp": {
				Type: TypeInt,
				Desc: "When OTP values are retrieved for a HOTP token, this is the maximum number of retrievable OTP values.",
			},
			"max_count_totp": {
				Type: TypeInt,
				Desc: "When OTP values are retrieved for a TOTP token, this is the maximum number of retrievable OTP values.",
			},
		},
		types.ScopeAudit: {
			types.ActionAuditLog: {
				Type: TypeBool,
				Desc: "The user or admin is allowed to download the audit log.",
			},
		},
	}
}
