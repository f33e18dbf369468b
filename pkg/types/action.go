package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action names used by the evaluation core. The full set of actions,
// including descriptions and value types, lives in the policy schema;
// these constants cover the actions the engine itself consults.
const (
	ActionMaxTokenRealm   = "max_token_per_realm"
	ActionMaxTokenUser    = "max_token_per_user"
	ActionOTPPinRandom    = "otp_pin_random"
	ActionOTPPinMaxLen    = "otp_pin_maxlength"
	ActionOTPPinMinLen    = "otp_pin_minlength"
	ActionOTPPinContents  = "otp_pin_contents"
	ActionEncryptPin      = "encrypt_pin"
	ActionTokenLabel      = "tokenlabel"
	ActionSetRealm        = "setrealm"
	ActionAPIKeyRequired  = "api_key_required"
	ActionImportTokens    = "importtokens"
	ActionOTPPin          = "otppin"
	ActionTokenType       = "tokentype"
	ActionSerial          = "serial"
	ActionNoDetailSuccess = "no_detail_on_success"
	ActionNoDetailFail    = "no_detail_on_fail"
	ActionPassThru        = "passthru"
	ActionPassNoToken     = "passOnNoToken"
	ActionPassNoUser      = "passOnNoUser"
	ActionLoginMode       = "login_mode"
	ActionLogoutTime      = "logout_time"
	ActionAuditLog        = "auditlog"
	ActionAutoAssignment  = "autoassignment"
)

// Values the otppin authentication action may take.
const (
	OTPPinValueTokenPin  = "tokenpin"
	OTPPinValueUserstore = "userstore"
	OTPPinValueNone      = "none"
)

// ActionValue is the configured value of one action inside a policy.
// A bare action name ("enable") is a boolean flag; "otppin=userstore"
// carries a value.
type ActionValue struct {
	Flag  bool
	Value string
}

// Tokens returns the individual values this entry contributes when
// action values are collected. A value wrapped in a pair of single
// quotes is one literal token with its whitespace preserved; any other
// value is split on whitespace. Flags contribute nothing.
func (v ActionValue) Tokens() []string {
	if v.Flag {
		return nil
	}
	s := v.Value
	if len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		return []string{s[1 : len(s)-1]}
	}
	return strings.Fields(s)
}

// Actions maps action names to their configured values.
type Actions map[string]ActionValue

// ParseActions parses the wire form of an action list, for example
// "enable, otppin=userstore". Entries are comma separated; an entry
// without "=" becomes a flag. Later duplicates overwrite earlier ones.
func ParseActions(s string) Actions {
	a := Actions{}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if name, value, found := strings.Cut(entry, "="); found {
			a[strings.TrimSpace(name)] = ActionValue{Value: strings.TrimSpace(value)}
		} else {
			a[entry] = ActionValue{Flag: true}
		}
	}
	return a
}

// String renders the wire form. Entries are sorted by action name so
// the output is deterministic.
func (a Actions) String() string {
	entries := make([]string, 0, len(a))
	for _, name := range a.Names() {
		v := a[name]
		if v.Flag {
			entries = append(entries, name)
		} else {
			entries = append(entries, name+"="+v.Value)
		}
	}
	return strings.Join(entries, ", ")
}

// Names returns the action names in sorted order
func (a Actions) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether the action is configured, as flag or with a value
func (a Actions) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Get returns the configured value for the action
func (a Actions) Get(name string) (ActionValue, bool) {
	v, ok := a[name]
	return v, ok
}

// Clone returns a copy of the action map
func (a Actions) Clone() Actions {
	if a == nil {
		return nil
	}
	c := make(Actions, len(a))
	for name, v := range a {
		c[name] = v
	}
	return c
}

// MarshalJSON renders actions as an object mapping names to either
// true (flags) or their string value.
func (a Actions) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(a))
	for name, v := range a {
		if v.Flag {
			obj[name] = true
		} else {
			obj[name] = v.Value
		}
	}
	return json.Marshal(obj)
}

// UnmarshalJSON accepts the object form produced by MarshalJSON as
// well as bare strings in the wire form.
func (a *Actions) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*a = ParseActions(s)
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("parse actions: %w", err)
	}
	parsed := make(Actions, len(obj))
	for name, raw := range obj {
		switch v := raw.(type) {
		case bool:
			if v {
				parsed[name] = ActionValue{Flag: true}
			}
		case string:
			parsed[name] = ActionValue{Value: v}
		case float64:
			parsed[name] = ActionValue{Value: strconv.FormatFloat(v, 'f', -1, 64)}
		default:
			return fmt.Errorf("parse actions: unsupported value for %q", name)
		}
	}
	*a = parsed
	return nil
}

// MarshalYAML renders actions in the wire form string
func (a Actions) MarshalYAML() (any, error) {
	return a.String(), nil
}

// UnmarshalYAML accepts the wire form string
func (a *Actions) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("parse actions: expected a string in the form \"name, name=value\": %w", err)
	}
	*a = ParseActions(s)
	return nil
}
