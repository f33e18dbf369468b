// Package precondition implements the checks that run before an API
// call is allowed to proceed. Each rule inspects the request against a
// policy snapshot and either passes, rewrites request parameters, or
// denies the call.
package precondition

import (
	"github.com/mfa-engine/policy-core/internal/auth"
)

// Request carries everything the rules need about one API call. Params
// is the mutable parameter bag; rules read the target user, realm,
// serial, token type and PIN from it and some rules write derived
// parameters back.
type Request struct {
	Params map[string]string
	// Client is the requesting IP address.
	Client string
	// AuthToken is the raw bearer token from the Authorization header,
	// empty when none was sent.
	AuthToken string
	// Principal is the authenticated caller. Zero on unauthenticated
	// endpoints; RequireAPIKey fills it in when an API key verifies.
	Principal auth.Principal
}

// NewRequest returns a Request with an empty parameter bag
func NewRequest() *Request {
	return &Request{Params: map[string]string{}}
}

// Param returns the named parameter, empty when absent
func (r *Request) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// SetParam stores a parameter, allocating the bag if needed
func (r *Request) SetParam(name, value string) {
	if r.Params == nil {
		r.Params = map[string]string{}
	}
	r.Params[name] = value
}

// DeleteParam removes a parameter
func (r *Request) DeleteParam(name string) {
	delete(r.Params, name)
}

// TargetUser returns the user the request acts on, taken from the
// "user" and "realm" parameters. This is the subject of the call, not
// the authenticated caller.
func (r *Request) TargetUser() (username, realm string) {
	return r.Param("user"), r.Param("realm")
}

// PIN returns the PIN carried by the request. The "otppin" parameter
// wins over "pin".
func (r *Request) PIN() string {
	if pin := r.Param("otppin"); pin != "" {
		return pin
	}
	return r.Param("pin")
}
