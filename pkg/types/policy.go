// Package types provides shared types for the policy evaluation core
package types

import "strings"

// Scope identifies the area of the server a policy applies to
type Scope string

const (
	// ScopeAdmin covers actions performed by administrators
	ScopeAdmin Scope = "admin"
	// ScopeUser covers actions performed by users on their own tokens
	ScopeUser Scope = "user"
	// ScopeAuthentication covers the authentication request path
	ScopeAuthentication Scope = "authentication"
	// ScopeAuthorization covers post-authentication authorization checks
	ScopeAuthorization Scope = "authorization"
	// ScopeEnrollment covers token enrollment
	ScopeEnrollment Scope = "enrollment"
	// ScopeAudit covers access to the audit log
	ScopeAudit Scope = "audit"
	// ScopeGetToken covers retrieval of OTP values from tokens
	ScopeGetToken Scope = "gettoken"
	// ScopeWebUI covers behavior of the web login frontend
	ScopeWebUI Scope = "webui"
)

// Scopes returns all defined scopes in a stable order
func Scopes() []Scope {
	return []Scope{
		ScopeAdmin,
		ScopeUser,
		ScopeAuthentication,
		ScopeAuthorization,
		ScopeEnrollment,
		ScopeAudit,
		ScopeGetToken,
		ScopeWebUI,
	}
}

// Valid reports whether s is a defined scope
func (s Scope) Valid() bool {
	for _, known := range Scopes() {
		if s == known {
			return true
		}
	}
	return false
}

// Policy is a named rule controlling what admins, users and
// unauthenticated endpoints may do.
//
// Realms, Resolvers, Users and Clients are match dimensions: an empty
// list matches everything, "*" matches any value, and entries prefixed
// with "!" or "-" exclude the named value even when another entry
// matches it. Clients hold IP addresses or CIDR networks instead of
// literal names.
type Policy struct {
	Name      string   `json:"name" yaml:"name"`
	Scope     Scope    `json:"scope" yaml:"scope"`
	Actions   Actions  `json:"action" yaml:"action"`
	Realms    []string `json:"realm,omitempty" yaml:"realm,omitempty"`
	Resolvers []string `json:"resolver,omitempty" yaml:"resolver,omitempty"`
	Users     []string `json:"user,omitempty" yaml:"user,omitempty"`
	Clients   []string `json:"client,omitempty" yaml:"client,omitempty"`
	Active    bool     `json:"active" yaml:"active"`
	// Time is a validity window in the legacy textual form. It is stored
	// and round-tripped but never evaluated during matching.
	Time string `json:"time,omitempty" yaml:"time,omitempty"`
}

// Clone returns a deep copy of the policy
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	c := *p
	c.Actions = p.Actions.Clone()
	c.Realms = cloneList(p.Realms)
	c.Resolvers = cloneList(p.Resolvers)
	c.Users = cloneList(p.Users)
	c.Clients = cloneList(p.Clients)
	return &c
}

func cloneList(values []string) []string {
	if values == nil {
		return nil
	}
	c := make([]string, len(values))
	copy(c, values)
	return c
}

// JoinList renders a list dimension in its wire form: entries joined
// with ", ".
func JoinList(values []string) string {
	return strings.Join(values, ", ")
}

// SplitList parses the wire form of a list dimension. Entries are
// separated by commas, surrounding whitespace is trimmed and empty
// entries are dropped.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if v := strings.TrimSpace(part); v != "" {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil
	}
	return values
}
