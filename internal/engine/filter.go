package engine

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/mfa-engine/policy-core/pkg/types"
)

// Filter narrows a policy query. An empty string means no constraint
// on that dimension, never "match the empty value"; Active follows the
// same rule with nil.
type Filter struct {
	Name     string
	Scope    types.Scope
	Realm    string
	Resolver string
	User     string
	Action   string
	// Client is the requesting IP address, matched against the CIDR
	// entries of each policy's client list.
	Client string
	Active *bool
}

// clientAddr parses the client filter. An unparseable non-empty client
// is a KindParameter error.
func (f Filter) clientAddr() (netip.Addr, bool, error) {
	if f.Client == "" {
		return netip.Addr{}, false, nil
	}
	addr, err := netip.ParseAddr(f.Client)
	if err != nil {
		return netip.Addr{}, false, types.WrapParameter(err, "invalid client address %q", f.Client)
	}
	return addr, true, nil
}

// matchList implements the list dimension semantics: an empty list
// matches every value; otherwise the value (or "*") must appear as a
// positive entry and no "!value" or "-value" entry may veto it.
func matchList(entries []string, value string) bool {
	if len(entries) == 0 {
		return true
	}
	found := false
	for _, entry := range entries {
		if entry == "" {
			continue
		}
		if bare, negated := types.Negated(entry); negated {
			if bare == value {
				return false
			}
			continue
		}
		if entry == value || entry == "*" {
			found = true
		}
	}
	return found
}

// matchActions applies the list semantics to the keys of an action map
func matchActions(actions types.Actions, value string) bool {
	if len(actions) == 0 {
		return true
	}
	found := false
	for name := range actions {
		if name == "" {
			continue
		}
		if bare, negated := types.Negated(name); negated {
			if bare == value {
				return false
			}
			continue
		}
		if name == value || name == "*" {
			found = true
		}
	}
	return found
}

// matchClient implements the client dimension: an empty list matches
// any address; otherwise the address must fall inside at least one
// positive network and inside no negated one. Entries that fail to
// parse are skipped; the validator rejects them when policies are
// written.
func (e *Engine) matchClient(p *types.Policy, client netip.Addr) bool {
	if len(p.Clients) == 0 {
		return true
	}
	found := false
	for _, entry := range p.Clients {
		if entry == "" {
			continue
		}
		spec, negated := types.Negated(entry)

		network, err := types.ParseNetwork(spec)
		if err != nil {
			e.logger.Warn("skipping unparseable client entry",
				zap.String("policy", p.Name),
				zap.String("entry", entry),
				zap.Error(err))
			continue
		}

		if network.Contains(client) {
			if negated {
				return false
			}
			found = true
		}
	}
	return found
}
