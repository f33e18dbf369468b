package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/mfa-engine/policy-core/pkg/types"
)

func testPolicies() []types.Policy {
	return []types.Policy{
		{
			Name:    "admin-all",
			Scope:   types.ScopeAdmin,
			Actions: types.ParseActions("enable, disable, delete"),
			Active:  true,
		},
		{
			Name:    "enroll-realm1",
			Scope:   types.ScopeEnrollment,
			Actions: types.ParseActions("otp_pin_random=6, encrypt_pin"),
			Realms:  []string{"realm1"},
			Active:  true,
		},
		{
			Name:    "auth-users",
			Scope:   types.ScopeAuthentication,
			Actions: types.ParseActions("otppin=userstore"),
			Users:   []string{"*", "-admin"},
			Active:  true,
		},
		{
			Name:    "disabled",
			Scope:   types.ScopeAdmin,
			Actions: types.ParseActions("enable"),
			Active:  false,
		},
	}
}

func newTestEngine(policies []types.Policy) *Engine {
	return New(policies, Config{})
}

func names(policies []types.Policy) []string {
	out := make([]string, 0, len(policies))
	for _, p := range policies {
		out = append(out, p.Name)
	}
	return out
}

func TestEngine_GetPolicies_ZeroFilter(t *testing.T) {
	e := newTestEngine(testPolicies())

	got, err := e.GetPolicies(Filter{})
	if err != nil {
		t.Fatalf("GetPolicies failed: %v", err)
	}

	want := []string{"admin-all", "enroll-realm1", "auth-users", "disabled"}
	if !reflect.DeepEqual(names(got), want) {
		t.Errorf("got %v, want %v (insertion order)", names(got), want)
	}
}

func TestEngine_GetPolicies_ExactDimensions(t *testing.T) {
	e := newTestEngine(testPolicies())

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{
			name:   "by name",
			filter: Filter{Name: "auth-users"},
			want:   []string{"auth-users"},
		},
		{
			name:   "by scope",
			filter: Filter{Scope: types.ScopeAdmin},
			want:   []string{"admin-all", "disabled"},
		},
		{
			name:   "active only",
			filter: Filter{Scope: types.ScopeAdmin, Active: Bool(true)},
			want:   []string{"admin-all"},
		},
		{
			name:   "inactive only",
			filter: Filter{Active: Bool(false)},
			want:   []string{"disabled"},
		},
		{
			name:   "unknown name",
			filter: Filter{Name: "missing"},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.GetPolicies(tt.filter)
			if err != nil {
				t.Fatalf("GetPolicies failed: %v", err)
			}
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(names(got), tt.want) {
				t.Errorf("got %v, want %v", names(got), tt.want)
			}
		})
	}
}

func TestEngine_GetPolicies_UserList(t *testing.T) {
	policies := []types.Policy{
		{Name: "open", Scope: types.ScopeUser, Active: true},
		{Name: "wildcard-not-admin", Scope: types.ScopeUser, Users: []string{"*", "-admin"}, Active: true},
		{Name: "alice-only", Scope: types.ScopeUser, Users: []string{"alice"}, Active: true},
		{Name: "bang-exclusion", Scope: types.ScopeUser, Users: []string{"alice", "!bob"}, Active: true},
	}
	e := newTestEngine(policies)

	tests := []struct {
		name string
		user string
		want []string
	}{
		{
			name: "plain user matches wildcard and literal",
			user: "alice",
			want: []string{"open", "wildcard-not-admin", "alice-only", "bang-exclusion"},
		},
		{
			name: "excluded by dash entry",
			user: "admin",
			want: []string{"open"},
		},
		{
			name: "excluded by bang entry",
			user: "bob",
			want: []string{"open", "wildcard-not-admin"},
		},
		{
			name: "unlisted user matches only empty and wildcard lists",
			user: "carol",
			want: []string{"open", "wildcard-not-admin"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.GetPolicies(Filter{User: tt.user})
			if err != nil {
				t.Fatalf("GetPolicies failed: %v", err)
			}
			if !reflect.DeepEqual(names(got), tt.want) {
				t.Errorf("user %q: got %v, want %v", tt.user, names(got), tt.want)
			}
		})
	}
}

func TestEngine_GetPolicies_ExclusionBeatsWildcard(t *testing.T) {
	// An exclusion entry vetoes even when a literal or wildcard entry
	// matches the same value.
	policies := []types.Policy{
		{Name: "contradiction", Users: []string{"alice", "-alice", "*"}, Active: true},
	}
	e := newTestEngine(policies)

	got, err := e.GetPolicies(Filter{User: "alice"})
	if err != nil {
		t.Fatalf("GetPolicies failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected exclusion to veto, got %v", names(got))
	}
}

func TestEngine_GetPolicies_RealmAndResolver(t *testing.T) {
	policies := []types.Policy{
		{Name: "any-realm", Active: true},
		{Name: "realm1", Realms: []string{"realm1"}, Active: true},
		{Name: "resolver-ldap", Resolvers: []string{"ldap1", "-ldap2"}, Active: true},
	}
	e := newTestEngine(policies)

	got, err := e.GetPolicies(Filter{Realm: "realm1", Resolver: "ldap1"})
	if err != nil {
		t.Fatalf("GetPolicies failed: %v", err)
	}
	want := []string{"any-realm", "realm1", "resolver-ldap"}
	if !reflect.DeepEqual(names(got), want) {
		t.Errorf("got %v, want %v", names(got), want)
	}

	got, err = e.GetPolicies(Filter{Resolver: "ldap2"})
	if err != nil {
		t.Fatalf("GetPolicies failed: %v", err)
	}
	want = []string{"any-realm", "realm1"}
	if !reflect.DeepEqual(names(got), want) {
		t.Errorf("excluded resolver: got %v, want %v", names(got), want)
	}
}

func TestEngine_GetPolicies_ActionDimension(t *testing.T) {
	policies := []types.Policy{
		{Name: "no-actions", Active: true},
		{Name: "flag", Actions: types.ParseActions("enable"), Active: true},
		{Name: "valued", Actions: types.ParseActions("otppin=userstore"), Active: true},
		{Name: "wildcard", Actions: types.ParseActions("*"), Active: true},
	}
	e := newTestEngine(policies)

	tests := []struct {
		name   string
		action string
		want   []string
	}{
		{"flag action", "enable", []string{"no-actions", "flag", "wildcard"}},
		{"valued action", "otppin", []string{"no-actions", "valued", "wildcard"}},
		{"unknown action", "resync", []string{"no-actions", "wildcard"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.GetPolicies(Filter{Action: tt.action})
			if err != nil {
				t.Fatalf("GetPolicies failed: %v", err)
			}
			if !reflect.DeepEqual(names(got), tt.want) {
				t.Errorf("action %q: got %v, want %v", tt.action, names(got), tt.want)
			}
		})
	}
}

func TestEngine_GetPolicies_Client(t *testing.T) {
	policies := []types.Policy{
		{Name: "any-client", Active: true},
		{Name: "lan", Clients: []string{"10.0.0.0/8", "!10.0.0.1"}, Active: true},
		{Name: "single-host", Clients: []string{"192.168.1.5"}, Active: true},
	}
	e := newTestEngine(policies)

	tests := []struct {
		name   string
		client string
		want   []string
	}{
		{
			name:   "inside network",
			client: "10.0.0.2",
			want:   []string{"any-client", "lan"},
		},
		{
			name:   "excluded host",
			client: "10.0.0.1",
			want:   []string{"any-client"},
		},
		{
			name:   "bare entry is a host network",
			client: "192.168.1.5",
			want:   []string{"any-client", "single-host"},
		},
		{
			name:   "outside every network",
			client: "172.16.0.1",
			want:   []string{"any-client"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.GetPolicies(Filter{Client: tt.client})
			if err != nil {
				t.Fatalf("GetPolicies failed: %v", err)
			}
			if !reflect.DeepEqual(names(got), tt.want) {
				t.Errorf("client %q: got %v, want %v", tt.client, names(got), tt.want)
			}
		})
	}
}

func TestEngine_GetPolicies_ClientInvalidFilter(t *testing.T) {
	e := newTestEngine(testPolicies())

	_, err := e.GetPolicies(Filter{Client: "not-an-ip"})
	if err == nil {
		t.Fatal("expected error for invalid client address")
	}
	if !types.IsParameter(err) {
		t.Errorf("expected KindParameter, got %v", types.KindOf(err))
	}
}

func TestEngine_GetPolicies_ClientBadEntrySkipped(t *testing.T) {
	policies := []types.Policy{
		{Name: "broken-entry", Clients: []string{"garbage", "10.0.0.0/8"}, Active: true},
	}
	e := newTestEngine(policies)

	got, err := e.GetPolicies(Filter{Client: "10.1.2.3"})
	if err != nil {
		t.Fatalf("GetPolicies failed: %v", err)
	}
	if !reflect.DeepEqual(names(got), []string{"broken-entry"}) {
		t.Errorf("expected the parseable entry to still match, got %v", names(got))
	}
}

func TestEngine_GetPolicies_Intersection(t *testing.T) {
	policies := []types.Policy{
		{
			Name:    "narrow",
			Scope:   types.ScopeAuthorization,
			Actions: types.ParseActions("setrealm=realm2"),
			Realms:  []string{"realm1"},
			Clients: []string{"10.0.0.0/8"},
			Active:  true,
		},
		{
			Name:    "wrong-realm",
			Scope:   types.ScopeAuthorization,
			Actions: types.ParseActions("setrealm=realm3"),
			Realms:  []string{"realm9"},
			Active:  true,
		},
	}
	e := newTestEngine(policies)

	got, err := e.GetPolicies(Filter{
		Scope:  types.ScopeAuthorization,
		Action: "setrealm",
		Realm:  "realm1",
		Client: "10.0.0.7",
		Active: Bool(true),
	})
	if err != nil {
		t.Fatalf("GetPolicies failed: %v", err)
	}
	if !reflect.DeepEqual(names(got), []string{"narrow"}) {
		t.Errorf("got %v, want [narrow]", names(got))
	}
}

func TestEngine_SnapshotIsolation(t *testing.T) {
	input := testPolicies()
	e := New(input, Config{})

	// Mutating the caller's slice after construction must not reach
	// the snapshot.
	input[0].Name = "mutated"
	got, err := e.GetPolicies(Filter{Scope: types.ScopeAdmin, Active: Bool(true)})
	if err != nil {
		t.Fatalf("GetPolicies failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "admin-all" {
		t.Errorf("snapshot shares memory with caller input: %v", names(got))
	}

	// Mutating returned policies must not reach the snapshot either.
	got[0].Actions["injected"] = types.ActionValue{Flag: true}
	again, err := e.GetPolicies(Filter{Name: "admin-all"})
	if err != nil {
		t.Fatalf("GetPolicies failed: %v", err)
	}
	if again[0].Actions.Has("injected") {
		t.Error("returned policy shares the action map with the snapshot")
	}
}

func TestEngine_GetActionValues(t *testing.T) {
	policies := []types.Policy{
		{
			Name:    "pin6",
			Scope:   types.ScopeEnrollment,
			Actions: types.ParseActions("otp_pin_random=6"),
			Active:  true,
		},
		{
			Name:    "label",
			Scope:   types.ScopeEnrollment,
			Actions: types.ParseActions("tokenlabel='<u> of <r>'"),
			Active:  true,
		},
		{
			Name:    "types",
			Scope:   types.ScopeAuthorization,
			Actions: types.ParseActions("tokentype=hotp totp"),
			Active:  true,
		},
		{
			Name:    "inactive",
			Scope:   types.ScopeEnrollment,
			Actions: types.ParseActions("otp_pin_random=99"),
			Active:  false,
		},
	}
	e := newTestEngine(policies)

	t.Run("single value", func(t *testing.T) {
		got, err := e.GetActionValues("otp_pin_random", types.ScopeEnrollment, Filter{}, true)
		if err != nil {
			t.Fatalf("GetActionValues failed: %v", err)
		}
		if !reflect.DeepEqual(got, []string{"6"}) {
			t.Errorf("got %v, want [6]", got)
		}
	})

	t.Run("quoted value stays one token", func(t *testing.T) {
		got, err := e.GetActionValues("tokenlabel", types.ScopeEnrollment, Filter{}, true)
		if err != nil {
			t.Fatalf("GetActionValues failed: %v", err)
		}
		if !reflect.DeepEqual(got, []string{"<u> of <r>"}) {
			t.Errorf("got %v, want [<u> of <r>]", got)
		}
	})

	t.Run("unquoted value splits on whitespace", func(t *testing.T) {
		got, err := e.GetActionValues("tokentype", types.ScopeAuthorization, Filter{}, false)
		if err != nil {
			t.Fatalf("GetActionValues failed: %v", err)
		}
		if !reflect.DeepEqual(got, []string{"hotp", "totp"}) {
			t.Errorf("got %v, want [hotp totp]", got)
		}
	})

	t.Run("inactive policies are invisible", func(t *testing.T) {
		got, err := e.GetActionValues("otp_pin_random", types.ScopeEnrollment, Filter{}, false)
		if err != nil {
			t.Fatalf("GetActionValues failed: %v", err)
		}
		if !reflect.DeepEqual(got, []string{"6"}) {
			t.Errorf("got %v, want [6]", got)
		}
	})
}

func TestEngine_GetActionValues_UniqueConflict(t *testing.T) {
	policies := []types.Policy{
		{Name: "a", Scope: types.ScopeAuthorization, Actions: types.ParseActions("setrealm=realm1"), Active: true},
		{Name: "b", Scope: types.ScopeAuthorization, Actions: types.ParseActions("setrealm=realm2"), Active: true},
	}
	e := newTestEngine(policies)

	_, err := e.GetActionValues("setrealm", types.ScopeAuthorization, Filter{}, true)
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !types.IsConflict(err) {
		t.Errorf("expected KindConflict, got %v", types.KindOf(err))
	}
	want := "There are conflicting setrealm definitions!"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}
}

func TestEngine_GetActionValues_UniqueSameValue(t *testing.T) {
	policies := []types.Policy{
		{Name: "a", Scope: types.ScopeAuthorization, Actions: types.ParseActions("setrealm=realm1"), Active: true},
		{Name: "b", Scope: types.ScopeAuthorization, Actions: types.ParseActions("setrealm=realm1"), Active: true},
	}
	e := newTestEngine(policies)

	got, err := e.GetActionValues("setrealm", types.ScopeAuthorization, Filter{}, true)
	if err != nil {
		t.Fatalf("GetActionValues failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"realm1"}) {
		t.Errorf("got %v, want [realm1]", got)
	}
}

func TestEngine_GetActionValues_NonUniqueKeepsDuplicates(t *testing.T) {
	policies := []types.Policy{
		{Name: "a", Scope: types.ScopeEnrollment, Actions: types.ParseActions("max_token_per_user=5"), Active: true},
		{Name: "b", Scope: types.ScopeEnrollment, Actions: types.ParseActions("max_token_per_user=5"), Active: true},
		{Name: "c", Scope: types.ScopeEnrollment, Actions: types.ParseActions("max_token_per_user=10"), Active: true},
	}
	e := newTestEngine(policies)

	got, err := e.GetActionValues("max_token_per_user", types.ScopeEnrollment, Filter{}, false)
	if err != nil {
		t.Fatalf("GetActionValues failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"5", "5", "10"}) {
		t.Errorf("got %v, want [5 5 10]", got)
	}
}

func TestEngine_GetActionValues_FilterDimensions(t *testing.T) {
	policies := []types.Policy{
		{Name: "r1", Scope: types.ScopeEnrollment, Actions: types.ParseActions("otp_pin_random=4"), Realms: []string{"realm1"}, Active: true},
		{Name: "r2", Scope: types.ScopeEnrollment, Actions: types.ParseActions("otp_pin_random=8"), Realms: []string{"realm2"}, Active: true},
	}
	e := newTestEngine(policies)

	got, err := e.GetActionValues("otp_pin_random", types.ScopeEnrollment, Filter{Realm: "realm2"}, true)
	if err != nil {
		t.Fatalf("GetActionValues failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"8"}) {
		t.Errorf("got %v, want [8]", got)
	}
}

type stubSource struct {
	policies []types.Policy
	err      error
}

func (s *stubSource) All(ctx context.Context) ([]types.Policy, error) {
	return s.policies, s.err
}

func TestNewFromSource(t *testing.T) {
	src := &stubSource{policies: testPolicies()}

	e, err := NewFromSource(context.Background(), src, Config{})
	if err != nil {
		t.Fatalf("NewFromSource failed: %v", err)
	}
	if e.Size() != 4 {
		t.Errorf("Size = %d, want 4", e.Size())
	}
}

func TestNewFromSource_Error(t *testing.T) {
	src := &stubSource{err: errors.New("db down")}

	_, err := NewFromSource(context.Background(), src, Config{})
	if err == nil {
		t.Fatal("expected error from failing source")
	}
}
