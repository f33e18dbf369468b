package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies entries in the audit trail.
type EventType string

const (
	// EventTypeDecision records the outcome of a single precondition check.
	EventTypeDecision EventType = "decision"

	// EventTypeChange records a modification of the stored policy set.
	EventTypeChange EventType = "policy_change"

	// EventTypeStartup and EventTypeShutdown bracket a file-backed trail so
	// that gaps between process runs stay visible.
	EventTypeStartup  EventType = "audit_started"
	EventTypeShutdown EventType = "audit_stopped"
)

// Actions recorded on policy change events.
const (
	ActionSetPolicy      = "set_policy"
	ActionDeletePolicy   = "delete_policy"
	ActionEnablePolicy   = "enable_policy"
	ActionDisablePolicy  = "disable_policy"
	ActionImportPolicies = "import_policies"
)

// Event is one entry in the audit trail. Decision events carry the checked
// rule and the affected user; change events carry the acting administrator
// and the touched policy names. Hash and PrevHash link consecutive events
// into a tamper-evident chain.
type Event struct {
	ID            uuid.UUID `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Type          EventType `json:"type"`
	Action        string    `json:"action"`
	Success       bool      `json:"success"`
	Serial        string    `json:"serial,omitempty"`
	TokenType     string    `json:"token_type,omitempty"`
	User          string    `json:"user,omitempty"`
	Realm         string    `json:"realm,omitempty"`
	Administrator string    `json:"administrator,omitempty"`
	Info          string    `json:"info,omitempty"`
	Client        string    `json:"client,omitempty"`
	Policies      []string  `json:"policies,omitempty"`
	Hash          string    `json:"hash,omitempty"`
	PrevHash      string    `json:"prev_hash,omitempty"`
}

// Filter narrows audit trail queries. Zero values leave a dimension
// unconstrained.
type Filter struct {
	Types     []string
	Action    string
	User      string
	Realm     string
	Success   *bool // nil = all, true = successes only, false = failures only
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// NewEvent creates an event with a fresh ID and timestamp. Success defaults
// to true; use WithError for failures.
func NewEvent(typ EventType, action string) *Event {
	return &Event{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Action:    action,
		Success:   true,
	}
}

// NewDecisionEvent creates an event recording a precondition outcome.
func NewDecisionEvent(action string) *Event {
	return NewEvent(EventTypeDecision, action)
}

// NewChangeEvent creates an event recording a policy set modification.
func NewChangeEvent(action string, policies ...string) *Event {
	ev := NewEvent(EventTypeChange, action)
	ev.Policies = policies
	return ev
}

// WithUser sets the affected user and realm.
func (e *Event) WithUser(user, realm string) *Event {
	e.User = user
	e.Realm = realm
	return e
}

// WithAdministrator sets the acting administrator.
func (e *Event) WithAdministrator(admin string) *Event {
	e.Administrator = admin
	return e
}

// WithSerial sets the token serial the event refers to.
func (e *Event) WithSerial(serial string) *Event {
	e.Serial = serial
	return e
}

// WithTokenType sets the token type the event refers to.
func (e *Event) WithTokenType(tokenType string) *Event {
	e.TokenType = tokenType
	return e
}

// WithClient sets the client address the request came from.
func (e *Event) WithClient(client string) *Event {
	e.Client = client
	return e
}

// WithInfo sets free-form detail text.
func (e *Event) WithInfo(info string) *Event {
	e.Info = info
	return e
}

// WithPolicies sets the policy names involved in the event.
func (e *Event) WithPolicies(policies ...string) *Event {
	e.Policies = policies
	return e
}

// WithError marks the event as failed and records the error text.
func (e *Event) WithError(err error) *Event {
	e.Success = false
	if err != nil {
		e.Info = err.Error()
	}
	return e
}
