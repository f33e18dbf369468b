package audit

import (
	"context"

	"github.com/mfa-engine/policy-core/internal/precondition"
)

// Recorder turns precondition outcomes into audit trail entries. It
// implements precondition.Observer.
type Recorder struct {
	logger Logger
}

// NewRecorder creates a recorder writing to the given logger.
func NewRecorder(logger Logger) *Recorder {
	if logger == nil {
		logger = &noopLogger{}
	}
	return &Recorder{logger: logger}
}

// RuleChecked records one precondition outcome. The rule name becomes the
// event action; denial messages land in the info column.
func (rec *Recorder) RuleChecked(ctx context.Context, rule string, r *precondition.Request, err error) {
	ev := NewDecisionEvent(rule)
	ev.Serial = r.Param("serial")
	ev.TokenType = r.Param("type")
	ev.Client = r.Client

	user, realm := r.TargetUser()
	if user == "" && !r.Principal.IsAdmin() {
		// A self-service request without an explicit user acts on the
		// logged-in user.
		user = r.Principal.Username
		if realm == "" {
			realm = r.Principal.Realm
		}
	}
	ev.User = user
	ev.Realm = realm

	if r.Principal.IsAdmin() {
		ev.Administrator = r.Principal.Username
	}

	if err != nil {
		ev.WithError(err)
	}

	rec.logger.Log(ev)
}
