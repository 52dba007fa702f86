package audit

import "time"

// Action identifies the kind of security-relevant transition being recorded.
type Action string

const (
	ActionLogin             Action = "LOGIN"
	ActionLogout            Action = "LOGOUT"
	ActionLoginFailed       Action = "LOGIN_FAILED"
	ActionRegister          Action = "REGISTER"
	ActionPasswordChanged   Action = "PASSWORD_CHANGED"
	ActionSecurityEvent     Action = "SECURITY_EVENT"
	ActionRateLimitExceeded Action = "RATE_LIMIT_EXCEEDED"
)

// Outcome classifies how the recorded operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeWarning Outcome = "WARNING"
)

// Event is an immutable record of a security-relevant action. Events are
// never mutated after Record; they are removed only by the retention sweep.
type Event struct {
	ID          string    `json:"id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Action      Action    `json:"action"`
	IdentityID  string    `json:"identity_id,omitempty"`
	Identity    string    `json:"identity,omitempty"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	Description string    `json:"description"`
	IP          string    `json:"ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	ErrorDetail string    `json:"error_detail,omitempty"`
}
