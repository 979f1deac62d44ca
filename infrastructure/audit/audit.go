// Package audit emits structured audit records for every auditable action.
// Each record is a single JSON object; passwords, tokens, API keys, and raw
// payload bodies never appear in it.
package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/xbcsmith/xzepr/infrastructure/logging"
)

// Outcome is one of the five outcome classes.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeFailure     Outcome = "failure"
	OutcomeDenied      Outcome = "denied"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeError       Outcome = "error"
)

// Account and administrative action names, complementing the resource action
// strings used by the authorizer.
const (
	ActionLogin                = "login"
	ActionLogout               = "logout"
	ActionTokenRefresh         = "token_refresh"
	ActionTokenValidation      = "token_validation"
	ActionUserCreate           = "user_create"
	ActionUserUpdate           = "user_update"
	ActionUserDelete           = "user_delete"
	ActionRoleAssign           = "role_assign"
	ActionRoleRemove           = "role_remove"
	ActionOIDCAuth             = "oidc_auth"
	ActionOIDCCallback         = "oidc_callback"
	ActionConfigChange         = "config_change"
	ActionSecurityPolicyChange = "security_policy_change"
)

// Entry is one auditable action.
type Entry struct {
	UserID       string
	Action       string
	Resource     string
	Outcome      Outcome
	IPAddress    string
	UserAgent    string
	SessionID    string
	RequestID    string
	ErrorMessage string
	Duration     time.Duration
	Metadata     map[string]interface{}
}

// Recorder writes audit entries. The interface exists so services can be
// tested with a capturing fake.
type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Logger emits audit entries through the structured logger.
type Logger struct {
	log *logging.Logger
	app string
	env string
}

var _ Recorder = (*Logger)(nil)

// NewLogger creates an audit logger tagged with the application and
// environment names.
func NewLogger(log *logging.Logger, app, env string) *Logger {
	return &Logger{log: log, app: app, env: env}
}

// Record writes the entry as a single JSON object at the level implied by
// its outcome: info for success, warn for failure/denied/rate_limited, error
// for error.
func (l *Logger) Record(ctx context.Context, entry Entry) {
	// The formatter stamps the record with the "timestamp" field (RFC 3339,
	// UTC: the entry time is set in UTC below).
	fields := logrus.Fields{
		"event_type": "audit",
		"app":        l.app,
		"env":        l.env,
		"action":     entry.Action,
		"resource":   entry.Resource,
		"outcome":    string(entry.Outcome),
	}

	if entry.UserID != "" {
		fields["user_id"] = entry.UserID
	} else {
		fields["user_id"] = nil
	}
	if entry.IPAddress != "" {
		fields["ip_address"] = entry.IPAddress
	}
	if entry.UserAgent != "" {
		fields["user_agent"] = entry.UserAgent
	}
	if entry.SessionID != "" {
		fields["session_id"] = entry.SessionID
	}
	if entry.RequestID == "" {
		entry.RequestID = logging.GetTraceID(ctx)
	}
	if entry.RequestID != "" {
		fields["request_id"] = entry.RequestID
	}
	if entry.ErrorMessage != "" {
		fields["error_message"] = entry.ErrorMessage
	}
	if entry.Duration > 0 {
		fields["duration_ms"] = entry.Duration.Milliseconds()
	}
	if len(entry.Metadata) > 0 {
		fields["metadata"] = entry.Metadata
	}

	e := l.log.WithContext(ctx).WithFields(fields).WithTime(time.Now().UTC())
	switch entry.Outcome {
	case OutcomeSuccess:
		e.Info("audit")
	case OutcomeError:
		e.Error("audit")
	default:
		e.Warn("audit")
	}
}

// Nop discards entries; useful in tests that do not assert on auditing.
type Nop struct{}

var _ Recorder = Nop{}

// Record implements Recorder.
func (Nop) Record(context.Context, Entry) {}
