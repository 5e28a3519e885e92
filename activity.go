package identity

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSignUp               ActivityEventType = "identity.signup"
	ActivityEventSignInSuccess        ActivityEventType = "identity.signin.success"
	ActivityEventSignInFailure        ActivityEventType = "identity.signin.failure"
	ActivityEventSignOut              ActivityEventType = "identity.signout"
	ActivityEventEmailConfirmed       ActivityEventType = "identity.email.confirmed"
	ActivityEventTokenRefreshed       ActivityEventType = "identity.token.refreshed"
	ActivityEventPasswordResetRequest ActivityEventType = "identity.password.reset.requested"
	ActivityEventPasswordResetDone    ActivityEventType = "identity.password.reset.done"
	ActivityEventPasswordChanged      ActivityEventType = "identity.password.changed"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Subject    string
	Email      string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
// Sinks run best-effort: errors are logged and never fail the operation
// they describe.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	return f(ctx, event)
}

// WithActivitySink attaches an audit sink to the service.
func WithActivitySink(sink ActivitySink) ServiceOption {
	return func(s *Service) {
		if sink != nil {
			s.activity = sink
		}
	}
}

// recordActivity emits an audit event when a sink is configured.
func (s *Service) recordActivity(ctx context.Context, event ActivityEvent) {
	if s.activity == nil {
		return
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	if err := s.activity.Record(ctx, event); err != nil {
		s.logger.Error("activity sink failed", "event", string(event.EventType), "error", err)
	}
}
