package access

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSessionResolved  ActivityEventType = "access.session.resolved"
	ActivityEventSessionFailed    ActivityEventType = "access.session.failed"
	ActivityEventIdentityChanged  ActivityEventType = "access.identity.changed"
	ActivityEventProfileResolved  ActivityEventType = "access.profile.resolved"
	ActivityEventProfileFailed    ActivityEventType = "access.profile.failed"
	ActivityEventSignInRequested  ActivityEventType = "access.signin.requested"
	ActivityEventSignInFailed     ActivityEventType = "access.signin.failed"
	ActivityEventSignOut          ActivityEventType = "access.signout"
	ActivityEventSignOutFailed    ActivityEventType = "access.signout.failed"
	ActivityEventDevLogin         ActivityEventType = "access.dev.login"
	ActivityEventContentLocked    ActivityEventType = "access.content.locked"
	ActivityEventNavigationDenied ActivityEventType = "access.navigation.denied"
)

// ActivityEvent captures audit-friendly information about an access change.
type ActivityEvent struct {
	EventType  ActivityEventType
	UserID     string
	Email      string
	FromRole   Role
	ToRole     Role
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.OccurredAt.IsZero() {
		if now == nil {
			now = time.Now
		}
		event.OccurredAt = now()
	}

	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil && logger != nil {
		logger.Warn("activity sink error", "event", event.EventType, "error", err)
	}
}
