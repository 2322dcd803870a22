package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventLogin               ActivityEventType = "auth.session.login"
	ActivityEventPendingRegistration ActivityEventType = "auth.session.pending_registration"
	ActivityEventRegistered          ActivityEventType = "auth.session.registered"
	ActivityEventRefreshed           ActivityEventType = "auth.session.refreshed"
	ActivityEventRefreshReuse        ActivityEventType = "auth.session.refresh_reuse"
	ActivityEventLogout              ActivityEventType = "auth.session.logout"
	ActivityEventRevokeAll           ActivityEventType = "auth.session.revoke_all"
)

// ActivityEvent captures audit-friendly information about a session action.
type ActivityEvent struct {
	EventType ActivityEventType
	// AccountID is the public id of the account, empty before registration
	AccountID  string
	Provider   string
	Client     ClientInfo
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

// MultiActivitySink fans an event out to every sink. The first error is
// returned after all sinks ran.
func MultiActivitySink(sinks ...ActivitySink) ActivitySink {
	return ActivitySinkFunc(func(ctx context.Context, event ActivityEvent) error {
		var first error
		for _, sink := range sinks {
			if sink == nil {
				continue
			}
			if err := sink.Record(ctx, event); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
