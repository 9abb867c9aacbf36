package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the
// service. Backed by log/slog in production and no-op fakes in tests.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// WindowSource retrieves hourly weather windows for a location. The
// implementation must return samples ordered by time with no duplicate
// timestamps.
type WindowSource interface {
	// GetWindow returns the forecast window covering [now+startHours, now+endHours].
	GetWindow(ctx context.Context, loc Location, startHours, endHours int) (Window, error)

	// GetComparisonWindow returns up to hours trailing samples immediately
	// preceding before. May legitimately be empty.
	GetComparisonWindow(ctx context.Context, loc Location, before time.Time, hours int) (Window, error)
}

// VerdictStore persists risk verdicts. The core never touches storage
// except through this interface.
type VerdictStore interface {
	Insert(ctx context.Context, v *RiskVerdict) error

	// LatestUnnotified returns, per condition, the most recent verdict for
	// the subscriber-location with probability >= MEDIUM created since the
	// given time whose notification flag is still false.
	LatestUnnotified(ctx context.Context, subscriberID, locationID string, since time.Time) (map[Condition]*RiskVerdict, error)

	// UnnotifiedForSubscriber returns all unsent verdicts across the
	// subscriber's locations created since the given time, for digests.
	UnnotifiedForSubscriber(ctx context.Context, subscriberID string, since time.Time) ([]*RiskVerdict, error)

	// History returns the most recent verdicts for a subscriber-location
	// and condition, newest first, for prompt context.
	History(ctx context.Context, subscriberID, locationID string, cond Condition, limit int) ([]*RiskVerdict, error)

	// MarkNotified flips notification_sent to true for the given verdicts.
	MarkNotified(ctx context.Context, verdictIDs []string) error
}

// DeliveryLog records outcomes of delivery attempts and answers the
// policy engine's throttling queries.
type DeliveryLog interface {
	Record(ctx context.Context, rec *DeliveryRecord) error

	// CountSent returns the number of successful deliveries to the
	// subscriber-location since the given instant.
	CountSent(ctx context.Context, subscriberID, locationID string, since time.Time) (int, error)

	// LastSentAt returns the time of the most recent successful delivery
	// to the subscriber-location across both conditions, or nil.
	LastSentAt(ctx context.Context, subscriberID, locationID string) (*time.Time, error)

	// DigestSentSince reports whether a digest delivery succeeded for the
	// subscriber since the given instant.
	DigestSentSince(ctx context.Context, subscriberID string, since time.Time) (bool, error)
}

// Sender is the outbound delivery collaborator. Any returned error is
// treated as delivery failure and leaves verdicts eligible for retry.
type Sender interface {
	Send(ctx context.Context, sub Subscriber, payload AlertPayload) error
}

// AlertPayload is the merged content of one or two verdicts (or a digest
// batch) handed to the delivery collaborator. Subject and Body are filled
// by the sender's renderer. Location carries only the ID for digest
// batches, which may span locations.
type AlertPayload struct {
	Kind     DeliveryKind
	Subject  string
	Body     string
	Location Location
	Verdicts []*RiskVerdict
}
