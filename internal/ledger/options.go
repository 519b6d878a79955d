package ledger

import (
	"log/slog"
	"time"
)

const defaultCancelWindow = 24 * time.Hour

type settings struct {
	now          func() time.Time
	log          *slog.Logger
	loc          *time.Location
	cancelWindow time.Duration
	observers    []Observer
}

// Option configures the ledger services.
type Option func(*settings)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *settings) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLocation sets the time zone that defines a calendar day for daily limits.
func WithLocation(loc *time.Location) Option {
	return func(s *settings) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithCancelWindow sets how long after its date a transaction may be canceled.
func WithCancelWindow(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.cancelWindow = d
		}
	}
}

// WithObserver registers an observer notified after commits.
func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		now:          time.Now,
		log:          slog.Default(),
		loc:          time.UTC,
		cancelWindow: defaultCancelWindow,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) clock() time.Time { return s.now().UTC() }
