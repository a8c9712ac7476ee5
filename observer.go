package xrail

import (
	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// LoggingObserver emits loop events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e Event) {
	if o.Logger == nil {
		return
	}
	l := o.Logger.With(
		xlog.Str("event", string(e.Type)),
		xlog.Str("generation", e.Generation),
		xlog.Str("kind", e.Kind.String()),
		xlog.Str("origin", e.Origin.String()),
	)
	switch e.Type {
	case EventFailure:
		l.Error().Err(e.Err).Msg("xrail event")
	case EventClientError, EventDatabaseError, EventUnknownGroup:
		l.Warn().Err(e.Err).Msg("xrail event")
	case EventReset, EventShutdown:
		l.Info().Msg("xrail event")
	default:
		if e.Duration > 0 {
			l = l.With(xlog.Dur("duration", e.Duration))
		}
		l.Debug().Msg("xrail event")
	}
}

// observerSet fans loop events out, through pool when one is attached.
type observerSet struct {
	observers []Observer
	pool      *ObserverPool
}

func (s *observerSet) notify(e Event) {
	if s == nil || len(s.observers) == 0 {
		return
	}
	if s.pool != nil {
		s.pool.Notify(e, s.observers)
		return
	}
	for _, o := range s.observers {
		o.OnEvent(e)
	}
}
