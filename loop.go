package xrail

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/trickstertwo/xlog"
)

// LoopState is where a Loop is in its lifecycle.
type LoopState int32

const (
	LoopIdle LoopState = iota
	LoopRunning
	LoopRestarting
	LoopStopped
)

func (s LoopState) String() string {
	switch s {
	case LoopIdle:
		return "idle"
	case LoopRunning:
		return "running"
	case LoopRestarting:
		return "restarting"
	case LoopStopped:
		return "stopped"
	}
	return "unknown"
}

// LoopConfig wires a Loop to its generation.
type LoopConfig struct {
	Queue      *Queue
	Dispatcher *Dispatcher
	Registry   *Registry

	Generation  string
	Logger      *xlog.Logger
	Clock       Clock
	Metrics     *Metrics
	Middlewares []Middleware
	Observers   []Observer
	// ObserverPool, when set, delivers events to Observers asynchronously.
	ObserverPool *ObserverPool
}

// Loop is the single consumer of a generation's queue. It owns the handler
// registry and runs every handler call.
type Loop struct {
	queue    *Queue
	disp     *Dispatcher
	reg      *Registry
	gen      string
	logger   *xlog.Logger
	clock    Clock
	metrics  *Metrics
	handle   HandleFunc
	events   *observerSet
	state    atomic.Int32
	released bool
}

// NewLoop validates cfg and builds the handler chain.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Queue == nil || cfg.Dispatcher == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("%w: loop needs queue, dispatcher and registry", ErrInvalidArgument)
	}
	l := &Loop{
		queue:   cfg.Queue,
		disp:    cfg.Dispatcher,
		reg:     cfg.Registry,
		gen:     cfg.Generation,
		logger:  cfg.Logger,
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
		events:  &observerSet{observers: cfg.Observers, pool: cfg.ObserverPool},
	}
	if l.logger == nil {
		l.logger = xlog.Default()
	}
	if l.clock == nil {
		l.clock = defaultClock()
	}
	if l.metrics == nil {
		l.metrics = &Metrics{}
	}
	base := func(ctx context.Context, msg *Message) error {
		h, _ := l.reg.Lookup(msg.Group())
		return h.HandleMsg(ctx, msg)
	}
	// Recovery sits innermost so user middlewares see panics as errors.
	l.handle = Chain(Recovery()(base), cfg.Middlewares...)
	return l, nil
}

func (l *Loop) State() LoopState { return LoopState(l.state.Load()) }

// HandlersReleased reports whether the loop already ran the last lifecycle
// hooks of the generation (a reset or shutdown), so teardown must not.
func (l *Loop) HandlersReleased() bool { return l.released }

// Run consumes messages until a control message or failure ends the
// generation. It returns true when the caller must rebuild the generation
// and run again, false when the process may stop.
func (l *Loop) Run(ctx context.Context) bool {
	l.state.Store(int32(LoopRunning))
	hctx := injectClock(injectGeneration(injectLogger(ctx, l.logger), l.gen), l.clock)

	for {
		msg, err := l.queue.Take(ctx)
		if err != nil {
			l.logger.Info().Err(err).Str("generation", l.gen).Msg("xrail: loop context done")
			l.state.Store(int32(LoopStopped))
			return false
		}
		l.metrics.dequeued.Add(1)
		l.logger.Debug().
			Str("kind", msg.Kind().String()).
			Str("origin", msg.Origin().String()).
			Msg("xrail: dequeued")
		l.events.notify(Event{Type: EventDequeued, Generation: l.gen, Kind: msg.Kind(), Origin: msg.Origin()})

		var (
			done    bool
			restart bool
		)
		if msg.Kind().Internal() {
			done, restart = l.control(msg)
		} else {
			done, restart = l.dispatch(hctx, msg)
		}
		if done {
			if restart {
				l.state.Store(int32(LoopRestarting))
			} else {
				l.state.Store(int32(LoopStopped))
			}
			return restart
		}
	}
}

// control handles the reserved internal group. done reports whether the
// generation ends.
func (l *Loop) control(msg *Message) (done, restart bool) {
	switch msg.Kind() {
	case KindInternalReset:
		dropped := l.queue.Clear()
		l.reg.ResetAll()
		l.released = true
		l.broadcast(KindServerReset, nil)
		l.metrics.restarts.Add(1)
		l.logger.Info().
			Str("generation", l.gen).
			Str("dropped", fmt.Sprint(dropped)).
			Msg("xrail: reset requested")
		l.events.notify(Event{Type: EventReset, Generation: l.gen, Kind: msg.Kind(), Origin: msg.Origin()})
		return true, true

	case KindInternalShutdown:
		l.broadcast(KindServerShutdown, nil)
		l.reg.ShutdownAll()
		l.released = true
		l.logger.Info().Str("generation", l.gen).Msg("xrail: shutdown requested")
		l.events.notify(Event{Type: EventShutdown, Generation: l.gen, Kind: msg.Kind(), Origin: msg.Origin()})
		return true, false

	case KindInternalHardwareStateChanged:
		state, err := Decode[HardwareState](msg)
		if err != nil {
			l.logger.Warn().Err(err).Str("kind", msg.Kind().String()).Msg("xrail: bad hardware state")
			return false, false
		}
		l.reg.HardwareStateChanged(state)
		l.events.notify(Event{Type: EventHardwareState, Generation: l.gen, Kind: msg.Kind()})
		return false, false

	case KindInternalClientShutdown:
		id := msg.Origin()
		l.reg.FreeResources(id)
		if l.disp.RemoveEndpoint(id) {
			l.broadcast(KindServerClientClosed, ClientClosed{AppID: id})
		}
		l.events.notify(Event{Type: EventClientClosed, Generation: l.gen, Kind: msg.Kind(), Origin: id})
		return false, false
	}

	l.logger.Warn().Str("kind", msg.Kind().String()).Msg("xrail: unknown control message ignored")
	return false, false
}

// dispatch routes msg to its group handler.
func (l *Loop) dispatch(ctx context.Context, msg *Message) (done, restart bool) {
	if _, ok := l.reg.Lookup(msg.Group()); !ok {
		err := NewClientError(CodeUnknownGroup, "no handler for group %d", int(msg.Group()))
		l.metrics.clientErrors.Add(1)
		l.logError(msg, err)
		l.reply(msg, ErrorReply{Code: err.Code, Reason: err.Reason})
		l.events.notify(Event{Type: EventUnknownGroup, Generation: l.gen, Kind: msg.Kind(), Origin: msg.Origin(), Err: err})
		return false, false
	}

	start := l.clock.Now()
	err := l.handle(ctx, msg)
	took := l.clock.Now().Sub(start)
	l.metrics.observeHandle(took)
	if err == nil {
		l.events.notify(Event{Type: EventHandled, Generation: l.gen, Kind: msg.Kind(), Origin: msg.Origin(), Duration: took})
		return false, false
	}

	l.logError(msg, err)
	if reply, ok := classify(err); ok {
		typ := EventClientError
		if reply.Code == CodeDatabaseError {
			typ = EventDatabaseError
			l.metrics.databaseErrors.Add(1)
		} else {
			l.metrics.clientErrors.Add(1)
		}
		l.reply(msg, reply)
		l.events.notify(Event{Type: typ, Generation: l.gen, Kind: msg.Kind(), Origin: msg.Origin(), Err: err})
		return false, false
	}

	// Shared state may be inconsistent now; rebuild rather than continue.
	l.metrics.failures.Add(1)
	l.metrics.restarts.Add(1)
	dropped := l.queue.Clear()
	l.reg.ResetAll()
	l.released = true
	l.logger.Error().
		Err(err).
		Str("generation", l.gen).
		Str("dropped", fmt.Sprint(dropped)).
		Msg("xrail: unrecoverable handler failure, restarting generation")
	l.events.notify(Event{Type: EventFailure, Generation: l.gen, Kind: msg.Kind(), Origin: msg.Origin(), Err: err})
	return true, true
}

func (l *Loop) logError(msg *Message, err error) {
	ev := l.logger.Warn()
	var pe *PanicError
	if errors.As(err, &pe) {
		ev = l.logger.Error().Str("stack", string(pe.Stack))
	} else if _, ok := classify(err); !ok {
		ev = l.logger.Error()
	}
	ev.Err(err).
		Str("kind", msg.Kind().String()).
		Str("message", msg.String()).
		Str("origin", msg.Origin().String()).
		Msg("xrail: handler error")
}

// reply sends an error notice back to the originating endpoint, if any.
func (l *Loop) reply(msg *Message, r ErrorReply) {
	if !msg.HasOrigin() {
		return
	}
	r.Kind = msg.Kind().String()
	out, err := ComposeAt(l.clock.Now(), KindClientError, r, NoEndpoint)
	if err != nil {
		l.logger.Error().Err(err).Msg("xrail: compose error reply")
		return
	}
	l.disp.Send(out, msg.Origin())
}

func (l *Loop) broadcast(k Kind, v any) {
	out, err := ComposeAt(l.clock.Now(), k, v, NoEndpoint)
	if err != nil {
		l.logger.Error().Err(err).Str("kind", k.String()).Msg("xrail: compose notice")
		return
	}
	l.disp.Broadcast(out)
}

// ClientClosed is the payload of the client-closed notice.
type ClientClosed struct {
	AppID AppID `json:"app_id"`
}
