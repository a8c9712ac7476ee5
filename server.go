package xrail

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/trickstertwo/xlog"
	"golang.org/x/sync/errgroup"
)

// ErrServerRunning is returned by Run on a server that is already running.
var ErrServerRunning = errors.New("xrail: server already running")

// Env is what factories receive when a generation is assembled.
type Env struct {
	Generation string
	Sequence   uint64
	Started    time.Time

	Queue      *Queue
	Dispatcher *Dispatcher
	// ModelClock is nil unless the server was built with one.
	ModelClock *ModelClock
	Codec      Codec
	Clock      Clock
	Logger     *xlog.Logger
}

// Now reads the generation clock, falling back to wall time for an Env
// assembled without one.
func (e Env) Now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

// HandlerFactory builds one handler per generation.
type HandlerFactory func(env Env) (Handler, error)

// Static registers the same handler instance in every generation. The
// instance keeps running across a reset: the loop already restarted it, so
// the next generation does not call Init on it again.
func Static(h Handler) HandlerFactory {
	sh := &staticHandler{Handler: h}
	return func(Env) (Handler, error) { return sh, nil }
}

type staticHandler struct {
	Handler
	live atomic.Bool
}

func (s *staticHandler) Init() {
	if s.live.Swap(true) {
		return
	}
	s.Handler.Init()
}

func (s *staticHandler) Shutdown() {
	if !s.live.Swap(false) {
		return
	}
	s.Handler.Shutdown()
}

// Acceptor turns network connections into endpoints and messages.
// Serve returns nil once ctx is done and every connection it started has ended.
type Acceptor interface {
	Serve(ctx context.Context) error
	Addr() string
	Close() error
}

// AcceptorFactory opens an acceptor for a generation; listening starts here
// so bind errors surface before the generation runs.
type AcceptorFactory func(env Env) (Acceptor, error)

// ProducerFactory builds an extra background producer per generation.
type ProducerFactory func(env Env) (Producer, error)

// Generation is one queue, dispatcher, registry, acceptor set and producer
// set between a (re)start and the next reset or shutdown.
type Generation struct {
	Env
	Registry *Registry
	Loop     *Loop

	producers []Producer
	acceptors []Acceptor
}

func (g *Generation) Acceptors() []Acceptor { return g.acceptors }

func (g *Generation) Producers() []Producer { return g.producers }

// Server builds, runs and rebuilds generations until shutdown.
type Server struct {
	logger *xlog.Logger
	clock  Clock
	audit  AuditSink
	codec  Codec

	handlers  []HandlerFactory
	acceptors []AcceptorFactory
	producers []ProducerFactory

	modelClock  *ModelClockConfig
	keepAlive   time.Duration
	controlPipe string
	haltTimeout time.Duration

	middlewares []Middleware
	observers   []Observer
	poolWorkers int
	poolBuffer  int

	metrics Metrics
	started time.Time
	seq     atomic.Uint64
	current atomic.Pointer[Generation]
	running atomic.Bool
}

// Run serves generations until a shutdown message, ctx cancellation or a
// build failure. A reset or unrecoverable handler error rebuilds everything.
func (s *Server) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerRunning
	}
	defer s.running.Store(false)

	var pool *ObserverPool
	if s.poolWorkers > 0 && len(s.observers) > 0 {
		pool = NewObserverPool(context.Background(), s.poolWorkers, s.poolBuffer)
		defer func() {
			if err := pool.Close(s.haltTimeout); err != nil {
				s.logger.Warn().Err(err).Msg("xrail: observer pool close")
			}
		}()
	}

	s.started = time.Now()
	for {
		gen, err := s.build(pool)
		if err != nil {
			return err
		}
		s.current.Store(gen)
		restart, err := s.serve(ctx, gen)
		s.teardown(gen)
		s.current.Store(nil)
		if err != nil {
			return err
		}
		if !restart || ctx.Err() != nil {
			s.logger.Info().Msg("xrail: server stopped")
			return nil
		}
		s.logger.Info().Str("previous", gen.Generation).Msg("xrail: rebuilding generation")
	}
}

func (s *Server) build(pool *ObserverPool) (*Generation, error) {
	seq := s.seq.Add(1)
	id := uuid.NewString()
	logger := s.logger.With(xlog.Str("generation", id))

	q := NewQueue(s.audit, s.clock)
	gen := &Generation{
		Env: Env{
			Generation: id,
			Sequence:   seq,
			Started:    s.started,
			Queue:      q,
			Dispatcher: NewDispatcher(logger, s.audit),
			Codec:      s.codec,
			Clock:      s.clock,
			Logger:     logger,
		},
		Registry: NewRegistry(),
	}
	wopts := []WorkerOption{WithHaltTimeout(s.haltTimeout), WithWorkerLogger(logger), WithWorkerClock(s.clock)}

	fail := func(err error) (*Generation, error) {
		for _, a := range gen.acceptors {
			_ = a.Close()
		}
		return nil, fmt.Errorf("build generation %d: %w", seq, err)
	}

	if s.modelClock != nil {
		mc, err := NewModelClock(*s.modelClock, q, wopts...)
		if err != nil {
			return fail(err)
		}
		gen.ModelClock = mc
		gen.producers = append(gen.producers, mc)
	}
	if s.keepAlive > 0 {
		ka, err := NewKeepAlive(s.keepAlive, gen.Dispatcher, wopts...)
		if err != nil {
			return fail(err)
		}
		gen.producers = append(gen.producers, ka)
	}
	if s.controlPipe != "" {
		cc, err := NewControlChannel(s.controlPipe, q, wopts...)
		if err != nil {
			return fail(err)
		}
		gen.producers = append(gen.producers, cc)
	}
	for _, pf := range s.producers {
		p, err := pf(gen.Env)
		if err != nil {
			return fail(err)
		}
		gen.producers = append(gen.producers, p)
	}

	for _, hf := range s.handlers {
		h, err := hf(gen.Env)
		if err != nil {
			return fail(err)
		}
		if err := gen.Registry.Register(h); err != nil {
			return fail(err)
		}
	}
	if gen.Registry.Len() == 0 {
		return fail(ErrNoHandlers)
	}

	loop, err := NewLoop(LoopConfig{
		Queue:        q,
		Dispatcher:   gen.Dispatcher,
		Registry:     gen.Registry,
		Generation:   id,
		Logger:       logger,
		Clock:        s.clock,
		Metrics:      &s.metrics,
		Middlewares:  s.middlewares,
		Observers:    s.observers,
		ObserverPool: pool,
	})
	if err != nil {
		return fail(err)
	}
	gen.Loop = loop

	for _, af := range s.acceptors {
		a, err := af(gen.Env)
		if err != nil {
			return fail(err)
		}
		gen.acceptors = append(gen.acceptors, a)
	}

	gen.Registry.InitAll()
	logger.Info().
		Str("sequence", fmt.Sprint(seq)).
		Str("handlers", fmt.Sprint(gen.Registry.Len())).
		Str("producers", fmt.Sprint(len(gen.producers))).
		Str("acceptors", fmt.Sprint(len(gen.acceptors))).
		Msg("xrail: generation built")
	return gen, nil
}

// serve runs producers, acceptors and the loop of gen until the loop returns.
func (s *Server) serve(ctx context.Context, gen *Generation) (bool, error) {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, p := range gen.producers {
		if err := p.Start(gctx); err != nil {
			return false, fmt.Errorf("start %s: %w", p.Name(), err)
		}
	}

	g, gctx := errgroup.WithContext(gctx)
	for _, a := range gen.acceptors {
		g.Go(func() error { return a.Serve(gctx) })
	}
	var restart bool
	g.Go(func() error {
		restart = gen.Loop.Run(gctx)
		cancel()
		return nil
	})
	if err := g.Wait(); err != nil {
		return false, err
	}
	return restart, nil
}

func (s *Server) teardown(gen *Generation) {
	for i := len(gen.producers) - 1; i >= 0; i-- {
		p := gen.producers[i]
		if err := p.Halt(); err != nil {
			gen.Logger.Warn().Err(err).Str("producer", p.Name()).Msg("xrail: producer halt")
		}
	}
	for _, a := range gen.acceptors {
		_ = a.Close()
	}
	if !gen.Loop.HandlersReleased() {
		gen.Registry.ShutdownAll()
	}
	gen.Dispatcher.CloseAll()
	gen.Queue.Clear()
	gen.Logger.Info().Msg("xrail: generation torn down")
}

// Current returns the running generation, or nil between generations.
func (s *Server) Current() *Generation { return s.current.Load() }

// Reset asks the running generation to rebuild. It reports whether one was running.
func (s *Server) Reset() bool { return s.control(KindInternalReset) }

// Shutdown asks the running generation to stop the server.
func (s *Server) Shutdown() bool { return s.control(KindInternalShutdown) }

func (s *Server) control(k Kind) bool {
	gen := s.Current()
	if gen == nil {
		return false
	}
	return gen.Queue.Emit(k, nil, NoEndpoint) == nil
}

func (s *Server) Metrics() MetricsSnapshot { return s.metrics.Snapshot() }

// Health summarises the server for probes.
func (s *Server) Health() HealthStatus {
	h := HealthStatus{
		Status:    "stopped",
		Metrics:   s.metrics.Snapshot(),
		Timestamp: s.clock.Now(),
	}
	gen := s.Current()
	if gen == nil {
		return h
	}
	h.Status = "healthy"
	h.Generation = gen.Generation
	h.Sequence = gen.Sequence
	h.Endpoints = gen.Dispatcher.Len()
	h.QueueLen = gen.Queue.Len()
	h.Dropped = gen.Dispatcher.Dropped()
	if gen.Loop.State() != LoopRunning {
		h.Status = "degraded"
	}
	return h
}
