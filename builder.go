package xrail

import (
	"time"

	"github.com/trickstertwo/xlog"
)

// ServerBuilder constructs Server instances.
type ServerBuilder struct {
	logger *xlog.Logger
	clock  Clock
	audit  []AuditSink

	codecName string
	codecInst Codec

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
}

// NewServerBuilder returns a builder with a JSON codec and the default halt timeout.
func NewServerBuilder() *ServerBuilder {
	return &ServerBuilder{
		codecName:   "json",
		haltTimeout: DefaultHaltTimeout,
	}
}

// WithConfig applies the producer and timing sections of cfg.
func (sb *ServerBuilder) WithConfig(cfg Config) *ServerBuilder {
	mc := cfg.ModelClock
	sb.modelClock = &mc
	sb.keepAlive = cfg.KeepAlive
	sb.controlPipe = cfg.ControlPipe
	return sb.WithHaltTimeout(cfg.HaltTimeout)
}

func (sb *ServerBuilder) WithLogger(l *xlog.Logger) *ServerBuilder {
	sb.logger = l
	return sb
}

func (sb *ServerBuilder) WithClock(c Clock) *ServerBuilder {
	sb.clock = c
	return sb
}

// WithAudit adds audit sinks; they receive every enqueued and sent message.
func (sb *ServerBuilder) WithAudit(sinks ...AuditSink) *ServerBuilder {
	sb.audit = append(sb.audit, sinks...)
	return sb
}

func (sb *ServerBuilder) WithCodec(name string) *ServerBuilder {
	sb.codecName = name
	return sb
}

func (sb *ServerBuilder) WithCodecInstance(c Codec) *ServerBuilder {
	sb.codecInst = c
	return sb
}

func (sb *ServerBuilder) WithHandler(f ...HandlerFactory) *ServerBuilder {
	sb.handlers = append(sb.handlers, f...)
	return sb
}

func (sb *ServerBuilder) WithAcceptor(f ...AcceptorFactory) *ServerBuilder {
	sb.acceptors = append(sb.acceptors, f...)
	return sb
}

func (sb *ServerBuilder) WithProducer(f ...ProducerFactory) *ServerBuilder {
	sb.producers = append(sb.producers, f...)
	return sb
}

func (sb *ServerBuilder) WithModelClock(cfg ModelClockConfig) *ServerBuilder {
	sb.modelClock = &cfg
	return sb
}

// WithKeepAlive enables the ping broadcaster; zero disables it.
func (sb *ServerBuilder) WithKeepAlive(d time.Duration) *ServerBuilder {
	sb.keepAlive = d
	return sb
}

// WithControlPipe enables the control channel on the FIFO at path.
func (sb *ServerBuilder) WithControlPipe(path string) *ServerBuilder {
	sb.controlPipe = path
	return sb
}

func (sb *ServerBuilder) WithHaltTimeout(d time.Duration) *ServerBuilder {
	if d > 0 {
		sb.haltTimeout = d
	}
	return sb
}

func (sb *ServerBuilder) WithMiddleware(mw ...Middleware) *ServerBuilder {
	sb.middlewares = append(sb.middlewares, mw...)
	return sb
}

func (sb *ServerBuilder) WithObserver(obs ...Observer) *ServerBuilder {
	for _, o := range obs {
		if o != nil {
			sb.observers = append(sb.observers, o)
		}
	}
	return sb
}

// WithObserverPool delivers observer events from workers goroutines instead of the loop.
func (sb *ServerBuilder) WithObserverPool(workers, bufferSize int) *ServerBuilder {
	sb.poolWorkers = workers
	sb.poolBuffer = bufferSize
	return sb
}

func (sb *ServerBuilder) Build() (*Server, error) {
	if len(sb.handlers) == 0 {
		return nil, ErrNoHandlers
	}
	if sb.modelClock != nil {
		if err := sb.modelClock.Validate(); err != nil {
			return nil, err
		}
	}

	cd := sb.codecInst
	if cd == nil {
		var err error
		if cd, err = NewCodec(sb.codecName); err != nil {
			return nil, err
		}
	}
	clk := sb.clock
	if clk == nil {
		clk = defaultClock()
	}
	lg := sb.logger
	if lg == nil {
		lg = xlog.Default()
	}

	var audit AuditSink = LogAudit{Logger: lg.With(xlog.Str("component", "audit"))}
	if len(sb.audit) > 0 {
		audit = MultiAudit(append([]AuditSink{audit}, sb.audit...)...)
	}

	observers := sb.observers
	hasLogging := false
	for _, o := range observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLogging = true
			break
		}
	}
	if !hasLogging {
		observers = append([]Observer{LoggingObserver{Logger: lg}}, observers...)
	}

	return &Server{
		logger:      lg,
		clock:       clk,
		audit:       audit,
		codec:       cd,
		handlers:    sb.handlers,
		acceptors:   sb.acceptors,
		producers:   sb.producers,
		modelClock:  sb.modelClock,
		keepAlive:   sb.keepAlive,
		controlPipe: sb.controlPipe,
		haltTimeout: sb.haltTimeout,
		middlewares: sb.middlewares,
		observers:   observers,
		poolWorkers: sb.poolWorkers,
		poolBuffer:  sb.poolBuffer,
	}, nil
}
