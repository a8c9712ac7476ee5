// Package session runs one client connection for an acceptor: it registers
// the endpoint, pumps frames in both directions and reports the disconnect
// to the loop.
package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xrail"
)

// SendBuffer is how many encoded frames may wait for the writer.
const SendBuffer = 256

// FrameConn is a framed, bidirectional connection.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(b []byte) error
	Close() error
	RemoteAddr() string
}

// Session adapts a FrameConn to xrail.Conn. Closing a session flushes the
// frames already queued before the connection itself is closed.
type Session struct {
	fc        FrameConn
	transport string
	codec     xrail.Codec
	send      chan []byte

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	writing  atomic.Bool
	drained  chan struct{}
	connOnce sync.Once
	connErr  error
}

var _ xrail.Conn = (*Session)(nil)

// New wraps fc. Nothing is read or written until Serve.
func New(fc FrameConn, transport string, codec xrail.Codec) *Session {
	if codec == nil {
		codec = xrail.DefaultCodec()
	}
	return &Session{
		fc:        fc,
		transport: transport,
		codec:     codec,
		send:      make(chan []byte, SendBuffer),
		closed:    make(chan struct{}),
		drained:   make(chan struct{}),
	}
}

// Send encodes msg and queues it for the writer without blocking.
func (s *Session) Send(msg *xrail.Message) error {
	b, err := xrail.EncodeEnvelope(s.codec, msg)
	if err != nil {
		return err
	}
	select {
	case <-s.closed:
		return xrail.ErrEndpointClosed
	default:
	}
	select {
	case s.send <- b:
		return nil
	default:
		return xrail.ErrSendBufferFull
	}
}

// Close stops further sends, waits for the writer to flush what is queued
// and then closes the connection. Each flushed write is bounded by the
// connection's write deadline.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.writing.Load() {
			<-s.drained
		}
		s.closeErr = s.closeConn()
	})
	return s.closeErr
}

func (s *Session) closeConn() error {
	s.connOnce.Do(func() { s.connErr = s.fc.Close() })
	return s.connErr
}

func (s *Session) RemoteAddr() string { return s.fc.RemoteAddr() }

func (s *Session) Transport() string { return s.transport }

func (s *Session) writeLoop() {
	defer close(s.drained)
	for {
		select {
		case b := <-s.send:
			if err := s.fc.WriteFrame(b); err != nil {
				// Unblocks the reader; Close still runs from Serve.
				_ = s.closeConn()
				return
			}
		case <-s.closed:
			s.flush()
			return
		}
	}
}

func (s *Session) flush() {
	for {
		select {
		case b := <-s.send:
			if err := s.fc.WriteFrame(b); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Run serves fc in a new session until the connection ends.
func Run(env xrail.Env, fc FrameConn, transport string) {
	New(fc, transport, env.Codec).Serve(env)
}

// Serve pumps frames until the connection ends. The endpoint is added to
// the dispatcher before the connect message is enqueued, and the
// client-shutdown message is enqueued after both pumps have stopped.
func (s *Session) Serve(env xrail.Env) {
	done := make(chan struct{})
	s.writing.Store(true)
	go func() {
		defer close(done)
		s.writeLoop()
	}()

	fc := s.fc
	id := xrail.NextAppID()
	ep := xrail.NewEndpoint(id, s)
	env.Dispatcher.AddEndpoint(ep)
	logger := env.Logger
	if logger == nil {
		logger = xlog.Default()
	}
	logger = logger.With(xlog.Str("app_id", id.String()))

	if err := env.Queue.Emit(xrail.KindServerClientConnect, ep.Info(), id); err != nil {
		logger.Error().Err(err).Msg("xrail: emit client connect")
	}

	for {
		frame, err := fc.ReadFrame()
		if err != nil {
			if !isClosedErr(err) {
				logger.Debug().Err(err).Msg("xrail: connection read ended")
			}
			break
		}
		msg, err := xrail.DecodeEnvelopeAt(env.Now(), s.codec, frame, id)
		if err != nil {
			reject(env, id, xrail.CodeMalformedPayload, err.Error())
			continue
		}
		if msg.Kind().Internal() {
			reject(env, id, xrail.CodeNotAllowed, "control messages are not accepted from clients")
			continue
		}
		env.Queue.Enqueue(msg)
	}

	_ = s.Close()
	<-done
	if err := env.Queue.Emit(xrail.KindInternalClientShutdown, nil, id); err != nil {
		logger.Error().Err(err).Msg("xrail: emit client shutdown")
	}
}

func reject(env xrail.Env, id xrail.AppID, code xrail.ErrorCode, reason string) {
	msg, err := xrail.ComposeAt(env.Now(), xrail.KindClientError, xrail.ErrorReply{Code: code, Reason: reason}, xrail.NoEndpoint)
	if err != nil {
		return
	}
	env.Dispatcher.Send(msg, id)
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
