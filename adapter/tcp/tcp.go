// Package tcp accepts clients speaking newline-delimited JSON envelopes.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xrail"
	"github.com/trickstertwo/xrail/adapter/session"
)

// TransportName is reported by endpoints of this acceptor.
const TransportName = "tcp"

// Config for the TCP acceptor.
type Config struct {
	Addr         string
	MaxLineBytes int
	WriteTimeout time.Duration
}

func Defaults() Config {
	return Config{
		Addr:         ":8008",
		MaxLineBytes: 1 << 20,
		WriteTimeout: 5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.MaxLineBytes < 64 {
		return fmt.Errorf("config: max_line_bytes must be >= 64, got %d", c.MaxLineBytes)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("config: write_timeout must be > 0, got %v", c.WriteTimeout)
	}
	return nil
}

// Factory opens a fresh listener for every generation.
func Factory(cfg Config) xrail.AcceptorFactory {
	return func(env xrail.Env) (xrail.Acceptor, error) {
		return Listen(cfg, env)
	}
}

// Acceptor owns a listener and the connections it accepted.
type Acceptor struct {
	cfg Config
	env xrail.Env
	ln  net.Listener

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
}

var _ xrail.Acceptor = (*Acceptor)(nil)

// Listen binds cfg.Addr.
func Listen(cfg Config, env xrail.Env) (*Acceptor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("tcp listen %s: %w", cfg.Addr, err)
	}
	return &Acceptor{cfg: cfg, env: env, ln: ln, sessions: make(map[*session.Session]struct{})}, nil
}

func (a *Acceptor) Addr() string { return a.ln.Addr().String() }

// Serve accepts until ctx is done or Close is called, then waits for every
// connection to finish.
func (a *Acceptor) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = a.Close() })
	defer stop()

	var err error
	for {
		c, aerr := a.ln.Accept()
		if aerr != nil {
			if a.closed.Load() || errors.Is(aerr, net.ErrClosed) {
				break
			}
			var ne net.Error
			if errors.As(aerr, &ne) && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			err = aerr
			_ = a.Close()
			break
		}
		s := session.New(newLineConn(c, a.cfg), TransportName, a.env.Codec)
		if !a.track(s) {
			_ = c.Close()
			continue
		}
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer a.untrack(s)
			s.Serve(a.env)
		}()
	}
	a.wg.Wait()
	return err
}

func (a *Acceptor) track(s *session.Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return false
	}
	a.sessions[s] = struct{}{}
	return true
}

func (a *Acceptor) untrack(s *session.Session) {
	a.mu.Lock()
	delete(a.sessions, s)
	a.mu.Unlock()
}

// Close stops accepting and closes every open session once its queued
// frames are written.
func (a *Acceptor) Close() error {
	a.mu.Lock()
	if a.closed.Swap(true) {
		a.mu.Unlock()
		return nil
	}
	open := make([]*session.Session, 0, len(a.sessions))
	for s := range a.sessions {
		open = append(open, s)
	}
	a.mu.Unlock()

	err := a.ln.Close()
	var wg sync.WaitGroup
	for _, s := range open {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close()
		}()
	}
	wg.Wait()
	return err
}

// lineConn frames a net.Conn by newlines.
type lineConn struct {
	c            net.Conn
	sc           *bufio.Scanner
	writeTimeout time.Duration
}

func newLineConn(c net.Conn, cfg Config) *lineConn {
	sc := bufio.NewScanner(c)
	sc.Buffer(make([]byte, 0, 4096), cfg.MaxLineBytes)
	return &lineConn{c: c, sc: sc, writeTimeout: cfg.WriteTimeout}
}

func (l *lineConn) ReadFrame() ([]byte, error) {
	for l.sc.Scan() {
		if b := l.sc.Bytes(); len(b) > 0 {
			return append([]byte(nil), b...), nil
		}
	}
	if err := l.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (l *lineConn) WriteFrame(b []byte) error {
	_ = l.c.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	_, err := l.c.Write(append(b, '\n'))
	return err
}

func (l *lineConn) Close() error { return l.c.Close() }

func (l *lineConn) RemoteAddr() string { return l.c.RemoteAddr().String() }
