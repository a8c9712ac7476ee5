// Package websocket accepts browser clients: one JSON envelope per text frame.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"

	"github.com/trickstertwo/xrail"
	"github.com/trickstertwo/xrail/adapter/session"
)

const TransportName = "websocket"

// Config for the WebSocket acceptor.
type Config struct {
	Addr      string
	Path      string
	ReadLimit int64
	WriteWait time.Duration
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

func Defaults() Config {
	return Config{
		Addr:      ":8009",
		Path:      "/ws",
		ReadLimit: 1 << 20,
		WriteWait: 10 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("config: path must start with '/', got %q", c.Path)
	}
	if c.ReadLimit <= 0 {
		return fmt.Errorf("config: read_limit must be > 0, got %d", c.ReadLimit)
	}
	if c.WriteWait <= 0 {
		return fmt.Errorf("config: write_wait must be > 0, got %v", c.WriteWait)
	}
	return nil
}

// Factory opens a fresh HTTP listener for every generation.
func Factory(cfg Config) xrail.AcceptorFactory {
	return func(env xrail.Env) (xrail.Acceptor, error) {
		return Listen(cfg, env)
	}
}

// Acceptor serves the upgrade endpoint and /healthz.
type Acceptor struct {
	cfg      Config
	env      xrail.Env
	ln       net.Listener
	srv      *http.Server
	upgrader ws.Upgrader

	mu       sync.Mutex
	sessions map[*session.Session]struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
}

var _ xrail.Acceptor = (*Acceptor)(nil)

// Listen binds cfg.Addr and prepares the router.
func Listen(cfg Config, env xrail.Env) (*Acceptor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("websocket listen %s: %w", cfg.Addr, err)
	}
	a := &Acceptor{cfg: cfg, env: env, ln: ln, sessions: make(map[*session.Session]struct{})}
	a.upgrader = ws.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     cfg.CheckOrigin,
	}
	if a.upgrader.CheckOrigin == nil {
		a.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	a.srv = &http.Server{Handler: a.Router(), ReadHeaderTimeout: 5 * time.Second}
	return a, nil
}

// Router exposes the HTTP routes.
func (a *Acceptor) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(a.cfg.Path, a.serveWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
	return r
}

func (a *Acceptor) Addr() string { return a.ln.Addr().String() }

// URL is the ws:// address clients dial.
func (a *Acceptor) URL() string { return "ws://" + a.Addr() + a.cfg.Path }

func (a *Acceptor) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = a.Close() })
	defer stop()

	err := a.srv.Serve(a.ln)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	_ = a.Close()
	a.wg.Wait()
	return err
}

func (a *Acceptor) serveWS(w http.ResponseWriter, r *http.Request) {
	c, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s := session.New(&frameConn{c: c, writeWait: a.cfg.WriteWait}, TransportName, a.env.Codec)
	if !a.track(s) {
		_ = c.Close()
		return
	}
	c.SetReadLimit(a.cfg.ReadLimit)

	go func() {
		defer a.wg.Done()
		defer a.untrack(s)
		s.Serve(a.env)
	}()
}

type healthBody struct {
	Status     string `json:"status"`
	Generation string `json:"generation"`
	Endpoints  int    `json:"endpoints"`
	QueueLen   int    `json:"queue_len"`
}

func (a *Acceptor) health(w http.ResponseWriter, _ *http.Request) {
	body := healthBody{Status: "ok", Generation: a.env.Generation}
	if a.env.Dispatcher != nil {
		body.Endpoints = a.env.Dispatcher.Len()
	}
	if a.env.Queue != nil {
		body.QueueLen = a.env.Queue.Len()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (a *Acceptor) track(s *session.Session) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed.Load() {
		return false
	}
	a.sessions[s] = struct{}{}
	// Added under mu so it cannot race the Wait that follows Close.
	a.wg.Add(1)
	return true
}

func (a *Acceptor) untrack(s *session.Session) {
	a.mu.Lock()
	delete(a.sessions, s)
	a.mu.Unlock()
}

// Close stops the HTTP server; hijacked WebSocket sessions are closed
// separately, each after its queued frames are written.
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

	err := a.srv.Close()
	// Serve may never have run, leaving the listener untracked by srv.
	_ = a.ln.Close()
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

type frameConn struct {
	c         *ws.Conn
	writeWait time.Duration
}

func (f *frameConn) ReadFrame() ([]byte, error) {
	for {
		typ, b, err := f.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == ws.TextMessage || typ == ws.BinaryMessage {
			return b, nil
		}
	}
}

func (f *frameConn) WriteFrame(b []byte) error {
	_ = f.c.SetWriteDeadline(time.Now().Add(f.writeWait))
	return f.c.WriteMessage(ws.TextMessage, b)
}

func (f *frameConn) Close() error {
	_ = f.c.WriteControl(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return f.c.Close()
}

func (f *frameConn) RemoteAddr() string { return f.c.RemoteAddr().String() }
