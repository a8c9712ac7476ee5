package xrail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
)

type recordConn struct {
	mu     sync.Mutex
	remote string
	sent   []*Message
	closed bool
	fail   error
}

func (c *recordConn) Send(msg *Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	if c.closed {
		return ErrEndpointClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *recordConn) RemoteAddr() string { return c.remote }
func (c *recordConn) Transport() string  { return "test" }

func (c *recordConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *recordConn) kinds() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Kind, len(c.sent))
	for i, m := range c.sent {
		out[i] = m.Kind()
	}
	return out
}

func (c *recordConn) find(k Kind) *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.sent {
		if m.Kind() == k {
			return m
		}
	}
	return nil
}

// testHandler records every call it receives.
type testHandler struct {
	group GroupID
	fn    func(msg *Message) error

	mu    sync.Mutex
	calls []string
}

func newTestHandler(g GroupID, fn func(msg *Message) error) *testHandler {
	return &testHandler{group: g, fn: fn}
}

func (h *testHandler) record(s string) {
	h.mu.Lock()
	h.calls = append(h.calls, s)
	h.mu.Unlock()
}

func (h *testHandler) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *testHandler) count(prefix string) int {
	n := 0
	for _, c := range h.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (h *testHandler) Group() GroupID { return h.group }

func (h *testHandler) HandleMsg(_ context.Context, msg *Message) error {
	h.record("msg:" + msg.Kind().String())
	if h.fn != nil {
		return h.fn(msg)
	}
	return nil
}

func (h *testHandler) FreeResources(id AppID) { h.record("free:" + id.String()) }
func (h *testHandler) Init()                  { h.record("init") }
func (h *testHandler) Shutdown()              { h.record("shutdown") }

func (h *testHandler) HardwareStateChanged(s HardwareState) { h.record("hw:" + string(s)) }

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// syncBuffer is a bytes.Buffer safe for a logger writing from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func bufferLogger(w *syncBuffer) *xlog.Logger {
	return zerolog.Use(zerolog.Config{
		MinLevel: xlog.LevelDebug,
		Console:  false,
		Writer:   w,
	})
}

func mustCompose(t *testing.T, k Kind, v any, origin AppID) *Message {
	t.Helper()
	msg, err := Compose(k, v, origin)
	require.NoError(t, err)
	return msg
}

func payloadOf[T any](t *testing.T, msg *Message) T {
	t.Helper()
	require.NotNil(t, msg)
	var v T
	require.NoError(t, json.Unmarshal(msg.Payload(), &v))
	return v
}

var errBoom = errors.New("boom")
