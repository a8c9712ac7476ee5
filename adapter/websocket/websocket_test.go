package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xrail"
)

func take(t *testing.T, q *xrail.Queue) *xrail.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := q.Take(ctx)
	require.NoError(t, err)
	return m
}

func start(t *testing.T) (*Acceptor, xrail.Env, func()) {
	t.Helper()
	env := xrail.Env{
		Generation: "gen-ws",
		Queue:      xrail.NewQueue(nil, nil),
		Dispatcher: xrail.NewDispatcher(nil, nil),
		Codec:      xrail.DefaultCodec(),
	}
	cfg := Defaults()
	cfg.Addr = "127.0.0.1:0"
	acc, err := Listen(cfg, env)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- acc.Serve(ctx) }()
	return acc, env, func() {
		cancel()
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("Serve did not return")
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
	cfg := Defaults()
	cfg.Path = "ws"
	require.Error(t, cfg.Validate())
}

func TestAcceptor_RoundTrip(t *testing.T) {
	acc, env, stop := start(t)
	defer stop()

	c, resp, err := ws.DefaultDialer.Dial(acc.URL(), nil)
	require.NoError(t, err)
	defer c.Close()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	connect := take(t, env.Queue)
	require.Equal(t, xrail.KindServerClientConnect, connect.Kind())
	id := connect.Origin()
	info, err := xrail.Decode[xrail.ConnectInfo](connect)
	require.NoError(t, err)
	assert.Equal(t, TransportName, info.Transport)

	require.NoError(t, c.WriteMessage(ws.TextMessage, []byte(`{"g":8,"m":1}`)))
	got := take(t, env.Queue)
	assert.Equal(t, xrail.KindLayoutGetLayouts, got.Kind())
	assert.Equal(t, id, got.Origin())

	out, err := xrail.Compose(xrail.KindServerReset, nil, xrail.NoEndpoint)
	require.NoError(t, err)
	assert.Equal(t, 1, env.Dispatcher.Broadcast(out))
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, frame, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, ws.TextMessage, typ)
	assert.JSONEq(t, `{"g":3,"m":9}`, string(frame))

	require.NoError(t, c.Close())
	assert.Equal(t, xrail.KindInternalClientShutdown, take(t, env.Queue).Kind())
}

func TestAcceptor_Health(t *testing.T) {
	acc, _, stop := start(t)
	defer stop()

	resp, err := http.Get("http://" + acc.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body healthBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "gen-ws", body.Generation)

	miss, err := http.Post("http://"+acc.Addr()+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	_ = miss.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, miss.StatusCode)
}

func TestAcceptor_CloseBeforeServe(t *testing.T) {
	cfg := Defaults()
	cfg.Addr = "127.0.0.1:0"
	acc, err := Listen(cfg, xrail.Env{})
	require.NoError(t, err)
	require.NoError(t, acc.Close())
	require.NoError(t, acc.Serve(context.Background()))
}
