package tcp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/trickstertwo/xrail"
	"github.com/trickstertwo/xrail/handlers"
	"github.com/trickstertwo/xrail/store"
)

func take(t *testing.T, q *xrail.Queue) *xrail.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m, err := q.Take(ctx)
	require.NoError(t, err)
	return m
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, Defaults().Validate())
	cfg := Defaults()
	cfg.MaxLineBytes = 10
	require.Error(t, cfg.Validate())
	cfg = Defaults()
	cfg.Addr = ""
	require.Error(t, cfg.Validate())
}

func TestAcceptor_EndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	env := xrail.Env{
		Queue:      xrail.NewQueue(nil, nil),
		Dispatcher: xrail.NewDispatcher(nil, nil),
		Codec:      xrail.DefaultCodec(),
	}
	cfg := Defaults()
	cfg.Addr = "127.0.0.1:0"
	acc, err := Factory(cfg)(env)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- acc.Serve(ctx) }()

	conn, err := net.Dial("tcp", acc.Addr())
	require.NoError(t, err)
	defer conn.Close()
	r := bufio.NewReader(conn)

	connect := take(t, env.Queue)
	require.Equal(t, xrail.KindServerClientConnect, connect.Kind())
	id := connect.Origin()

	_, err = conn.Write([]byte("{\"g\":3,\"m\":2}\n\n"))
	require.NoError(t, err)
	info := take(t, env.Queue)
	assert.Equal(t, xrail.KindServerInfoReq, info.Kind())
	assert.Equal(t, id, info.Origin())

	out, err := xrail.Compose(xrail.KindClientConnected, map[string]any{"app_id": id}, xrail.NoEndpoint)
	require.NoError(t, err)
	require.True(t, env.Dispatcher.Send(out, id))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.JSONEq(t, `{"g":2,"m":4,"d":{"app_id":`+id.String()+`}}`, line)

	require.NoError(t, conn.Close())
	assert.Equal(t, xrail.KindInternalClientShutdown, take(t, env.Queue).Kind())

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestAcceptor_CloseDropsClients(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	env := xrail.Env{Queue: xrail.NewQueue(nil, nil), Dispatcher: xrail.NewDispatcher(nil, nil)}
	cfg := Defaults()
	cfg.Addr = "127.0.0.1:0"
	acc, err := Listen(cfg, env)
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- acc.Serve(context.Background()) }()

	conn, err := net.Dial("tcp", acc.Addr())
	require.NoError(t, err)
	defer conn.Close()
	take(t, env.Queue)

	require.NoError(t, acc.Close())
	require.NoError(t, acc.Close())
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = bufio.NewReader(conn).ReadString('\n')
	assert.Error(t, err)
}

func TestServer_ShutdownNoticeReachesClient(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	cfg := Defaults()
	cfg.Addr = "127.0.0.1:0"
	var acc *Acceptor
	srv, err := xrail.NewServerBuilder().
		WithHandler(handlers.All(store.NewMemory(), nil)...).
		WithAcceptor(func(env xrail.Env) (xrail.Acceptor, error) {
			a, err := Listen(cfg, env)
			acc = a
			return a, err
		}).
		Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()
	require.Eventually(t, func() bool { return srv.Current() != nil }, 2*time.Second, time.Millisecond)

	conn, err := net.Dial("tcp", acc.Addr())
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.Current().Dispatcher.Len() == 1 }, 2*time.Second, time.Millisecond)

	require.True(t, srv.Shutdown())

	// The connection ends only after the notice queued for it is written.
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	r := bufio.NewReader(conn)
	var lines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			break
		}
		lines = append(lines, strings.TrimSpace(line))
	}
	assert.Contains(t, lines, `{"g":3,"m":10}`)

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
