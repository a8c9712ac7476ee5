package xrail

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeAcceptor struct {
	served atomic.Int32
	closed atomic.Int32
}

func (a *fakeAcceptor) Serve(ctx context.Context) error {
	a.served.Add(1)
	<-ctx.Done()
	return nil
}

func (a *fakeAcceptor) Addr() string { return "fake:0" }

func (a *fakeAcceptor) Close() error {
	a.closed.Add(1)
	return nil
}

// generations collects the handler built for each generation.
type generations struct {
	mu       sync.Mutex
	handlers []*testHandler
	envs     []Env
}

func (g *generations) factory() HandlerFactory {
	return func(env Env) (Handler, error) {
		h := newTestHandler(GroupClient, nil)
		g.mu.Lock()
		g.handlers = append(g.handlers, h)
		g.envs = append(g.envs, env)
		g.mu.Unlock()
		return h, nil
	}
}

func (g *generations) get(i int) (*testHandler, Env) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handlers[i], g.envs[i]
}

func startServer(t *testing.T, srv *Server) (<-chan error, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(ctx) }()
	require.Eventually(t, func() bool { return srv.Current() != nil }, 2*time.Second, time.Millisecond)
	return errc, cancel
}

func waitRun(t *testing.T, errc <-chan error) error {
	t.Helper()
	select {
	case err := <-errc:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
		return nil
	}
}

func TestServer_ResetBuildsFreshGeneration(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gens := &generations{}
	acc := &fakeAcceptor{}
	var producersBuilt atomic.Int32
	srv, err := NewServerBuilder().
		WithHandler(gens.factory()).
		WithAcceptor(func(Env) (Acceptor, error) { return acc, nil }).
		WithProducer(func(env Env) (Producer, error) {
			producersBuilt.Add(1)
			return NewWorker("idle", func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			}), nil
		}).
		Build()
	require.NoError(t, err)

	errc, cancel := startServer(t, srv)
	defer cancel()
	first := srv.Current()
	assert.Equal(t, uint64(1), first.Sequence)
	require.Eventually(t, func() bool { return srv.Health().Status == "healthy" }, 2*time.Second, time.Millisecond)

	// A client connected to the first generation is dropped by the reset.
	c := &recordConn{}
	first.Dispatcher.AddEndpoint(NewEndpoint(NextAppID(), c))

	require.True(t, srv.Reset())
	require.Eventually(t, func() bool {
		g := srv.Current()
		return g != nil && g.Sequence == 2
	}, 2*time.Second, time.Millisecond)
	second := srv.Current()
	assert.NotEqual(t, first.Generation, second.Generation)
	assert.NotSame(t, first.Queue, second.Queue)
	assert.True(t, c.isClosed())
	assert.Contains(t, c.kinds(), KindServerReset)
	assert.Equal(t, int32(2), producersBuilt.Load())

	h1, env1 := gens.get(0)
	// The loop's reset is the only Shutdown/Init pair; teardown adds nothing.
	assert.Equal(t, []string{"init", "shutdown", "init"}, h1.Calls())
	assert.Equal(t, first.Generation, env1.Generation)

	require.True(t, srv.Shutdown())
	require.NoError(t, waitRun(t, errc))
	assert.Nil(t, srv.Current())
	assert.False(t, srv.Reset())
	assert.Equal(t, "stopped", srv.Health().Status)

	h2, _ := gens.get(1)
	assert.Equal(t, []string{"init", "shutdown"}, h2.Calls(), "handlers released by the loop are not shut down twice")
	assert.Equal(t, int32(2), acc.served.Load())
	assert.GreaterOrEqual(t, acc.closed.Load(), int32(2))
	assert.Equal(t, uint64(1), srv.Metrics().Restarts)
}

func TestServer_StaticHandlerRestartsOncePerReset(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newTestHandler(GroupClient, nil)
	srv, err := NewServerBuilder().WithHandler(Static(h)).Build()
	require.NoError(t, err)

	errc, cancel := startServer(t, srv)
	defer cancel()
	assert.Equal(t, []string{"init"}, h.Calls())

	require.True(t, srv.Reset())
	require.Eventually(t, func() bool {
		g := srv.Current()
		return g != nil && g.Sequence == 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []string{"init", "shutdown", "init"}, h.Calls())

	require.True(t, srv.Shutdown())
	require.NoError(t, waitRun(t, errc))
	assert.Equal(t, []string{"init", "shutdown", "init", "shutdown"}, h.Calls())
}

func TestServer_ContextCancelStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gens := &generations{}
	srv, err := NewServerBuilder().WithHandler(gens.factory()).Build()
	require.NoError(t, err)

	errc, cancel := startServer(t, srv)
	require.ErrorIs(t, srv.Run(context.Background()), ErrServerRunning)
	cancel()
	require.NoError(t, waitRun(t, errc))

	h, _ := gens.get(0)
	assert.Equal(t, []string{"init", "shutdown"}, h.Calls())
}

func TestServer_HandlerFailureRestarts(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var fail atomic.Bool
	fail.Store(true)
	srv, err := NewServerBuilder().
		WithHandler(func(Env) (Handler, error) {
			return newTestHandler(GroupClient, func(*Message) error {
				if fail.CompareAndSwap(true, false) {
					return errBoom
				}
				return nil
			}), nil
		}).
		Build()
	require.NoError(t, err)

	errc, cancel := startServer(t, srv)
	defer cancel()
	srv.Current().Queue.Enqueue(mustCompose(t, KindClientEchoReq, nil, NoEndpoint))
	require.Eventually(t, func() bool {
		g := srv.Current()
		return g != nil && g.Sequence == 2
	}, 3*time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), srv.Metrics().Failures)

	require.True(t, srv.Shutdown())
	require.NoError(t, waitRun(t, errc))
}

func TestServer_BuildFailureSurfaces(t *testing.T) {
	bindErr := errors.New("address in use")
	srv, err := NewServerBuilder().
		WithHandler(func(Env) (Handler, error) { return newTestHandler(GroupClient, nil), nil }).
		WithAcceptor(func(Env) (Acceptor, error) { return nil, bindErr }).
		Build()
	require.NoError(t, err)
	require.ErrorIs(t, srv.Run(context.Background()), bindErr)

	dup, err := NewServerBuilder().
		WithHandler(
			func(Env) (Handler, error) { return newTestHandler(GroupClient, nil), nil },
			func(Env) (Handler, error) { return newTestHandler(GroupClient, nil), nil },
		).
		Build()
	require.NoError(t, err)
	require.ErrorIs(t, dup.Run(context.Background()), ErrDuplicateHandler)
}

func TestServerBuilder_Validation(t *testing.T) {
	_, err := NewServerBuilder().Build()
	require.ErrorIs(t, err, ErrNoHandlers)

	bad := DefaultModelClockConfig()
	bad.Interval = 3 * time.Second
	_, err = NewServerBuilder().WithHandler(Static(newTestHandler(GroupClient, nil))).WithModelClock(bad).Build()
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewServerBuilder().WithHandler(Static(newTestHandler(GroupClient, nil))).WithCodec("msgpack").Build()
	require.Error(t, err)
}

func TestServer_ModelClockInEnv(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gens := &generations{}
	srv, err := NewServerBuilder().
		WithHandler(gens.factory()).
		WithModelClock(DefaultModelClockConfig()).
		WithObserverPool(2, 16).
		Build()
	require.NoError(t, err)

	errc, cancel := startServer(t, srv)
	defer cancel()
	gen := srv.Current()
	require.NotNil(t, gen.ModelClock)
	require.Len(t, gen.Producers(), 1)
	assert.True(t, gen.ModelClock.Running())

	require.True(t, srv.Shutdown())
	require.NoError(t, waitRun(t, errc))
	assert.False(t, gen.ModelClock.Running())
}
