package xrail

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestWorker_StartHaltRestart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var runs atomic.Int32
	w := NewWorker("test", func(ctx context.Context) error {
		runs.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, w.Halt(), "halting a never-started worker is a no-op")

	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.Running())
	require.NoError(t, w.Halt())
	assert.False(t, w.Running())
	assert.ErrorIs(t, w.Err(), context.Canceled)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Halt())
	assert.Equal(t, int32(2), runs.Load())
}

func TestWorker_HaltTimeout(t *testing.T) {
	release := make(chan struct{})
	w := NewWorker("stubborn", func(context.Context) error {
		<-release
		return nil
	}, WithHaltTimeout(20*time.Millisecond))
	require.NoError(t, w.Start(context.Background()))

	require.ErrorIs(t, w.Halt(), ErrHaltTimeout)
	assert.True(t, w.Running())
	close(release)
	require.Eventually(t, func() bool { return !w.Running() }, time.Second, time.Millisecond)
}

func TestWorker_InterruptUnblocks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	unblock := make(chan struct{})
	w := NewWorker("blocked", func(context.Context) error {
		<-unblock
		return nil
	}, WithInterrupt(func() { close(unblock) }))
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Halt())
}

func TestKeepAlive_BroadcastsSequencedPings(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	d := NewDispatcher(nil, nil)
	c := &recordConn{}
	d.AddEndpoint(NewEndpoint(NextAppID(), c))

	clock := newFixedClock()
	ka, err := NewKeepAlive(5*time.Millisecond, d, WithWorkerClock(clock))
	require.NoError(t, err)
	require.NoError(t, ka.Start(context.Background()))
	require.Eventually(t, func() bool { return len(c.kinds()) >= 2 }, 2*time.Second, time.Millisecond)
	require.NoError(t, ka.Halt())

	c.mu.Lock()
	first, second := c.sent[0], c.sent[1]
	c.mu.Unlock()
	assert.Equal(t, KindClientPing, first.Kind())
	assert.Equal(t, int64(1), payloadOf[Ping](t, first).Seq)
	assert.Equal(t, int64(2), payloadOf[Ping](t, second).Seq)
	assert.Equal(t, clock.Now(), first.Created(), "pings are stamped by the worker clock")

	_, err = NewKeepAlive(0, d)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
