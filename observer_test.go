package xrail

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestObserverPool_DeliversAndSurvivesPanics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewObserverPool(context.Background(), 2, 64)
	var seen atomic.Int32
	good := ObserverFunc(func(Event) { seen.Add(1) })
	bad := ObserverFunc(func(Event) { panic("observer bug") })

	for i := 0; i < 10; i++ {
		pool.Notify(Event{Type: EventHandled}, []Observer{bad, good})
	}
	require.Eventually(t, func() bool { return seen.Load() == 10 }, 2*time.Second, time.Millisecond)
	require.NoError(t, pool.Close(time.Second))

	st := pool.Stats()
	assert.Equal(t, uint64(10), st.Processed)
	assert.Equal(t, uint64(10), st.Panics)
	assert.Equal(t, 2, st.Workers)

	pool.Notify(Event{Type: EventHandled}, []Observer{good})
	assert.Equal(t, int32(10), seen.Load(), "closed pool drops events")
}

func TestLoggingObserver_Levels(t *testing.T) {
	var buf syncBuffer
	o := LoggingObserver{Logger: bufferLogger(&buf)}
	o.OnEvent(Event{Type: EventFailure, Kind: KindClientEchoReq, Err: errBoom})
	o.OnEvent(Event{Type: EventReset, Kind: KindInternalReset})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"level":"error"`)
	assert.Contains(t, lines[0], `"event":"failure"`)
	assert.Contains(t, lines[1], `"level":"info"`)
}

func TestAudit_TagsAndFanOut(t *testing.T) {
	var in, out atomic.Int32
	sink := AuditFunc(func(dir Direction, msg *Message, _ AppID) {
		if dir == DirectionIn {
			in.Add(1)
		} else {
			out.Add(1)
		}
	})
	multi := MultiAudit(sink, nil, sink)
	multi.Record(DirectionIn, mustCompose(t, KindInternalReset, nil, NoEndpoint), NoEndpoint)
	multi.Record(DirectionOut, mustCompose(t, KindClientPing, nil, NoEndpoint), 3)
	assert.Equal(t, int32(2), in.Load())
	assert.Equal(t, int32(2), out.Load())

	assert.Equal(t, TagInternal, AuditTag(mustCompose(t, KindInternalShutdown, nil, NoEndpoint)))
	assert.Equal(t, TagMessage, AuditTag(mustCompose(t, KindServerShutdown, nil, NoEndpoint)))
}
