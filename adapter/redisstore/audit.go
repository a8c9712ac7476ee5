package redisstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xrail"
)

// Stream entry fields.
const (
	fieldDir     = "dir"
	fieldTag     = "tag"
	fieldKind    = "kind"
	fieldGroup   = "group"
	fieldMessage = "msg"
	fieldOrigin  = "origin"
	fieldTarget  = "target"
	fieldPayload = "payload"
	fieldAt      = "at"
)

type record struct {
	dir    xrail.Direction
	msg    *xrail.Message
	target xrail.AppID
}

// AuditStream appends audit records to a Redis stream. Record never
// blocks: records are batched by a background goroutine and dropped when
// the buffer is full.
type AuditStream struct {
	client *redis.Client
	stream string
	maxLen int64
	batch  int
	logger *xlog.Logger

	ch      chan record
	stop    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

var _ xrail.AuditSink = (*AuditStream)(nil)

// NewAuditStream starts the writer goroutine. Close flushes and stops it.
func NewAuditStream(client *redis.Client, cfg Config, logger *xlog.Logger) *AuditStream {
	d := Defaults()
	if cfg.AuditStream == "" {
		cfg.AuditStream = d.AuditStream
	}
	if cfg.AuditBuffer < 1 {
		cfg.AuditBuffer = d.AuditBuffer
	}
	if cfg.AuditBatch < 1 {
		cfg.AuditBatch = d.AuditBatch
	}
	if logger == nil {
		logger = xlog.Default()
	}
	a := &AuditStream{
		client: client,
		stream: cfg.AuditStream,
		maxLen: cfg.MaxLenApprox,
		batch:  cfg.AuditBatch,
		logger: logger,
		ch:     make(chan record, cfg.AuditBuffer),
		stop:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *AuditStream) Record(dir xrail.Direction, msg *xrail.Message, target xrail.AppID) {
	if msg == nil || a.closed.Load() {
		return
	}
	select {
	case a.ch <- record{dir: dir, msg: msg, target: target}:
	default:
		a.dropped.Add(1)
	}
}

func (a *AuditStream) run() {
	defer a.wg.Done()
	buf := make([]record, 0, a.batch)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case r := <-a.ch:
			buf = append(buf, r)
			if len(buf) >= a.batch {
				buf = a.flush(buf)
			}
		case <-tick.C:
			buf = a.flush(buf)
		case <-a.stop:
			for {
				select {
				case r := <-a.ch:
					buf = append(buf, r)
				default:
					a.flush(buf)
					return
				}
			}
		}
	}
}

// flush writes buf with one pipelined round trip and returns it emptied.
func (a *AuditStream) flush(buf []record) []record {
	if len(buf) == 0 {
		return buf
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pipe := a.client.Pipeline()
	for _, r := range buf {
		args := &redis.XAddArgs{
			Stream: a.stream,
			ID:     "*",
			Values: values(r),
		}
		if a.maxLen > 0 {
			args.MaxLen = a.maxLen
			args.Approx = true
		}
		pipe.XAdd(ctx, args)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		a.failed.Add(uint64(len(buf)))
		a.logger.Warn().Err(err).Str("stream", a.stream).Msg("xrail: audit flush failed")
	} else {
		a.written.Add(uint64(len(buf)))
	}
	for i := range buf {
		buf[i] = record{}
	}
	return buf[:0]
}

func values(r record) map[string]any {
	v := map[string]any{
		fieldDir:     string(r.dir),
		fieldTag:     xrail.AuditTag(r.msg),
		fieldKind:    r.msg.Kind().String(),
		fieldGroup:   int(r.msg.Group()),
		fieldMessage: int(r.msg.ID()),
		fieldOrigin:  uint64(r.msg.Origin()),
		fieldAt:      r.msg.Created().UnixMilli(),
	}
	if r.dir == xrail.DirectionOut {
		v[fieldTarget] = uint64(r.target)
	}
	if p := r.msg.Payload(); len(p) > 0 {
		v[fieldPayload] = p
	}
	return v
}

// AuditStats is a snapshot of AuditStream counters.
type AuditStats struct {
	Written uint64
	Dropped uint64
	Failed  uint64
}

func (a *AuditStream) Stats() AuditStats {
	return AuditStats{
		Written: a.written.Load(),
		Dropped: a.dropped.Load(),
		Failed:  a.failed.Load(),
	}
}

// Close flushes buffered records and stops the writer.
func (a *AuditStream) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	close(a.stop)
	a.wg.Wait()
	return nil
}
