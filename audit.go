package xrail

import (
	"github.com/trickstertwo/xlog"
)

// Direction tells whether an audited message entered the queue or left through the dispatcher.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Audit tags.
const (
	TagInternal = "internal"
	TagMessage  = "message"
)

// AuditTag distinguishes control traffic from ordinary traffic.
func AuditTag(msg *Message) string {
	if msg.Kind().Internal() {
		return TagInternal
	}
	return TagMessage
}

// AuditSink receives every enqueued and every sent message.
// Implementations are called from many goroutines and must not block for long.
type AuditSink interface {
	Record(dir Direction, msg *Message, target AppID)
}

// AuditFunc is an Adapter that lets a plain function satisfy AuditSink.
type AuditFunc func(dir Direction, msg *Message, target AppID)

func (f AuditFunc) Record(dir Direction, msg *Message, target AppID) { f(dir, msg, target) }

// LogAudit writes audit records to an xlog logger at debug level.
type LogAudit struct {
	Logger *xlog.Logger
}

func (a LogAudit) Record(dir Direction, msg *Message, target AppID) {
	if a.Logger == nil || msg == nil {
		return
	}
	ev := a.Logger.Debug().
		Str("component", "audit").
		Str("dir", string(dir)).
		Str("tag", AuditTag(msg)).
		Str("kind", msg.Kind().String()).
		Str("origin", msg.Origin().String())
	if dir == DirectionOut {
		ev = ev.Str("target", target.String())
	}
	ev.Msg("xrail audit")
}

type multiAudit []AuditSink

func (m multiAudit) Record(dir Direction, msg *Message, target AppID) {
	for _, s := range m {
		s.Record(dir, msg, target)
	}
}

// MultiAudit fans records out to every non-nil sink.
func MultiAudit(sinks ...AuditSink) AuditSink {
	out := make(multiAudit, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type nopAudit struct{}

func (nopAudit) Record(Direction, *Message, AppID) {}
