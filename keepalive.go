package xrail

import (
	"context"
	"fmt"
	"time"
)

// DefaultKeepAliveInterval keeps idle connections below common NAT timeouts.
const DefaultKeepAliveInterval = 30 * time.Second

// Ping is the payload of the keep-alive notice.
type Ping struct {
	Seq int64 `json:"seq"`
}

// KeepAlive broadcasts a ping to every endpoint on a fixed schedule.
type KeepAlive struct {
	*Ticker
	sender Sender
	seq    int64
}

// NewKeepAlive returns a stopped keep-alive producer sending through s.
func NewKeepAlive(interval time.Duration, s Sender, opts ...WorkerOption) (*KeepAlive, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: keep-alive interval must be > 0", ErrInvalidArgument)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: keep-alive needs a sender", ErrInvalidArgument)
	}
	ka := &KeepAlive{sender: s}
	ka.Ticker = NewTicker("keep-alive", interval, func(context.Context) { ka.ping() }, opts...)
	return ka, nil
}

// ping runs on the worker goroutine only.
func (ka *KeepAlive) ping() {
	ka.seq++
	msg, err := ComposeAt(ka.clock.Now(), KindClientPing, Ping{Seq: ka.seq}, NoEndpoint)
	if err != nil {
		ka.logger.Error().Err(err).Msg("xrail: compose ping")
		return
	}
	ka.sender.Broadcast(msg)
}
