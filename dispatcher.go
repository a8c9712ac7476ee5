package xrail

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/trickstertwo/xlog"
)

// Sender is the outbound surface handlers and producers use.
type Sender interface {
	Send(msg *Message, to AppID) bool
	SendGroup(msg *Message) int
	Broadcast(msg *Message) int
}

var _ Sender = (*Dispatcher)(nil)

// Dispatcher owns the live endpoints of one generation.
//
// Endpoints are added by acceptor goroutines and removed by the loop only;
// producers iterate concurrently for broadcasts, hence sync.Map.
type Dispatcher struct {
	endpoints sync.Map // AppID -> *Endpoint
	count     atomic.Int64
	dropped   atomic.Uint64
	audit     AuditSink
	logger    *xlog.Logger
}

// NewDispatcher returns an empty dispatcher. A nil audit disables auditing.
func NewDispatcher(logger *xlog.Logger, audit AuditSink) *Dispatcher {
	if audit == nil {
		audit = nopAudit{}
	}
	if logger == nil {
		logger = xlog.Default()
	}
	return &Dispatcher{audit: audit, logger: logger}
}

// AddEndpoint registers ep. A previous endpoint with the same id is replaced.
func (d *Dispatcher) AddEndpoint(ep *Endpoint) {
	if ep == nil {
		return
	}
	if _, loaded := d.endpoints.Swap(ep.ID(), ep); !loaded {
		d.count.Add(1)
	}
	d.logger.Info().
		Str("app_id", ep.ID().String()).
		Str("remote", ep.RemoteAddr()).
		Str("transport", ep.Transport()).
		Str("session", ep.Session()).
		Msg("xrail: endpoint added")
}

// RemoveEndpoint drops id from the registry and closes its connection.
func (d *Dispatcher) RemoveEndpoint(id AppID) bool {
	v, ok := d.endpoints.LoadAndDelete(id)
	if !ok {
		return false
	}
	d.count.Add(-1)
	ep := v.(*Endpoint)
	_ = ep.close()
	d.logger.Info().Str("app_id", id.String()).Msg("xrail: endpoint removed")
	return true
}

// Endpoint returns the endpoint registered under id.
func (d *Dispatcher) Endpoint(id AppID) (*Endpoint, bool) {
	v, ok := d.endpoints.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Endpoint), true
}

// Disconnect closes the connection of id without unregistering it; the
// connection's reader reports the disconnect through the queue.
func (d *Dispatcher) Disconnect(id AppID) bool {
	ep, ok := d.Endpoint(id)
	if !ok {
		return false
	}
	if err := ep.close(); err != nil {
		d.logger.Warn().Err(err).Str("app_id", id.String()).Msg("xrail: disconnect failed")
	}
	return true
}

// Send delivers msg to one endpoint. An unknown id is logged and ignored.
func (d *Dispatcher) Send(msg *Message, to AppID) bool {
	ep, ok := d.Endpoint(to)
	if !ok {
		d.logger.Warn().
			Str("kind", msg.Kind().String()).
			Str("app_id", to.String()).
			Msg("xrail: send to unknown endpoint dropped")
		return false
	}
	return d.deliver(ep, msg)
}

// SendGroup delivers msg to the subscribers of its kind. There is no
// subscription model yet, so every connected endpoint is a subscriber.
func (d *Dispatcher) SendGroup(msg *Message) int {
	return d.Broadcast(msg)
}

// Broadcast delivers msg to every connected endpoint and returns how many accepted it.
func (d *Dispatcher) Broadcast(msg *Message) int {
	n := 0
	d.endpoints.Range(func(_, v any) bool {
		if d.deliver(v.(*Endpoint), msg) {
			n++
		}
		return true
	})
	return n
}

func (d *Dispatcher) deliver(ep *Endpoint, msg *Message) bool {
	d.audit.Record(DirectionOut, msg, ep.ID())
	if err := ep.send(msg); err != nil {
		d.dropped.Add(1)
		d.logger.Warn().
			Err(err).
			Str("kind", msg.Kind().String()).
			Str("app_id", ep.ID().String()).
			Msg("xrail: send failed")
		return false
	}
	return true
}

// Endpoints returns the registered ids in ascending order.
func (d *Dispatcher) Endpoints() []AppID {
	ids := make([]AppID, 0, d.Len())
	d.endpoints.Range(func(k, _ any) bool {
		ids = append(ids, k.(AppID))
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of registered endpoints.
func (d *Dispatcher) Len() int { return int(d.count.Load()) }

// Dropped returns how many deliveries failed.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// CloseAll removes and closes every endpoint; used on generation teardown.
func (d *Dispatcher) CloseAll() {
	for _, id := range d.Endpoints() {
		d.RemoveEndpoint(id)
	}
}
