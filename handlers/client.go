package handlers

import (
	"context"
	"time"

	"github.com/trickstertwo/xrail"
)

type clientHandler struct {
	base
	lastPong map[xrail.AppID]time.Time
}

// Client relays link-level traffic: echo, ping/pong and close requests.
func Client() xrail.HandlerFactory {
	return func(env xrail.Env) (xrail.Handler, error) {
		return &clientHandler{base: newBase(env, "client")}, nil
	}
}

func (h *clientHandler) Group() xrail.GroupID { return xrail.GroupClient }

func (h *clientHandler) Init() { h.lastPong = make(map[xrail.AppID]time.Time) }

func (h *clientHandler) Shutdown() { h.lastPong = nil }

func (h *clientHandler) FreeResources(id xrail.AppID) { delete(h.lastPong, id) }

func (h *clientHandler) HandleMsg(_ context.Context, msg *xrail.Message) error {
	switch msg.Kind() {
	case xrail.KindClientEchoReq:
		return h.echo(msg, xrail.KindClientEchoRes)
	case xrail.KindClientPing:
		return h.echo(msg, xrail.KindClientPong)
	case xrail.KindClientPong:
		if msg.HasOrigin() && h.lastPong != nil {
			h.lastPong[msg.Origin()] = msg.Created()
		}
		return nil
	case xrail.KindClientClose:
		if msg.HasOrigin() {
			h.env.Dispatcher.Disconnect(msg.Origin())
		}
		return nil
	}
	return xrail.UnknownMessage(msg)
}

func (h *clientHandler) echo(msg *xrail.Message, k xrail.Kind) error {
	if !msg.HasOrigin() {
		return nil
	}
	out, err := xrail.NewMessageAt(h.env.Now(), k.Group, k.ID, msg.Payload(), xrail.NoEndpoint)
	if err != nil {
		return err
	}
	h.env.Dispatcher.Send(out, msg.Origin())
	return nil
}

// LastPong reports when id last answered a ping.
func (h *clientHandler) LastPong(id xrail.AppID) (time.Time, bool) {
	t, ok := h.lastPong[id]
	return t, ok
}
