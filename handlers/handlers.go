// Package handlers implements the per-group business logic of the railway
// server. Every handler runs on the loop goroutine and needs no locking.
package handlers

import (
	"context"
	"errors"

	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xrail"
	"github.com/trickstertwo/xrail/store"
)

// All returns factories for every handler, sharing st and router.
func All(st store.Store, router Router) []xrail.HandlerFactory {
	return []xrail.HandlerFactory{
		Client(),
		Server(st),
		Timer(),
		Environment(st),
		Interface(),
		System(),
		Layout(st, router),
	}
}

// base carries what every handler needs from its generation.
type base struct {
	xrail.BaseHandler
	env    xrail.Env
	logger *xlog.Logger
}

func newBase(env xrail.Env, name string) base {
	l := env.Logger
	if l == nil {
		l = xlog.Default()
	}
	return base{env: env, logger: l.With(xlog.Str("handler", name))}
}

// reply sends v as kind k to the origin of msg. Messages without an origin
// have nobody to answer, so the reply is skipped.
func (b *base) reply(msg *xrail.Message, k xrail.Kind, v any) error {
	if !msg.HasOrigin() {
		return nil
	}
	out, err := xrail.ComposeAt(b.env.Now(), k, v, xrail.NoEndpoint)
	if err != nil {
		return err
	}
	b.env.Dispatcher.Send(out, msg.Origin())
	return nil
}

func (b *base) sendTo(id xrail.AppID, k xrail.Kind, v any) error {
	out, err := xrail.ComposeAt(b.env.Now(), k, v, xrail.NoEndpoint)
	if err != nil {
		return err
	}
	b.env.Dispatcher.Send(out, id)
	return nil
}

func (b *base) broadcast(k xrail.Kind, v any) error {
	out, err := xrail.ComposeAt(b.env.Now(), k, v, xrail.NoEndpoint)
	if err != nil {
		return err
	}
	b.env.Dispatcher.Broadcast(out)
	return nil
}

// relay re-sends the raw payload of msg as kind k to the subscribers of k.
func (b *base) relay(msg *xrail.Message, k xrail.Kind) error {
	out, err := xrail.NewMessageAt(b.env.Now(), k.Group, k.ID, msg.Payload(), xrail.NoEndpoint)
	if err != nil {
		return err
	}
	b.env.Dispatcher.SendGroup(out)
	return nil
}

// dbErr converts a store failure: missing keys become a NotFound client
// error, everything else a DatabaseError.
func dbErr(op, what string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return xrail.NewClientError(xrail.CodeNotFound, "%s not found", what)
	}
	return &xrail.DatabaseError{Op: op, Err: err}
}

// background is used by lifecycle hooks, which carry no context of their own.
func background() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeInitTimeout)
}
