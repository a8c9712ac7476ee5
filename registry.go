package xrail

import (
	"fmt"
)

// Registry maps group ids to handlers for one generation.
// It is filled before the loop starts and afterwards touched only by the loop.
type Registry struct {
	handlers map[GroupID]Handler
	order    []GroupID
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[GroupID]Handler)}
}

// Register adds h under its group. A group can be claimed once, and the
// internal group never.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidArgument)
	}
	g := h.Group()
	if g < 1 {
		return fmt.Errorf("%w: group id %d below 1", ErrInvalidArgument, g)
	}
	if g == GroupInternal {
		return fmt.Errorf("%w: %s", ErrReservedGroup, g)
	}
	if _, ok := r.handlers[g]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, g)
	}
	r.handlers[g] = h
	r.order = append(r.order, g)
	return nil
}

// Lookup returns the handler registered for g.
func (r *Registry) Lookup(g GroupID) (Handler, bool) {
	h, ok := r.handlers[g]
	return h, ok
}

func (r *Registry) Len() int { return len(r.order) }

// Groups returns the registered groups in registration order.
func (r *Registry) Groups() []GroupID {
	out := make([]GroupID, len(r.order))
	copy(out, r.order)
	return out
}

// Each calls fn for every handler in registration order.
func (r *Registry) Each(fn func(Handler)) {
	for _, g := range r.order {
		fn(r.handlers[g])
	}
}

func (r *Registry) InitAll() { r.Each(func(h Handler) { h.Init() }) }

func (r *Registry) ShutdownAll() { r.Each(func(h Handler) { h.Shutdown() }) }

func (r *Registry) ResetAll() { r.Each(Reset) }

func (r *Registry) FreeResources(id AppID) {
	r.Each(func(h Handler) { h.FreeResources(id) })
}

func (r *Registry) HardwareStateChanged(state HardwareState) {
	r.Each(func(h Handler) { h.HardwareStateChanged(state) })
}
