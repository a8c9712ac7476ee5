package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/trickstertwo/xrail"
	"github.com/trickstertwo/xrail/store"
)

const layoutNamespace = "layouts"

// Layout is a stored track plan. Data is kept opaque apart from what the
// router reads out of it.
type Layout struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Data    json.RawMessage `json:"data,omitempty"`
	Updated time.Time       `json:"updated"`
}

// LayoutSummary lists a layout without its data.
type LayoutSummary struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Updated time.Time `json:"updated"`
}

func (l Layout) summary() LayoutSummary {
	return LayoutSummary{ID: l.ID, Name: l.Name, Updated: l.Updated}
}

// LayoutLock announces who holds the edit lock of a layout.
type LayoutLock struct {
	ID    string      `json:"id"`
	AppID xrail.AppID `json:"app_id"`
}

// LayoutRef names a layout.
type LayoutRef struct {
	ID string `json:"id"`
}

// RouteRequest asks for a path between two nodes of a layout.
type RouteRequest struct {
	Layout string `json:"layout"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// Route answers a RouteRequest.
type Route struct {
	Layout string   `json:"layout"`
	Path   []string `json:"path"`
}

type layoutHandler struct {
	base
	store  store.Store
	router Router
	locks  map[string]xrail.AppID
	state  xrail.HardwareState
}

// Layout manages stored layouts, their edit locks and route lookups.
// A nil router falls back to GraphRouter.
func Layout(st store.Store, router Router) xrail.HandlerFactory {
	return func(env xrail.Env) (xrail.Handler, error) {
		if st == nil {
			st = store.NewMemory()
		}
		if router == nil {
			router = GraphRouter{}
		}
		return &layoutHandler{base: newBase(env, "layout"), store: st, router: router}, nil
	}
}

func (h *layoutHandler) Group() xrail.GroupID { return xrail.GroupLayout }

func (h *layoutHandler) Init() {
	h.locks = make(map[string]xrail.AppID)
	h.state = xrail.HardwareStandby
}

func (h *layoutHandler) Shutdown() { h.locks = nil }

func (h *layoutHandler) HardwareStateChanged(state xrail.HardwareState) { h.state = state }

// FreeResources releases every lock held by id.
func (h *layoutHandler) FreeResources(id xrail.AppID) {
	for lid, holder := range h.locks {
		if holder != id {
			continue
		}
		delete(h.locks, lid)
		if err := h.broadcast(xrail.KindLayoutUnlocked, LayoutLock{ID: lid, AppID: id}); err != nil {
			h.logger.Warn().Err(err).Str("layout", lid).Msg("xrail: broadcast unlock")
		}
	}
}

func (h *layoutHandler) HandleMsg(ctx context.Context, msg *xrail.Message) error {
	switch msg.Kind() {
	case xrail.KindLayoutGetLayouts:
		list, err := h.list(ctx)
		if err != nil {
			return err
		}
		return h.reply(msg, xrail.KindLayoutLayouts, list)

	case xrail.KindLayoutGetLayout:
		ref, err := xrail.Decode[LayoutRef](msg)
		if err != nil {
			return err
		}
		l, err := h.load(ctx, ref.ID)
		if err != nil {
			return err
		}
		return h.reply(msg, xrail.KindLayoutLayout, l)

	case xrail.KindLayoutSaveLayout:
		l, err := xrail.Decode[Layout](msg)
		if err != nil {
			return err
		}
		if l.ID == "" {
			return xrail.NewClientError(xrail.CodeInvalidData, "layout id required")
		}
		if err := h.writable(l.ID, msg.Origin()); err != nil {
			return err
		}
		l.Updated = h.now()
		if err := store.PutJSON(ctx, h.store, layoutNamespace, l.ID, l); err != nil {
			return &xrail.DatabaseError{Op: "save layout", Err: err}
		}
		return h.broadcast(xrail.KindLayoutChanged, l.summary())

	case xrail.KindLayoutDeleteLayout:
		ref, err := xrail.Decode[LayoutRef](msg)
		if err != nil {
			return err
		}
		if err := h.writable(ref.ID, msg.Origin()); err != nil {
			return err
		}
		if err := h.store.Delete(ctx, layoutNamespace, ref.ID); err != nil {
			return dbErr("delete layout", "layout "+ref.ID, err)
		}
		delete(h.locks, ref.ID)
		return h.broadcast(xrail.KindLayoutDeleted, ref)

	case xrail.KindLayoutLock:
		ref, err := xrail.Decode[LayoutRef](msg)
		if err != nil {
			return err
		}
		if _, err := h.load(ctx, ref.ID); err != nil {
			return err
		}
		if holder, ok := h.locks[ref.ID]; ok {
			if holder == msg.Origin() {
				return nil
			}
			return xrail.NewClientError(xrail.CodeLocked, "layout %s is locked by %s", ref.ID, holder)
		}
		h.locks[ref.ID] = msg.Origin()
		return h.broadcast(xrail.KindLayoutLocked, LayoutLock{ID: ref.ID, AppID: msg.Origin()})

	case xrail.KindLayoutUnlock:
		ref, err := xrail.Decode[LayoutRef](msg)
		if err != nil {
			return err
		}
		holder, ok := h.locks[ref.ID]
		if !ok {
			return nil
		}
		if holder != msg.Origin() {
			return xrail.NewClientError(xrail.CodeNotAllowed, "layout %s is locked by %s", ref.ID, holder)
		}
		delete(h.locks, ref.ID)
		return h.broadcast(xrail.KindLayoutUnlocked, LayoutLock{ID: ref.ID, AppID: holder})

	case xrail.KindLayoutGetRoute:
		req, err := xrail.Decode[RouteRequest](msg)
		if err != nil {
			return err
		}
		l, err := h.load(ctx, req.Layout)
		if err != nil {
			return err
		}
		path, err := h.router.Route(l, req.From, req.To)
		if err != nil {
			return err
		}
		return h.reply(msg, xrail.KindLayoutRoute, Route{Layout: l.ID, Path: path})
	}
	return xrail.UnknownMessage(msg)
}

// writable refuses edits during automatic operation and while another
// client holds the lock.
func (h *layoutHandler) writable(id string, who xrail.AppID) error {
	if h.state == xrail.HardwareAutomatic {
		return xrail.NewClientError(xrail.CodeNotAllowed, "layouts are read-only in automatic mode")
	}
	if holder, ok := h.locks[id]; ok && holder != who {
		return xrail.NewClientError(xrail.CodeLocked, "layout %s is locked by %s", id, holder)
	}
	return nil
}

func (h *layoutHandler) load(ctx context.Context, id string) (Layout, error) {
	if id == "" {
		return Layout{}, xrail.NewClientError(xrail.CodeInvalidData, "layout id required")
	}
	l, err := store.GetJSON[Layout](ctx, h.store, layoutNamespace, id)
	if err != nil {
		return Layout{}, dbErr("load layout", "layout "+id, err)
	}
	return l, nil
}

func (h *layoutHandler) list(ctx context.Context) ([]LayoutSummary, error) {
	keys, err := h.store.List(ctx, layoutNamespace)
	if err != nil {
		return nil, &xrail.DatabaseError{Op: "list layouts", Err: err}
	}
	out := make([]LayoutSummary, 0, len(keys))
	for _, k := range keys {
		l, err := h.load(ctx, k)
		if err != nil {
			return nil, err
		}
		out = append(out, l.summary())
	}
	return out, nil
}

func (h *layoutHandler) now() time.Time { return h.env.Now().UTC() }
