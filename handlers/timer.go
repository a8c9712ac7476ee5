package handlers

import (
	"context"

	"github.com/trickstertwo/xrail"
)

type timerHandler struct {
	base
	theme xrail.Theme
}

// Timer fans model-clock ticks and theme changes out to clients and answers
// model-time queries.
func Timer() xrail.HandlerFactory {
	return func(env xrail.Env) (xrail.Handler, error) {
		return &timerHandler{base: newBase(env, "timer")}, nil
	}
}

func (h *timerHandler) Group() xrail.GroupID { return xrail.GroupTimer }

func (h *timerHandler) Init() {
	h.theme = ""
	if mc := h.env.ModelClock; mc != nil {
		h.theme = mc.Reading().Theme
	}
}

func (h *timerHandler) HandleMsg(_ context.Context, msg *xrail.Message) error {
	switch msg.Kind() {
	case xrail.KindTimerGlobalTimerEvent:
		if msg.HasOrigin() {
			return producerOnly(msg)
		}
		return h.relay(msg, xrail.KindTimerGlobalTimerEvent)
	case xrail.KindTimerColorTheme:
		if msg.HasOrigin() {
			return producerOnly(msg)
		}
		tc, err := xrail.Decode[xrail.ThemeChange](msg)
		if err != nil {
			return err
		}
		h.theme = tc.Theme
		return h.relay(msg, xrail.KindTimerColorTheme)
	case xrail.KindTimerGetGlobalTimer:
		mc := h.env.ModelClock
		if mc == nil {
			return xrail.NewClientError(xrail.CodeNotFound, "model clock is disabled")
		}
		return h.reply(msg, xrail.KindTimerGlobalTimer, mc.Reading())
	}
	return xrail.UnknownMessage(msg)
}

func producerOnly(msg *xrail.Message) error {
	return xrail.NewClientError(xrail.CodeNotAllowed, "%s is emitted by the server only", msg.Kind())
}
