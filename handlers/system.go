package handlers

import (
	"context"

	"github.com/trickstertwo/xrail"
)

// HardwareStateNotice is the payload of the hardware-state broadcast and reply.
type HardwareStateNotice struct {
	State xrail.HardwareState `json:"state"`
}

type systemHandler struct {
	base
	state xrail.HardwareState
	// resume is the state an emergency-stop release returns to.
	resume xrail.HardwareState
}

// System owns the hardware state machine. Every transition is announced to
// the other handlers through the loop and to clients by broadcast.
func System() xrail.HandlerFactory {
	return func(env xrail.Env) (xrail.Handler, error) {
		return &systemHandler{base: newBase(env, "system")}, nil
	}
}

func (h *systemHandler) Group() xrail.GroupID { return xrail.GroupSystem }

func (h *systemHandler) Init() {
	h.state = xrail.HardwareStandby
	h.resume = xrail.HardwareStandby
}

func (h *systemHandler) State() xrail.HardwareState { return h.state }

func (h *systemHandler) HandleMsg(_ context.Context, msg *xrail.Message) error {
	switch msg.Kind() {
	case xrail.KindSystemGetHardwareState:
		return h.reply(msg, xrail.KindSystemHardwareState, HardwareStateNotice{State: h.state})

	case xrail.KindSystemSetEmergencyStop:
		t, err := xrail.Decode[xrail.Toggle](msg)
		if err != nil {
			return err
		}
		if t.Active {
			if h.state == xrail.HardwareEmergencyStop {
				return nil
			}
			h.resume = h.state
			return h.transition(xrail.HardwareEmergencyStop)
		}
		if h.state != xrail.HardwareEmergencyStop {
			return nil
		}
		return h.transition(h.resume)

	case xrail.KindSystemSetStandbyMode:
		t, err := xrail.Decode[xrail.Toggle](msg)
		if err != nil {
			return err
		}
		if err := h.requireOperable(); err != nil {
			return err
		}
		if t.Active {
			return h.transition(xrail.HardwareStandby)
		}
		if h.state == xrail.HardwareStandby {
			return h.transition(xrail.HardwareManual)
		}
		return nil

	case xrail.KindSystemSetAutomaticMode:
		t, err := xrail.Decode[xrail.Toggle](msg)
		if err != nil {
			return err
		}
		if err := h.requireOperable(); err != nil {
			return err
		}
		switch {
		case t.Active && h.state == xrail.HardwareStandby:
			return xrail.NewClientError(xrail.CodeNotAllowed, "leave standby before enabling automatic mode")
		case t.Active:
			return h.transition(xrail.HardwareAutomatic)
		case h.state == xrail.HardwareAutomatic:
			return h.transition(xrail.HardwareManual)
		}
		return nil

	case xrail.KindSystemHardwareShutdown, xrail.KindSystemHardwareReset:
		// Bridges act on the notice; the layout drops to standby either way.
		if err := h.broadcast(msg.Kind(), nil); err != nil {
			return err
		}
		h.resume = xrail.HardwareStandby
		return h.transition(xrail.HardwareStandby)

	case xrail.KindSystemHardwareConnectivity:
		c, err := xrail.Decode[Connectivity](msg)
		if err != nil {
			return err
		}
		if !c.Connected {
			return h.transition(xrail.HardwareError)
		}
		if h.state == xrail.HardwareError {
			return h.transition(xrail.HardwareStandby)
		}
		return nil
	}
	return xrail.UnknownMessage(msg)
}

func (h *systemHandler) requireOperable() error {
	switch h.state {
	case xrail.HardwareEmergencyStop:
		return xrail.NewClientError(xrail.CodeNotAllowed, "emergency stop is active")
	case xrail.HardwareError:
		return xrail.NewClientError(xrail.CodeNotAllowed, "hardware is in error state")
	}
	return nil
}

func (h *systemHandler) transition(next xrail.HardwareState) error {
	if next == h.state {
		return nil
	}
	prev := h.state
	h.state = next
	h.logger.Info().Str("from", string(prev)).Str("to", string(next)).Msg("xrail: hardware state")
	if err := h.env.Queue.Emit(xrail.KindInternalHardwareStateChanged, next, xrail.NoEndpoint); err != nil {
		return err
	}
	return h.broadcast(xrail.KindSystemHardwareState, HardwareStateNotice{State: next})
}
