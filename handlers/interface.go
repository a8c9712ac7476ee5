package handlers

import (
	"context"

	"github.com/trickstertwo/xrail"
)

// Connectivity is sent by a hardware bridge when its link state changes.
type Connectivity struct {
	Connected bool   `json:"connected"`
	Bridge    string `json:"bridge,omitempty"`
}

// ContactTriggered reports a track contact.
type ContactTriggered struct {
	Module  int  `json:"module"`
	Contact int  `json:"contact"`
	State   bool `json:"state"`
}

// SwitchAction asks the bridges to throw a switch.
type SwitchAction struct {
	Module   int    `json:"module"`
	Switch   int    `json:"switch"`
	Position string `json:"position"`
}

type interfaceHandler struct {
	base
	bridges map[xrail.AppID]string
	state   xrail.HardwareState
}

// Interface relays hardware bridge traffic. Bridges announce themselves with
// a connectivity message; their disconnect is broadcast as lost connectivity.
func Interface() xrail.HandlerFactory {
	return func(env xrail.Env) (xrail.Handler, error) {
		return &interfaceHandler{base: newBase(env, "interface")}, nil
	}
}

func (h *interfaceHandler) Group() xrail.GroupID { return xrail.GroupInterface }

func (h *interfaceHandler) Init() {
	h.bridges = make(map[xrail.AppID]string)
	h.state = xrail.HardwareStandby
}

func (h *interfaceHandler) Shutdown() { h.bridges = nil }

func (h *interfaceHandler) HardwareStateChanged(state xrail.HardwareState) { h.state = state }

func (h *interfaceHandler) FreeResources(id xrail.AppID) {
	name, ok := h.bridges[id]
	if !ok {
		return
	}
	delete(h.bridges, id)
	if err := h.broadcast(xrail.KindInterfaceConnectivity, Connectivity{Connected: false, Bridge: name}); err != nil {
		h.logger.Warn().Err(err).Msg("xrail: broadcast bridge loss")
	}
}

func (h *interfaceHandler) HandleMsg(_ context.Context, msg *xrail.Message) error {
	switch msg.Kind() {
	case xrail.KindInterfaceConnectivity:
		c, err := xrail.Decode[Connectivity](msg)
		if err != nil {
			return err
		}
		if msg.HasOrigin() && h.bridges != nil {
			if c.Connected {
				h.bridges[msg.Origin()] = c.Bridge
			} else {
				delete(h.bridges, msg.Origin())
			}
		}
		return h.broadcast(xrail.KindInterfaceConnectivity, c)
	case xrail.KindInterfaceContactTriggered:
		if _, err := xrail.Decode[ContactTriggered](msg); err != nil {
			return err
		}
		return h.relay(msg, xrail.KindInterfaceContactTriggered)
	case xrail.KindInterfaceSwitchAction:
		a, err := xrail.Decode[SwitchAction](msg)
		if err != nil {
			return err
		}
		if a.Position == "" {
			return xrail.NewClientError(xrail.CodeInvalidData, "switch %d: position required", a.Switch)
		}
		if h.state != xrail.HardwareManual && h.state != xrail.HardwareAutomatic {
			return xrail.NewClientError(xrail.CodeNotAllowed, "switching refused in %s", h.state)
		}
		return h.relay(msg, xrail.KindInterfaceSwitchAction)
	}
	return xrail.UnknownMessage(msg)
}
