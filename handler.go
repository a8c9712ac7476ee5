package xrail

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// HardwareState is the global operating mode of the layout hardware.
type HardwareState string

const (
	HardwareError         HardwareState = "ERROR"
	HardwareStandby       HardwareState = "STANDBY"
	HardwareEmergencyStop HardwareState = "EMERGENCY_STOP"
	HardwareManual        HardwareState = "MANUAL"
	HardwareAutomatic     HardwareState = "AUTOMATIC"
)

// ParseHardwareState accepts the canonical names case-insensitively.
func ParseHardwareState(s string) (HardwareState, error) {
	switch st := HardwareState(strings.ToUpper(strings.TrimSpace(s))); st {
	case HardwareError, HardwareStandby, HardwareEmergencyStop, HardwareManual, HardwareAutomatic:
		return st, nil
	}
	return "", fmt.Errorf("%w: hardware state %q", ErrInvalidArgument, s)
}

func (s *HardwareState) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseHardwareState(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Handler owns one message group. Every method runs on the loop goroutine.
type Handler interface {
	Group() GroupID

	// HandleMsg processes one message of the handler's group. A returned
	// *ClientError or *DatabaseError is answered to the origin; anything
	// else restarts the generation.
	HandleMsg(ctx context.Context, msg *Message) error

	// FreeResources drops whatever the handler tracks for id. It must be
	// idempotent and safe for ids the handler never saw.
	FreeResources(id AppID)

	Init()
	Shutdown()

	HardwareStateChanged(state HardwareState)
}

// Reset restarts h in place.
func Reset(h Handler) {
	h.Shutdown()
	h.Init()
}

// BaseHandler gives embedders no-op lifecycle hooks.
type BaseHandler struct{}

func (BaseHandler) FreeResources(AppID)                {}
func (BaseHandler) Init()                              {}
func (BaseHandler) Shutdown()                          {}
func (BaseHandler) HardwareStateChanged(HardwareState) {}

// UnknownMessage is the error handlers return for a kind they do not serve.
func UnknownMessage(msg *Message) error {
	return NewClientError(CodeUnknownMessage, "%s is not handled", msg.Kind())
}
