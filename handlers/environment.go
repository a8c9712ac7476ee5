package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/trickstertwo/xrail"
	"github.com/trickstertwo/xrail/store"
)

const (
	environmentNamespace = "environment"
	environmentKey       = "current"
)

// Ambience presets a layout can be switched between.
var ambiences = map[string]bool{
	"DAY":   true,
	"NIGHT": true,
	"DAWN":  true,
	"DUSK":  true,
	"OFF":   true,
}

// EnvironmentState is the lighting and sound state of the layout room.
type EnvironmentState struct {
	Ambience     string `json:"ambience"`
	AmbientLight int    `json:"ambient_light"`
	Sound        bool   `json:"sound"`
}

func (e EnvironmentState) validate() error {
	if !ambiences[e.Ambience] {
		return xrail.NewClientError(xrail.CodeInvalidData, "unknown ambience %q", e.Ambience)
	}
	if e.AmbientLight < 0 || e.AmbientLight > 100 {
		return xrail.NewClientError(xrail.CodeInvalidData, "ambient light %d outside 0..100", e.AmbientLight)
	}
	return nil
}

var defaultEnvironment = EnvironmentState{Ambience: "DAY", AmbientLight: 100}

type environmentHandler struct {
	base
	store store.Store
	state EnvironmentState
}

// Environment keeps the ambience state, persisted across restarts.
func Environment(st store.Store) xrail.HandlerFactory {
	return func(env xrail.Env) (xrail.Handler, error) {
		if st == nil {
			st = store.NewMemory()
		}
		return &environmentHandler{base: newBase(env, "environment"), store: st}, nil
	}
}

func (h *environmentHandler) Group() xrail.GroupID { return xrail.GroupEnvironment }

func (h *environmentHandler) Init() {
	ctx, cancel := background()
	defer cancel()
	st, err := store.GetJSON[EnvironmentState](ctx, h.store, environmentNamespace, environmentKey)
	if err != nil || st.validate() != nil {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.logger.Warn().Err(err).Msg("xrail: load environment")
		}
		st = defaultEnvironment
	}
	h.state = st
}

func (h *environmentHandler) HandleMsg(ctx context.Context, msg *xrail.Message) error {
	switch msg.Kind() {
	case xrail.KindEnvGetEnvironment:
		return h.reply(msg, xrail.KindEnvEnvironment, h.state)
	case xrail.KindEnvSetEnvironment:
		st, err := xrail.Decode[EnvironmentState](msg)
		if err != nil {
			return err
		}
		st.Ambience = strings.ToUpper(st.Ambience)
		return h.update(ctx, st)
	case xrail.KindEnvSetAmbience:
		a, err := xrail.Decode[string](msg)
		if err != nil {
			return err
		}
		st := h.state
		st.Ambience = strings.ToUpper(a)
		return h.update(ctx, st)
	case xrail.KindEnvSetAmbientLight:
		l, err := xrail.Decode[int](msg)
		if err != nil {
			return err
		}
		st := h.state
		st.AmbientLight = l
		return h.update(ctx, st)
	}
	return xrail.UnknownMessage(msg)
}

func (h *environmentHandler) update(ctx context.Context, st EnvironmentState) error {
	if err := st.validate(); err != nil {
		return err
	}
	if st == h.state {
		return nil
	}
	if err := store.PutJSON(ctx, h.store, environmentNamespace, environmentKey, st); err != nil {
		return &xrail.DatabaseError{Op: "save environment", Err: err}
	}
	h.state = st
	return h.broadcast(xrail.KindEnvEnvironment, st)
}
