package handlers

import (
	"context"
	"errors"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/trickstertwo/xrail"
	"github.com/trickstertwo/xrail/store"
)

const (
	serverNamespace  = "server"
	allowedIPsKey    = "allowed_ips"
	storeInitTimeout = 2 * time.Second
)

// ServerInfo is the payload of the info reply.
type ServerInfo struct {
	Generation    string    `json:"generation"`
	Sequence      uint64    `json:"sequence"`
	Started       time.Time `json:"started"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Endpoints     int       `json:"endpoints"`
	QueueLen      int       `json:"queue_len"`
}

// Connected is the payload sent to a client once it is admitted.
type Connected struct {
	AppID      xrail.AppID `json:"app_id"`
	Generation string      `json:"generation"`
}

// ResetClient names the endpoint to disconnect.
type ResetClient struct {
	AppID xrail.AppID `json:"app_id"`
}

type serverHandler struct {
	base
	store   store.Store
	allowed []string
}

// Server does connection bookkeeping, enforces the IP allow-list and
// forwards reset and shutdown requests to the loop.
func Server(st store.Store) xrail.HandlerFactory {
	return func(env xrail.Env) (xrail.Handler, error) {
		if st == nil {
			st = store.NewMemory()
		}
		return &serverHandler{base: newBase(env, "server"), store: st}, nil
	}
}

func (h *serverHandler) Group() xrail.GroupID { return xrail.GroupServer }

// Init loads the persisted allow-list. A load failure leaves the list empty.
func (h *serverHandler) Init() {
	ctx, cancel := background()
	defer cancel()
	list, err := store.GetJSON[[]string](ctx, h.store, serverNamespace, allowedIPsKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.logger.Warn().Err(err).Msg("xrail: load allow-list")
		}
		list = nil
	}
	h.allowed = list
}

func (h *serverHandler) Shutdown() { h.allowed = nil }

func (h *serverHandler) HandleMsg(ctx context.Context, msg *xrail.Message) error {
	switch msg.Kind() {
	case xrail.KindServerClientConnect:
		return h.clientConnect(msg)
	case xrail.KindServerInfoReq:
		return h.reply(msg, xrail.KindServerInfoRes, h.info())
	case xrail.KindServerConClientsReq:
		return h.reply(msg, xrail.KindServerConClientsRes, h.clients())
	case xrail.KindServerResetClient:
		req, err := xrail.Decode[ResetClient](msg)
		if err != nil {
			return err
		}
		if !h.env.Dispatcher.Disconnect(req.AppID) {
			return xrail.NewClientError(xrail.CodeNotFound, "client %s not connected", req.AppID)
		}
		return nil
	case xrail.KindServerReset:
		return h.env.Queue.Emit(xrail.KindInternalReset, nil, msg.Origin())
	case xrail.KindServerShutdown:
		return h.env.Queue.Emit(xrail.KindInternalShutdown, nil, msg.Origin())
	case xrail.KindServerAddAllowedIP:
		ip, err := decodeIP(msg)
		if err != nil {
			return err
		}
		if containsIP(h.allowed, ip) {
			return h.reply(msg, xrail.KindServerAllowedIPList, h.allowedList())
		}
		return h.setAllowed(ctx, msg, append(append([]string(nil), h.allowed...), ip))
	case xrail.KindServerRemoveAllowedIP:
		ip, err := decodeIP(msg)
		if err != nil {
			return err
		}
		if !containsIP(h.allowed, ip) {
			return xrail.NewClientError(xrail.CodeNotFound, "%s is not allowed", ip)
		}
		next := make([]string, 0, len(h.allowed))
		for _, a := range h.allowed {
			if !sameIP(a, ip) {
				next = append(next, a)
			}
		}
		return h.setAllowed(ctx, msg, next)
	case xrail.KindServerSetAllowedIPList:
		list, err := xrail.Decode[[]string](msg)
		if err != nil {
			return err
		}
		for _, ip := range list {
			if net.ParseIP(ip) == nil {
				return xrail.NewClientError(xrail.CodeInvalidData, "%q is not an IP address", ip)
			}
		}
		return h.setAllowed(ctx, msg, list)
	case xrail.KindServerGetAllowedIPList:
		if !msg.HasOrigin() {
			h.logger.Info().Str("allowed", joinIPs(h.allowed)).Msg("xrail: allow-list")
			return nil
		}
		return h.reply(msg, xrail.KindServerAllowedIPList, h.allowedList())
	}
	return xrail.UnknownMessage(msg)
}

func (h *serverHandler) clientConnect(msg *xrail.Message) error {
	info, err := xrail.Decode[xrail.ConnectInfo](msg)
	if err != nil {
		return err
	}
	id := msg.Origin()
	if !h.admits(info.Remote) {
		h.logger.Warn().
			Str("app_id", id.String()).
			Str("remote", info.Remote).
			Msg("xrail: connection refused by allow-list")
		_ = h.sendTo(id, xrail.KindClientError, xrail.ErrorReply{
			Code:   xrail.CodeNotAllowed,
			Reason: "address not on the allow-list",
			Kind:   msg.Kind().String(),
		})
		h.env.Dispatcher.Disconnect(id)
		return nil
	}
	if err := h.sendTo(id, xrail.KindClientConnected, Connected{AppID: id, Generation: h.env.Generation}); err != nil {
		return err
	}
	return h.broadcast(xrail.KindServerNewClientStarted, info)
}

// admits reports whether remote may stay connected. An empty list admits everyone.
func (h *serverHandler) admits(remote string) bool {
	if len(h.allowed) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	return containsIP(h.allowed, host)
}

func (h *serverHandler) setAllowed(ctx context.Context, msg *xrail.Message, list []string) error {
	sort.Strings(list)
	if err := store.PutJSON(ctx, h.store, serverNamespace, allowedIPsKey, list); err != nil {
		return &xrail.DatabaseError{Op: "save allow-list", Err: err}
	}
	h.allowed = list
	h.logger.Info().Str("allowed", joinIPs(list)).Msg("xrail: allow-list changed")

	// Drop clients the new list no longer admits.
	for _, id := range h.env.Dispatcher.Endpoints() {
		ep, ok := h.env.Dispatcher.Endpoint(id)
		if ok && !h.admits(ep.RemoteAddr()) {
			h.env.Dispatcher.Disconnect(id)
		}
	}
	return h.reply(msg, xrail.KindServerAllowedIPList, h.allowedList())
}

func (h *serverHandler) allowedList() []string {
	if h.allowed == nil {
		return []string{}
	}
	return h.allowed
}

func (h *serverHandler) info() ServerInfo {
	return ServerInfo{
		Generation:    h.env.Generation,
		Sequence:      h.env.Sequence,
		Started:       h.env.Started,
		UptimeSeconds: int64(time.Since(h.env.Started) / time.Second),
		Endpoints:     h.env.Dispatcher.Len(),
		QueueLen:      h.env.Queue.Len(),
	}
}

func (h *serverHandler) clients() []xrail.ConnectInfo {
	ids := h.env.Dispatcher.Endpoints()
	out := make([]xrail.ConnectInfo, 0, len(ids))
	for _, id := range ids {
		if ep, ok := h.env.Dispatcher.Endpoint(id); ok {
			out = append(out, ep.Info())
		}
	}
	return out
}

func decodeIP(msg *xrail.Message) (string, error) {
	ip, err := xrail.Decode[string](msg)
	if err != nil {
		return "", err
	}
	if net.ParseIP(ip) == nil {
		return "", xrail.NewClientError(xrail.CodeInvalidData, "%q is not an IP address", ip)
	}
	return ip, nil
}

func sameIP(a, b string) bool {
	ia, ib := net.ParseIP(a), net.ParseIP(b)
	return ia != nil && ib != nil && ia.Equal(ib)
}

func containsIP(list []string, ip string) bool {
	for _, a := range list {
		if sameIP(a, ip) {
			return true
		}
	}
	return false
}

func joinIPs(list []string) string {
	if len(list) == 0 {
		return "*"
	}
	return strings.Join(list, ";")
}
