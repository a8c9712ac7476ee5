package xrail

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// AppID addresses one connected client. Messages hold an AppID instead of
// the Endpoint itself so they never keep a connection alive.
type AppID uint64

// NoEndpoint marks a message that did not come from a client.
const NoEndpoint AppID = 0

func (id AppID) String() string {
	if id == NoEndpoint {
		return "-"
	}
	return strconv.FormatUint(uint64(id), 10)
}

var appIDSeq atomic.Uint64

// NextAppID returns a process-unique application id.
func NextAppID() AppID { return AppID(appIDSeq.Add(1)) }

// Conn is the transport side of an endpoint (TCP, WebSocket, test double).
type Conn interface {
	// Send queues msg for delivery. It must not block on the network.
	Send(msg *Message) error
	Close() error
	RemoteAddr() string
	Transport() string
}

// Endpoint is the server-side handle of one connected client.
type Endpoint struct {
	id          AppID
	session     string
	conn        Conn
	connectedAt time.Time
}

// NewEndpoint wraps conn under id.
func NewEndpoint(id AppID, conn Conn) *Endpoint {
	return &Endpoint{
		id:          id,
		session:     uuid.NewString(),
		conn:        conn,
		connectedAt: time.Now(),
	}
}

func (e *Endpoint) ID() AppID { return e.id }

// Session is a random token identifying this connection in logs and audit records.
func (e *Endpoint) Session() string { return e.session }

func (e *Endpoint) RemoteAddr() string { return e.conn.RemoteAddr() }

func (e *Endpoint) Transport() string { return e.conn.Transport() }

func (e *Endpoint) ConnectedAt() time.Time { return e.connectedAt }

func (e *Endpoint) send(msg *Message) error { return e.conn.Send(msg) }

func (e *Endpoint) close() error { return e.conn.Close() }

// ConnectInfo is the payload of the client-connect message an acceptor
// enqueues for every new endpoint.
type ConnectInfo struct {
	AppID     AppID  `json:"app_id"`
	Remote    string `json:"remote"`
	Transport string `json:"transport"`
	Session   string `json:"session"`
}

// Info describes ep for connect messages and client listings.
func (e *Endpoint) Info() ConnectInfo {
	return ConnectInfo{
		AppID:     e.id,
		Remote:    e.RemoteAddr(),
		Transport: e.Transport(),
		Session:   e.session,
	}
}
