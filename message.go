package xrail

import (
	"fmt"
	"time"
)

// Message is the immutable unit of work flowing through the queue.
// Fields are read through accessors; nothing mutates a Message once built.
type Message struct {
	kind    Kind
	payload []byte
	origin  AppID
	created time.Time
	trigger int64
}

// NewMessage builds a message stamped with the current wall-clock time.
// origin is the application id of the endpoint the message came from, or
// NoEndpoint. Both ids must be at least 1.
func NewMessage(group GroupID, id MessageID, payload []byte, origin AppID) (*Message, error) {
	return NewMessageAt(time.Now(), group, id, payload, origin)
}

// NewMessageAt is NewMessage with an explicit creation time.
func NewMessageAt(at time.Time, group GroupID, id MessageID, payload []byte, origin AppID) (*Message, error) {
	if group < 1 {
		return nil, fmt.Errorf("%w: group id %d below 1", ErrInvalidArgument, group)
	}
	if id < 1 {
		return nil, fmt.Errorf("%w: message id %d below 1", ErrInvalidArgument, id)
	}
	k := Kind{Group: group, ID: id}
	return &Message{
		kind:    k,
		payload: payload,
		origin:  origin,
		created: at,
		trigger: at.Add(k.Info().Priority.Offset()).UnixMilli(),
	}, nil
}

// Compose encodes v with the default codec and builds a message of kind k.
// A nil v produces an empty payload.
func Compose(k Kind, v any, origin AppID) (*Message, error) {
	return ComposeAt(time.Now(), k, v, origin)
}

// ComposeAt is Compose with an explicit creation time.
func ComposeAt(at time.Time, k Kind, v any, origin AppID) (*Message, error) {
	var data []byte
	if v != nil {
		var err error
		if data, err = DefaultCodec().Marshal(v); err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
	}
	return NewMessageAt(at, k.Group, k.ID, data, origin)
}

func (m *Message) Kind() Kind { return m.kind }

func (m *Message) Group() GroupID { return m.kind.Group }

func (m *Message) ID() MessageID { return m.kind.ID }

func (m *Message) Origin() AppID { return m.origin }

func (m *Message) Created() time.Time { return m.created }

// Payload returns the encoded payload. Callers must not modify it.
func (m *Message) Payload() []byte { return m.payload }

// Trigger is the ordering key: creation time in ms plus the priority offset.
func (m *Message) Trigger() int64 { return m.trigger }

// HasOrigin reports whether the message came from a connected endpoint.
func (m *Message) HasOrigin() bool { return m.origin != NoEndpoint }

func (m *Message) String() string {
	return fmt.Sprintf("%s(%d:%d) origin=%s trigger=%d", m.kind, m.kind.Group, m.kind.ID, m.origin, m.trigger)
}

// Decode unmarshals the payload of msg into T with the default codec.
// Failures are reported as a malformed-payload ClientError.
func Decode[T any](msg *Message) (T, error) {
	var v T
	if len(msg.payload) == 0 {
		return v, NewClientError(CodeMalformedPayload, "%s: empty payload", msg.kind)
	}
	if err := DefaultCodec().Unmarshal(msg.payload, &v); err != nil {
		return v, NewClientError(CodeMalformedPayload, "%s: %v", msg.kind, err)
	}
	return v, nil
}
