package xrail

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Codec is the Strategy for encoding/decoding payloads and envelopes on the wire.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// JSONCodec is the default JSON implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// CodecFactory constructs codecs via Factory pattern.
type CodecFactory func() Codec

var (
	codecRegistryMu sync.RWMutex
	codecRegistry   = map[string]CodecFactory{
		"json": func() Codec { return JSONCodec{} },
	}
)

// RegisterCodec registers a codec factory by name.
func RegisterCodec(name string, factory CodecFactory) error {
	if name == "" {
		return errors.New("codec name must not be empty")
	}
	if factory == nil {
		return errors.New("codec factory must not be nil")
	}
	codecRegistryMu.Lock()
	codecRegistry[name] = factory
	codecRegistryMu.Unlock()
	return nil
}

// NewCodec constructs a codec by name or returns an error.
func NewCodec(name string) (Codec, error) {
	codecRegistryMu.RLock()
	f, ok := codecRegistry[name]
	codecRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("codec %q not registered", name)
	}
	return f(), nil
}

// DefaultCodec is the codec payloads are built and decoded with.
func DefaultCodec() Codec { return JSONCodec{} }

// envelope is the wire form of a message: {"g":group,"m":id,"d":payload}.
type envelope struct {
	Group int             `json:"g"`
	ID    int             `json:"m"`
	Data  json.RawMessage `json:"d,omitempty"`
}

// EncodeEnvelope renders msg into one wire frame (without delimiter).
func EncodeEnvelope(c Codec, msg *Message) ([]byte, error) {
	return c.Marshal(envelope{
		Group: int(msg.Group()),
		ID:    int(msg.ID()),
		Data:  json.RawMessage(msg.Payload()),
	})
}

// DecodeEnvelope parses one wire frame received from origin, stamped with
// the current wall-clock time.
func DecodeEnvelope(c Codec, frame []byte, origin AppID) (*Message, error) {
	return DecodeEnvelopeAt(time.Now(), c, frame, origin)
}

// DecodeEnvelopeAt is DecodeEnvelope with an explicit creation time.
// Invalid ids surface as ErrInvalidArgument from message construction.
func DecodeEnvelopeAt(at time.Time, c Codec, frame []byte, origin AppID) (*Message, error) {
	var env envelope
	if err := c.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var payload []byte
	if len(env.Data) > 0 && string(env.Data) != "null" {
		payload = []byte(env.Data)
	}
	return NewMessageAt(at, GroupID(env.Group), MessageID(env.ID), payload, origin)
}
