package xrail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_Wire(t *testing.T) {
	msg := mustCompose(t, KindEnvSetAmbience, "NIGHT", 9)
	frame, err := EncodeEnvelope(DefaultCodec(), msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"g":5,"m":3,"d":"NIGHT"}`, string(frame))

	back, err := DecodeEnvelope(DefaultCodec(), []byte(`{"g":7,"m":2,"d":{"active":true}}`), 4)
	require.NoError(t, err)
	assert.Equal(t, KindSystemSetEmergencyStop, back.Kind())
	assert.Equal(t, AppID(4), back.Origin())
	toggle, err := Decode[Toggle](back)
	require.NoError(t, err)
	assert.True(t, toggle.Active)

	empty, err := DecodeEnvelope(DefaultCodec(), []byte(`{"g":2,"m":6,"d":null}`), 4)
	require.NoError(t, err)
	assert.Empty(t, empty.Payload())
	_, err = Decode[Toggle](empty)
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeMalformedPayload, ce.Code)
}

func TestEnvelope_DecodeAtStampsCreation(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := DecodeEnvelopeAt(at, DefaultCodec(), []byte(`{"g":3,"m":10}`), 4)
	require.NoError(t, err)
	assert.Equal(t, at, msg.Created())
	assert.Equal(t, at.Add(PriorityHighest.Offset()).UnixMilli(), msg.Trigger())
}

func TestEnvelope_Rejects(t *testing.T) {
	_, err := DecodeEnvelope(DefaultCodec(), []byte(`not json`), 1)
	require.Error(t, err)
	_, err = DecodeEnvelope(DefaultCodec(), []byte(`{"g":0,"m":1}`), 1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCodecRegistry(t *testing.T) {
	require.Error(t, RegisterCodec("", func() Codec { return JSONCodec{} }))
	require.Error(t, RegisterCodec("x", nil))
	require.NoError(t, RegisterCodec("json-test", func() Codec { return JSONCodec{} }))
	c, err := NewCodec("json-test")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())
	_, err = NewCodec("missing")
	require.Error(t, err)
}

func TestKind_Classification(t *testing.T) {
	assert.True(t, KindInternalReset.Internal())
	assert.False(t, KindServerReset.Internal())
	assert.Equal(t, PriorityRealTime, KindSystemSetEmergencyStop.Info().Priority)
	assert.Equal(t, "MSG_9", Kind{Group: 77, ID: 9}.Info().Name)
	assert.Equal(t, PriorityMedium.Offset(), Priority(42).Offset())
}
