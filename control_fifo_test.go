//go:build !windows

package xrail

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func writeFIFO(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestControlChannel_ReadsAndReopens(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "control.fifo")
	q := NewQueue(nil, nil)
	cc, err := NewControlChannel(path, q, WithHaltTimeout(2*time.Second))
	require.NoError(t, err)
	require.NoError(t, cc.Start(context.Background()))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode()&os.ModeNamedPipe)

	writeFIFO(t, path, "RESET\nNOT_A_VERB\n")
	require.Eventually(t, func() bool { return q.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	// A second writer after the first went away.
	writeFIFO(t, path, "EMERGENCY_STOP\n")
	require.Eventually(t, func() bool { return q.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, cc.Halt())
	assert.False(t, cc.Running())

	got := takeAll(t, q)
	kinds := []Kind{got[0].Kind(), got[1].Kind()}
	assert.ElementsMatch(t, []Kind{KindInternalReset, KindSystemSetEmergencyStop}, kinds)
}

func TestControlChannel_HaltWithoutWriter(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	path := filepath.Join(t.TempDir(), "idle.fifo")
	cc, err := NewControlChannel(path, NewQueue(nil, nil), WithHaltTimeout(2*time.Second))
	require.NoError(t, err)
	require.NoError(t, cc.Start(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cc.Halt())
}

func TestControlChannel_RejectsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, []byte("RESET\n"), 0o600))
	cc, err := NewControlChannel(path, NewQueue(nil, nil))
	require.NoError(t, err)
	require.ErrorIs(t, cc.Start(context.Background()), ErrNotNamedPipe)
}

func TestNewControlChannel_Validates(t *testing.T) {
	_, err := NewControlChannel("", NewQueue(nil, nil))
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewControlChannel("/tmp/x", nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
