//go:build windows

package xrail

import (
	"context"
	"errors"
)

// ControlChannel needs POSIX named pipes.
type ControlChannel struct {
	*Worker
}

func NewControlChannel(string, Emitter, ...WorkerOption) (*ControlChannel, error) {
	return nil, errors.New("xrail: control channel is not supported on windows")
}

func (cc *ControlChannel) Start(context.Context) error { return ErrNotNamedPipe }
