//go:build !windows

package xrail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/trickstertwo/xlog"
)

// ControlChannel reads control commands from a named pipe. Each valid line
// becomes exactly one message; the pipe is reopened whenever its writer
// goes away.
type ControlChannel struct {
	*Worker
	path    string
	emitter Emitter

	mu   sync.Mutex
	file *os.File
}

// NewControlChannel returns a stopped reader for the FIFO at path.
func NewControlChannel(path string, em Emitter, opts ...WorkerOption) (*ControlChannel, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: control channel path required", ErrInvalidArgument)
	}
	if em == nil {
		return nil, fmt.Errorf("%w: control channel needs an emitter", ErrInvalidArgument)
	}
	cc := &ControlChannel{path: path, emitter: em}
	opts = append(opts, WithInterrupt(cc.interrupt))
	cc.Worker = NewWorker("control-channel", cc.run, opts...)
	return cc, nil
}

func (cc *ControlChannel) Path() string { return cc.path }

// Start creates the FIFO if needed, validates it, and starts reading.
func (cc *ControlChannel) Start(ctx context.Context) error {
	if err := ensureFIFO(cc.path); err != nil {
		return err
	}
	return cc.Worker.Start(ctx)
}

func ensureFIFO(path string) error {
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := unix.Mkfifo(path, 0o600); err != nil && !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("mkfifo %s: %w", path, err)
		}
		return ensureFIFO(path)
	case err != nil:
		return fmt.Errorf("stat %s: %w", path, err)
	case fi.Mode()&fs.ModeNamedPipe == 0:
		return fmt.Errorf("%w: %s", ErrNotNamedPipe, path)
	}
	return nil
}

func (cc *ControlChannel) run(ctx context.Context) error {
	for ctx.Err() == nil {
		// Blocks until a writer opens the pipe.
		f, err := os.OpenFile(cc.path, os.O_RDONLY, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			cc.logger.Warn().Err(err).Str("path", cc.path).Msg("xrail: open control channel")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		cc.setFile(f)
		if ctx.Err() == nil {
			cc.read(f)
		}
		cc.setFile(nil)
		_ = f.Close()
	}
	return nil
}

func (cc *ControlChannel) read(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		cc.HandleLine(sc.Text())
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		cc.logger.Warn().Err(err).Str("path", cc.path).Msg("xrail: read control channel")
	}
}

// HandleLine turns one line into a message. It reports whether a message was enqueued.
func (cc *ControlChannel) HandleLine(line string) bool {
	return handleControlLine(line, cc.emitter, cc.logger)
}

func handleControlLine(line string, em Emitter, logger *xlog.Logger) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	cmd, err := ParseCommand(line)
	if errors.Is(err, ErrUnknownVerb) {
		ev := logger.Warn().Str("verb", cmd.Verb)
		if s := SuggestVerb(cmd.Verb); s != "" {
			ev = ev.Str("suggestion", s)
		}
		ev.Msg("xrail: unknown control verb")
		return false
	}
	if err != nil {
		logger.Warn().Err(err).Str("line", line).Msg("xrail: rejected control command")
		return false
	}
	if err := em.Emit(cmd.Kind, cmd.Payload, NoEndpoint); err != nil {
		logger.Error().Err(err).Str("verb", cmd.Verb).Msg("xrail: emit control command")
		return false
	}
	logger.Info().Str("verb", cmd.Verb).Str("kind", cmd.Kind.String()).Msg("xrail: control command")
	return true
}

func (cc *ControlChannel) setFile(f *os.File) {
	cc.mu.Lock()
	cc.file = f
	cc.mu.Unlock()
}

// interrupt unblocks run: closing the file ends a blocked read, and a
// non-blocking writer open releases a blocked open.
func (cc *ControlChannel) interrupt() {
	cc.mu.Lock()
	f := cc.file
	cc.mu.Unlock()
	if f != nil {
		_ = f.Close()
	}
	for i := 0; i < 50 && cc.Running(); i++ {
		if w, err := os.OpenFile(cc.path, os.O_WRONLY|unix.O_NONBLOCK, 0); err == nil {
			_ = w.Close()
		}
		time.Sleep(10 * time.Millisecond)
	}
}
