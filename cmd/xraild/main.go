// Command xraild runs the railway control server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"

	"github.com/trickstertwo/xrail"
	"github.com/trickstertwo/xrail/adapter/redisstore"
	"github.com/trickstertwo/xrail/adapter/tcp"
	"github.com/trickstertwo/xrail/adapter/websocket"
	"github.com/trickstertwo/xrail/handlers"
	"github.com/trickstertwo/xrail/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "xraild:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	logger := zerolog.Use(loggerConfig(cfg.Log)).With(xlog.Str("app", "xraild"))

	st, audit, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	b := xrail.NewServerBuilder().
		WithConfig(cfg).
		WithLogger(logger).
		WithHandler(handlers.All(st, nil)...).
		WithMiddleware(xrail.Logging(logger), xrail.Retry(xrail.RetryConfig{
			MaxAttempts: 2,
			Backoff:     func(int) time.Duration { return 20 * time.Millisecond },
		})).
		WithObserver(xrail.LoggingObserver{Logger: logger}).
		WithObserverPool(2, 1024)
	if audit != nil {
		b = b.WithAudit(audit)
	}
	if cfg.Listen != "" {
		tc := tcp.Defaults()
		tc.Addr = cfg.Listen
		b = b.WithAcceptor(tcp.Factory(tc))
	}
	if cfg.WebSocket != "" {
		wc := websocket.Defaults()
		wc.Addr = cfg.WebSocket
		b = b.WithAcceptor(websocket.Factory(wc))
	}
	srv, err := b.Build()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case s := <-sigs:
			logger.Info().Str("signal", s.String()).Msg("xraild: shutting down")
			// Let the loop announce the shutdown; a second signal or a stuck
			// loop falls back to cancellation.
			if !srv.Shutdown() {
				cancel()
				return
			}
			select {
			case <-sigs:
			case <-time.After(cfg.HaltTimeout):
			case <-ctx.Done():
				return
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info().
		Str("listen", cfg.Listen).
		Str("websocket", cfg.WebSocket).
		Str("control_pipe", cfg.ControlPipe).
		Msg("xraild: starting")
	return srv.Run(ctx)
}

// openStore picks Redis when an address is configured and memory otherwise.
func openStore(cfg xrail.Config, logger *xlog.Logger) (store.Store, xrail.AuditSink, func(), error) {
	if cfg.Redis.Addr == "" {
		st := store.NewMemory()
		return st, nil, func() { _ = st.Close() }, nil
	}
	rc := redisstore.Defaults()
	rc.Addr = cfg.Redis.Addr
	rc.Username = cfg.Redis.Username
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.Prefix = cfg.Redis.Prefix
	if cfg.Redis.AuditStream != "" {
		rc.AuditStream = cfg.Redis.AuditStream
	}
	rc.MaxLenApprox = cfg.Redis.AuditMaxLen

	client, err := redisstore.NewClient(rc)
	if err != nil {
		return nil, nil, nil, err
	}
	st := redisstore.NewWithClient(client, rc)
	audit := redisstore.NewAuditStream(client, rc, logger.With(xlog.Str("component", "audit")))
	closeAll := func() {
		if err := audit.Close(); err != nil {
			logger.Warn().Err(err).Msg("xraild: close audit stream")
		}
		_ = st.Close()
		_ = client.Close()
	}
	return st, audit, closeAll, nil
}

func loggerConfig(lc xrail.LogConfig) zerolog.Config {
	zc := zerolog.Config{
		MinLevel:          xlog.LevelInfo,
		Console:           lc.Console,
		ConsoleTimeFormat: time.RFC3339,
	}
	switch strings.ToLower(lc.Level) {
	case "debug":
		zc.MinLevel = xlog.LevelDebug
	case "warn":
		zc.MinLevel = xlog.LevelWarn
	case "error":
		zc.MinLevel = xlog.LevelError
	}
	return zc
}
