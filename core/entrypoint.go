package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/encodeous/ripd/perf"
	"github.com/encodeous/ripd/state"
	"github.com/encodeous/ripd/sys"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
	"golang.org/x/sync/errgroup"
)

// Listener opens the transport for the resolved interfaces.
type Listener func(ctx context.Context, ifaces state.Interfaces) (Transport, error)

// NewLogger builds the console logger and, when logPath is set, a file logger next to it.
func NewLogger(id, logPath string, level slog.Level, out io.Writer) (*slog.Logger, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(out, &tint.Options{
			Level:        level,
			AddSource:    false,
			CustomPrefix: id,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if logPath != "" {
		err := os.MkdirAll(path.Dir(logPath), 0700)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(logPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}

	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// Start runs the router until SIGINT or SIGTERM.
func Start(cfg state.Config, logLevel slog.Level, listen Listener) error {
	logger, err := NewLogger(cfg.Id, cfg.LogPath, logLevel, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ifaces, err := sys.ResolveInterfaces(&cfg)
	if err != nil {
		return err
	}
	if err := sys.VerifyForwarding(); err != nil {
		logger.Warn("forwarding check failed", "err", err)
	}

	var fib FIB
	if cfg.InstallRoutes {
		kfib, err := sys.NewKernelFIB(ifaces)
		if err != nil {
			return err
		}
		fib = kfib
	}

	transport, err := listen(ctx, ifaces)
	if err != nil {
		return err
	}
	defer transport.Close()

	r := NewRipRouter(cfg, ifaces, transport, fib, logger)
	r.Neighbours.SetLookup(sys.LookupNeighbour)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.Run(ctx)
	})
	if cfg.ControlSocket != "" {
		g.Go(func() error {
			return r.ServeIPC(ctx, cfg.ControlSocket)
		})
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return perf.Serve(ctx, cfg.MetricsAddr)
		})
	}

	logger.Info("ripd has been initialized. To gracefully exit, send SIGINT or Ctrl+C.", "interfaces", ifaces.Names())
	err = g.Wait()
	r.Withdraw()
	if err != nil {
		return fmt.Errorf("router stopped: %w", err)
	}
	logger.Info("stopped")
	return nil
}

// Withdraw removes every route this router installed into the FIB.
func (r *RipRouter) Withdraw() {
	r.Table.View(func(tx *state.Tx) {
		for _, rt := range tx.Routes() {
			if rt.IsDynamic() && rt.Valid {
				r.TableDeleteRoute(*rt)
			}
		}
	})
	r.flushFIB()
}
