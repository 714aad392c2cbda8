package feedsim

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/okian/livetables/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Server timeouts for the standalone simulator.
const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Serve runs the simulator and its HTTP endpoints on cfg.Addr until ctx is
// canceled.
func Serve(ctx context.Context, cfg Config) error {
	sim := New(cfg)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sim.Run(gctx)
	})
	g.Go(func() error {
		logger.Get().Info(gctx, "feed simulator listening",
			logger.String("addr", cfg.Addr),
			logger.String("stream", "ws://"+cfg.Addr+StreamPath),
			logger.String("poll", "http://"+cfg.Addr+TablesPath),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	os.Stdout.WriteString(`livetables feed simulator
=========================

Serves a simulated live-table feed for local development.

Usage:
  go run ./cmd/feedsim [options]

Options:
  -addr string
        Listen address (default ":9090")
  -tables int
        Number of simulated tables (default 8)
  -spin duration
        Interval between outcomes (default 3s)
  -heartbeat duration
        Interval between heartbeat frames (default 15s)
  -history int
        Outcomes kept per table in poll snapshots (default 30)
  -verbose
        Log every outcome
  -help
        Show this help message

Endpoints:
  GET  /stream   websocket: connected, update and heartbeat frames (honors last_event_id)
  GET  /tables   full snapshot for polling
  GET  /stats    simulator counters
  POST /spin     ?table=table-01&value=17 forces an outcome

Examples:
  go run ./cmd/feedsim -tables 12 -spin 1s
  LIVETABLES_STREAM_URL=ws://localhost:9090/stream LIVETABLES_POLL_URL=http://localhost:9090/tables go run ./cmd
`)
}
