package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/livetables/internal/feedsim"
	"github.com/okian/livetables/pkg/logger"
)

func main() {
	var (
		addr      = flag.String("addr", ":9090", "Listen address")
		tables    = flag.Int("tables", feedsim.DefaultTables, "Number of simulated tables")
		spin      = flag.Duration("spin", feedsim.DefaultSpinInterval, "Interval between outcomes")
		heartbeat = flag.Duration("heartbeat", feedsim.DefaultHeartbeatInterval, "Interval between heartbeat frames")
		history   = flag.Int("history", feedsim.DefaultHistory, "Outcomes kept per table in poll snapshots")
		verbose   = flag.Bool("verbose", false, "Log every outcome")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		feedsim.ShowHelp()
		return
	}

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := feedsim.Config{
		Addr:              *addr,
		Tables:            *tables,
		SpinInterval:      *spin,
		HeartbeatInterval: *heartbeat,
		History:           *history,
		Verbose:           *verbose,
	}
	if err := feedsim.Serve(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "feed simulator failed", logger.Error(err))
		os.Exit(1)
	}
}
