package main

import (
	"context"
	"net/http"

	"github.com/okian/livetables/internal/adapters/http/api"
	"github.com/okian/livetables/internal/adapters/http/swagger"
	service "github.com/okian/livetables/internal/app"
	"github.com/okian/livetables/internal/config"
	"github.com/okian/livetables/internal/coordinator"
	"github.com/okian/livetables/pkg/logger"
	"github.com/rs/cors"
)

// newService builds the sync service from cfg.
func newService(cfg *config.Config, l logger.Logger) *service.Service {
	return service.New(
		service.WithLogger(l.Named("service")),
		service.WithStreamURL(cfg.StreamURL),
		service.WithPollURL(cfg.PollURL),
		service.WithAPIKey(cfg.APIKey),
		service.WithPollTimeout(cfg.PollTimeout),
		service.WithConnectTimeout(cfg.ConnectTimeout),
		service.WithMaxHistory(cfg.MaxHistory),
		service.WithDedupeWindow(cfg.DedupeWindow),
		service.WithDispatch(cfg.DispatchQueueSize, cfg.DispatchWorkers),
		service.WithRefreshMinInterval(cfg.RefreshMinInterval),
		service.WithFreshnessThreshold(cfg.FreshnessThreshold),
		service.WithCoordinatorOptions(
			coordinator.WithPollInterval(cfg.PollInterval),
			coordinator.WithHeartbeatInterval(cfg.HeartbeatInterval),
			coordinator.WithBackoff(cfg.BackoffBase, cfg.BackoffMax, cfg.MaxReconnectAttempts),
			coordinator.WithHealthCheck(cfg.HealthInterval, cfg.StaleAfter),
			coordinator.WithStartupPoll(cfg.StartupPoll),
		),
	)
}

// newHandler registers the API and docs routes and wraps them with CORS.
func newHandler(ctx context.Context, cfg *config.Config, svc *service.Service) http.Handler {
	mux := http.NewServeMux()

	swagger.Register(ctx, mux)
	api.NewServer(svc, api.DefaultHistoryLimit).Register(ctx, mux)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: cfg.CORSOrigins,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}
