package config_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/okian/livetables/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.StreamURL, convey.ShouldEqual, "ws://localhost:9090/stream")
				convey.So(cfg.PollInterval, convey.ShouldEqual, 10*time.Second)
				convey.So(cfg.StartupPoll, convey.ShouldBeTrue)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("LIVETABLES_ADDR", ":8080")
			_ = os.Setenv("LIVETABLES_POLL_INTERVAL", "20s")
			_ = os.Setenv("LIVETABLES_MAX_HISTORY", "250")
			_ = os.Setenv("LIVETABLES_STARTUP_POLL", "false")
			_ = os.Setenv("LIVETABLES_CORS_ORIGINS", "https://a.example,https://b.example")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.PollInterval, convey.ShouldEqual, 20*time.Second)
				convey.So(cfg.MaxHistory, convey.ShouldEqual, 250)
				convey.So(cfg.StartupPoll, convey.ShouldBeFalse)
				convey.So(cfg.CORSOrigins, convey.ShouldResemble, []string{"https://a.example", "https://b.example"})
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9091"
stream_url: "wss://feed.example.com/stream"
poll_url: "https://feed.example.com/tables"
poll_interval: "15s"
heartbeat_interval: "5s"
max_reconnect_attempts: 8
dispatch_workers: 2
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("LIVETABLES_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9091")
				convey.So(cfg.StreamURL, convey.ShouldEqual, "wss://feed.example.com/stream")
				convey.So(cfg.PollURL, convey.ShouldEqual, "https://feed.example.com/tables")
				convey.So(cfg.PollInterval, convey.ShouldEqual, 15*time.Second)
				convey.So(cfg.HeartbeatInterval, convey.ShouldEqual, 5*time.Second)
				convey.So(cfg.MaxReconnectAttempts, convey.ShouldEqual, 8)
				convey.So(cfg.DispatchWorkers, convey.ShouldEqual, 2)
				convey.So(cfg.MaxHistory, convey.ShouldEqual, 100)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9091"
poll_interval: "15s"
dedupe_window: 5
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("LIVETABLES_CONFIG", tmpFile)
			_ = os.Setenv("LIVETABLES_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.PollInterval, convey.ShouldEqual, 15*time.Second)
				convey.So(cfg.DedupeWindow, convey.ShouldEqual, 5)
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("LIVETABLES_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should fail to load", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When an env value cannot be decoded", func() {
			_ = os.Setenv("LIVETABLES_MAX_HISTORY", "lots")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should fail to load", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the loaded values are out of range", func() {
			_ = os.Setenv("LIVETABLES_POLL_INTERVAL", "1s")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then validation should fail", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the address is set to empty", func() {
			_ = os.Setenv("LIVETABLES_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then validation should fail", func() {
				convey.So(cfg, convey.ShouldBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"LIVETABLES_CONFIG",
		"LIVETABLES_ADDR",
		"LIVETABLES_POLL_INTERVAL",
		"LIVETABLES_MAX_HISTORY",
		"LIVETABLES_STARTUP_POLL",
		"LIVETABLES_CORS_ORIGINS",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "livetables-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
