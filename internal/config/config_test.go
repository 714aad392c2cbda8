package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/livetables/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with defaults", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.PollInterval, convey.ShouldEqual, 10*time.Second)
			convey.So(cfg.PollTimeout, convey.ShouldEqual, 12*time.Second)
			convey.So(cfg.HeartbeatInterval, convey.ShouldEqual, 15*time.Second)
			convey.So(cfg.BackoffMax, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.MaxHistory, convey.ShouldEqual, 100)
			convey.So(cfg.DedupeWindow, convey.ShouldEqual, 3)
			convey.So(cfg.RefreshMinInterval, convey.ShouldEqual, 5*time.Second)
			convey.So(cfg.FreshnessThreshold, convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with one invalid setting each", t, func() {
		cases := []struct {
			name   string
			mutate func(c *config.Config)
		}{
			{"empty addr", func(c *config.Config) { c.Addr = "" }},
			{"no endpoints", func(c *config.Config) { c.StreamURL, c.PollURL = "", "" }},
			{"bad stream scheme", func(c *config.Config) { c.StreamURL = "ftp://feed.example.com" }},
			{"poll url no host", func(c *config.Config) { c.PollURL = "http://" }},
			{"poll interval low", func(c *config.Config) { c.PollInterval = time.Second }},
			{"poll interval high", func(c *config.Config) { c.PollInterval = 10 * time.Minute }},
			{"history low", func(c *config.Config) { c.MaxHistory = 10 }},
			{"history high", func(c *config.Config) { c.MaxHistory = 5000 }},
			{"backoff inverted", func(c *config.Config) { c.BackoffMax = 100 * time.Millisecond }},
			{"zero timeout", func(c *config.Config) { c.PollTimeout = 0 }},
			{"zero workers", func(c *config.Config) { c.DispatchWorkers = 0 }},
			{"bad log level", func(c *config.Config) { c.LogLevel = "loud" }},
			{"bad log format", func(c *config.Config) { c.LogFormat = "xml" }},
		}

		for _, tc := range cases {
			cfg := config.New()
			tc.mutate(cfg)

			convey.Convey("Then "+tc.name+" is rejected", func() {
				err := cfg.Validate()
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})

	convey.Convey("Given a poll-only config", t, func() {
		cfg := config.New()
		cfg.StreamURL = ""

		convey.Convey("Then it is valid", func() {
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
