package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/daemon"
	"github.com/fbonalair/crowdsec-stream-bouncer/caches"
	. "github.com/fbonalair/crowdsec-stream-bouncer/config"
	"github.com/fbonalair/crowdsec-stream-bouncer/controler"
	"github.com/fbonalair/crowdsec-stream-bouncer/lapi"
	"github.com/fbonalair/crowdsec-stream-bouncer/metrics"
	"github.com/fbonalair/crowdsec-stream-bouncer/model"
	"github.com/gin-contrib/logger"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := setupLogger(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}

	client, err := lapi.NewClient(cfg.LapiURL, cfg.ApiKey, lapi.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create LAPI client")
	}
	log.Info().Object("lapi", client).Dur("interval", cfg.StreamInterval).Msg("Starting decisions stream bouncer")

	lc := caches.NewDecisionsCache(cfg.CacheDuration)
	status := controler.NewStreamStatus()
	router, err := setupRouter(lc, status, cfg.TrustedProxies)
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred while starting webserver")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{Addr: ":" + cfg.StatusPort, Handler: router}
	go func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("An error occurred while starting status server")
		}
	}()

	pollDecisions(ctx, client, cfg, lc, status)

	log.Info().Msg("Shutting down")
	notifySystemd(daemon.SdNotifyStopping)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Err(err).Msg("An error occurred while stopping status server")
	}
}

func setupLogger(logLevel string, logFormat string) error {
	if gin.IsDebugging() || logFormat == "console" {
		log.Logger = log.Output(
			zerolog.ConsoleWriter{
				Out:        os.Stderr,
				NoColor:    false,
				TimeFormat: zerolog.TimeFieldFormat,
			},
		)
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func streamOptions(cfg Config) model.StreamOptions {
	builder := model.NewStreamOptionsBuilder().Startup(cfg.Startup)
	for _, scope := range cfg.Scopes {
		builder = builder.Scope(scope)
	}
	for _, origin := range cfg.Origins {
		builder = builder.Origin(origin)
	}
	for _, scenario := range cfg.ScenariosIn {
		builder = builder.ScenarioContaining(scenario)
	}
	for _, scenario := range cfg.ScenariosNotIn {
		builder = builder.ScenarioNotContaining(scenario)
	}
	return builder.Build()
}

/*
Consume the decisions stream until ctx is done. When the stream halts on an error, a new one
starts after one interval, asking for a full list again.
*/
func pollDecisions(ctx context.Context, client *lapi.Client, cfg Config, lc *caches.DecisionsCache, status *controler.StreamStatus) {
	var streamOpts []lapi.StreamOption
	if !cfg.HaltOnError {
		streamOpts = append(streamOpts, lapi.ContinueOnError())
	}
	opts := streamOptions(cfg)
	ready := false

	for ctx.Err() == nil {
		full := opts.Startup
		for decisions, err := range client.StreamDecisions(ctx, opts, cfg.StreamInterval, streamOpts...) {
			if err != nil {
				metrics.Polls.WithLabelValues("error").Inc()
				status.Failure(err)
				log.Warn().Err(err).Msg("An error occurred while polling decisions stream")
				continue
			}

			lc.Apply(decisions, full)
			full = false
			metrics.Polls.WithLabelValues("success").Inc()
			metrics.Decisions.WithLabelValues("new").Add(float64(len(decisions.New)))
			metrics.Decisions.WithLabelValues("deleted").Add(float64(len(decisions.Deleted)))
			metrics.ActiveDecisions.Set(float64(lc.Count()))
			status.Success(time.Now())
			log.Info().
				Int("new", len(decisions.New)).
				Int("deleted", len(decisions.Deleted)).
				Int("active", lc.Count()).
				Msg("Decisions stream updated")

			if !ready {
				notifySystemd(daemon.SdNotifyReady)
				ready = true
			}
			notifySystemd(daemon.SdNotifyWatchdog)
		}

		if ctx.Err() != nil {
			return
		}
		log.Warn().Dur("retry_in", cfg.StreamInterval).Msg("Decisions stream halted, restarting it")
		opts = model.BuilderFrom(opts).Startup(true).Build()
		select {
		case <-ctx.Done():
		case <-time.After(cfg.StreamInterval):
		}
	}
}

// notifySystemd is a no-op when not running under systemd.
func notifySystemd(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Debug().Err(err).Str("state", state).Msg("Could not notify systemd")
	}
}

func cacheMiddleware(lc *caches.DecisionsCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(controler.CacheKey, lc)
		c.Next()
	}
}

func statusMiddleware(status *controler.StreamStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(controler.StatusKey, status)
		c.Next()
	}
}

func setupRouter(lc *caches.DecisionsCache, status *controler.StreamStatus, trustedProxiesList []string) (*gin.Engine, error) {
	router := gin.New()
	err := router.SetTrustedProxies(trustedProxiesList)
	if err != nil {
		return nil, err
	}
	router.Use(logger.SetLogger(
		logger.WithSkipPath([]string{"/api/v1/ping", "/api/v1/healthz"}),
	))
	router.Use(cacheMiddleware(lc))
	router.Use(statusMiddleware(status))
	router.GET("/api/v1/ping", controler.Ping)
	router.GET("/api/v1/healthz", controler.Healthz)
	router.GET("/api/v1/metrics", controler.Metrics)
	router.GET("/api/v1/decisions/*value", controler.Decisions)
	return router, nil
}
