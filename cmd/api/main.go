package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/config"
	"github.com/hamed0406/uptimemonitor/internal/httpapi"
	apimw "github.com/hamed0406/uptimemonitor/internal/httpapi/middleware"
	"github.com/hamed0406/uptimemonitor/internal/logging"
	"github.com/hamed0406/uptimemonitor/internal/notify"
	"github.com/hamed0406/uptimemonitor/internal/probe"
	"github.com/hamed0406/uptimemonitor/internal/repo/open"
	"github.com/hamed0406/uptimemonitor/internal/scheduler"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel, cfg.LogStdout)
	if err != nil {
		log.Fatal(err)
	}
	err = run(cfg, logger)
	if err != nil {
		logger.Error("api_exit", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

// newChecker leaves the client without its own timeout: the executor's
// per-check deadline (ProbeTimeout) is the only bound.
func newChecker(cfg config.Config) *probe.HTTPChecker {
	checker := probe.NewHTTPChecker(0)
	if cfg.DNSDiagnose {
		checker.DNS = probe.NewDNSChecker()
	}
	return checker
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := open.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}

	checker := newChecker(cfg)
	alerts := notify.New(
		notify.NewOpsgenie(cfg.OpsgenieAPIKey, cfg.OpsgenieAPIURL),
		notify.NewSlack(cfg.SlackWebhookURL),
	)
	if len(alerts) == 0 {
		logger.Warn("no_alert_channels", zap.String("hint", "set OPSGENIE_API_KEY or SLACK_WEBHOOK_URL"))
	}

	tasks := scheduler.NewTaskGroup(logger)
	alerter := scheduler.NewAlerter(logger, store, alerts)
	executor := scheduler.NewExecutor(logger, store, checker, alerter, tasks, cfg.ProbeTimeout)
	dir := scheduler.NewDirectory(logger, store, store, executor, scheduler.RealClock())

	if err := dir.Recover(ctx); err != nil {
		// partial recovery still serves the schedules that loaded
		logger.Warn("recover_incomplete", zap.Error(err))
	}

	api := httpapi.NewServer(logger, store, store, dir, alerts, cfg.DefaultCheckInterval)
	keys := apimw.Keys{Public: cfg.PublicAPIKeys, Admin: cfg.AdminAPIKeys}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(keys, cfg.AllowedOrigins, cfg.PublicRPM, cfg.PublicBurst, cfg.AdminRPM, cfg.AdminBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("api_listen",
			zap.String("addr", cfg.Addr),
			zap.String("store", open.Engine(cfg.DatabaseURL)),
			zap.Int("alert_channels", len(alerts)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("api_shutdown", zap.Duration("grace", cfg.ShutdownGrace))
	case serveErr = <-errc:
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	errs := serveErr
	errs = multierr.Append(errs, srv.Shutdown(sctx))
	errs = multierr.Append(errs, dir.Close(sctx))
	errs = multierr.Append(errs, tasks.Shutdown(sctx))
	errs = multierr.Append(errs, store.Close())
	return errs
}
