package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/user/price-monitor/internal/api"
	"github.com/user/price-monitor/internal/config"
	"github.com/user/price-monitor/internal/extractor"
	"github.com/user/price-monitor/internal/fetcher"
	"github.com/user/price-monitor/internal/monitoring"
	"github.com/user/price-monitor/internal/notifier"
	"github.com/user/price-monitor/internal/pipeline"
	"github.com/user/price-monitor/internal/proxy"
	"github.com/user/price-monitor/internal/ratelimit"
	"github.com/user/price-monitor/internal/storage"
)

const (
	recordCacheTTL = 10 * time.Minute
	runLockTTL     = 2 * time.Hour
)

// app is the wired application shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *monitoring.Metrics

	store    storage.Store
	history  storage.HistoryStore
	redis    *storage.RedisStore
	notifier notifier.Notifier
	composer *notifier.Composer
	pipeline *pipeline.Pipeline

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: monitoring.NewMetrics(prometheus.DefaultRegisterer),
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store, a.history = store, store
	a.closers = append(a.closers, store.Close)

	if cfg.RedisAddr != "" {
		a.redis = storage.NewRedisStore(cfg.RedisAddr)
		a.closers = append(a.closers, a.redis.Close)
		if err := a.redis.Ping(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.history = storage.NewCachedHistory(store, a.redis, recordCacheTTL)
	}

	if a.notifier, err = a.buildNotifier(); err != nil {
		a.Close()
		return nil, err
	}
	if a.composer, err = notifier.NewComposer(cfg.MessageTemplate); err != nil {
		a.Close()
		return nil, fmt.Errorf("message template: %w", err)
	}

	f, err := a.buildFetcher()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.pipeline = pipeline.New(pipeline.Config{
		NotifyOnFirstSeen: cfg.NotifyOnFirstSeen,
	}, pipeline.Deps{
		Fetcher:   f,
		Extractor: extractor.New(),
		Limiter: ratelimit.New(ratelimit.Config{
			MinDelay:    cfg.DelayMin,
			MaxDelay:    cfg.DelayMax,
			Concurrency: cfg.Concurrency,
		}),
		Store:    a.history,
		Notifier: a.notifier,
		Composer: a.composer,
		Metrics:  a.metrics,
		Logger:   logger,
	})
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pg, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	case "sqlite":
		return storage.NewSQLiteStore(cfg.SQLitePath)
	case "memory":
		return storage.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func (a *app) buildFetcher() (fetcher.Fetcher, error) {
	pm, err := proxy.NewManager(a.cfg.Proxies)
	if err != nil {
		return nil, fmt.Errorf("proxies: %w", err)
	}

	var base fetcher.Fetcher
	switch a.cfg.FetchMode {
	case "http":
		base = fetcher.NewColly(a.cfg.FetchTimeout, pm)
	default:
		c := fetcher.NewChromedp(fetcher.ChromedpConfig{
			RemoteURL: a.cfg.BrowserWSURL,
			Timeout:   a.cfg.FetchTimeout,
			Headers:   fetcher.DefaultHeaders,
		}, pm, a.logger)
		a.closers = append(a.closers, func() error { c.Close(); return nil })
		base = c
	}

	rc := fetcher.DefaultRetryConfig()
	rc.MaxAttempts = a.cfg.FetchAttempts
	return fetcher.NewRetrying(base, rc, fetcher.WithAttemptHook(func(url string, attempt int, err error, next time.Duration) {
		a.metrics.IncFetchRetry(fetcher.ErrorLabel(err))
		a.logger.Warn("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", next),
			zap.Error(err),
		)
	})), nil
}

func (a *app) buildNotifier() (notifier.Notifier, error) {
	var multi notifier.Multi
	if a.cfg.TelegramConfigured() {
		tg, err := notifier.NewTelegram(a.cfg.TelegramBotToken, a.cfg.TelegramChatID)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		multi = append(multi, tg)
	}
	if a.cfg.TwilioConfigured() {
		multi = append(multi, notifier.NewTwilio(a.cfg.TwilioAccountSID, a.cfg.TwilioAuthToken,
			a.cfg.TwilioFromNumber, a.cfg.NotifyToNumber))
	}
	if a.cfg.EmailConfigured() {
		multi = append(multi, notifier.NewEmail(notifier.EmailConfig{
			Host:     a.cfg.SMTPHost,
			Port:     a.cfg.SMTPPort,
			Username: a.cfg.SMTPUser,
			Password: a.cfg.SMTPPass,
			From:     a.cfg.EmailFrom,
			To:       a.cfg.EmailTo,
		}))
	}
	if a.cfg.RabbitConfigured() {
		rb, err := notifier.NewRabbit(a.cfg.RabbitMQURL, a.cfg.RabbitMQQueue)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		a.closers = append(a.closers, rb.Close)
		multi = append(multi, rb)
	}

	if len(multi) == 0 {
		a.logger.Warn("no notification transport configured, price drops are only logged")
		return notifier.Nop{}, nil
	}
	return multi, nil
}

func (a *app) newRunner(base context.Context) *pipeline.Runner {
	var opts []pipeline.RunnerOption
	if a.redis != nil {
		opts = append(opts, pipeline.WithRunLock(a.redis, runLockTTL), pipeline.WithStatusPublisher(a.redis))
	}
	return pipeline.NewRunner(base, a.pipeline, a.store, a.logger, opts...)
}

func (a *app) newServer(runner *pipeline.Runner) *api.Server {
	health := map[string]api.Pinger{"store": a.store}
	if a.redis != nil {
		health["redis"] = a.redis
	}
	return api.NewServer(api.Config{
		Port:      a.cfg.ServerPort,
		AdminUser: a.cfg.AdminUser,
		AdminPass: a.cfg.AdminPass,
	}, api.Deps{
		Runner:   runner,
		Targets:  a.store,
		History:  a.history,
		Health:   health,
		Gatherer: prometheus.DefaultGatherer,
		Metrics:  a.metrics,
		Logger:   a.logger,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
