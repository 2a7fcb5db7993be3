package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/user/price-monitor/internal/config"
	"github.com/user/price-monitor/internal/domain"
	"github.com/user/price-monitor/internal/notifier"
	"github.com/user/price-monitor/internal/pipeline"
	"github.com/user/price-monitor/internal/price"
	"github.com/user/price-monitor/pkg/logger"
)

const usage = `usage: monitor <command> [-env FILE]

commands:
  serve        run the admin API and the optional interval scheduler
  run          run the pipeline once and print the report as JSON
  config-check validate the configuration and exit
  test-notify  send a test message through every configured transport
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	envFile := fs.String("env", ".env", "path to the .env file")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if cmd == "config-check" {
		os.Exit(configCheck(cfg))
	}

	log, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var code int
	switch cmd {
	case "serve":
		code = serve(ctx, cfg, log)
	case "run":
		code = runOnce(ctx, cfg, log)
	case "test-notify":
		code = testNotify(ctx, cfg, log)
	default:
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	stop()
	log.Sync()
	os.Exit(code)
}

func configCheck(cfg *config.Config) int {
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration errors:\n%v\n", err)
		return 1
	}
	fmt.Printf("store: %s\nfetch mode: %s\n", cfg.StoreDriver, cfg.FetchMode)
	fmt.Printf("telegram: %v\ntwilio: %v\nemail: %v\nrabbitmq: %v\n",
		cfg.TelegramConfigured(), cfg.TwilioConfigured(), cfg.EmailConfigured(), cfg.RabbitConfigured())
	if !cfg.AnyNotifierConfigured() {
		fmt.Println("warning: no notification transport configured")
	}
	fmt.Println("configuration OK")
	return 0
}

func serve(ctx context.Context, cfg *config.Config, log *zap.Logger) int {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialise", zap.Error(err))
		return 1
	}
	defer a.Close()

	runner := a.newRunner(ctx)
	server := a.newServer(runner)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("server started", zap.String("port", cfg.ServerPort))

	if cfg.ScheduleInterval > 0 {
		go schedule(ctx, runner, cfg.ScheduleInterval, log)
	}

	code := 0
	select {
	case <-ctx.Done():
		log.Info("shutting down server...")
	case err := <-errCh:
		log.Error("could not start server", zap.Error(err))
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	// ctx is done by now, so an in-flight run stops taking new targets.
	runner.Wait()

	log.Info("server exiting")
	return code
}

func schedule(ctx context.Context, runner *pipeline.Runner, every time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runID, err := runner.Start(ctx)
			if errors.Is(err, pipeline.ErrAlreadyRunning) {
				log.Info("scheduled run skipped, previous run still in progress")
				continue
			}
			if err != nil {
				log.Error("scheduled run failed to start", zap.Error(err))
				continue
			}
			log.Info("scheduled run started", zap.String("run_id", runID))
		}
	}
}

func runOnce(ctx context.Context, cfg *config.Config, log *zap.Logger) int {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialise", zap.Error(err))
		return 1
	}
	defer a.Close()

	report, err := a.newRunner(ctx).RunSync(ctx)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			log.Error("failed to print report", zap.Error(encErr))
		}
	}
	if err != nil {
		log.Error("run failed", zap.Error(err))
		return 1
	}
	return 0
}

func testNotify(ctx context.Context, cfg *config.Config, log *zap.Logger) int {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialise", zap.Error(err))
		return 1
	}
	defer a.Close()

	old := price.MustParse("100.00")
	msg, err := a.composer.Compose(notifier.PriceEvent{
		URL:            "https://example.com/product",
		Name:           "Test product",
		SKU:            "TEST-SKU",
		Classification: domain.ClassDecreased,
		OldPrice:       &old,
		NewPrice:       price.MustParse("89.99"),
		DetectedAt:     time.Now(),
	})
	if err != nil {
		log.Error("failed to compose test message", zap.Error(err))
		return 1
	}
	msg.Subject = "Test notification: " + msg.Subject

	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := a.notifier.Notify(sendCtx, msg); err != nil {
		log.Error("test notification failed", zap.Error(err))
		return 1
	}
	log.Info("test notification sent")
	return 0
}
