package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	prom "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"

	"ceilq/internal/hw"
	"ceilq/internal/job"
	"ceilq/internal/sched"
	"ceilq/internal/telemetry"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg := applyEnv(sched.Load(envOr("CEILSCHED_CONFIG", "config.yml")))
	fmt.Printf("Loaded config: %+v\n", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, envOr("CEILSCHED_APP", "app.yml")); err != nil {
		fmt.Fprintln(os.Stderr, "ceilsched:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// applyEnv lets the environment override the config file.
func applyEnv(cfg sched.Config) sched.Config {
	if v := os.Getenv("CEILSCHED_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v, err := strconv.Atoi(os.Getenv("CEILSCHED_TICK_MS")); err == nil && v > 0 {
		cfg.TickMS = v
	}
	return cfg
}

func run(ctx context.Context, cfg sched.Config, appPath string) error {
	var providers *telemetry.Providers
	if cfg.Telemetry == "otel" {
		p, err := telemetry.Setup(os.Stderr)
		if err != nil {
			return err
		}
		providers = p
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = providers.Shutdown(shutdownCtx)
		}()
	}
	logger := telemetry.NewLogger(os.Stderr, telemetry.ParseLevel(cfg.LogLevel), providers != nil)

	var metrics sched.Metrics
	switch cfg.Telemetry {
	case "otel":
		m, err := telemetry.NewOtelMetrics(providers.Metrics.Meter("ceilq/ceilsched"))
		if err != nil {
			return err
		}
		metrics = m
	case "prometheus":
		reg := prom.NewRegistry()
		m, err := telemetry.NewPromMetrics("ceilq", reg)
		if err != nil {
			return err
		}
		metrics = m
		go func() {
			if err := telemetry.ServeMetrics(ctx, cfg.MetricsAddr, reg); err != nil {
				logger.Error("metrics endpoint failed", "addr", cfg.MetricsAddr, "err", err)
			}
		}()
	}

	events := sched.NewEventLog(os.Stdout)
	if cfg.CSVPath != "" {
		if err := events.EnableCSVLogging(cfg.CSVPath); err != nil {
			return fmt.Errorf("csv log: %w", err)
		}
	}
	defer events.Close()

	decl, err := sched.LoadDeclaration(appPath)
	if err != nil {
		return err
	}

	sim := hw.NewSim(hw.Level(cfg.PriorityLevels))
	b := sched.NewBuilder()
	app, err := job.Bind(ctx, b, decl, logger)
	if err != nil {
		return err
	}

	_, span := telemetry.StartSpan(ctx, "boot", attribute.String("app", appPath))
	sys, err := b.Build(sim, sched.Options{
		Logger:          logger,
		Metrics:         metrics,
		Observer:        events.Observe,
		Device:          sim,
		DefaultCapacity: cfg.DefaultCapacity,
	})
	if err == nil {
		err = sys.Start()
	}
	telemetry.EndSpan(span, err)
	if err != nil {
		return err
	}

	sim.StartClock(time.Duration(cfg.TickMS) * time.Millisecond)
	defer sim.StopClock()
	go stimulate(ctx, sim, decl)

	err = sys.Run(ctx)
	for _, t := range sys.Tasks() {
		logger.Info("task summary", "task", t.Name, "kind", t.Kind, "runs", app.Runs(t.Name))
	}
	return err
}

// stimulate raises every hardware task's line once a second, standing in
// for peripherals.
func stimulate(ctx context.Context, sim *hw.Sim, decl sched.Declaration) {
	var lines []hw.IRQ
	for _, t := range decl.Tasks {
		if t.Kind == sched.KindHardware {
			lines = append(lines, t.Binds)
		}
	}
	if len(lines) == 0 {
		return
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, irq := range lines {
				sim.Raise(irq)
			}
		}
	}
}

