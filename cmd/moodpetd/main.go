// moodpetd runs the mood journal worker: the event bus, the agents, the
// dead letter replayer, and the ping scheduler, with a line-based console
// transport standing in for a real messenger connection.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/randalmurphal/moodpet/pkg/moodpet/agent"
	"github.com/randalmurphal/moodpet/pkg/moodpet/config"
	"github.com/randalmurphal/moodpet/pkg/moodpet/dedup"
	"github.com/randalmurphal/moodpet/pkg/moodpet/event"
	"github.com/randalmurphal/moodpet/pkg/moodpet/export"
	"github.com/randalmurphal/moodpet/pkg/moodpet/ident"
	"github.com/randalmurphal/moodpet/pkg/moodpet/observability"
	"github.com/randalmurphal/moodpet/pkg/moodpet/sched"
	"github.com/randalmurphal/moodpet/pkg/moodpet/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("moodpetd failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("MOODPET_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg := config.New(nil)
	if *configPath != "" {
		fileCfg, err := config.FromFile(*configPath)
		if err != nil {
			return err
		}
		cfg = fileCfg
	}
	// MOODPET_* environment variables (e.g. MOODPET_IDENT_KEY) win over
	// file values
	settings := config.SettingsFrom(cfg.Merge(config.FromEnv()))

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	resolver, err := ident.NewKeyedHasher(settings.IdentKey)
	if err != nil {
		return err
	}

	records, err := store.NewSQLiteStore(settings.DatabasePath)
	if err != nil {
		return err
	}
	defer records.Close()

	dedupStore, err := dedup.NewSQLiteEntryStore(settings.DatabasePath)
	if err != nil {
		return err
	}
	defer dedupStore.Close()

	dlq, err := event.NewSQLiteDLQ(settings.DeadLetterPath, event.DLQConfig{})
	if err != nil {
		return err
	}
	defer dlq.Close()

	artifacts, err := export.NewWriter(settings.ExportDir)
	if err != nil {
		return err
	}

	metrics := observability.NewMetricsRecorder()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := event.NewBus(event.BusConfig{
		BufferSize: settings.BusBufferSize,
		Partitions: settings.BusPartitions,
		DLQ:        dlq,
		OnError: func(evt event.Event, subscriberID string, err error) {
			observability.LogEventFailed(logger, evt.Type(), subscriberID, err)
			metrics.RecordDeadLettered(ctx, evt.Type())
		},
		OnDelivered: func(evt event.Event, subscriberID string) {
			metrics.RecordEventHandled(ctx, evt.Type(), 0, nil)
		},
	})
	defer bus.Close()

	// Agent wiring. Each agent owns one topic set; the bus fans events out
	// and republishes whatever the handlers derive.
	filter := dedup.NewFilter(dedupStore,
		dedup.WithWindow(settings.DedupWindow),
		dedup.WithLogger(logger),
		dedup.WithMetrics(metrics),
	)
	filter.Register(bus)
	filter.StartSweeper(ctx, settings.DedupWindow)

	agent.NewRouter(logger).Register(bus)
	agent.NewWriteSide(
		agent.NewCheckinWriter(records, logger),
		agent.NewDeleter(records, artifacts, logger),
	).Register(bus)
	agent.NewPetRender(records, logger).Register(bus)
	agent.NewNotifier(logger).Register(bus)
	agent.NewExporter(records, artifacts, logger, metrics).Register(bus)

	replayer := event.NewDLQProcessor(dlq, bus, event.DLQProcessorConfig{})
	replayer.Start(ctx)

	scheduler := sched.New(bus, records, logger, sched.WithInterval(settings.PingInterval))
	scheduler.Start(ctx)

	console := newConsoleTransport(bus, resolver, records, settings.NotifyHour, logger)
	console.Start(ctx)

	logger.Info("moodpetd started",
		slog.String("database", settings.DatabasePath),
		slog.String("export_dir", artifacts.Dir()),
		slog.Duration("dedup_window", settings.DedupWindow),
	)

	<-ctx.Done()
	logger.Info("moodpetd stopping")

	// Give in-flight deliveries a moment to settle before teardown.
	time.Sleep(200 * time.Millisecond)
	return nil
}
