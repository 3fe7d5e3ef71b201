package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/atomsched/internal/config"
	"github.com/me/atomsched/internal/dispatch"
	"github.com/me/atomsched/internal/gpu"
	"github.com/me/atomsched/internal/logging"
	"github.com/me/atomsched/internal/metrics"
	"github.com/me/atomsched/internal/scheduler"
	"github.com/me/atomsched/internal/server"
	"github.com/me/atomsched/internal/trace"
)

func main() {
	// Flag defaults come from the built-in config; a config file, if given,
	// replaces those defaults before flags are applied.
	flag.String("config", "", "Path to a YAML config file")
	cfg := config.DefaultServerConfig()
	if path := peekConfigFlag(); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.TracePath, "trace", cfg.TracePath, "Trace database path (\":memory:\" keeps it in RAM)")
	flag.IntVar(&cfg.JobSlots, "job-slots", cfg.JobSlots, "Number of hardware job slots")
	flag.IntVar(&cfg.JobTickMS, "job-tick-ms", cfg.JobTickMS, "Scheduling tick in milliseconds")
	flag.IntVar(&cfg.TimeoutMS, "timeout-ms", cfg.TimeoutMS, "Execution watchdog in milliseconds")
	flag.IntVar(&cfg.SemaphoreTimeoutMS, "semaphore-timeout-ms", cfg.SemaphoreTimeoutMS, "Soft atom wait watchdog in milliseconds")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")
	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Open the trace store and run migrations.
	store, err := trace.NewSQLiteStore(cfg.TracePath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open trace store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate trace store: %v\n", err)
		os.Exit(1)
	}
	logger.Info("trace store ready", "path", cfg.TracePath)

	recorder := trace.NewRecorder(store, logger)
	defer recorder.Close()

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	broadcaster := server.NewBroadcaster()

	// Device, scheduler and dispatch loop. Every sink sees the same event
	// stream from the dispatch goroutine.
	dev := gpu.NewSimDevice(
		gpu.WithLogger(logger),
		gpu.WithDefaultProfile(gpu.Profile{
			Duration: time.Duration(cfg.DefaultDurationMS) * time.Millisecond,
		}),
	)
	sched := scheduler.New(dev, cfg.JobSlots,
		scheduler.WithLogger(logger),
		scheduler.WithJobTickDuration(time.Duration(cfg.JobTickMS)*time.Millisecond),
		scheduler.WithTimeoutDuration(time.Duration(cfg.TimeoutMS)*time.Millisecond),
		scheduler.WithSemaphoreTimeoutDuration(time.Duration(cfg.SemaphoreTimeoutMS)*time.Millisecond),
		scheduler.WithEventSink(scheduler.MultiSink{recorder, collector, broadcaster}),
	)
	loop := dispatch.NewLoop(sched, dev.GetPlatformPort(), logger,
		dispatch.WithTickHook(func() { collector.UpdateQueueStats(sched.Status()) }),
	)
	dev.Bind(loop.Post, sched.JobCompleted)

	srv := server.New(cfg, loop, dev, logger,
		server.WithTraceStore(store),
		server.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		server.WithBroadcaster(broadcaster),
	)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Start(context.Background()) }()

	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "job_slots", cfg.JobSlots)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}

	// Stop the dispatch loop only after the HTTP surface is gone, so no
	// handler can post to a dead loop.
	loop.Stop()
	<-loopDone

	logger.Info("server stopped")
}

// peekConfigFlag finds --config before flag.Parse runs, so the file can seed
// the defaults the remaining flags override.
func peekConfigFlag() string {
	for i, arg := range os.Args[1:] {
		switch {
		case arg == "--config" || arg == "-config":
			rest := os.Args[i+2:]
			if len(rest) > 0 {
				return rest[0]
			}
		case len(arg) > 9 && arg[:9] == "--config=":
			return arg[9:]
		case len(arg) > 8 && arg[:8] == "-config=":
			return arg[8:]
		}
	}
	return ""
}
