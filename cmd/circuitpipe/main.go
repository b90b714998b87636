// Command circuitpipe runs the parallel circuit dataset pipeline: generate
// circuits across a worker pool, archive them locally by content hash, and
// sync sealed batches to remote storage.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/inferq/circuitpipe/circuit"
	"github.com/inferq/circuitpipe/component"
	"github.com/inferq/circuitpipe/config"
	"github.com/inferq/circuitpipe/logger"
	"github.com/inferq/circuitpipe/pipeline"
	"github.com/inferq/circuitpipe/storage"
	"github.com/inferq/circuitpipe/storage/local"
	_ "github.com/inferq/circuitpipe/storage/s3" // register the s3 backend
	"github.com/inferq/circuitpipe/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	flags := pflag.NewFlagSet("circuitpipe", pflag.ExitOnError)
	configFile := flags.String("config", "", "path to a YAML config file")
	envFile := flags.String("env-file", "", "path to a .env file")
	workers := flags.Int("workers", 0, "parallel workers (0 = CPU count - 2)")
	batchSize := flags.Int("batch-size", 0, "results per dispatched batch")
	iterations := flags.Int("iterations", 0, "tasks to run (0 = unbounded)")
	syncInterval := flags.Duration("sync-interval", 0, "status and stale-flush interval")
	maxBatchAge := flags.Duration("max-batch-age", 0, "flush partial batches older than this")
	taskTimeout := flags.Duration("task-timeout", 0, "per-task wall-clock budget")
	storagePath := flags.String("storage-path", "", "local circuit archive directory")
	remote := flags.Bool("remote", false, "enable remote batch sync")
	showVersion := flags.BoolP("version", "v", false, "print version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Println("circuitpipe", version.Get().String())
		return 0
	}

	cfg, err := config.Load(*configFile, *envFile, overridesFrom(flags, config.Overrides{
		Workers:      workers,
		BatchSize:    batchSize,
		Iterations:   iterations,
		SyncInterval: syncInterval,
		MaxBatchAge:  maxBatchAge,
		TaskTimeout:  taskTimeout,
		StoragePath:  storagePath,
		RemoteOn:     remote,
	}))
	if err != nil {
		fmt.Fprintln(os.Stderr, "circuitpipe:", err)
		return 1
	}

	logger.Init(cfg.Logging)
	log := logger.GetGlobalLogger()
	log.Info("starting circuitpipe", map[string]interface{}{
		"version": version.Get().Short(),
		"workers": cfg.Pipeline.Workers,
	})

	archive := storage.NewArchive(cfg.Storage, func(basePath string, minFree int64) (storage.Storage, error) {
		return local.NewStorage(basePath, minFree)
	}, log)

	registry := component.NewRegistry()
	if err := registry.Register(archive); err != nil {
		log.Error("registering archive failed", map[string]interface{}{logger.FieldError: err.Error()})
		return 1
	}

	ctx := context.Background()
	if err := registry.StartAll(ctx); err != nil {
		log.Error("startup failed", map[string]interface{}{logger.FieldError: err.Error()})
		return 1
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := registry.StopAll(stopCtx); err != nil {
			log.Error("shutdown incomplete", map[string]interface{}{logger.FieldError: err.Error()})
		}
	}()

	var remoteStore storage.Storage
	if cfg.Remote.Enabled {
		remoteStore, err = storage.NewRemote(cfg.Remote, log)
		if err != nil {
			log.Error("remote storage init failed", map[string]interface{}{logger.FieldError: err.Error()})
			return 1
		}
	}

	var proc circuit.Processor
	if cfg.Circuit.GeneratorCommand != "" {
		proc = circuit.NewExecProcessor(cfg.Circuit.GeneratorCommand)
	} else {
		log.Warn("no generator command configured, using the synthetic processor")
		proc = circuit.NewSyntheticProcessor()
	}

	reg := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(reg)
	if cfg.Pipeline.MetricsAddr != "" {
		serveMetrics(cfg.Pipeline.MetricsAddr, reg, log)
	}

	runner := pipeline.NewRunner(cfg, proc, archive, remoteStore, metrics, log)
	if err := runner.Run(ctx); err != nil {
		log.Error("pipeline failed", map[string]interface{}{logger.FieldError: err.Error()})
		return 1
	}
	return 0
}

// overridesFrom keeps only the overrides whose flags were actually set, so
// unset flags never mask config file or environment values.
func overridesFrom(flags *pflag.FlagSet, all config.Overrides) config.Overrides {
	ov := config.Overrides{}
	if flags.Changed("workers") {
		ov.Workers = all.Workers
	}
	if flags.Changed("batch-size") {
		ov.BatchSize = all.BatchSize
	}
	if flags.Changed("iterations") {
		ov.Iterations = all.Iterations
	}
	if flags.Changed("sync-interval") {
		ov.SyncInterval = all.SyncInterval
	}
	if flags.Changed("max-batch-age") {
		ov.MaxBatchAge = all.MaxBatchAge
	}
	if flags.Changed("task-timeout") {
		ov.TaskTimeout = all.TaskTimeout
	}
	if flags.Changed("storage-path") {
		ov.StoragePath = all.StoragePath
	}
	if flags.Changed("remote") {
		ov.RemoteOn = all.RemoteOn
	}
	return ov
}

func serveMetrics(addr string, reg *prometheus.Registry, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		log.Info("serving metrics", map[string]interface{}{"addr": addr})
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Warn("metrics server stopped", map[string]interface{}{logger.FieldError: err.Error()})
		}
	}()
}
