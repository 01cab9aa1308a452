// Package main implements the apxtlm-repack CLI binary: it reads a
// telemetry or datalink XML recording and writes the equivalent APXTLM
// binary stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/arkilian/apxtlm-repack/internal/catalog"
	"github.com/arkilian/apxtlm-repack/internal/checkpoint"
	"github.com/arkilian/apxtlm-repack/internal/config"
	"github.com/arkilian/apxtlm-repack/internal/objstore"
	"github.com/arkilian/apxtlm-repack/internal/repack"
	"github.com/arkilian/apxtlm-repack/internal/rerr"
	"github.com/arkilian/apxtlm-repack/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.DefaultConfig()
	config.LoadFromEnv(cfg)

	var (
		inPath     = flag.String("in", cfg.InputPath, "input telemetry/datalink XML file (local path or s3:// URL)")
		outPath    = flag.String("out", cfg.OutputPath, "output APXTLM file (local path or s3:// URL)")
		utcOffset  = flag.Int("utc", int(cfg.UTCOffsetSeconds), "UTC offset in seconds recorded in the output header")
		withJSO    = flag.Bool("with-jso", cfg.IncludeJSO, "capture non-sample XML sub-trees as jso records")
		dataDir    = flag.String("data-dir", cfg.DataDir, "directory for the run catalog and checkpoint")
		resume     = flag.Bool("resume", cfg.Resume, "report the field/event dictionary size saved by a prior run's checkpoint")
		s3Region   = flag.String("s3-region", cfg.Storage.Region, "AWS region for s3:// paths")
		s3Endpoint = flag.String("s3-endpoint", cfg.Storage.Endpoint, "custom S3 endpoint (for S3-compatible stores)")
		showHelp   = flag.Bool("help", false, "print usage and exit")
	)
	flag.Parse()

	if *showHelp {
		flag.Usage()
		return 0
	}

	cfg.InputPath = *inPath
	cfg.OutputPath = *outPath
	cfg.UTCOffsetSeconds = int32(*utcOffset)
	cfg.IncludeJSO = *withJSO
	cfg.DataDir = *dataDir
	cfg.Resume = *resume
	cfg.Storage.Region = *s3Region
	cfg.Storage.Endpoint = *s3Endpoint
	cfg.Resolve()

	if err := cfg.Validate(); err != nil {
		log.Printf("invalid configuration: %v", err)
		flag.Usage()
		return 1
	}
	if err := cfg.EnsureDataDir(); err != nil {
		log.Printf("%v", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMgr := server.NewShutdownManager(server.DefaultShutdownConfig())
	go func() {
		if err := shutdownMgr.ListenForSignals(ctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()
	shutdownMgr.RegisterCloser(server.CloserFunc(func() error {
		cancel()
		return nil
	}))

	if err := doRepack(ctx, cfg, shutdownMgr); err != nil {
		log.Printf("apxtlm-repack: %v", err)
		return 1
	}
	return 0
}

func doRepack(ctx context.Context, cfg *config.Config, shutdownMgr *server.ShutdownManager) error {
	startedAt := time.Now()

	s3Cfg := objstore.S3Config{Region: cfg.Storage.Region, Endpoint: cfg.Storage.Endpoint, UsePathStyle: cfg.Storage.UsePathStyle}

	localIn := cfg.InputPath
	if objstore.IsRemote(cfg.InputPath) {
		path, cleanup, err := objstore.FetchToTemp(ctx, cfg.InputPath, s3Cfg)
		if err != nil {
			return fmt.Errorf("fetch input: %w", err)
		}
		defer cleanup()
		localIn = path
	}

	localOut := cfg.OutputPath
	remoteOut := ""
	if objstore.IsRemote(cfg.OutputPath) {
		tmp, err := os.CreateTemp("", "apxtlm-out-*")
		if err != nil {
			return fmt.Errorf("create temp output: %w", err)
		}
		tmp.Close()
		localOut = tmp.Name()
		remoteOut = cfg.OutputPath
		defer os.Remove(localOut)
	}

	cat, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	shutdownMgr.RegisterCloser(server.CloserFunc(cat.Close))
	defer cat.Close()

	if cfg.Resume {
		if state, ok, err := checkpoint.Load(cfg.CheckpointPath()); err != nil {
			log.Printf("checkpoint: %v, starting cold", err)
		} else if ok {
			log.Printf("checkpoint: prior run declared %d fields, %d events", len(state.Fields), len(state.Events))
		}
	}

	out, err := os.Create(localOut)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	stats, repackErr := repack.Run(ctx, localIn, out, repack.Options{
		UTCOffsetSec: cfg.UTCOffsetSeconds,
		IncludeJSO:   cfg.IncludeJSO,
	})
	closeErr := out.Close()

	finishedAt := time.Now()
	runErr := repackErr
	if runErr == nil {
		runErr = closeErr
	}

	byteSize := int64(0)
	if fi, statErr := os.Stat(localOut); statErr == nil {
		byteSize = fi.Size()
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if _, catErr := cat.RecordRun(ctx, catalog.Run{
		SourcePath:  cfg.InputPath,
		OutputPath:  cfg.OutputPath,
		Dialect:     string(stats.Dialect),
		FieldCount:  stats.FieldCount,
		EventCount:  stats.EventCount,
		SampleCount: stats.SampleCount,
		ByteSize:    byteSize,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
		Err:         errMsg,
	}); catErr != nil {
		log.Printf("catalog: failed to record run: %v", catErr)
	}

	if runErr != nil {
		if errCat := rerr.GetCategory(runErr); errCat != "" {
			log.Printf("run failed: [%s] %v", errCat, runErr)
		}
		return runErr
	}

	if remoteOut != "" {
		if err := objstore.PutFromLocal(ctx, localOut, remoteOut, s3Cfg); err != nil {
			return fmt.Errorf("upload output: %w", err)
		}
	}

	if err := checkpoint.Save(cfg.CheckpointPath(), stateFromStats(stats)); err != nil {
		log.Printf("checkpoint: failed to save: %v", err)
	}

	log.Printf("repacked %s (%s dialect): %d fields, %d events, %d samples, %d bytes",
		cfg.InputPath, stats.Dialect, stats.FieldCount, stats.EventCount, stats.SampleCount, byteSize)
	return nil
}

func stateFromStats(stats repack.Stats) checkpoint.State {
	fields := make([]checkpoint.FieldState, 0, len(stats.Fields))
	for _, name := range stats.Fields {
		fields = append(fields, checkpoint.FieldState{Name: name})
	}
	events := make([]checkpoint.EventState, 0, len(stats.Events))
	for _, e := range stats.Events {
		events = append(events, checkpoint.EventState{Name: e.Name, Keys: e.Keys})
	}
	return checkpoint.State{Fields: fields, Events: events}
}
