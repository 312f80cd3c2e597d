package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	persistlog "ghoulrush.io/internal/persistence/log"
	"ghoulrush.io/internal/persistence/snapshot"
	"ghoulrush.io/internal/sim/tuning"
	"ghoulrush.io/internal/sim/world"
	"ghoulrush.io/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		worldID    = flag.String("world", "arena_1", "world id")
		seed       = flag.Int64("seed", 0, "spawn seed (0: use tuning.yaml; ignored when resuming)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (ticks, sessions, spawns, snapshots)")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")

		logLevel  = flag.String("log_level", "info", "log level (debug, info, warn, error)")
		logFormat = flag.String("log_format", "console", "log format (console, json)")
	)
	flag.Parse()

	logger, err := newLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(serverFlags{
		addr:       *addr,
		worldID:    *worldID,
		seed:       *seed,
		configDir:  *configDir,
		dataDir:    *dataDir,
		tuningPath: *tuningPath,
		disableDB:  *disableDB,
		snapPath:   *snapPath,
		loadLatest: *loadLatest,
	}, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

type serverFlags struct {
	addr       string
	worldID    string
	seed       int64
	configDir  string
	dataDir    string
	tuningPath string
	disableDB  bool
	snapPath   string
	loadLatest bool
}

func run(f serverFlags, logger *zap.Logger) error {
	worldDir := filepath.Join(f.dataDir, "worlds", f.worldID)
	if err := os.MkdirAll(worldDir, 0o755); err != nil {
		return err
	}

	tp := strings.TrimSpace(f.tuningPath)
	if tp == "" {
		tp = filepath.Join(f.configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load tuning: %w", err)
		}
		logger.Warn("tuning not found; using defaults", zap.String("path", tp))
		tune = tuning.Defaults()
	}
	seed := f.seed
	if seed == 0 {
		seed = tune.Seed
	}

	// Optional: read-model index backend (does not affect the simulation).
	idx, err := openRuntimeIndex(worldDir, f.disableDB)
	if err != nil {
		return fmt.Errorf("open index backend: %w", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Warn("index backend: upsert tuning", zap.Error(err))
		}
	}

	mirror, err := openMirror(f.dataDir, logger)
	if err != nil {
		return err
	}
	defer mirror.Close()

	snapshotToLoad := strings.TrimSpace(f.snapPath)
	if snapshotToLoad == "" && f.loadLatest {
		snapshotToLoad = latestSnapshot(worldDir)
	}

	cfg := worldConfig(f.worldID, seed, tune)
	var w *world.World
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if snap.Header.WorldID != "" && snap.Header.WorldID != f.worldID {
			return fmt.Errorf("snapshot world id mismatch: flag=%s snap=%s", f.worldID, snap.Header.WorldID)
		}
		w = world.New(resumeConfig(cfg, snap), logger, nil)
		if err := w.ImportSnapshot(snap); err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}
		logger.Info("resumed from snapshot",
			zap.String("snapshot", filepath.Base(snapshotToLoad)),
			zap.Uint64("frame", w.CurrentFrame()),
			zap.Int("monsters", len(snap.Monsters)))
	} else {
		w = world.New(cfg, logger, nil)
	}

	ctx, cancel := signalContext()
	defer cancel()

	tickLog := persistlog.NewTickLogger(worldDir)
	snapLog := persistlog.NewSnapshotLogger(worldDir)
	defer tickLog.Close()
	defer snapLog.Close()
	if mirror != nil {
		tickLog.OnSegmentClosed(mirror.Enqueue)
		snapLog.OnSegmentClosed(mirror.Enqueue)
	}
	w.SetTickLogger(multiTickLogger{a: tickLog, b: idx})

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path := filepath.Join(worldDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Frame))
				if err := snapshot.WriteSnapshot(path, snap); err != nil {
					logger.Error("snapshot write", zap.Error(err))
					continue
				}
				_ = snapLog.WriteSnapshot(persistlog.SnapshotRecord{
					Frame:     snap.Header.Frame,
					Path:      path,
					Monsters:  len(snap.Monsters),
					NextNetID: snap.NextNetID,
				})
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
				mirror.Enqueue(path)
			}
		}
	}()

	worldDone := make(chan struct{})
	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("world stopped", zap.Error(err))
		}
	}()

	wsSrv := ws.NewServer(w, logger, ws.Options{})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler)
	mux.HandleFunc("/metrics", metricsHandler(w, wsSrv, idx, mirror))

	if envBool("GR_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", stateHandler(w))
	} else {
		logger.Info("admin endpoints disabled (GR_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("GR_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", wsSrv.Handler())

	srv := &http.Server{
		Addr:              f.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening",
		zap.String("addr", f.addr),
		zap.String("world", f.worldID),
		zap.Int("tick_rate_hz", w.TickRateHz()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	<-worldDone
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
