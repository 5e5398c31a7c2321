package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frsoeteb/OpenTrickler-v2/internal/config"
	"github.com/frsoeteb/OpenTrickler-v2/internal/domain/model"
	"github.com/frsoeteb/OpenTrickler-v2/internal/history"
	"github.com/frsoeteb/OpenTrickler-v2/internal/metrics"
	"github.com/frsoeteb/OpenTrickler-v2/internal/profile"
	"github.com/frsoeteb/OpenTrickler-v2/internal/sim"
	"github.com/frsoeteb/OpenTrickler-v2/internal/store"
	"github.com/frsoeteb/OpenTrickler-v2/internal/store/postgres"
	redispkg "github.com/frsoeteb/OpenTrickler-v2/internal/store/redis"
	"github.com/frsoeteb/OpenTrickler-v2/internal/tracing"
	"github.com/frsoeteb/OpenTrickler-v2/internal/tuning"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func main() {
	logLevel := slog.LevelInfo
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	logger.Info("starting trickler tuning engine",
		"persist_backend", cfg.Persistence.Backend,
		"profiles_path", cfg.Profiles.Path,
		"drop_target", cfg.Tuning.DropTarget,
		"max_drops", cfg.Tuning.MaxDrops,
		"warm_start_factor", cfg.Tuning.WarmStartFactor,
	)

	shutdownTracing, err := tracing.Init(context.Background(), "trickler", cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Endpoint != "" {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	blob, closeBlob, err := resolveBlobStore(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize blob store", "error", err, "backend", cfg.Persistence.Backend)
		os.Exit(1)
	}
	defer closeBlob()

	profiles, err := profile.Load(cfg.Profiles.Path)
	if err != nil {
		logger.Error("failed to load profiles", "error", err, "path", cfg.Profiles.Path)
		os.Exit(1)
	}

	hist := history.New(history.Config{
		Addr:                cfg.History.Addr,
		CoarseStopThreshold: cfg.Tuning.CoarseStopThreshold,
		FineStopThreshold:   cfg.History.FineStopThreshold,
		Bounds:              model.DefaultGainBounds(),
	}, blob, logger)

	session := tuning.NewSession(tuning.Config{
		MaxOverthrowPercent: cfg.Tuning.MaxOverthrowPercent,
		CoarseStopThreshold: cfg.Tuning.CoarseStopThreshold,
		TargetCoarseTimeMs:  cfg.Tuning.TargetCoarseTimeMs,
		TargetTotalTimeMs:   cfg.Tuning.TargetTotalTimeMs,
		WarmStartFactor:     cfg.Tuning.WarmStartFactor,
		DropTarget:          cfg.Tuning.DropTarget,
		MaxDrops:            cfg.Tuning.MaxDrops,
		Bounds:              model.DefaultGainBounds(),
	}, hist, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runMetricsServer(gCtx, cfg.Server.MetricsPort, logger)
	})

	g.Go(func() error {
		return runBench(gCtx, cfg, session, profiles, hist, logger)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("trickler exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("trickler shut down gracefully")
}

func resolveBlobStore(cfg *config.Config, logger *slog.Logger) (store.BlobStore, func(), error) {
	switch cfg.Persistence.Backend {
	case "file":
		fs, err := store.NewFileStore(cfg.Persistence.Dir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil

	case "redis":
		blob, err := redispkg.NewBlob(cfg.Persistence.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return blob, func() {
			if err := blob.Close(); err != nil {
				logger.Warn("redis close error", "error", err)
			}
		}, nil

	case "postgres":
		db, err := postgres.New(postgres.Config{
			URL:             cfg.Persistence.DBURL,
			MaxOpenConns:    cfg.Persistence.MaxOpenConns,
			MaxIdleConns:    cfg.Persistence.MaxIdleConns,
			ConnMaxLifetime: cfg.Persistence.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewBlobRepo(db)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, func() { db.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown persistence backend %q", cfg.Persistence.Backend)
	}
}

// runBench drives a full tuning session against the simulated dispenser,
// applies the result to the selected profile, then feeds a few passive
// charges into the learning history. Drop pacing goes through a rate
// limiter so a bench run resembles real dispense cadence.
func runBench(ctx context.Context, cfg *config.Config, session *tuning.Session, profiles *profile.Store, hist *history.Store, logger *slog.Logger) error {
	prof := profiles.Select(0)
	if prof == nil {
		return fmt.Errorf("no profile at slot 0")
	}

	plant := sim.New(sim.Config{
		Seed:         cfg.Sim.Seed,
		TargetWeight: prof.TargetWeight,
	})

	limiter := rate.NewLimiter(rate.Limit(cfg.Sim.DropsPerSecond), 1)
	tracer := tracing.Tracer("tuning")

	ctx, span := tracer.Start(ctx, "tuning.session")
	defer span.End()

	if err := session.Start(ctx, prof); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	for session.IsActive() {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		metrics.ControlTicks.Inc()

		gains, ok := session.NextParams()
		if !ok {
			break
		}

		_, dropSpan := tracer.Start(ctx, "tuning.drop")
		drop := plant.Drop(gains, session.MotorMode())
		dropSpan.SetAttributes(
			attribute.Float64("drop.overthrow", drop.Overthrow),
			attribute.Float64("drop.total_time_ms", drop.TotalTimeMs),
			attribute.String("drop.motor_mode", session.MotorMode().String()),
		)
		metrics.DropDuration.Observe(drop.TotalTimeMs / 1000)

		err := session.RecordDrop(drop)
		dropSpan.End()
		if err != nil {
			logger.Error("tuning aborted", "error", err, "progress_pct", session.ProgressPercent())
			break
		}
	}

	if session.IsComplete() || session.State() == tuning.StateError {
		if err := session.ApplyParams(); err != nil {
			return fmt.Errorf("apply tuned gains: %w", err)
		}
		if err := profiles.Save(); err != nil {
			return fmt.Errorf("save profiles: %w", err)
		}
		logger.Info("tuned gains saved",
			"profile", prof.Name,
			"coarse_kp", prof.CoarseKP,
			"coarse_kd", prof.CoarseKD,
			"fine_kp", prof.FineKP,
			"fine_kd", prof.FineKD,
		)
	}

	// Passive learning: normal charges with the tuned gains.
	gains := model.GainSet{
		CoarseKP: prof.CoarseKP,
		CoarseKD: prof.CoarseKD,
		FineKP:   prof.FineKP,
		FineKD:   prof.FineKD,
	}
	for i := 0; i < cfg.Sim.PassiveCharges; i++ {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		drop := plant.Drop(gains, tuning.MotorModeNormal)
		rec := history.Record{
			Gains:        gains,
			Overthrow:    drop.Overthrow,
			CoarseTimeMs: drop.CoarseTimeMs,
			FineTimeMs:   drop.FineTimeMs,
			TotalTimeMs:  drop.TotalTimeMs,
			ProfileIndex: prof.Index,
		}
		if err := hist.RecordCharge(ctx, rec); err != nil {
			logger.Warn("failed to record charge", "error", err)
		}
	}

	logger.Info("bench run finished", "passive_charges", cfg.Sim.PassiveCharges)
	return nil
}

func runMetricsServer(ctx context.Context, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			logger.Warn("failed to write health response", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server shutdown error", "error", err)
		}
	}()

	logger.Info("metrics server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
