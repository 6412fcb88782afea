package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"radio-recorder/internal/platform/config"
	"radio-recorder/internal/platform/logger"
	"radio-recorder/internal/platform/metrics"
	"radio-recorder/internal/recorder"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	dataDir := config.GetEnv("DATA_DIR", "data")
	defaultBitrate := config.GetEnvInt("DEFAULT_BITRATE", recorder.DefaultBitrate)
	sizeFloor := config.GetEnvInt64("ROTATE_SIZE_FLOOR", recorder.DefaultSizeFloor)
	insecureTLS := config.GetEnvBool("TLS_INSECURE_SKIP_VERIFY", true)
	connectTimeout := config.GetEnvDuration("CONNECT_TIMEOUT", 10*time.Second)
	retentionMaxAge := config.GetEnvDuration("RETENTION_MAX_AGE", 0)
	retentionInterval := config.GetEnvDuration("RETENTION_INTERVAL", time.Minute)

	log := logger.New(logLevel, logFormat)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Error("cannot create data dir", "data_dir", dataDir, "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	reg := recorder.NewRegistry(recorder.WorkerConfig{
		DataDir:        dataDir,
		Client:         recorder.NewStreamClient(insecureTLS, connectTimeout),
		DefaultBitrate: defaultBitrate,
		SizeFloor:      sizeFloor,
		Log:            log,
		Metrics:        met,
	})
	svc := recorder.NewService(reg, dataDir, log)
	h := recorder.NewHandler(svc, log, met)

	var janitor *recorder.Janitor
	if retentionMaxAge > 0 {
		janitor = recorder.NewJanitor(recorder.JanitorConfig{
			DataDir:  dataDir,
			MaxAge:   retentionMaxAge,
			Interval: retentionInterval,
			Log:      log,
			Metrics:  met,
		})
		janitor.Start()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.RecordingCount()) }).ServeHTTP(w, r)
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"data_dir", dataDir,
		"default_bitrate", defaultBitrate,
		"rotate_size_floor", sizeFloor,
		"tls_insecure_skip_verify", insecureTLS,
		"retention_max_age", retentionMaxAge.String(),
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	if janitor != nil {
		janitor.Stop()
	}
	if err := svc.Shutdown(ctx); err != nil {
		log.Error("stopping recordings failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
