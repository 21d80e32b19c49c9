package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"forged/pkg/bus"
	"forged/pkg/conf"
	"forged/pkg/containers"
	"forged/pkg/stream"
	"forged/pkg/telemetry"
	"forged/services/builds"
	"forged/services/reaper"
)

func main() {
	if err := run("forged-reaper"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	cfg, err := conf.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	host := os.Getenv("FORGED_BUILDER_HOST")
	if host == "" {
		host, err = os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve builder host: %w", err)
		}
	}

	orm, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open gorm session: %w", err)
	}

	records, err := builds.NewStore(orm)
	if err != nil {
		return fmt.Errorf("init build store: %w", err)
	}

	mq, err := bus.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer mq.Close()

	lists, err := stream.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer lists.Close()

	runtime, err := containers.NewDockerRuntime()
	if err != nil {
		return fmt.Errorf("init docker runtime: %w", err)
	}

	r, err := reaper.New(host, records, runtime, reaper.UnixProcesses{}, lists, logger)
	if err != nil {
		return fmt.Errorf("init reaper: %w", err)
	}

	if err := r.Start(ctx, mq); err != nil {
		return fmt.Errorf("subscribe kill orders: %w", err)
	}
	logger.Printf("INFO reaper consuming kill orders for host %s", host)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: http shutdown error: %v\n", serviceName, err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}
