// geopin-sandbox is an in-memory stand-in for the GeoPin service, meant for
// local development and integration testing of the client SDK.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geopin/geopin-go/internal/logger"
	"github.com/geopin/geopin-go/internal/observability"
	"github.com/geopin/geopin-go/internal/sandbox"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	cfg := sandbox.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Component: "sandbox",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting sandbox",
		"addr", cfg.Addr,
		"version", Version,
		"cell_res", cfg.CellRes)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if os.Getenv("METRICS_ENABLED") == "true" {
		addr := os.Getenv("METRICS_ADDR")
		if addr == "" {
			addr = ":9090"
		}
		path := os.Getenv("METRICS_PATH")
		if path == "" {
			path = "/metrics"
		}

		mux := http.NewServeMux()
		mux.Handle(path, promhttp.Handler())

		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		go func() {
			log.Printf("metrics: listening on %s%s", addr, path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server exited: %v", err)
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics: shutdown error: %v", err)
			}
		}()
	}

	if err := sandbox.Run(ctx, cfg, appLog); err != nil {
		appLog.Error("sandbox exited with error", "err", err)
		return 1
	}
	appLog.Info("sandbox stopped")
	return 0
}
