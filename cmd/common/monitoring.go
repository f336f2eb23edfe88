package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ducminhle1904/hft-trading-engine/internal/logger"
	"github.com/ducminhle1904/hft-trading-engine/internal/monitoring"
)

// NewMonitoringMux serves Prometheus metrics on /metrics and, when health is
// set, the health snapshot on /healthz.
func NewMonitoringMux(health *monitoring.HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.MetricsHandler())
	if health != nil {
		mux.Handle("/healthz", health)
	}
	return mux
}

// StartMonitoring serves the monitoring endpoints on port until ctx is done.
func StartMonitoring(ctx context.Context, port int, health *monitoring.HealthChecker, log *logger.Logger) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewMonitoringMux(health),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("monitoring server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("monitoring server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv
}
