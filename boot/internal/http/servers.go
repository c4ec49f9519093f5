package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// Config is the HTTP server configuration.
type Config struct {
	Logger logr.Logger
	// GitRev is reported by the healthcheck endpoint.
	GitRev string
}

// Serve mounts app on the standard middleware chain, adds the healthcheck and
// metrics endpoints outside the logging chain, and runs the server until ctx
// is cancelled. It blocks.
func (c *Config) Serve(ctx context.Context, addr string, app http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle(healthCheckURI, HealthCheck{StartTime: time.Now(), GitRev: c.GitRev}.HandlerFunc(c.Logger))
	mux.Handle(metricsURI, MetricsHandler())
	mux.Handle("/", Chain(app,
		Recovery(c.Logger),
		RequestMetrics(),
		OTel("pureboot-http"),
		Logging(c.Logger),
	))

	server := http.Server{
		Addr:    addr,
		Handler: mux,

		// Mitigate Slowloris attacks. The boot endpoints carry few
		// headers, so 20s is plenty of time.
		ReadHeaderTimeout: 20 * time.Second,
		ErrorLog:          slog.NewLogLogger(logr.ToSlogHandler(c.Logger), slog.Level(c.Logger.GetV())),
	}

	go func() {
		<-ctx.Done()
		c.Logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		c.Logger.Error(err, "listen and serve http")
		return err
	}
	return nil
}
