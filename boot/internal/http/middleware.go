// Package http carries the boot plane's HTTP server plumbing: the middleware
// chain, the healthcheck and metrics handlers, and the graceful server loop.
package http

import (
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Chain wraps h with middleware, outermost first.
func Chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// Logging returns middleware that logs every response: method, URI, client,
// duration and status. Healthcheck and metrics scrapes are noisy and skipped;
// 5xx responses are always logged.
func Logging(logger logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method := r.Method
			uri := r.RequestURI
			client := clientIP(r.RemoteAddr)

			m := httpsnoop.CaptureMetrics(next, w, r)

			quiet := r.URL.Path == healthCheckURI || r.URL.Path == metricsURI
			if quiet && m.Code < http.StatusInternalServerError {
				return
			}
			logger.Info("response", "method", method, "uri", uri,
				"client", client, "duration", m.Duration.String(), "code", m.Code)
		})
	}
}

// Recovery returns middleware that recovers from handler panics, logs the
// panic with its stack, and answers 500.
func Recovery(log logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error(nil, "panic recovered in HTTP handler", "panic", rec, "stack", string(debug.Stack()))
					w.WriteHeader(http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// OTel returns middleware that wraps the handler with OpenTelemetry
// instrumentation.
func OTel(operationName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, operationName)
	}
}

var (
	requestMetricsOnce sync.Once
	requestCount       *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
)

// RequestMetrics returns middleware that counts requests and observes their
// durations on the default prometheus registry. Safe to call more than once;
// the collectors register exactly once.
func RequestMetrics() func(http.Handler) http.Handler {
	requestMetricsOnce.Do(func() {
		requestCount = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pureboot_http_requests_total",
				Help: "Count of HTTP requests.",
			},
			[]string{"method", "status_code"},
		)
		requestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pureboot_http_request_duration_seconds",
				Help:    "Histogram of HTTP response times in seconds.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "status_code"},
		)
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)

			status := strconv.Itoa(m.Code)
			requestCount.WithLabelValues(r.Method, status).Inc()
			requestDuration.WithLabelValues(r.Method, status).Observe(m.Duration.Seconds())
		})
	}
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return "?"
	}
	return host
}
