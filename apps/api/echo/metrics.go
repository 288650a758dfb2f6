package echoapi

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campus_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campus_http_request_duration_seconds",
		Help:    "HTTP request latencies by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		err := next(ctx)
		if err != nil {
			// let the error handler write the status
			ctx.Error(err)
		}

		route := ctx.Path()
		if route == "" {
			route = "unmatched"
		}
		code := strconv.Itoa(ctx.Response().Status)
		httpRequests.WithLabelValues(ctx.Request().Method, route, code).Inc()
		httpDuration.WithLabelValues(ctx.Request().Method, route).Observe(time.Since(start).Seconds())
		return nil
	}
}
