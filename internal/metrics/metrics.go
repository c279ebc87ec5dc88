// Package metrics holds the Prometheus collectors for the auth service.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AuthEventsTotal counts auth operations by operation and outcome
	AuthEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "community_auth_events_total",
			Help: "Total number of auth operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// AuthRejectionsTotal counts requests refused by the access control middleware
	AuthRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "community_auth_rejections_total",
			Help: "Total number of requests rejected by access control, by error kind",
		},
		[]string{"kind"},
	)

	// MailDispatchTotal counts outgoing mail attempts by transport and outcome
	MailDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "community_mail_dispatch_total",
			Help: "Total number of mail dispatch attempts",
		},
		[]string{"transport", "outcome"},
	)

	// HTTPRequestsTotal counts HTTP requests
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "community_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes HTTP request latency
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "community_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// Register adds every collector to reg
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		AuthEventsTotal,
		AuthRejectionsTotal,
		MailDispatchTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordAuth increments the auth event counter
func RecordAuth(operation, outcome string) {
	AuthEventsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordRejection increments the access control rejection counter
func RecordRejection(kind string) {
	AuthRejectionsTotal.WithLabelValues(kind).Inc()
}

// RecordMail increments the mail dispatch counter
func RecordMail(transport string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	MailDispatchTotal.WithLabelValues(transport, outcome).Inc()
}

// Middleware records request counts and latency per matched route
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		route := c.Route().Path
		HTTPRequestsTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
