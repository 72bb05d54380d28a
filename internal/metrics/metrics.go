// Package metrics exposes process-local Prometheus counters for the
// resolver. Registration is unconditional; the HTTP endpoint only exists
// when the daemon is started with --metrics-addr.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	QueriesBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockandfocus",
		Subsystem: "dns",
		Name:      "queries_blocked_total",
		Help:      "Queries answered with the sinkhole address.",
	})
	QueriesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockandfocus",
		Subsystem: "dns",
		Name:      "queries_forwarded_total",
		Help:      "Queries relayed from an upstream resolver.",
	})
	QueriesServfail = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockandfocus",
		Subsystem: "dns",
		Name:      "queries_servfail_total",
		Help:      "Queries answered SERVFAIL after upstream failure.",
	})
	QueriesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "blockandfocus",
		Subsystem: "dns",
		Name:      "queries_dropped_total",
		Help:      "Datagrams dropped without a reply.",
	})
	ControlRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockandfocus",
		Subsystem: "control",
		Name:      "requests_total",
		Help:      "Control-channel requests by command type.",
	}, []string{"type"})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logrus.WithField("addr", addr).Info("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
