package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mklimuk/oxygen"
)

const httpTimeout = 5 * time.Second

var _ oxygen.Sink = &Prometheus{}

// Prometheus exposes the last reading and the component status as gauges.
type Prometheus struct {
	component string
	oxygen    *prometheus.GaugeVec
	status    *prometheus.GaugeVec
}

func NewPrometheus(reg prometheus.Registerer, component string) (*Prometheus, error) {
	p := &Prometheus{
		component: component,
		oxygen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oxygen_concentration_percent",
			Help: "Oxygen concentration (units: % vol)",
		}, []string{"component"}),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oxygen_component_status",
			Help: "Component status (0 unknown, 1 ok, 2 warning, 3 failed)",
		}, []string{"component"}),
	}
	for _, c := range []prometheus.Collector{p.oxygen, p.status} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("could not register collector: %w", err)
		}
	}
	return p, nil
}

func (p *Prometheus) Publish(value float32) {
	p.oxygen.WithLabelValues(p.component).Set(round(value))
}

func (p *Prometheus) ObserveStatus(component string, status oxygen.Status) {
	p.status.WithLabelValues(component).Set(float64(status))
}

// MetricsHandler serves the gathered metrics on GET /metrics.
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	router := httprouter.New()
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	return router
}

// Serve exposes the metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           MetricsHandler(gatherer),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("serving metrics", "addr", addr)
		serverErr <- server.ListenAndServe()
	}()
	select {
	case err := <-serverErr:
		return fmt.Errorf("metrics server failed: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}
