package telemetry

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/lyzr/signer/common/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry holds observability components
type Telemetry struct {
	log       *logger.Logger
	pprofAddr string
	registry  *prometheus.Registry

	tasksTotal     *prometheus.CounterVec
	packagesTotal  *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	activeTasks    prometheus.Gauge
	uploadsSkipped prometheus.Counter
}

// New creates telemetry components backed by a private prometheus registry
func New(pprofPort int, log *logger.Logger) *Telemetry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Telemetry{
		log:       log,
		pprofAddr: fmt.Sprintf("localhost:%d", pprofPort),
		registry:  reg,
		tasksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sign_node_tasks_total",
			Help: "Sign tasks processed, labelled by outcome",
		}, []string{"success"}),
		packagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sign_node_packages_signed_total",
			Help: "Packages signed, labelled by package type",
		}, []string{"type"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sign_node_stage_duration_seconds",
			Help:    "Duration of sign pipeline stages",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		activeTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sign_node_active_tasks",
			Help: "Sign tasks currently running",
		}),
		uploadsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sign_node_duplicate_uploads_skipped_total",
			Help: "Uploads skipped because the content hash was already uploaded in the task",
		}),
	}
}

// Start starts the pprof endpoint
func (t *Telemetry) Start(ctx context.Context) error {
	srv := &http.Server{Addr: t.pprofAddr, Handler: http.DefaultServeMux}

	go func() {
		t.log.Info("pprof server starting", "addr", t.pprofAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.log.Error("pprof server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return nil
}

// Handler serves the registry in the prometheus exposition format
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry exposes the underlying registry for tests and extra collectors
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// TaskStarted marks a task as in flight
func (t *Telemetry) TaskStarted() {
	t.activeTasks.Inc()
}

// TaskFinished records the outcome of a task
func (t *Telemetry) TaskFinished(success bool) {
	t.activeTasks.Dec()
	t.tasksTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// StageFinished records how long a pipeline stage took
func (t *Telemetry) StageFinished(stage string, d time.Duration) {
	t.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	t.log.Debug("stage completed", "stage", stage, "duration_ms", d.Milliseconds())
}

// PackagesSigned counts signed packages of a type
func (t *Telemetry) PackagesSigned(kind string, n int) {
	t.packagesTotal.WithLabelValues(kind).Add(float64(n))
}

// DuplicatesSkipped counts uploads avoided by content deduplication
func (t *Telemetry) DuplicatesSkipped(n int) {
	t.uploadsSkipped.Add(float64(n))
}
