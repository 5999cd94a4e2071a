package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by the counters below
const (
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeExpired  = "expired"
	OutcomeLimited  = "limited"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Recorder receives domain events worth counting. Services depend on this
// interface; NewPrometheus and Noop implement it.
type Recorder interface {
	ShareAccess(accessType, outcome string)
	Checkout(event, outcome string)
	PermissionCacheLookup(hit bool)
	TreeRewrite(operation string, nodes int)
	SweepRun(task string, affected int)
}

type prometheusRecorder struct {
	shareAccess *prometheus.CounterVec
	checkout    *prometheus.CounterVec
	cache       *prometheus.CounterVec
	rewrite     *prometheus.HistogramVec
	sweep       *prometheus.CounterVec
}

// NewPrometheus registers the filevault collectors on reg.
// A nil registerer yields the no-op recorder.
func NewPrometheus(reg prometheus.Registerer) Recorder {
	if reg == nil {
		return Noop{}
	}

	return &prometheusRecorder{
		shareAccess: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filevault_share_access_total",
				Help: "Share access attempts by access type and outcome",
			},
			[]string{"type", "outcome"},
		),
		checkout: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filevault_checkout_events_total",
				Help: "Checkout lock transitions by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		cache: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filevault_permission_cache_lookups_total",
				Help: "Permission cache lookups by result",
			},
			[]string{"result"},
		),
		rewrite: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filevault_tree_rewrite_nodes",
				Help:    "Folders rewritten per rename or move",
				Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"operation"},
		),
		sweep: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "filevault_sweep_affected_total",
				Help: "Entities touched by maintenance sweeps",
			},
			[]string{"task"},
		),
	}
}

func (p *prometheusRecorder) ShareAccess(accessType, outcome string) {
	p.shareAccess.WithLabelValues(accessType, outcome).Inc()
}

func (p *prometheusRecorder) Checkout(event, outcome string) {
	p.checkout.WithLabelValues(event, outcome).Inc()
}

func (p *prometheusRecorder) PermissionCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	p.cache.WithLabelValues(result).Inc()
}

func (p *prometheusRecorder) TreeRewrite(operation string, nodes int) {
	p.rewrite.WithLabelValues(operation).Observe(float64(nodes))
}

func (p *prometheusRecorder) SweepRun(task string, affected int) {
	p.sweep.WithLabelValues(task).Add(float64(affected))
}

// Handler serves the registry in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Noop discards every event
type Noop struct{}

func (Noop) ShareAccess(string, string) {}
func (Noop) Checkout(string, string)    {}
func (Noop) PermissionCacheLookup(bool) {}
func (Noop) TreeRewrite(string, int)    {}
func (Noop) SweepRun(string, int)       {}
