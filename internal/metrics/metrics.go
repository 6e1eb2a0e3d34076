package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mg7d/adaptivefps/internal/policy"
	"github.com/mg7d/adaptivefps/internal/state"
)

// Registry holds the agent's Prometheus metrics on a private registry.
type Registry struct {
	reg *prometheus.Registry

	loggedIn       prometheus.Gauge
	inCombat       prometheus.Gauge
	currentCap     prometheus.Gauge
	refreshHz      prometheus.Gauge
	snapshotStamp  prometheus.Gauge
	desiredCap     prometheus.Gauge
	overrideActive prometheus.Gauge
	capWrites      *prometheus.CounterVec
	redraws        prometheus.Counter
	saveErrors     prometheus.Counter
}

// NewRegistry creates and registers all collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		loggedIn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "afps_logged_in",
			Help: "1 when the client reports a logged-in character.",
		}),
		inCombat: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "afps_in_combat",
			Help: "1 while the character is in combat.",
		}),
		currentCap: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "afps_current_cap",
			Help: "Raw frame-rate cap value reported by the client.",
		}),
		refreshHz: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "afps_refresh_hz",
			Help: "Display refresh rate reported by the client, 0 when unknown.",
		}),
		snapshotStamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "afps_snapshot_stamp",
			Help: "Change stamp of the latest published state snapshot.",
		}),
		desiredCap: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "afps_desired_cap",
			Help: "Raw cap value the engine wants for the current state.",
		}),
		overrideActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "afps_override_active",
			Help: "1 while the user's own cap is captured and overridden.",
		}),
		capWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afps_cap_writes_total",
			Help: "Cap writes issued to the client, by result.",
		}, []string{"result"}),
		redraws: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "afps_status_redraws_total",
			Help: "Status surface redraws.",
		}),
		saveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "afps_settings_save_errors_total",
			Help: "Failed settings saves.",
		}),
	}
	r.reg.MustRegister(
		r.loggedIn,
		r.inCombat,
		r.currentCap,
		r.refreshHz,
		r.snapshotStamp,
		r.desiredCap,
		r.overrideActive,
		r.capWrites,
		r.redraws,
		r.saveErrors,
	)
	return r
}

// ObserveSnapshot updates the state gauges from a newly published snapshot.
func (r *Registry) ObserveSnapshot(s state.Snapshot, stamp uint64) {
	r.loggedIn.Set(boolValue(s.LoggedIn))
	r.inCombat.Set(boolValue(s.InCombat))
	r.currentCap.Set(float64(s.CurrentCap))
	r.refreshHz.Set(float64(s.RefreshHz))
	r.snapshotStamp.Set(float64(stamp))
}

func (r *Registry) CapWritten(_ uint, err error) {
	if err != nil {
		r.capWrites.WithLabelValues("error").Inc()
		return
	}
	r.capWrites.WithLabelValues("ok").Inc()
}

func (r *Registry) StatusRedrawn() { r.redraws.Inc() }

func (r *Registry) DecisionMade(d policy.Decision) {
	r.overrideActive.Set(boolValue(d.OverrideActive))
	if d.Applicable {
		r.desiredCap.Set(float64(d.Desired.Raw()))
	} else {
		r.desiredCap.Set(0)
	}
}

func (r *Registry) SettingsSaveFailed() { r.saveErrors.Inc() }

// Handler serves the Prometheus text format for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
