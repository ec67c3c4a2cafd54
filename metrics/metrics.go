// Package metrics exports Prometheus metrics of the transaction, dialog and registration layers.
//
// A nil *[Collector] is valid and records nothing, so objects created without metrics
// do not need to check for it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Options configures a [Collector].
type Options struct {
	// Namespace is the metric namespace. If empty, "sip" is used.
	Namespace string
	// ConstLabels are attached to every metric.
	ConstLabels prometheus.Labels
}

func (o *Options) namespace() string {
	if o == nil || o.Namespace == "" {
		return "sip"
	}
	return o.Namespace
}

func (o *Options) constLabels() prometheus.Labels {
	if o == nil {
		return nil
	}
	return o.ConstLabels
}

// Collector records metrics. All methods are safe for concurrent use.
type Collector struct {
	txCreated    *prometheus.CounterVec
	txTerminated *prometheus.CounterVec
	txActive     *prometheus.GaugeVec

	dlgCreated     *prometheus.CounterVec
	dlgTransitions *prometheus.CounterVec
	dlgActive      *prometheus.GaugeVec

	regTransitions *prometheus.CounterVec
	regRefreshes   prometheus.Counter
	regRefreshSecs prometheus.Gauge
}

// New creates a collector and registers its metrics with reg.
// If reg is nil, the metrics are created but not registered.
func New(reg prometheus.Registerer, opts *Options) *Collector {
	ns, lbs := opts.namespace(), opts.constLabels()
	f := promauto.With(reg)
	return &Collector{
		txCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "transaction",
			Name:        "created_total",
			Help:        "Total number of created transactions.",
			ConstLabels: lbs,
		}, []string{"side", "method"}),
		txTerminated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "transaction",
			Name:        "terminated_total",
			Help:        "Total number of terminated transactions by termination cause.",
			ConstLabels: lbs,
		}, []string{"side", "method", "cause"}),
		txActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "transaction",
			Name:        "active",
			Help:        "Number of transactions not yet terminated.",
			ConstLabels: lbs,
		}, []string{"side"}),
		dlgCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "dialog",
			Name:        "created_total",
			Help:        "Total number of created dialogs.",
			ConstLabels: lbs,
		}, []string{"kind"}),
		dlgTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "dialog",
			Name:        "transitions_total",
			Help:        "Total number of dialog state transitions by target state.",
			ConstLabels: lbs,
		}, []string{"kind", "state"}),
		dlgActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "dialog",
			Name:        "active",
			Help:        "Number of dialogs not yet disposed.",
			ConstLabels: lbs,
		}, []string{"kind"}),
		regTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "registration",
			Name:        "transitions_total",
			Help:        "Total number of registration state transitions by target state.",
			ConstLabels: lbs,
		}, []string{"state"}),
		regRefreshes: f.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "registration",
			Name:        "refresh_armed_total",
			Help:        "Total number of armed registration refresh timers.",
			ConstLabels: lbs,
		}),
		regRefreshSecs: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "registration",
			Name:        "refresh_delay_seconds",
			Help:        "Delay of the last armed registration refresh timer.",
			ConstLabels: lbs,
		}),
	}
}

func side(server bool) string {
	if server {
		return "server"
	}
	return "client"
}

// TransactionCreated records a new transaction.
func (c *Collector) TransactionCreated(server bool, method string) {
	if c == nil {
		return
	}
	c.txCreated.WithLabelValues(side(server), method).Inc()
	c.txActive.WithLabelValues(side(server)).Inc()
}

// Transaction termination causes.
const (
	CauseNormal         = "normal"
	CauseTimeout        = "timeout"
	CauseTransportError = "transport_error"
)

// TransactionTerminated records a terminated transaction.
func (c *Collector) TransactionTerminated(server bool, method, cause string) {
	if c == nil {
		return
	}
	c.txTerminated.WithLabelValues(side(server), method, cause).Inc()
	c.txActive.WithLabelValues(side(server)).Dec()
}

// DialogCreated records a new dialog of the given kind.
func (c *Collector) DialogCreated(kind string) {
	if c == nil {
		return
	}
	c.dlgCreated.WithLabelValues(kind).Inc()
	c.dlgActive.WithLabelValues(kind).Inc()
}

// DialogStateChanged records a dialog transition into state.
func (c *Collector) DialogStateChanged(kind, state string) {
	if c == nil {
		return
	}
	c.dlgTransitions.WithLabelValues(kind, state).Inc()
}

// DialogDisposed records a disposed dialog.
func (c *Collector) DialogDisposed(kind string) {
	if c == nil {
		return
	}
	c.dlgActive.WithLabelValues(kind).Dec()
}

// RegistrationStateChanged records a registration transition into state.
func (c *Collector) RegistrationStateChanged(state string) {
	if c == nil {
		return
	}
	c.regTransitions.WithLabelValues(state).Inc()
}

// RefreshArmed records an armed registration refresh timer.
func (c *Collector) RefreshArmed(d time.Duration) {
	if c == nil {
		return
	}
	c.regRefreshes.Inc()
	c.regRefreshSecs.Set(d.Seconds())
}
