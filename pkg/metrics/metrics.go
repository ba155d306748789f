package metrics

import (
	"context"
	"math/big"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/hypersettle/pkg/events"
)

const namespace = "hypersettle"

// Collector counts committed settlements as an event sink and rejected
// calls as an engine observer.
type Collector struct {
	reg prometheus.Registerer
	gat prometheus.Gatherer

	settlements *prometheus.CounterVec
	legs        *prometheus.CounterVec
	gross       *prometheus.CounterVec
	commission  *prometheus.CounterVec
	rejections  *prometheus.CounterVec
}

// NewCollector registers the settlement metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		gat: reg,
		settlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "calls_committed_total",
				Help:      "Committed settlement and cancellation calls.",
			},
			[]string{"kind"},
		),
		legs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "legs_total",
				Help:      "Order legs touched by committed calls.",
			},
			[]string{"kind", "role"},
		),
		gross: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "gross_volume_total",
				Help:      "Currency paid by buyers, in base units.",
			},
			[]string{"currency"},
		),
		commission: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "commission_total",
				Help:      "Currency routed to commission recipients, in base units.",
			},
			[]string{"currency"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "rejections_total",
				Help:      "Rejected calls by operation and error code.",
			},
			[]string{"op", "code"},
		),
	}
	reg.MustRegister(
		c.settlements, c.legs, c.gross, c.commission, c.rejections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Name() string { return "metrics" }

func (c *Collector) Handle(_ context.Context, ev events.Event) error {
	kind := string(ev.Kind)
	c.settlements.WithLabelValues(kind).Inc()
	for _, leg := range ev.Legs {
		c.legs.WithLabelValues(kind, string(leg.Role)).Inc()
	}
	currency := ev.Currency.Hex()
	if v := toFloat(ev.Gross); v > 0 {
		c.gross.WithLabelValues(currency).Add(v)
	}
	if v := toFloat(ev.Commission); v > 0 {
		c.commission.WithLabelValues(currency).Add(v)
	}
	return nil
}

func (c *Collector) ObserveRejection(op, code string) {
	c.rejections.WithLabelValues(op, code).Inc()
}

// Gauge exports a value read at scrape time, such as a queue depth.
func (c *Collector) Gauge(name, help string, fn func() float64) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gat, promhttp.HandlerOpts{})
}

func toFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
