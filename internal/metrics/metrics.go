// Package metrics exposes the sale and closing counters scraped at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is safe to use as a nil pointer; every method then does nothing.
type Metrics struct {
	registry        *prometheus.Registry
	salesCreated    prometheus.Counter
	salesRejected   *prometheus.CounterVec
	salesAmount     prometheus.Counter
	reportsClosed   prometheus.Counter
	closeConflicts  prometheus.Counter
	reportsPreviews prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		salesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tillbook_sales_created_total",
			Help: "Sales persisted.",
		}),
		salesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tillbook_sales_rejected_total",
			Help: "Sales rejected before persistence, by reason.",
		}, []string{"reason"}),
		salesAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tillbook_sales_amount_cents_total",
			Help: "Sum of persisted sale totals in cents.",
		}),
		reportsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tillbook_reports_closed_total",
			Help: "Z reports created.",
		}),
		closeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tillbook_report_close_conflicts_total",
			Help: "Z closes rolled back because another close won.",
		}),
		reportsPreviews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tillbook_report_previews_total",
			Help: "X report previews served.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.salesCreated,
		m.salesRejected,
		m.salesAmount,
		m.reportsClosed,
		m.closeConflicts,
		m.reportsPreviews,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SaleCreated counts a persisted sale. Terminal ids are client supplied,
// so they are logged with the sale rather than used as a label.
func (m *Metrics) SaleCreated(totalCents int64) {
	if m == nil {
		return
	}
	m.salesCreated.Inc()
	// Counter.Add panics on negative values.
	if totalCents > 0 {
		m.salesAmount.Add(float64(totalCents))
	}
}

func (m *Metrics) SaleRejected(reason string) {
	if m == nil {
		return
	}
	m.salesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ReportClosed() {
	if m == nil {
		return
	}
	m.reportsClosed.Inc()
}

func (m *Metrics) CloseConflict() {
	if m == nil {
		return
	}
	m.closeConflicts.Inc()
}

func (m *Metrics) ReportPreviewed() {
	if m == nil {
		return
	}
	m.reportsPreviews.Inc()
}
