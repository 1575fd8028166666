package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// リクエストの結果ラベル。
const (
	outcomeForwarded           = "forwarded"
	outcomeNotFound            = "not_found"
	outcomeUnauthenticated     = "unauthenticated"
	outcomeRejected            = "rejected"
	outcomeAuthUnavailable     = "auth_unavailable"
	outcomeUpstreamUnavailable = "upstream_unavailable"
	outcomeClientClosed        = "client_closed"
	outcomeInternalError       = "internal_error"
)

// 検証結果ラベル。
const (
	authResultOK          = "ok"
	authResultMissing     = "missing"
	authResultRejected    = "rejected"
	authResultUnavailable = "unavailable"
)

// routeLabelNone はルートが解決できなかったリクエストのラベル。
const routeLabelNone = "none"

// Metrics はGatewayのPrometheusメトリクス。
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	authValidations  *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	upstreamErrors   *prometheus.CounterVec
}

// NewMetrics はメトリクスを生成してregistererに登録する。
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "requests_total",
				Help:      "Total number of requests handled by the dispatcher",
			},
			[]string{"route", "outcome"},
		),
		authValidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "auth_validations_total",
				Help:      "Total number of credential checks on authenticated routes",
			},
			[]string{"result"},
		),
		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "upstream_duration_seconds",
				Help:      "Time until upstream response headers were received",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"upstream"},
		),
		upstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "upstream_errors_total",
				Help:      "Total number of upstream connection failures",
			},
			[]string{"upstream"},
		),
	}
}

func (m *Metrics) request(route, outcome string) {
	m.requestsTotal.WithLabelValues(route, outcome).Inc()
}

func (m *Metrics) authValidation(result string) {
	m.authValidations.WithLabelValues(result).Inc()
}

func (m *Metrics) observeUpstream(upstream string, d time.Duration) {
	m.upstreamDuration.WithLabelValues(upstream).Observe(d.Seconds())
}

func (m *Metrics) upstreamFailed(upstream string) {
	m.upstreamErrors.WithLabelValues(upstream).Inc()
}
