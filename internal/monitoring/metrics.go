package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Order lifecycle metrics
	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Orders by terminal or current status transition",
		},
		[]string{"instrument", "status"},
	)

	orderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_order_latency_ms",
			Help:    "Placement latency in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"instrument"},
	)

	// Risk metrics
	riskRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_risk_rejections_total",
			Help: "Signals denied by the risk gate",
		},
		[]string{"limit"},
	)

	tradingEnabled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_trading_enabled",
			Help: "1 while the risk gate allows new orders",
		},
	)

	// Portfolio metrics
	equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_equity",
			Help: "Initial capital plus realized and unrealized P&L",
		},
	)

	positionQty = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_position_quantity",
			Help: "Signed position quantity",
		},
		[]string{"instrument"},
	)

	lastPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_last_price",
			Help: "Last observed price",
		},
		[]string{"instrument"},
	)

	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_ticks_total",
			Help: "Ticks processed",
		},
		[]string{"instrument"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_errors_total",
			Help: "Total number of errors",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(orderLatency)
	prometheus.MustRegister(riskRejections)
	prometheus.MustRegister(tradingEnabled)
	prometheus.MustRegister(equity)
	prometheus.MustRegister(positionQty)
	prometheus.MustRegister(lastPrice)
	prometheus.MustRegister(ticksTotal)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler serves the Prometheus metrics endpoint
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordOrder counts an order status transition
func RecordOrder(instrument, status string) {
	ordersTotal.WithLabelValues(instrument, status).Inc()
}

// ObserveOrderLatency records placement latency
func ObserveOrderLatency(instrument string, ms float64) {
	orderLatency.WithLabelValues(instrument).Observe(ms)
}

// RecordRiskRejection counts a denied signal by limit name
func RecordRiskRejection(limit string) {
	riskRejections.WithLabelValues(limit).Inc()
}

// SetTradingEnabled mirrors the risk gate latch
func SetTradingEnabled(enabled bool) {
	if enabled {
		tradingEnabled.Set(1)
		return
	}
	tradingEnabled.Set(0)
}

// UpdateEquity updates the equity gauge
func UpdateEquity(v float64) {
	equity.Set(v)
}

// UpdatePosition updates the position gauge
func UpdatePosition(instrument string, qty float64) {
	positionQty.WithLabelValues(instrument).Set(qty)
}

// RecordTick counts a tick and updates the last price
func RecordTick(instrument string, price float64) {
	ticksTotal.WithLabelValues(instrument).Inc()
	lastPrice.WithLabelValues(instrument).Set(price)
}

// RecordError records an error metric
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
