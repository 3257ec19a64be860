// Package metrics registers the Prometheus instruments served at /metrics.
//
// Exposed series:
//   - snipebot_orders_placed_total{symbol}    - entry orders submitted
//   - snipebot_orders_rejected_total{symbol}  - entry orders rejected by the exchange
//   - snipebot_fills_total{symbol}            - fill confirmations consumed
//   - snipebot_snipes_total{result}           - snipe outcomes (success|failure)
//   - snipebot_open_positions                 - currently open positions (gauge)
//   - snipebot_realized_pnl_usdt              - cumulative realized net P&L (gauge)
//   - snipebot_ws_reconnects_total{stream}    - websocket reconnect attempts
//   - snipebot_clock_offset_ms                - current exchange clock offset (gauge)
//   - snipebot_notifications_dropped_total    - notifications dropped by the queue
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ordersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snipebot_orders_placed_total",
			Help: "Entry orders submitted to the exchange",
		},
		[]string{"symbol"},
	)

	ordersRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snipebot_orders_rejected_total",
			Help: "Entry orders rejected by the exchange",
		},
		[]string{"symbol"},
	)

	fills = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snipebot_fills_total",
			Help: "Fill confirmations consumed from the private stream",
		},
		[]string{"symbol"},
	)

	snipes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snipebot_snipes_total",
			Help: "Snipe outcomes by result (success|failure)",
		},
		[]string{"result"},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snipebot_open_positions",
			Help: "Currently open positions",
		},
	)

	realizedPnl = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snipebot_realized_pnl_usdt",
			Help: "Cumulative realized net P&L in USDT",
		},
	)

	wsReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snipebot_ws_reconnects_total",
			Help: "Websocket reconnect attempts by stream",
		},
		[]string{"stream"},
	)

	clockOffset = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snipebot_clock_offset_ms",
			Help: "Estimated exchange clock offset in milliseconds",
		},
	)

	notificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snipebot_notifications_dropped_total",
			Help: "Notifications dropped because the delivery queue was full",
		},
	)
)

func init() {
	prometheus.MustRegister(ordersPlaced, ordersRejected, fills, snipes)
	prometheus.MustRegister(openPositions, realizedPnl)
	prometheus.MustRegister(wsReconnects, clockOffset)
	prometheus.MustRegister(notificationsDropped)
}

func IncOrderPlaced(symbol string) { ordersPlaced.WithLabelValues(symbol).Inc() }

func IncOrderRejected(symbol string) { ordersRejected.WithLabelValues(symbol).Inc() }

func IncFill(symbol string) { fills.WithLabelValues(symbol).Inc() }

func IncSnipe(success bool) {
	if success {
		snipes.WithLabelValues("success").Inc()
	} else {
		snipes.WithLabelValues("failure").Inc()
	}
}

func SetOpenPositions(n int) { openPositions.Set(float64(n)) }

func SetRealizedPnl(v float64) { realizedPnl.Set(v) }

func IncWSReconnect(stream string) { wsReconnects.WithLabelValues(stream).Inc() }

func SetClockOffsetMs(ms int64) { clockOffset.Set(float64(ms)) }

func IncNotificationDropped() { notificationsDropped.Inc() }
