package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics 配对与下发指标
type AppMetrics struct {
	DiscoveryDatagrams prometheus.Counter
	DiscoveryBytes     prometheus.Counter
	DiscoveryReplies   *prometheus.CounterVec // labels: result=ok|error
	DiscoveryThrottled prometheus.Counter     // 回复失败后被令牌桶延迟的次数
	Paired             prometheus.Gauge       // 0=未配对 1=已配对
	SendAttempts       *prometheus.CounterVec // labels: result=ok|connect_error|write_error
	SendDuration       prometheus.Histogram
	AckTimeouts        prometheus.Counter
	Deliveries         *prometheus.CounterVec // labels: result=ok|failed
}

// NewAppMetrics 注册并返回业务指标；reg 为 nil 时只创建不注册
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		DiscoveryDatagrams: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_datagrams_total",
			Help: "Total discovery datagrams received.",
		}),
		DiscoveryBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_bytes_received_total",
			Help: "Total bytes received on the discovery socket.",
		}),
		DiscoveryReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "discovery_replies_total",
			Help: "Discovery token replies by result.",
		}, []string{"result"}),
		DiscoveryThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "discovery_throttled_total",
			Help: "Times the discovery loop waited on the failed-reply rate limit.",
		}),
		Paired: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "session_paired",
			Help: "Whether a device is currently paired.",
		}),
		SendAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "control_send_attempts_total",
			Help: "Command send attempts by result.",
		}, []string{"result"}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "control_send_duration_seconds",
			Help:    "Duration of a single connect/write/ack cycle.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		AckTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "control_ack_timeouts_total",
			Help: "Sends that completed without an acknowledgement before the read timeout.",
		}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "control_deliveries_total",
			Help: "Command deliveries after retries by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.DiscoveryDatagrams, m.DiscoveryBytes, m.DiscoveryReplies, m.DiscoveryThrottled, m.Paired,
			m.SendAttempts, m.SendDuration, m.AckTimeouts, m.Deliveries)
	}
	return m
}
