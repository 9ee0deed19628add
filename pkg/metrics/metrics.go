package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供诊断端点暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		CallStarted, CallEnded, RedirectHops,
		EventDropped, HeaderInjections, LiveCalls, EnrichPanics,
	)
}

// CallStarted 已观察到的逻辑调用总数（每个逻辑调用恰好 +1）
var CallStarted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "spanbridge_call_started_total",
		Help: "逻辑调用 Start 观察总数",
	},
)

// CallEnded 已终结的逻辑调用总数（按结局）
var CallEnded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "spanbridge_call_ended_total",
		Help: "逻辑调用 Stop 观察总数（按结局）",
	},
	[]string{"outcome"}, // ok | error | exception | abandoned
)

// RedirectHops 被折叠的重复 Start 事件数（重定向/重试跳数）
var RedirectHops = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "spanbridge_redirect_hops_total",
		Help: "同一逻辑调用上被折叠的重复 Start 事件数",
	},
)

// EventDropped 被忽略的底层事件数（按原因）
var EventDropped = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "spanbridge_event_dropped_total",
		Help: "被忽略的底层事件数（按原因）",
	},
	[]string{"reason"}, // unknown_id | passthrough | detached
)

// HeaderInjections 传播头注入次数（每个逻辑调用至多一次）
var HeaderInjections = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "spanbridge_header_injections_total",
		Help: "traceparent/baggage 注入次数",
	},
)

// LiveCalls 当前在途逻辑调用数
var LiveCalls = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "spanbridge_live_calls",
		Help: "当前在途逻辑调用数",
	},
)

// EnrichPanics 被吸收的富化回调 panic 数
var EnrichPanics = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "spanbridge_enrich_panics_total",
		Help: "被吸收的富化回调 panic 数",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
