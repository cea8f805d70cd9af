package quotemetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quoteboard",
		Name:      "quotes_total",
		Help:      "Total quotes delivered through the multiplexer",
	}, []string{"source"})

	RecvErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quoteboard",
		Name:      "recv_errors_total",
		Help:      "Total receive errors that did not close the source",
	}, []string{"source"})

	SourcesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quoteboard",
		Name:      "sources_active",
		Help:      "Sources currently armed in the multiplexer",
	})

	PendingReceives = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quoteboard",
		Name:      "pending_receives",
		Help:      "Outstanding receive operations across all sources",
	})

	SourcesRetiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quoteboard",
		Name:      "sources_retired_total",
		Help:      "Sources retired after their channel closed",
	}, []string{"source"})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quoteboard",
		Name:      "ws_reconnects_total",
		Help:      "Successful websocket reconnects",
	}, []string{"source"})

	RowRedraws = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quoteboard",
		Name:      "row_redraws_total",
		Help:      "Row refresh requests, partitioned by result",
	}, []string{"result"}) // drawn/offpage

	RelayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quoteboard",
		Name:      "relay_published_total",
		Help:      "Quotes republished by quoterelay",
	}, []string{"target", "result"}) // ok/error
)

// OnQuote 记录一条送达的报价
func OnQuote(source string) {
	QuotesTotal.WithLabelValues(source).Inc()
}

// OnRetire 记录一个数据源因通道关闭被摘除
func OnRetire(source string) {
	SourcesRetiredTotal.WithLabelValues(source).Inc()
	SourcesActive.Dec()
}
