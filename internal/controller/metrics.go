package controller

import "github.com/prometheus/client_golang/prometheus"

var (
	countRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesync_controller_requests_total",
		Help: "Number of requests handled by the control actor, by kind and result.",
	}, []string{"kind", "result"})
	gaugeMailboxDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tablesync_controller_mailbox_depth",
		Help: "Requests waiting in the control actor's mailbox.",
	})
	countStreamMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesync_stream_messages_total",
		Help: "Number of stream messages received from the switch, by kind.",
	}, []string{"kind"})
	countDigestItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesync_digest_items_total",
		Help: "Number of digest data items, by decode result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(countRequests, gaugeMailboxDepth, countStreamMessages, countDigestItems)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
