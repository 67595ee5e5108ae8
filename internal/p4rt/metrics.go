package p4rt

import (
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/status"
)

var (
	countRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesync_p4rt_requests_total",
		Help: "Number of P4Runtime requests, by rpc and gRPC status code.",
	}, []string{"rpc", "code"})
	countTableUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesync_p4rt_table_updates_total",
		Help: "Number of table entry updates sent to the switch, by type.",
	}, []string{"type"})
	summaryWriteLatency = prometheus.NewSummary(prometheus.SummaryOpts{
		Name: "tablesync_p4rt_write_latency_seconds",
		Help: "Latency of write batch RPCs.",
	})
)

func init() {
	prometheus.MustRegister(countRequests, countTableUpdates, summaryWriteLatency)
}

// observe counts one RPC outcome. status.Code maps nil to OK.
func observe(rpc string, err error) {
	countRequests.WithLabelValues(rpc, status.Code(err).String()).Inc()
}
