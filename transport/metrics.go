package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "packets_sent_total",
		Help:      "Total QUIC packets written to the wire.",
	})
	packetsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "packets_received_total",
		Help:      "Total QUIC packets accepted from incoming datagrams.",
	})
	bytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "bytes_sent_total",
		Help:      "Total bytes written to the wire across all packets.",
	})
	bytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "bytes_received_total",
		Help:      "Total bytes read from incoming datagrams.",
	})
	packetsLost = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quic",
		Name:      "packets_lost_total",
		Help:      "Total packets declared lost by loss detection.",
	})
)
