// Package metrics provides Prometheus metrics for the UDP topic bridge.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "udp_bridge"

// Drop reasons for DatagramsDropped.
const (
	ReasonMalformedJSON = "malformed_json"
	ReasonMissingField  = "missing_field"
	ReasonUnsupportedOp = "unsupported_op"
	ReasonUnroutable    = "unroutable"
	ReasonRateLimited   = "rate_limited"
)

// Failure reasons for SendErrors.
const (
	ReasonNoPeer    = "no_peer"
	ReasonQueueFull = "queue_full"
	ReasonClosed    = "closed"
	ReasonWrite     = "write"
	ReasonEncode    = "encode"
)

// Metrics holds every counter and gauge the bridge exports.
type Metrics struct {
	// UDP ingress
	DatagramsReceived prometheus.Counter
	BytesReceived     prometheus.Counter
	ReceiveErrors     prometheus.Counter
	DatagramsDropped  *prometheus.CounterVec
	PeerChanges       prometheus.Counter

	// UDP egress
	DatagramsSent prometheus.Counter
	BytesSent     prometheus.Counter
	SendErrors    *prometheus.CounterVec
	SendQueueLen  prometheus.Gauge

	// Bus
	BusPublished     *prometheus.CounterVec
	BusPublishErrors *prometheus.CounterVec
	BusReceived      *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide instance registered with the default registerer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetricsWithRegistry(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewUnregistered returns metrics backed by a private registry. Useful for
// components built without an explicit Metrics, and for tests.
func NewUnregistered() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry creates and registers all metrics with reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "Total UDP datagrams received",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total UDP payload bytes received",
		}),
		ReceiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receive_errors_total",
			Help:      "Total non-fatal UDP receive errors",
		}),
		DatagramsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Total inbound datagrams dropped by reason",
		}, []string{"reason"}),
		PeerChanges: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "peer_changes_total",
			Help:      "Times the tracked remote peer endpoint changed",
		}),
		DatagramsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_sent_total",
			Help:      "Total UDP datagrams sent to the peer",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total UDP payload bytes sent",
		}),
		SendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_errors_total",
			Help:      "Total outbound datagrams not sent, by reason",
		}, []string{"reason"}),
		SendQueueLen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "send_queue_length",
			Help:      "Datagrams waiting in the send queue",
		}),
		BusPublished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_published_total",
			Help:      "Messages published onto the bus by topic",
		}, []string{"topic"}),
		BusPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_publish_errors_total",
			Help:      "Failed bus publishes by topic",
		}, []string{"topic"}),
		BusReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_received_total",
			Help:      "Messages received from bus subscriptions by topic",
		}, []string{"topic"}),
	}
}

// RecordReceive records one inbound datagram of n bytes.
func (m *Metrics) RecordReceive(n int) {
	m.DatagramsReceived.Inc()
	m.BytesReceived.Add(float64(n))
}

// RecordDrop records an inbound datagram discarded for reason.
func (m *Metrics) RecordDrop(reason string) {
	m.DatagramsDropped.WithLabelValues(reason).Inc()
}

// RecordSend records one datagram of n bytes written to the socket.
func (m *Metrics) RecordSend(n int) {
	m.DatagramsSent.Inc()
	m.BytesSent.Add(float64(n))
}

// RecordSendError records an outbound datagram that was not sent.
func (m *Metrics) RecordSendError(reason string) {
	m.SendErrors.WithLabelValues(reason).Inc()
}

// RecordPublish records the outcome of a bus publish.
func (m *Metrics) RecordPublish(topic string, err error) {
	if err != nil {
		m.BusPublishErrors.WithLabelValues(topic).Inc()
		return
	}
	m.BusPublished.WithLabelValues(topic).Inc()
}

// RecordBusMessage records a message delivered by a bus subscription.
func (m *Metrics) RecordBusMessage(topic string) {
	m.BusReceived.WithLabelValues(topic).Inc()
}
