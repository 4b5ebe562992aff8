package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	if m == nil {
		t.Fatal("NewMetricsWithRegistry returned nil")
	}
	if m.DatagramsReceived == nil || m.DatagramsDropped == nil || m.BusPublished == nil {
		t.Fatal("metrics not initialised")
	}
}

func TestRecordReceiveAndSend(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordReceive(10)
	m.RecordReceive(5)
	m.RecordSend(7)

	if got := testutil.ToFloat64(m.DatagramsReceived); got != 2 {
		t.Errorf("DatagramsReceived = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.BytesReceived); got != 15 {
		t.Errorf("BytesReceived = %v, want 15", got)
	}
	if got := testutil.ToFloat64(m.DatagramsSent); got != 1 {
		t.Errorf("DatagramsSent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BytesSent); got != 7 {
		t.Errorf("BytesSent = %v, want 7", got)
	}
}

func TestRecordDropByReason(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordDrop(ReasonMalformedJSON)
	m.RecordDrop(ReasonMalformedJSON)
	m.RecordDrop(ReasonUnroutable)

	if got := testutil.ToFloat64(m.DatagramsDropped.WithLabelValues(ReasonMalformedJSON)); got != 2 {
		t.Errorf("malformed drops = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.DatagramsDropped.WithLabelValues(ReasonUnroutable)); got != 1 {
		t.Errorf("unroutable drops = %v, want 1", got)
	}
}

func TestRecordPublish(t *testing.T) {
	m := NewMetricsWithRegistry(prometheus.NewRegistry())

	m.RecordPublish("/chatter", nil)
	m.RecordPublish("/chatter", errors.New("boom"))

	if got := testutil.ToFloat64(m.BusPublished.WithLabelValues("/chatter")); got != 1 {
		t.Errorf("published = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BusPublishErrors.WithLabelValues("/chatter")); got != 1 {
		t.Errorf("publish errors = %v, want 1", got)
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Fatal("Default returned different instances")
	}
}
