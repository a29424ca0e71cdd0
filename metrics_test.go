package ipc

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsCountersSnapshot(t *testing.T) {
	m := &metricsCounters{}
	m.addSent(3)
	m.addRecv(2)
	m.addRetransmit(1)
	m.addDuplicate(4)
	m.setOutOfOrder(2)
	m.setSendQueueDepth(7)

	sent, recv, retransmit, dup, ooo, sendQ := m.snapshot()
	if sent != 3 || recv != 2 || retransmit != 1 || dup != 4 || ooo != 2 || sendQ != 7 {
		t.Fatalf("unexpected snapshot: sent=%d recv=%d retransmit=%d dup=%d ooo=%d sendQ=%d",
			sent, recv, retransmit, dup, ooo, sendQ)
	}
}

func TestMetricsCountersAccumulate(t *testing.T) {
	m := &metricsCounters{}
	m.addSent(1)
	m.addSent(2)
	sent, _, _, _, _, _ := m.snapshot()
	if sent != 3 {
		t.Fatalf("expected additive accumulation, got %d", sent)
	}
}

func TestServiceCollectorDescribeAndCollect(t *testing.T) {
	svc := newTestService(t, DefaultConfiguration(), nil)
	collector := NewServiceCollector(svc)

	descs := make(chan *prometheus.Desc, 16)
	go func() {
		collector.Describe(descs)
		close(descs)
	}()
	count := 0
	for range descs {
		count++
	}
	if count != 9 {
		t.Fatalf("expected 9 described metrics, got %d", count)
	}

	metrics := make(chan prometheus.Metric, 16)
	go func() {
		collector.Collect(metrics)
		close(metrics)
	}()
	count = 0
	for range metrics {
		count++
	}
	if count != 9 {
		t.Fatalf("expected 9 collected metrics, got %d", count)
	}
}
