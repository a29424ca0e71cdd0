// The MIT License (MIT)
//
// # Copyright (c) 2024 The go-ipc Authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package ipc

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsDesc holds the const prometheus.Desc values a Collector reports;
// kept separate from the per-Service Collector so Describe/Collect only
// ever build label slices, grounded on the teacher pack's
// makeDescriptions/TCPInfoCollector split (runZeroInc-conniver exporter).
var metricsDesc = struct {
	sessions       *prometheus.Desc
	talkers        *prometheus.Desc
	packetsSent    *prometheus.Desc
	packetsRecv    *prometheus.Desc
	retransmits    *prometheus.Desc
	duplicates     *prometheus.Desc
	outOfOrder     *prometheus.Desc
	sendQueueDepth *prometheus.Desc
	relayForwards  *prometheus.Desc
}{
	sessions:       prometheus.NewDesc("ipc_sessions", "Number of live sessions across all talkers.", nil, nil),
	talkers:        prometheus.NewDesc("ipc_talkers", "Number of UDP sockets this service owns.", nil, nil),
	packetsSent:    prometheus.NewDesc("ipc_packets_sent_total", "Packets transmitted, including retransmits.", nil, nil),
	packetsRecv:    prometheus.NewDesc("ipc_packets_received_total", "Packets received from the network.", nil, nil),
	retransmits:    prometheus.NewDesc("ipc_packets_retransmitted_total", "Packets re-sent after a retransmit timeout.", nil, nil),
	duplicates:     prometheus.NewDesc("ipc_packets_duplicate_total", "Received packets whose id had already been delivered.", nil, nil),
	outOfOrder:     prometheus.NewDesc("ipc_out_of_order_buffered", "Packets currently held in out-of-order receive buffers.", nil, nil),
	sendQueueDepth: prometheus.NewDesc("ipc_send_queue_depth", "Messages currently pending or in flight across all sessions.", nil, nil),
	relayForwards:  prometheus.NewDesc("ipc_relay_forwards", "Sessions this process is forwarding as a relay gateway.", nil, nil),
}

// metricsCounters is the mutable side: values Collect reads under lock.
// Counters are bumped from the Talker execute loop only, so no atomics are
// needed beyond the mutex Collect itself takes.
type metricsCounters struct {
	mu sync.Mutex

	packetsSent    uint64
	packetsRecv    uint64
	retransmits    uint64
	duplicates     uint64
	outOfOrder     int
	sendQueueDepth int
}

func (m *metricsCounters) addSent(n uint64)        { m.mu.Lock(); m.packetsSent += n; m.mu.Unlock() }
func (m *metricsCounters) addRecv(n uint64)        { m.mu.Lock(); m.packetsRecv += n; m.mu.Unlock() }
func (m *metricsCounters) addRetransmit(n uint64)  { m.mu.Lock(); m.retransmits += n; m.mu.Unlock() }
func (m *metricsCounters) addDuplicate(n uint64)   { m.mu.Lock(); m.duplicates += n; m.mu.Unlock() }
func (m *metricsCounters) setOutOfOrder(n int)     { m.mu.Lock(); m.outOfOrder = n; m.mu.Unlock() }
func (m *metricsCounters) setSendQueueDepth(n int) { m.mu.Lock(); m.sendQueueDepth = n; m.mu.Unlock() }

func (m *metricsCounters) snapshot() (sent, recv, retransmit, dup uint64, ooo, sendQ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.packetsSent, m.packetsRecv, m.retransmits, m.duplicates, m.outOfOrder, m.sendQueueDepth
}

// ServiceCollector implements prometheus.Collector over a running Service,
// exposing the counters spec §7/§8's observability concerns imply even
// though the spec itself treats metrics as out of scope for its core
// algorithm (ambient stack carried regardless, per project convention).
type ServiceCollector struct {
	svc *Service
}

// NewServiceCollector wraps svc for registration with a prometheus.Registry.
func NewServiceCollector(svc *Service) *ServiceCollector {
	return &ServiceCollector{svc: svc}
}

func (c *ServiceCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- metricsDesc.sessions
	descs <- metricsDesc.talkers
	descs <- metricsDesc.packetsSent
	descs <- metricsDesc.packetsRecv
	descs <- metricsDesc.retransmits
	descs <- metricsDesc.duplicates
	descs <- metricsDesc.outOfOrder
	descs <- metricsDesc.sendQueueDepth
	descs <- metricsDesc.relayForwards
}

func (c *ServiceCollector) Collect(metrics chan<- prometheus.Metric) {
	sessionCount, talkerCount := c.svc.counts()
	sent, recv, retransmit, dup, ooo, sendQ := c.svc.metrics.snapshot()
	relayForwards := 0
	if c.svc.relay != nil {
		relayForwards = c.svc.relay.count()
	}

	metrics <- prometheus.MustNewConstMetric(metricsDesc.sessions, prometheus.GaugeValue, float64(sessionCount))
	metrics <- prometheus.MustNewConstMetric(metricsDesc.talkers, prometheus.GaugeValue, float64(talkerCount))
	metrics <- prometheus.MustNewConstMetric(metricsDesc.packetsSent, prometheus.CounterValue, float64(sent))
	metrics <- prometheus.MustNewConstMetric(metricsDesc.packetsRecv, prometheus.CounterValue, float64(recv))
	metrics <- prometheus.MustNewConstMetric(metricsDesc.retransmits, prometheus.CounterValue, float64(retransmit))
	metrics <- prometheus.MustNewConstMetric(metricsDesc.duplicates, prometheus.CounterValue, float64(dup))
	metrics <- prometheus.MustNewConstMetric(metricsDesc.outOfOrder, prometheus.GaugeValue, float64(ooo))
	metrics <- prometheus.MustNewConstMetric(metricsDesc.sendQueueDepth, prometheus.GaugeValue, float64(sendQ))
	metrics <- prometheus.MustNewConstMetric(metricsDesc.relayForwards, prometheus.GaugeValue, float64(relayForwards))
}
