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

import "time"

// SessionConfiguration holds the per-session tunables named in spec §6.
type SessionConfiguration struct {
	// MaxSendPacketCount bounds the number of unacknowledged data packets
	// in flight per session (default 6).
	MaxSendPacketCount int
	// MaxMessagePacketCount is carried in the configuration but not read
	// by the session: fillSendBuffer does not limit how many packets one
	// message spans.
	MaxMessagePacketCount int
	// MaxSendMessageQueueSize bounds how many messages may be interleaved
	// (multiplexed) concurrently on one session.
	MaxSendMessageQueueSize int
	// MaxRecvNoUpdateCount is the received-id count at which
	// mustSendUpdates reports true. No send path calls mustSendUpdates, so
	// no standalone update packet is sent; acks ride on outbound Data,
	// resent and KeepAlive packets.
	MaxRecvNoUpdateCount int

	// Keepalive is the keep-alive period: checkTimeouts emits a KeepAlive
	// once this long has passed since the session's previous KeepAlive
	// (other outbound traffic does not reset it). Zero disables it.
	Keepalive time.Duration
	// ResponseKeepalive overrides Keepalive while a WaitResponse message
	// is outstanding.
	ResponseKeepalive time.Duration
	// RelayKeepalive/RelayResponseKeepalive are the Relayed44 analogues.
	RelayKeepalive         time.Duration
	RelayResponseKeepalive time.Duration

	// DataRetransmitCount is the number of unacknowledged retransmits of a
	// data packet tolerated before the session is declared dead (default 8).
	DataRetransmitCount int
	// ConnectRetransmitCount is the analogous budget for Connect/Accept
	// control packets, which get more patience (default 16).
	ConnectRetransmitCount int
}

// DefaultSessionConfiguration mirrors the defaults named in spec §6.
func DefaultSessionConfiguration() SessionConfiguration {
	return SessionConfiguration{
		MaxSendPacketCount:      6,
		MaxMessagePacketCount:   32,
		MaxSendMessageQueueSize: 4,
		MaxRecvNoUpdateCount:    4,
		Keepalive:               10 * time.Second,
		ResponseKeepalive:       30 * time.Second,
		RelayKeepalive:          10 * time.Second,
		RelayResponseKeepalive:  30 * time.Second,
		DataRetransmitCount:     8,
		ConnectRetransmitCount:  16,
	}
}

// TalkerConfiguration holds the per-Talker tunables named in spec §6.
type TalkerConfiguration struct {
	// SessionCount is the number of sessions a single Talker accepts
	// before the Service starts another Talker.
	SessionCount int
	// MaxCount bounds how many Talkers a Service will ever create.
	MaxCount int
}

// DefaultTalkerConfiguration mirrors defaults reasonable for a small node.
func DefaultTalkerConfiguration() TalkerConfiguration {
	return TalkerConfiguration{
		SessionCount: 4096,
		MaxCount:     16,
	}
}

// NodeConfiguration holds the relay-node tunables named in spec §6. A node
// is a gateway-internal bookkeeping object: for every (peer base address,
// relay id) pair it forwards, it keeps one Node allocation.
type NodeConfiguration struct {
	SessionCount int
	SocketCount  int
	MaxCount     int
}

// DefaultNodeConfiguration mirrors defaults reasonable for a small gateway.
func DefaultNodeConfiguration() NodeConfiguration {
	return NodeConfiguration{
		SessionCount: 4096,
		SocketCount:  1,
		MaxCount:     16,
	}
}

// Configuration is the full set of options recognized by a Service (spec §6).
type Configuration struct {
	// BaseAddress is the local address this process's sessions are keyed
	// by and advertise to peers (the "base address" in the glossary).
	BaseAddress string
	// AcceptAddress, if set, is the address new Talkers bind to accept
	// inbound Connect packets; defaults to BaseAddress.
	AcceptAddress string

	Session SessionConfiguration
	Talker  TalkerConfiguration
	Node    NodeConfiguration

	// RelayGatewayVector lists addresses a gateway may use to reach other
	// networks (used by a node that itself sits between two networks).
	RelayGatewayVector []string
	// GatewayAddressVector lists addresses through which this process
	// reaches other networks (used by a sender that must cross networks).
	GatewayAddressVector []string
	// LocalNetworkID identifies this process's network for relay routing.
	LocalNetworkID uint32

	// CompressThreshold is the minimum payload size worth trying to
	// compress; below it the compression hook is skipped entirely.
	CompressThreshold int
}

// DefaultConfiguration returns a Configuration with every tunable set to the
// defaults named in spec §6.
func DefaultConfiguration() Configuration {
	return Configuration{
		Session:           DefaultSessionConfiguration(),
		Talker:            DefaultTalkerConfiguration(),
		Node:              DefaultNodeConfiguration(),
		CompressThreshold: 256,
	}
}

// IsRelayConfigured reports whether this process can act as a gateway,
// i.e. it has addresses through which other networks may reach it.
func (c Configuration) IsRelayConfigured() bool {
	return len(c.RelayGatewayVector) > 0
}
