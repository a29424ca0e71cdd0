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
	"net"
	"strings"
	"sync"
	"time"

	"github.com/higebu/netfd"
	"github.com/pkg/errors"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// batchWriter lets the Talker hand an outbound datagram to the kernel
// through x/net's WriteBatch (writeTo passes one message per call),
// falling back to one WriteTo per packet otherwise (grounded on the teacher's xconn/
// txqueue batching in sess.go, generalized from one socket's single
// destination to a Talker's many peers).
type batchWriter interface {
	WriteBatch(ms []ipv4.Message, flags int) (int, error)
}

func newBatchWriter(conn net.PacketConn, addr net.Addr) batchWriter {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil
	}
	if udpAddr.IP == nil || udpAddr.IP.To4() != nil {
		return ipv4.NewPacketConn(conn)
	}
	return ipv6.NewPacketConn(conn)
}

// talkerEvent is one freshly read datagram that readLoop hands to the
// execute loop.
type talkerEvent struct {
	data []byte
	addr net.Addr
}

// Talker owns exactly one UDP socket and multiplexes every Session whose
// peer base address it has accepted or dialed (spec §4.3: "one Talker per
// UDP socket... sessions keyed by peer base address"). Its execute loop is
// the only goroutine that touches Session internals beyond the small
// caller-facing surface guarded by Session.mu.
type Talker struct {
	idx  uint32
	conn net.PacketConn
	bw   batchWriter
	fd   int

	cfg        TalkerConfiguration
	sessionCfg SessionConfiguration
	codec      Codec
	handler    Handler
	startupTS  startupTimestamp
	metrics    *metricsCounters
	gateways   *gatewaySelector

	// relay is non-nil only when this process is configured as a gateway
	// (Configuration.IsRelayConfigured), in which case every relay-flagged
	// inbound datagram is forwarded rather than handed to a local session
	// (spec §4.2.3 Relay handshake).
	relay          *relayTable
	basePort       uint16
	localNetworkID uint32

	compressThreshold int

	mu          sync.Mutex
	sessions    map[string]*Session
	sessionsIdx map[uint32]*Session
	nextSeq     uint32
	closed      bool

	events chan talkerEvent
	done   chan struct{}
}

func newTalker(idx uint32, conn net.PacketConn, cfg TalkerConfiguration, sessionCfg SessionConfiguration, codec Codec, handler Handler, startupTS startupTimestamp, metrics *metricsCounters, gateways *gatewaySelector, relay *relayTable, basePort uint16, localNetworkID uint32, compressThreshold int) *Talker {
	t := &Talker{
		idx:               idx,
		conn:              conn,
		cfg:               cfg,
		sessionCfg:        sessionCfg,
		codec:             codec,
		handler:           handler,
		startupTS:         startupTS,
		metrics:           metrics,
		gateways:          gateways,
		relay:             relay,
		basePort:          basePort,
		localNetworkID:    localNetworkID,
		compressThreshold: compressThreshold,
		sessions:          make(map[string]*Session),
		sessionsIdx:       make(map[uint32]*Session),
		events:            make(chan talkerEvent, 256),
		done:              make(chan struct{}),
		fd:                -1,
	}
	if nc, ok := conn.(net.Conn); ok {
		if fd := netfd.GetFdFromConn(nc); fd > 0 {
			t.fd = fd
		}
	}
	return t
}

// FD returns the underlying socket file descriptor, or -1 if it could not
// be determined (e.g. on platforms netfd does not support). Exposed so a
// caller can tune OS-level socket buffer sizes for high-throughput nodes.
func (t *Talker) FD() int { return t.fd }

// sessionCount reports how many sessions this Talker currently owns, used
// by the Service's capacity-based allocation policy (spec §4.4).
func (t *Talker) sessionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// hasCapacity reports whether this Talker may still accept another session
// under its configured SessionCount.
func (t *Talker) hasCapacity() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions) < t.cfg.SessionCount
}

func baseAddrKey(addr net.Addr) string {
	return addr.String()
}

// sessionFor returns the session for a peer base address, creating one in
// Connecting state if none exists yet (spec §4.3: "creating a session in
// Accepting if the datagram is a Connect and no session exists"). Its
// ConnectionUid is assigned once, at creation, from this Talker's own
// sequence counter (spec §9 redesign note: arena+index handles, adapted to
// a Go map since the garbage collector removes the need for a flat array
// to keep a stable address).
func (t *Talker) sessionFor(addr net.Addr, relay bool) (*Session, bool) {
	key := baseAddrKey(addr)
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[key]; ok {
		return s, false
	}
	s := newSession(t.sessionCfg, t.codec, addr, relay)
	t.nextSeq++
	s.uid = t.nextSeq
	s.conn = ConnectionUid{TalkerIdx: t.idx, SessionIdx: t.nextSeq, Uid: s.uid}
	if relay {
		s.relayID = s.uid
	}
	t.sessions[key] = s
	t.sessionsIdx[t.nextSeq] = s
	return s, true
}

// removeSession drops the session keyed by key, the stable map key captured
// at session creation (Session.key) - not necessarily its current
// peerAddr, which gateway failover may have since reassigned.
func (t *Talker) removeSession(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[key]; ok {
		delete(t.sessionsIdx, s.conn.SessionIdx)
	}
	delete(t.sessions, key)
}

// sessionByIdx looks a session up by the SessionIdx half of a
// ConnectionUid, used by Service.Cancel to resolve a caller-held handle
// without needing the peer address again.
func (t *Talker) sessionByIdx(idx uint32) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessionsIdx[idx]
	return s, ok
}

// dispatch hands one inbound datagram to its session, parsing the header
// first (spec §4.2.1 "receive_packet"). Corrupt headers are silently
// dropped: a malformed datagram must never wedge the Talker loop.
func (t *Talker) dispatch(data []byte, from net.Addr) {
	if t.metrics != nil {
		t.metrics.addRecv(1)
	}
	pkt := &Packet{buf: append(packetBufferPool.Get()[:0], data...)}
	updateIDs, payload, err := pkt.loadHeader()
	if err != nil {
		releasePacket(pkt)
		return
	}

	relay := pkt.flags&flagRelayed != 0
	if relay && t.relay != nil {
		if t.forwardRelay(pkt, payload, data, from) {
			releasePacket(pkt)
			return
		}
	}

	sess, created := t.sessionFor(from, relay)
	if created {
		if pkt.IsConnect() {
			if relay {
				sess.setState(StateRelayAccepting)
			} else {
				sess.setState(StateAccepting)
			}
		} else {
			// a datagram from an address with no session and no Connect
			// header cannot be serviced; drop the stray session again.
			t.removeSession(sess.key)
			releasePacket(pkt)
			return
		}
	}

	switch {
	case pkt.IsData():
		if pkt.isCompressed() {
			decoded, derr := decompressPayload(payload)
			if derr != nil {
				releasePacket(pkt)
				return
			}
			payload = decoded
		}
		delivered, duplicate := sess.receiveDataPacket(pkt, updateIDs, payload)
		if duplicate && t.metrics != nil {
			t.metrics.addDuplicate(1)
		}
		for _, dm := range delivered {
			if !dm.requestUID.IsZero() {
				sess.completeRequest(dm.requestUID, func(uid MessageUid, err error) {
					if t.handler != nil {
						t.handler.OnComplete(sess.conn, uid, err)
					}
				})
			}
			t.deliverMessage(sess, dm.msg, dm.requestUID)
		}
		if len(updateIDs) > 0 {
			sess.onAck(updateIDs, func(uid MessageUid, err error) {
				if t.handler != nil {
					t.handler.OnComplete(sess.conn, uid, err)
				}
			})
		}
	case pkt.IsKeepAlive():
		if len(updateIDs) > 0 {
			sess.onAck(updateIDs, func(uid MessageUid, err error) {
				if t.handler != nil {
					t.handler.OnComplete(sess.conn, uid, err)
				}
			})
		}
		releasePacket(pkt)
	case pkt.IsConnect():
		t.handleConnect(sess, pkt, payload)
	case pkt.IsAccept():
		t.handleAccept(sess, payload)
		releasePacket(pkt)
	default:
		releasePacket(pkt)
	}
}

// deliverMessage hands one fully reassembled inbound message to the
// application handler (spec §4.2.2 Response correlation: requestUID is
// non-zero when the peer marked this message as a response to one of ours).
func (t *Talker) deliverMessage(sess *Session, msg any, requestUID MessageUid) {
	if t.handler == nil || msg == nil {
		return
	}
	t.handler.OnReceive(sess.conn, msg, requestUID)
}

// forwardRelay handles one relay-flagged inbound datagram while this Talker
// is acting as a gateway (t.relay != nil). A Connect names its final
// receiver and either creates or reuses this gateway's forwarding slot for
// it; any other relay-flagged packet is routed to whichever side of an
// already-known forward didn't just send it (spec §4.2.3 Relay handshake:
// "subsequent Data packets flow bidirectionally through G"). Reports
// whether the datagram was handled here, so the caller never also runs it
// through its own local session dispatch.
func (t *Talker) forwardRelay(pkt *Packet, payload []byte, data []byte, from net.Addr) bool {
	if pkt.IsConnect() {
		cp, err := decodeConnect(payload)
		if err != nil || cp.typ == ConnectBasic {
			return false
		}
		key := relayForwardKey{peerBaseAddr: baseAddrKey(from), relayID: cp.relayID}
		fwd, _ := t.relay.lookupOrCreate(key, cp.receiverNetworkID, cp.receiverAddr, cp.senderNetworkID, from)
		t.forwardBytes(data, fwd.receiverAddr)
		return true
	}
	fwd, _, ok := t.relay.lookupByAddr(baseAddrKey(from))
	if !ok {
		return false
	}
	dest := fwd.receiverAddr
	if dest != nil && baseAddrKey(from) == baseAddrKey(dest) {
		dest = fwd.senderAddr
	}
	t.forwardBytes(data, dest)
	return true
}

// forwardBytes writes a gateway-forwarded datagram's bytes through unchanged
// - no header is re-parsed or reframed, since the two session endpoints
// negotiate sequencing directly across the forward.
func (t *Talker) forwardBytes(data []byte, addr net.Addr) {
	if addr == nil {
		return
	}
	if t.metrics != nil {
		t.metrics.addSent(1)
	}
	_, _ = t.conn.WriteTo(data, addr)
}

func (t *Talker) handleConnect(sess *Session, pkt *Packet, payload []byte) {
	defer releasePacket(pkt)
	cp, err := decodeConnect(payload)
	if err != nil {
		return
	}
	ap := acceptPayload{
		basePort:         cp.basePort,
		timestampSeconds: cp.timestampSeconds,
		timestampNanos:   cp.timestampNanos,
		relayID:          cp.relayID,
	}
	reply := newPacket()
	reply.typ = PacketTypeAccept
	if pkt.flags&flagRelayed != 0 {
		reply.flags |= flagRelayed
	}
	reply.buf = append(reply.buf, encodeAccept(ap)...)
	reply.storeHeader(nil)
	t.writeTo(reply, sess.peerAddr)
	releasePacket(reply)
}

func (t *Talker) handleAccept(sess *Session, payload []byte) {
	ap, err := decodeAccept(payload)
	if err != nil {
		return
	}
	if !t.startupTS.equal(ap.timestampSeconds, ap.timestampNanos) {
		sess.teardown(func(uid MessageUid, e error) {
			if t.handler != nil {
				t.handler.OnComplete(sess.conn, uid, ErrTryReconnect)
			}
		})
		return
	}
	sess.releaseHandshakeSlot()
	sess.mu.Lock()
	sess.setState(StateConnected)
	sess.mu.Unlock()
}

// writeTo sends pkt's already-framed bytes to addr, preferring a batched
// write (one syscall via golang.org/x/net) the way the teacher's sess.go
// does for its txqueue, falling back to a plain WriteTo when the platform
// doesn't support sendmmsg-style batching or addr isn't a UDPAddr. Any
// error is treated as transient; the retransmission layer will retry.
func (t *Talker) writeTo(pkt *Packet, addr net.Addr) {
	if pkt.buf == nil {
		return
	}
	if t.bw == nil {
		t.bw = newBatchWriter(t.conn, addr)
	}
	if t.metrics != nil {
		t.metrics.addSent(1)
	}
	if t.bw != nil {
		msg := ipv4.Message{Buffers: [][]byte{pkt.buf}, Addr: addr}
		if n, err := t.bw.WriteBatch([]ipv4.Message{msg}, 0); err == nil && n == 1 {
			return
		}
	}
	_, _ = t.conn.WriteTo(pkt.buf, addr)
}

// readLoop is the Talker's single reader goroutine (grounded on the
// teacher's defaultReadLoop/defaultMonitor pattern): it blocks on
// ReadFrom and feeds every datagram into the execute loop's event channel,
// never touching Session state directly.
func (t *Talker) readLoop() {
	buf := make([]byte, MTU)
	for {
		n, from, err := t.conn.ReadFrom(buf)
		if err != nil {
			if strings.Contains(err.Error(), "use of closed network connection") {
				return
			}
			continue
		}
		select {
		case t.events <- talkerEvent{data: append([]byte(nil), buf[:n]...), addr: from}:
		case <-t.done:
			return
		}
	}
}

// executeLoop is the Talker's single owning goroutine (spec §5: "a
// Talker's state... is only ever touched by its own loop goroutine"): it
// drains inbound datagrams, fills every session's send buffer, and checks
// retransmission/keep-alive timers on a fixed tick.
func (t *Talker) executeLoop() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case ev := <-t.events:
			t.dispatch(ev.data, ev.addr)
		case now := <-ticker.C:
			t.tick(now)
		}
	}
}

func (t *Talker) tick(now time.Time) {
	t.mu.Lock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	if t.metrics != nil {
		ooo, sendQ := 0, 0
		for _, sess := range sessions {
			ooo += sess.outOfOrderCount()
			sendQ += sess.pendingMessageCount()
		}
		t.metrics.setOutOfOrder(ooo)
		t.metrics.setSendQueueDepth(sendQ)
	}

	for _, sess := range sessions {
		if connectPkt := sess.beginHandshake(now, t.basePort, t.startupTS, t.localNetworkID); connectPkt != nil {
			connectPkt.storeHeader(nil)
			t.writeTo(connectPkt, sess.peerAddr)
		}

		for _, pkt := range sess.fillSendBuffer(now, maxDataPayload) {
			if pkt.IsData() {
				if compressed, ok := compressPayload(pkt.buf, t.compressThreshold); ok {
					pkt.buf = compressed
					pkt.setCompressed()
				}
			}
			updateIDs := sess.pendingAcks()
			pkt.storeHeader(updateIDs)
			t.writeTo(pkt, sess.peerAddr)
		}

		resend, keepAlive, dead := sess.checkTimeouts(now, t.gateways)
		if len(resend) > 0 && t.metrics != nil {
			t.metrics.addRetransmit(uint64(len(resend)))
		}
		for _, pkt := range resend {
			updateIDs := sess.pendingAcks()
			clone := *pkt
			clone.storeHeader(updateIDs)
			t.writeTo(&clone, sess.peerAddr)
		}
		if keepAlive != nil {
			if sess.relay {
				keepAlive.flags |= flagRelayed
			}
			keepAlive.storeHeader(sess.pendingAcks())
			t.writeTo(keepAlive, sess.peerAddr)
			releasePacket(keepAlive)
		}
		if dead {
			sess.teardown(func(uid MessageUid, err error) {
				if t.handler != nil {
					t.handler.OnComplete(sess.conn, uid, err)
				}
			})
			t.removeSession(sess.key)
		}
	}
}

// start launches the Talker's two goroutines.
func (t *Talker) start() {
	go t.readLoop()
	go t.executeLoop()
}

// close stops both goroutines and completes every session it owned.
func (t *Talker) close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	close(t.done)
	err := t.conn.Close()

	for _, sess := range sessions {
		sess.teardown(func(uid MessageUid, e error) {
			if t.handler != nil {
				t.handler.OnComplete(sess.conn, uid, e)
			}
		})
	}
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}
