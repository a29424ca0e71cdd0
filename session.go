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
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// SessionState enumerates the session lifecycle named in spec §3 (Session
// state) and §4.2.3 (Lifecycle). Transitions are driven by the Talker's
// dispatch and handshake handling and by teardown; setState does not check
// that a transition is legal, and Connecting goes straight to Connected.
type SessionState int

const (
	StateConnecting SessionState = iota
	StateAccepting
	StateRelayConnecting
	StateRelayAccepting
	StateWaitAccept
	StateAuthenticating
	StateConnected
	StateWaitDisconnecting
	StateDisconnecting
	StateReconnecting
	StateDisconnected
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAccepting:
		return "Accepting"
	case StateRelayConnecting:
		return "RelayConnecting"
	case StateRelayAccepting:
		return "RelayAccepting"
	case StateWaitAccept:
		return "WaitAccept"
	case StateAuthenticating:
		return "Authenticating"
	case StateConnected:
		return "Connected"
	case StateWaitDisconnecting:
		return "WaitDisconnecting"
	case StateDisconnecting:
		return "Disconnecting"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return "Disconnected"
	}
}

func (s SessionState) isRelay() bool {
	return s == StateRelayConnecting || s == StateRelayAccepting
}

// ConnectionUid is the stable, ABA-safe handle a Service hands applications
// for a session: which Talker owns it, its slot within that Talker's
// session table, and a uid that changes every time the slot is reused.
type ConnectionUid struct {
	TalkerIdx  uint32
	SessionIdx uint32
	Uid        uint32
}

// Handler receives message-layer events for a Session (spec §1 Scope:
// "delivering complete application messages to a handler").
type Handler interface {
	// OnReceive is called once a full inbound message has been
	// deserialized. requestUID is non-zero if the peer marked this
	// message as a response to one of ours.
	OnReceive(conn ConnectionUid, msg any, requestUID MessageUid)
	// OnComplete is called once an outbound message's fate is decided:
	// sent, acknowledged, canceled, or abandoned on teardown. err is nil
	// only when the message required no further confirmation and its
	// bytes reached the wire.
	OnComplete(conn ConnectionUid, uid MessageUid, err error)
}

// Session is the reliable, ordered, multiplexed message channel to one peer
// base address (spec §3, §4.2). All exported-feeling behavior is actually
// driven by the owning Talker's single execute-loop goroutine; the mutex
// exists only to guard the handful of fields SendMessage/Cancel touch from
// caller goroutines (spec §5: "a session's state is otherwise owned by its
// Talker's loop").
type Session struct {
	mu sync.Mutex

	uid      uint32
	state    SessionState
	// peerAddr is the actual UDP wire address this session's Talker
	// exchanges datagrams with: the real peer for a direct session, or the
	// chosen gateway for a relay session (spec §4.2.3 Relay handshake).
	// Gateway failover (see checkTimeouts) reassigns it after the session
	// is already keyed in the Talker's session map under key, which never
	// changes once the session is created.
	peerAddr net.Addr
	key      string
	// remoteAddr is the real final-destination peer address for a relay
	// session's originator, distinct from peerAddr once routing goes
	// through a gateway; it is what beginHandshake stamps into the
	// Connect payload's receiverAddr. Unused (nil) on a direct session.
	remoteAddr net.Addr
	relayID    uint32
	networkID  uint32
	relay      bool

	// handshakeSent guards beginHandshake so a Connecting/RelayConnecting
	// session emits exactly one initial Connect; every retransmission
	// after that rides the ordinary checkTimeouts resend loop.
	handshakeSent bool

	cfg    SessionConfiguration
	codec  Codec
	conn   ConnectionUid

	slots   *sendSlotPool
	recvWin recvWindow

	sendMsgVec       []sendMessageStub
	sendMsgFreeStack uint32Stack
	pendingQueue     uint32Queue // messages whose bytes are not yet fully serialized, in round-robin order
	syncQueue        uint32Queue // not filled by any send path; releaseSendMsg still clears an index from it

	// currentSyncIdx is the sendMsgVec index of the synchronous message
	// presently allowed to occupy send slots, or -1 if none is active
	// (spec §4.2.1 Synchronous discipline).
	currentSyncIdx int

	// recvMsgVec is indexed directly by the peer's own sendMsgVec index
	// (carried as msgID on every chunk header), not by a locally-assigned
	// slot - the peer's indices are already bounded by its own
	// MaxSendMessageQueueSize, so no separate free-index allocator is
	// needed on the receive side (spec §4.2.2 Message layer).
	recvMsgVec []recvMessageStub

	rcvExpectedID uint32
	rcvdIDQueue   uint32Queue

	nextSendID        uint32
	sentWaitResponse  int
	retransmitPos     int
	keepAliveRetryPos int

	lastRecvAt time.Time
	lastSendAt time.Time

	gatewayIdx        int
	gatewayRetryCount int
	gatewayFailedOnce bool

	// uidSeed seeds every send-message stub's uid counter at session
	// creation (spec §9, "uid defeats ABA") so a freshly (re)connected
	// session never hands out the same small MessageUid.Uid a restarted
	// peer might still remember, the way a globally-unique xid avoids
	// collisions a local counter starting at zero would not.
	uidSeed uint32

	closed bool
}

func newSession(cfg SessionConfiguration, codec Codec, peerAddr net.Addr, relay bool) *Session {
	s := &Session{
		state:          StateConnecting,
		peerAddr:       peerAddr,
		key:            baseAddrKey(peerAddr),
		relay:          relay,
		cfg:            cfg,
		codec:          codec,
		slots:          newSendSlotPool(cfg.MaxSendPacketCount),
		currentSyncIdx: -1,
		uidSeed:        xid.New().Counter(),
	}
	return s
}

// setState assigns the session state; it does not validate the transition.
func (s *Session) setState(next SessionState) { s.state = next }

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// allocSendMsgSlot returns a free index in sendMsgVec, growing the vector
// if every slot is occupied and MaxSendMessageQueueSize allows it.
func (s *Session) allocSendMsgSlot() (uint32, bool) {
	if idx, ok := s.sendMsgFreeStack.pop(); ok {
		return idx, true
	}
	if len(s.sendMsgVec) >= s.cfg.MaxSendMessageQueueSize && s.cfg.MaxSendMessageQueueSize > 0 {
		return 0, false
	}
	s.sendMsgVec = append(s.sendMsgVec, sendMessageStub{uid: s.uidSeed})
	return uint32(len(s.sendMsgVec) - 1), true
}

// pushMessage enqueues an application message for delivery (spec §4.2.1
// "push_message"). It does not block on network I/O; encoding and
// transmission happen on the Talker's loop via fillSendBuffer.
func (s *Session) pushMessage(msg any, typeID SerializationTypeID, flags MessageFlags, requestUID MessageUid) (MessageUid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return MessageUid{}, ErrServiceClosed
	}

	ser, err := s.codec.NewSerializer(typeID, msg)
	if err != nil {
		return MessageUid{}, errors.WithStack(err)
	}

	idx, ok := s.allocSendMsgSlot()
	if !ok {
		return MessageUid{}, errors.New("ipc: send message queue full")
	}
	stub := &s.sendMsgVec[idx]
	*stub = sendMessageStub{
		msg:        msg,
		typeID:     typeID,
		serializer: ser,
		flags:      flags,
		localID:    s.nextSendID,
		uid:        stub.uid + 1,
		requestUID: requestUID,
	}
	if flags.Has(FlagWaitResponse) {
		s.sentWaitResponse++
	}

	s.pendingQueue.push(idx)
	return MessageUid{Idx: idx, Uid: stub.uid}, nil
}

// cancel marks a pending or in-flight message as canceled (spec §4.2.4).
// The next fillSendBuffer emits one chunkCanceled packet for it, so the
// peer can drop any partial state, and releases the local stub right away.
func (s *Session) cancel(uid MessageUid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(uid.Idx) >= len(s.sendMsgVec) {
		return ErrNoConnection
	}
	stub := &s.sendMsgVec[uid.Idx]
	if !stub.active() || stub.uid != uid.Uid {
		return ErrCanceled
	}
	stub.flags |= FlagCanceled
	return nil
}

// releaseSendMsg completes and frees a send-message stub, invoking the
// handler's OnComplete and returning the slot for reuse.
func (s *Session) releaseSendMsg(idx uint32, complete func(MessageUid, error), err error) {
	stub := &s.sendMsgVec[idx]
	if !stub.active() {
		return
	}
	uid := MessageUid{Idx: idx, Uid: stub.uid}
	if stub.flags.Has(FlagWaitResponse) {
		s.sentWaitResponse--
	}
	stub.reset()
	s.sendMsgFreeStack.push(idx)
	s.pendingQueue.removeValue(idx)
	s.syncQueue.removeValue(idx)
	if s.currentSyncIdx == int(idx) {
		s.currentSyncIdx = -1
	}
	if complete != nil {
		complete(uid, err)
	}
}

// moveToNextSendMessage implements the round-robin multiplex discipline
// (spec §4.2.1 "fill_send_buffer"): asynchronous messages always round-
// robin freely; a synchronous message, once chosen, keeps exclusive use of
// the session until its bytes are fully drained (spec §4.2.1 Synchronous
// discipline), grounded on the original source's currentsendsyncid lock.
func (s *Session) moveToNextSendMessage() (uint32, bool) {
	if s.currentSyncIdx >= 0 {
		return uint32(s.currentSyncIdx), true
	}
	for i := 0; i < s.pendingQueue.len(); i++ {
		idx, ok := s.pendingQueue.front()
		if !ok {
			return 0, false
		}
		stub := &s.sendMsgVec[idx]
		if !stub.active() {
			s.pendingQueue.pop()
			continue
		}
		if stub.flags.Has(FlagCanceled) {
			return idx, true
		}
		if stub.flags.Has(FlagSynchronous) {
			s.currentSyncIdx = int(idx)
		} else {
			s.pendingQueue.rotate()
		}
		return idx, true
	}
	return 0, false
}

// fillSendBuffer asks the session to produce as many ready-to-send packets
// as its slot budget and pending messages allow, serializing message bytes
// into each in turn (spec §4.2.1 "fill_send_buffer"). Every packet carries a
// chunk header (spec §4.2.2 Message layer): msgID names the sendMsgVec
// index the bytes belong to so the peer can reassemble across packets, and
// the first chunk of a message additionally carries its typeID and
// requestUID. Called from the owning Talker's execute loop only.
func (s *Session) fillSendBuffer(now time.Time, maxPayload int) []*Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Packet
	for !s.slots.full() {
		idx, ok := s.moveToNextSendMessage()
		if !ok {
			break
		}
		stub := &s.sendMsgVec[idx]

		pkt := newPacket()
		pkt.typ = PacketTypeData
		if s.relay {
			pkt.flags |= flagRelayed
		}

		if stub.flags.Has(FlagCanceled) {
			flags := chunkCanceled
			if !stub.started {
				flags |= chunkFirst
			}
			pkt.buf = appendChunkHeader(pkt.buf, idx, flags|chunkLast, stub.typeID, stub.requestUID)
			slotIdx, ok := s.slots.acquire(pkt, now)
			if !ok {
				releasePacket(pkt)
				break
			}
			s.slots.slot(slotIdx).msgIdxVec = append(s.slots.slot(slotIdx).msgIdxVec, idx)
			s.assignPacketID(pkt)
			out = append(out, pkt)
			s.releaseSendMsg(idx, nil, ErrCanceled)
			continue
		}

		first := !stub.started
		var flags chunkFlags
		if first {
			flags |= chunkFirst
		}
		pkt.buf = appendChunkHeader(pkt.buf, idx, flags, stub.typeID, stub.requestUID)
		headerLen := len(pkt.buf)
		n, done, err := stub.serializer.Run(pkt.buf[headerLen:maxPayload])
		if err != nil {
			s.releaseSendMsg(idx, nil, errors.WithStack(err))
			releasePacket(pkt)
			continue
		}
		pkt.buf = pkt.buf[:headerLen+n]
		if done {
			pkt.buf[4] |= byte(chunkLast)
		}
		stub.started = true

		slotIdx, ok := s.slots.acquire(pkt, now)
		if !ok {
			releasePacket(pkt)
			break
		}
		s.slots.slot(slotIdx).msgIdxVec = append(s.slots.slot(slotIdx).msgIdxVec, idx)
		s.assignPacketID(pkt)
		out = append(out, pkt)

		if done {
			s.pendingQueue.removeValue(idx)
			if !stub.flags.Has(FlagWaitResponse) {
				s.releaseSendMsg(idx, nil, nil)
			} else {
				stub.flags |= FlagSent
			}
		}
	}
	return out
}

func (s *Session) assignPacketID(pkt *Packet) {
	pkt.SetID(s.nextSendID)
	s.nextSendID = (s.nextSendID + 1) % (LastPacketId + 1)
}

// pendingAcks drains up to maxUpdateIds accumulated received ids
// for piggybacking on the next outbound packet (spec §4.2.1
// "mustSendUpdates").
func (s *Session) pendingAcks() []uint32 {
	var ids []uint32
	for len(ids) < maxUpdateIds {
		id, ok := s.rcvdIDQueue.pop()
		if !ok {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) mustSendUpdates() bool {
	return s.rcvdIDQueue.len() >= s.cfg.MaxRecvNoUpdateCount
}

// onAck releases every send slot named in updateIDs, completing whatever
// message stubs become fully acknowledged as a result (spec §4.2.1
// Acknowledgement).
func (s *Session) onAck(updateIDs []uint32, complete func(MessageUid, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range updateIDs {
		idx, ok := s.findSlotByPacketID(id)
		if !ok {
			continue
		}
		slot := s.slots.slot(idx)
		if slot.sending {
			slot.mustDelete = true
			continue
		}
		msgIdxVec := append([]uint32(nil), slot.msgIdxVec...)
		s.slots.release(idx)
		for _, mi := range msgIdxVec {
			stub := &s.sendMsgVec[mi]
			if stub.active() && stub.flags.Has(FlagSent) && !stub.flags.Has(FlagWaitResponse) {
				s.releaseSendMsg(mi, complete, nil)
			}
		}
		s.retransmitPos = 0
	}
}

func (s *Session) findSlotByPacketID(id uint32) (uint32, bool) {
	for i := 1; i < len(s.slots.slots); i++ {
		slot := &s.slots.slots[i]
		if slot.occupied() && slot.packet.ID() == id {
			return uint32(i), true
		}
	}
	return 0, false
}

// receiveDataPacket classifies an inbound data packet as in-order,
// out-of-order-but-bufferable, or duplicate (spec §4.2.1 "Inbound", §8
// "Duplicate packet" / "Out-of-order arrival" properties), drives recvWindow
// accordingly, and feeds each in-order payload through feedDataPayload for
// reassembly (spec §4.2.2 Message layer). It returns the messages now
// complete and ready to hand to the handler, in order.
func (s *Session) receiveDataPacket(pkt *Packet, updateIDs []uint32, payload []byte) (delivered []deliveredMessage, duplicate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastRecvAt = time.Now()

	var readyPayloads [][]byte
	switch {
	case pkt.ID() == s.rcvExpectedID:
		readyPayloads = append(readyPayloads, append([]byte(nil), payload...))
		s.rcvdIDQueue.push(pkt.ID())
		s.rcvExpectedID = (s.rcvExpectedID + 1) % (LastPacketId + 1)
		releasePacket(pkt)
		for {
			nextPkt, _, nextPayload, ok := s.recvWin.next()
			if !ok {
				break
			}
			readyPayloads = append(readyPayloads, append([]byte(nil), nextPayload...))
			s.rcvdIDQueue.push(nextPkt.ID())
			s.rcvExpectedID = (s.rcvExpectedID + 1) % (LastPacketId + 1)
			releasePacket(nextPkt)
		}
		// slot 0 is empty here; shift once so slot i again holds
		// rcvExpectedID+1+i for the id now expected.
		copy(s.recvWin.slots[:], s.recvWin.slots[1:])
		s.recvWin.slots[maxOutOfOrder-1] = outOfOrderSlot{}
	case overflowSafeLess(s.rcvExpectedID, pkt.ID()):
		offset := int(diffMod(pkt.ID(), s.rcvExpectedID)) - 1
		if !s.recvWin.keep(offset, pkt, updateIDs, payload) {
			releasePacket(pkt)
			return nil, true
		}
		return nil, false
	default:
		// already-seen id: duplicate; its id is queued for acknowledgement again.
		s.rcvdIDQueue.push(pkt.ID())
		releasePacket(pkt)
		return nil, true
	}

	for _, pl := range readyPayloads {
		msg, requestUID, ok := s.feedDataPayload(pl)
		if !ok {
			continue
		}
		delivered = append(delivered, deliveredMessage{msg: msg, requestUID: requestUID})
	}
	return delivered, false
}

// recvStub returns the reassembly stub the peer's own msgID indexes,
// growing recvMsgVec on demand (spec §4.2.2: the peer's sendMsgVec index is
// bounded by its own MaxSendMessageQueueSize, so direct indexing is safe).
func (s *Session) recvStub(msgID uint32) *recvMessageStub {
	for uint32(len(s.recvMsgVec)) <= msgID {
		s.recvMsgVec = append(s.recvMsgVec, recvMessageStub{})
	}
	return &s.recvMsgVec[msgID]
}

// feedDataPayload parses one packet's chunk header and feeds its bytes into
// the reassembly stub the header's msgID names, returning the completed
// message once the chunk marked chunkLast arrives (spec §4.2.2). A
// chunkCanceled fragment drops whatever partial state the stub was holding
// and delivers nothing, mirroring the sender's FlagCanceled notice.
func (s *Session) feedDataPayload(payload []byte) (msg any, requestUID MessageUid, ok bool) {
	msgID, flags, typeID, reqUID, rest, err := parseChunkHeader(payload)
	if err != nil {
		return nil, MessageUid{}, false
	}
	stub := s.recvStub(msgID)

	if flags&chunkCanceled != 0 {
		*stub = recvMessageStub{}
		return nil, MessageUid{}, false
	}

	if flags&chunkFirst != 0 {
		deser, derr := s.codec.NewDeserializer(typeID)
		if derr != nil {
			*stub = recvMessageStub{}
			return nil, MessageUid{}, false
		}
		stub.deserializer = deser
		stub.typeID = typeID
		stub.requestUID = reqUID
	}
	if stub.deserializer == nil {
		return nil, MessageUid{}, false
	}
	if _, _, rerr := stub.deserializer.Run(rest); rerr != nil {
		*stub = recvMessageStub{}
		return nil, MessageUid{}, false
	}
	if flags&chunkLast == 0 {
		return nil, MessageUid{}, false
	}

	m, merr := stub.deserializer.Message()
	requestUID = stub.requestUID
	*stub = recvMessageStub{}
	if merr != nil {
		return nil, MessageUid{}, false
	}
	return m, requestUID, true
}

// completeRequest looks up uid in sendMsgVec and, if it is still an active
// WaitResponse stub matching uid exactly, releases it - the mechanism that
// fires a WaitResponse sender's OnComplete once the correlated response's
// requestUID is decoded off the wire (spec §4.2.2 Response correlation,
// §8 scenario 5).
func (s *Session) completeRequest(uid MessageUid, complete func(MessageUid, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uid.IsZero() || int(uid.Idx) >= len(s.sendMsgVec) {
		return
	}
	stub := &s.sendMsgVec[uid.Idx]
	if !stub.active() || stub.uid != uid.Uid || !stub.flags.Has(FlagWaitResponse) {
		return
	}
	s.releaseSendMsg(uid.Idx, complete, nil)
}

// outOfOrderCount reports how many packets this session is currently
// holding in its out-of-order receive buffer (spec §8 invariant "bounded
// out-of-order buffer size"), used by the metrics Collector.
func (s *Session) outOfOrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.recvWin.slots {
		if s.recvWin.slots[i].occupied() {
			n++
		}
	}
	return n
}

// pendingMessageCount reports how many send-message stubs are currently
// active (pending, in flight, or awaiting a response), used by the
// metrics Collector's send-queue-depth gauge.
func (s *Session) pendingMessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.sendMsgVec {
		if s.sendMsgVec[i].active() {
			n++
		}
	}
	return n
}

func diffMod(a, b uint32) uint32 {
	modulus := LastPacketId + 1
	return (a - b + modulus) % modulus
}

// beginHandshake builds this session's one-and-only initial Connect packet
// (spec §4.2.3 Lifecycle, §8 scenario 1: "session transitions Connecting →
// Connected"), guarded by handshakeSent so a session already past its first
// tick never emits a second Connect out of band; every retransmission
// after this one is driven by the ordinary checkTimeouts resend loop, which
// already recognizes IsConnect() packets for budget purposes.
func (s *Session) beginHandshake(now time.Time, basePort uint16, startupTS startupTimestamp, localNetworkID uint32) *Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handshakeSent || (s.state != StateConnecting && s.state != StateRelayConnecting) {
		return nil
	}
	s.handshakeSent = true

	cp := connectPayload{
		typ:              ConnectBasic,
		versionMajor:     protocolVersionMajor,
		versionMinor:     protocolVersionMinor,
		basePort:         basePort,
		timestampSeconds: startupTS.seconds,
		timestampNanos:   startupTS.nanos,
		relayID:          s.relayID,
	}
	if s.state == StateRelayConnecting {
		cp.typ = ConnectRelay4
		if udp, ok := s.peerAddr.(*net.UDPAddr); ok && udp.IP != nil && udp.IP.To4() == nil {
			cp.typ = ConnectRelay6
		}
		cp.receiverNetworkID = s.networkID
		cp.receiverAddr = s.remoteAddr
		cp.senderNetworkID = localNetworkID
	}

	pkt := newPacket()
	pkt.typ = PacketTypeConnect
	if s.relay {
		pkt.flags |= flagRelayed
	}
	pkt.buf = append(pkt.buf, encodeConnect(cp)...)

	if _, ok := s.slots.acquire(pkt, now); !ok {
		releasePacket(pkt)
		s.handshakeSent = false
		return nil
	}
	s.assignPacketID(pkt)
	return pkt
}

// releaseHandshakeSlot frees whichever send slot holds this session's
// outbound Connect packet, called once its Accept has been validated (spec
// §4.2.3 Lifecycle): the handshake packet needs no further retransmission
// once the peer has answered.
func (s *Session) releaseHandshakeSlot() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 1; i < len(s.slots.slots); i++ {
		slot := &s.slots.slots[i]
		if slot.occupied() && slot.packet.IsConnect() {
			s.slots.release(uint32(i))
		}
	}
}

// checkTimeouts is called periodically by the Talker loop (spec §4.2.1
// Keep-alive/Retransmission, §5 Timers). It returns any packets that must
// be retransmitted, a keep-alive packet if one is due, and whether the
// session has exceeded its retransmit budget and must be torn down.
func (s *Session) checkTimeouts(now time.Time, gateways *gatewaySelector) (resend []*Packet, keepAlive *Packet, dead bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 1; i < len(s.slots.slots); i++ {
		slot := &s.slots.slots[i]
		if !slot.occupied() || slot.sending {
			continue
		}
		timeout := computeRetransmitTimeout(&s.retransmitPos, int(slot.packet.ResendCount()), slot.packet.ID())
		if now.Sub(slot.sentAt) < timeout {
			continue
		}
		isHandshake := slot.packet.IsConnect() || slot.packet.IsAccept()
		limit := s.cfg.DataRetransmitCount
		if isHandshake {
			limit = s.cfg.ConnectRetransmitCount
		}
		if int(slot.packet.ResendCount()) >= limit {
			if isHandshake && s.relay && s.state.isRelay() && gateways != nil && !s.gatewayFailedOnce {
				gateways.advance()
				s.gatewayIdx++
				s.gatewayRetryCount = 0
				s.gatewayFailedOnce = true
				s.retransmitPos = 0
				slot.packet.ResetResendCount()
				slot.sentAt = now
				if addr, ok := gateways.current(); ok {
					if resolved, err := net.ResolveUDPAddr("udp", addr); err == nil {
						s.peerAddr = resolved
					}
				}
				resend = append(resend, slot.packet)
				continue
			}
			dead = true
			continue
		}
		slot.packet.IncResendCount()
		slot.sentAt = now
		resend = append(resend, slot.packet)
	}

	if !dead && s.currentKeepAlive() > 0 && now.Sub(s.lastSendAt) >= s.currentKeepAlive() {
		keepAlive = newPacket()
		keepAlive.typ = PacketTypeKeepAlive
		keepAlive.SetID(UpdatePacketId)
		s.lastSendAt = now
	}
	return resend, keepAlive, dead
}

// currentKeepAlive selects the active keep-alive interval (spec §4.2.1,
// "relay sessions and sessions awaiting a response use a longer interval"),
// grounded on the original source's currentKeepAlive: WaitDisconnecting
// disables it entirely, Authenticating forces a tight 1s probe so a stalled
// handshake is noticed quickly.
func (s *Session) currentKeepAlive() time.Duration {
	switch {
	case s.state == StateWaitDisconnecting:
		return 0
	case s.state == StateAuthenticating:
		return time.Second
	case s.relay && s.sentWaitResponse > 0:
		return s.cfg.RelayResponseKeepalive
	case s.relay:
		return s.cfg.RelayKeepalive
	case s.sentWaitResponse > 0:
		return s.cfg.ResponseKeepalive
	default:
		return s.cfg.Keepalive
	}
}

// teardown completes every outstanding message stub (spec §3 Lifecycle,
// "Disconnected... completes every outstanding message stub"). notSent
// messages never reached the wire; sentNoResponse messages were sent but
// awaited a response that will now never arrive.
func (s *Session) teardown(complete func(MessageUid, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.sendMsgVec {
		stub := &s.sendMsgVec[i]
		if !stub.active() {
			continue
		}
		err := ErrNotSent
		if stub.flags.Has(FlagSent) {
			err = ErrSentNoResponse
		}
		if stub.flags.Has(FlagCanceled) {
			err = ErrCanceled
		}
		s.releaseSendMsg(uint32(i), complete, err)
	}
	s.recvWin.reset()
	s.closed = true
	s.setState(StateDisconnected)
}
