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
)

// Service is the process-wide registry spec §3 names ("Service state"): it
// owns every Talker this process runs, routes an application's
// SendMessage to the right one, and applies the capacity-based Talker
// allocation policy (spec §4.4).
type Service struct {
	cfg     Configuration
	codec   Codec
	handler Handler

	mu          sync.Mutex
	talkers     []*Talker
	addrTalker  map[string]int // peer base address -> talker index, once a session exists
	freeCapacity []int         // talker indices with room for more sessions, round-robin order
	rrCursor    int
	closed      bool

	startupTS startupTimestamp
	relay     *relayTable
	gateways  *gatewaySelector
	metrics   *metricsCounters
	basePort  uint16
}

// NewService binds an accept socket, starts its first Talker, and returns
// a ready-to-use Service (spec §4.3/§4.4). Additional Talkers are created
// lazily as SendMessage's allocation policy requires them, up to
// cfg.Talker.MaxCount.
func NewService(cfg Configuration, codec Codec, handler Handler) (*Service, error) {
	acceptAddr := cfg.AcceptAddress
	if acceptAddr == "" {
		acceptAddr = cfg.BaseAddress
	}

	svc := &Service{
		cfg:        cfg,
		codec:      codec,
		handler:    handler,
		addrTalker: make(map[string]int),
		startupTS:  newStartupTimestamp(time.Now()),
		metrics:    &metricsCounters{},
	}
	if cfg.IsRelayConfigured() {
		svc.relay = newRelayTable()
	}
	if len(cfg.GatewayAddressVector) > 0 {
		svc.gateways = newGatewaySelector(cfg.GatewayAddressVector)
	}
	if baseUDPAddr, err := net.ResolveUDPAddr("udp", cfg.BaseAddress); err == nil {
		svc.basePort = uint16(baseUDPAddr.Port)
	}

	if _, err := svc.addTalker(acceptAddr); err != nil {
		return nil, err
	}
	return svc, nil
}

// addTalker binds a new UDP socket and starts a Talker for it, failing if
// cfg.Talker.MaxCount has already been reached.
func (s *Service) addTalker(bindAddr string) (*Talker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.talkers) >= s.cfg.Talker.MaxCount {
		return nil, errors.New("ipc: talker max_count reached")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	idx := uint32(len(s.talkers))
	t := newTalker(idx, conn, s.cfg.Talker, s.cfg.Session, s.codec, s.handler, s.startupTS, s.metrics, s.gateways, s.relay, s.basePort, s.cfg.LocalNetworkID, s.cfg.CompressThreshold)
	s.talkers = append(s.talkers, t)
	s.freeCapacity = append(s.freeCapacity, int(idx))
	t.start()
	return t, nil
}

// talkerFor implements the allocation policy (spec §4.4): reuse the Talker
// already handling this peer address; otherwise prefer one with free
// capacity (round-robin among those); otherwise start a new Talker up to
// Talker.MaxCount.
func (s *Service) talkerFor(addr net.Addr) (*Talker, error) {
	key := baseAddrKey(addr)

	s.mu.Lock()
	if idx, ok := s.addrTalker[key]; ok {
		t := s.talkers[idx]
		s.mu.Unlock()
		return t, nil
	}

	for i := 0; i < len(s.freeCapacity); i++ {
		idx := s.freeCapacity[s.rrCursor%len(s.freeCapacity)]
		s.rrCursor++
		t := s.talkers[idx]
		if t.hasCapacity() {
			s.addrTalker[key] = idx
			s.mu.Unlock()
			return t, nil
		}
	}
	s.mu.Unlock()

	t, err := s.addTalker(s.cfg.BaseAddress)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.addrTalker[key] = int(t.idx)
	s.mu.Unlock()
	return t, nil
}

// resolveTarget checks that peer is a UDP address and returns it as a
// direct-session target; it always reports relay=false and does not detect
// cross-network peers. Relay targets go through SendMessageToNetwork.
func (s *Service) resolveTarget(peer net.Addr) (net.Addr, bool, error) {
	if _, ok := peer.(*net.UDPAddr); !ok {
		return nil, false, ErrUnsupportedSocketFamily
	}
	return peer, false, nil
}

// SendMessage pushes an application message toward peer, creating a
// session (and, if needed, a Talker) on first contact (spec §4.2.1
// "push_message", §1 Scope). The returned MessageUid is valid for Cancel
// until the handler's OnComplete fires.
func (s *Service) SendMessage(peer net.Addr, msg any, typeID SerializationTypeID, flags MessageFlags) (MessageUid, ConnectionUid, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return MessageUid{}, ConnectionUid{}, ErrServiceClosed
	}

	addr, relay, err := s.resolveTarget(peer)
	if err != nil {
		return MessageUid{}, ConnectionUid{}, err
	}
	if relay && s.gateways == nil {
		return MessageUid{}, ConnectionUid{}, ErrNoGateway
	}

	t, err := s.talkerFor(addr)
	if err != nil {
		return MessageUid{}, ConnectionUid{}, err
	}
	sess, _ := t.sessionFor(addr, relay)

	uid, err := sess.pushMessage(msg, typeID, flags, MessageUid{})
	if err != nil {
		return MessageUid{}, ConnectionUid{}, err
	}
	return uid, sess.conn, nil
}

// SendMessageToNetwork pushes an application message toward a peer that
// lives on another network, reached through one of cfg.GatewayAddressVector
// (spec §4.2.3 Relay handshake). Unlike SendMessage/resolveTarget, which
// only ever resolve direct targets, this is the caller-facing entry point
// for relay targets; it is additive so SendMessage's signature stays
// unchanged for every direct-session caller.
func (s *Service) SendMessageToNetwork(peer net.Addr, networkID uint32, msg any, typeID SerializationTypeID, flags MessageFlags) (MessageUid, ConnectionUid, error) {
	s.mu.Lock()
	closed := s.closed
	gateways := s.gateways
	s.mu.Unlock()
	if closed {
		return MessageUid{}, ConnectionUid{}, ErrServiceClosed
	}
	if gateways == nil {
		return MessageUid{}, ConnectionUid{}, ErrNoGateway
	}
	gwAddr, ok := gateways.current()
	if !ok {
		return MessageUid{}, ConnectionUid{}, ErrNoGateway
	}
	addr, err := net.ResolveUDPAddr("udp", gwAddr)
	if err != nil {
		return MessageUid{}, ConnectionUid{}, errors.WithStack(err)
	}

	t, err := s.talkerFor(addr)
	if err != nil {
		return MessageUid{}, ConnectionUid{}, err
	}
	sess, created := t.sessionFor(addr, true)
	if created {
		sess.mu.Lock()
		sess.remoteAddr = peer
		sess.networkID = networkID
		sess.setState(StateRelayConnecting)
		sess.mu.Unlock()
	}

	uid, err := sess.pushMessage(msg, typeID, flags, MessageUid{})
	if err != nil {
		return MessageUid{}, ConnectionUid{}, err
	}
	return uid, sess.conn, nil
}

// Respond is SendMessage's counterpart for replying to a received message,
// stamping requestUID so the peer can correlate it (spec §4.2.2 Response
// correlation).
func (s *Service) Respond(peer net.Addr, requestUID MessageUid, msg any, typeID SerializationTypeID, flags MessageFlags) (MessageUid, ConnectionUid, error) {
	addr, _, err := s.resolveTarget(peer)
	if err != nil {
		return MessageUid{}, ConnectionUid{}, err
	}
	t, err := s.talkerFor(addr)
	if err != nil {
		return MessageUid{}, ConnectionUid{}, err
	}
	sess, _ := t.sessionFor(addr, false)
	uid, err := sess.pushMessage(msg, typeID, flags, requestUID)
	if err != nil {
		return MessageUid{}, ConnectionUid{}, err
	}
	return uid, sess.conn, nil
}

// Cancel cancels a previously-pushed message (spec §4.2.4).
func (s *Service) Cancel(conn ConnectionUid, uid MessageUid) error {
	s.mu.Lock()
	if int(conn.TalkerIdx) >= len(s.talkers) {
		s.mu.Unlock()
		return ErrNoConnection
	}
	t := s.talkers[conn.TalkerIdx]
	s.mu.Unlock()

	sess, ok := t.sessionByIdx(conn.SessionIdx)
	if !ok || sess.conn.Uid != conn.Uid {
		return ErrNoConnection
	}
	return sess.cancel(uid)
}

// counts reports the current session and talker totals for the metrics
// Collector.
func (s *Service) counts() (sessions int, talkers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.talkers {
		sessions += t.sessionCount()
	}
	return sessions, len(s.talkers)
}

// Close tears every Talker down, completing every outstanding message with
// ErrNotSent/ErrSentNoResponse as appropriate (spec §3 Lifecycle).
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	talkers := append([]*Talker(nil), s.talkers...)
	s.mu.Unlock()

	var firstErr error
	for _, t := range talkers {
		if err := t.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
