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
)

// relayForwardKey identifies one forwarded session on a gateway: the base
// address of whichever peer initiated the Connect, plus the relay id that
// peer chose (spec §4.2.3 Relay handshake: "looks up (peer_base_address,
// relay_id) in its own map of forwarded sessions").
type relayForwardKey struct {
	peerBaseAddr string
	relayID      uint32
}

// relayForward is the gateway-local bookkeeping for one session it is
// forwarding between two networks (spec §3/§4.2.3's "Node" object: a
// gateway-internal allocation distinct from the Session on either end).
type relayForward struct {
	receiverNetworkID uint32
	receiverAddr      net.Addr
	senderNetworkID   uint32
	senderAddr        net.Addr
}

// relayTable is the gateway's map of sessions it is currently forwarding,
// keyed by relayForwardKey: the sending side's wire address plus the
// Connect's relay id. A retransmitted Connect for a key already present
// reuses the existing forward rather than allocating a new one (spec §8
// scenario 6).
type relayTable struct {
	mu    sync.Mutex
	slots map[relayForwardKey]*relayForward
	// byAddr indexes the same forwards by the wire address of each side
	// (the Connect's observed sender and its named receiver, both recorded
	// when the forward is created), so an inbound Data/Accept/
	// KeepAlive packet - which carries no relayForwardKey of its own -
	// can still be routed to the other side (spec §4.2.3 Relay handshake:
	// "subsequent Data packets flow bidirectionally through G").
	byAddr map[string]relayForwardKey
}

func newRelayTable() *relayTable {
	return &relayTable{
		slots:  make(map[relayForwardKey]*relayForward),
		byAddr: make(map[string]relayForwardKey),
	}
}

// lookupOrCreate returns the existing forward for key if present; otherwise
// it allocates one from the supplied Connect fields. created reports which
// branch was taken, letting the caller decide whether to log a new
// forwarding slot or simply re-forward an existing one.
func (t *relayTable) lookupOrCreate(key relayForwardKey, receiverNetworkID uint32, receiverAddr net.Addr, senderNetworkID uint32, senderAddr net.Addr) (fwd *relayForward, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.slots[key]; ok {
		return existing, false
	}
	fwd = &relayForward{
		receiverNetworkID: receiverNetworkID,
		receiverAddr:      receiverAddr,
		senderNetworkID:   senderNetworkID,
		senderAddr:        senderAddr,
	}
	t.slots[key] = fwd
	if senderAddr != nil {
		t.byAddr[senderAddr.String()] = key
	}
	if receiverAddr != nil {
		t.byAddr[receiverAddr.String()] = key
	}
	return fwd, true
}

// lookupByAddr resolves a forward by the observed wire address of either
// side, used for every relay-flagged packet that isn't a Connect (those
// carry no relayForwardKey on the wire).
func (t *relayTable) lookupByAddr(addr string) (*relayForward, relayForwardKey, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key, ok := t.byAddr[addr]
	if !ok {
		return nil, relayForwardKey{}, false
	}
	fwd, ok := t.slots[key]
	return fwd, key, ok
}

func (t *relayTable) remove(key relayForwardKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fwd, ok := t.slots[key]; ok {
		if fwd.senderAddr != nil {
			delete(t.byAddr, fwd.senderAddr.String())
		}
		if fwd.receiverAddr != nil {
			delete(t.byAddr, fwd.receiverAddr.String())
		}
	}
	delete(t.slots, key)
}

func (t *relayTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// gatewaySelector picks which configured relay gateway a Relayed44 session
// routes its Connect through. checkTimeouts calls advance once per session,
// when a relay session still relay-connecting exhausts its Connect
// retransmit budget; exhausting a data packet's budget does not trigger
// failover (see DESIGN.md).
type gatewaySelector struct {
	gateways []string
	idx      int
}

func newGatewaySelector(gateways []string) *gatewaySelector {
	return &gatewaySelector{gateways: gateways}
}

// current returns the presently selected gateway address, or false if none
// are configured (spec's ErrNoGateway caller-error path).
func (g *gatewaySelector) current() (string, bool) {
	if len(g.gateways) == 0 {
		return "", false
	}
	return g.gateways[g.idx%len(g.gateways)], true
}

// advance moves to the next configured gateway in round-robin order,
// called once when a session's retransmit budget is exhausted while still
// in RelayConnecting/RelayAccepting. The caller is responsible for
// resetting the session's own retransmit budget exactly once per failover,
// so a persistently unreachable far network does not retry forever.
func (g *gatewaySelector) advance() {
	if len(g.gateways) == 0 {
		return
	}
	g.idx = (g.idx + 1) % len(g.gateways)
}
