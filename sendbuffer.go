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

// sendSlot is the per-in-flight-outbound-packet bookkeeping record (spec
// §3, "Send buffer slot"): the assembled Packet, the message-stub indices
// whose serialized bytes it carries, a resend counter, and the sending/
// must-delete flags the original source tracks to avoid freeing a slot
// mid-transmit.
type sendSlot struct {
	packet *Packet
	// msgIdxVec lists, in order, the send-message-stub indices whose bytes
	// this packet's payload contains (spec §4.2.1 Acknowledgement: "If a
	// message stub spans multiple slots, it is released only when its last
	// slot is acknowledged").
	msgIdxVec []uint32
	// uid changes every time the slot is reused, so a timer armed against
	// a stale occupant of this slot (spec §3: "a unique counter for timer
	// re-entry") can recognize it has been superseded and no-op.
	uid uint16
	// sending marks a slot whose bytes are handed off for transmission;
	// onAck and checkTimeouts skip such a slot. No code path in this
	// package sets it, so it is always false.
	sending bool
	// mustDelete is set by onAck when an ack arrives for a slot that is
	// still sending; nothing reads it afterwards.
	mustDelete bool
	sentAt     time.Time
	retryPos   int
}

func (s *sendSlot) occupied() bool { return s.packet != nil }

func (s *sendSlot) clear() {
	if s.packet != nil {
		releasePacket(s.packet)
	}
	s.packet = nil
	s.msgIdxVec = s.msgIdxVec[:0]
	s.sending = false
	s.mustDelete = false
	s.retryPos = 0
}

// sendSlotPool is the bounded pool of send-buffer slots a session may have
// in flight at once (spec §3 Invariants: "At most max_send_packet_count
// unacknowledged data packets per session"). Slot 0 is permanently reserved
// for the keep-alive packet (spec §4.2.1 Keep-alive), matching the original
// source's `sendpacketvec.resize(7)` for a default max_send_packet_count
// of 6: one reserved slot plus six data slots.
type sendSlotPool struct {
	slots     []sendSlot
	freeStack uint32Stack
}

func newSendSlotPool(maxDataPackets int) *sendSlotPool {
	p := &sendSlotPool{
		slots: make([]sendSlot, maxDataPackets+1),
	}
	for i := maxDataPackets; i >= 1; i-- {
		p.freeStack.push(uint32(i))
	}
	return p
}

// keepAliveIndex returns the reserved slot index.
func (p *sendSlotPool) keepAliveIndex() uint32 { return 0 }

// acquire reserves a free data slot for packet, returning its index. now is
// stamped onto the slot's sentAt immediately: without this, a freshly
// acquired slot's zero-value sentAt would make checkTimeouts (run right
// after fillSendBuffer/beginHandshake in the same Talker tick) see an
// enormous elapsed time and retransmit a packet that was never even sent
// once yet.
func (p *sendSlotPool) acquire(packet *Packet, now time.Time) (uint32, bool) {
	idx, ok := p.freeStack.pop()
	if !ok {
		return 0, false
	}
	p.slots[idx].packet = packet
	p.slots[idx].sentAt = now
	return idx, true
}

func (p *sendSlotPool) slot(idx uint32) *sendSlot { return &p.slots[idx] }

// release returns a data slot (never the keep-alive slot) to the free stack.
func (p *sendSlotPool) release(idx uint32) {
	p.slots[idx].clear()
	p.slots[idx].uid++
	if idx != 0 {
		p.freeStack.push(idx)
	}
}

// busy reports how many data slots are currently occupied.
func (p *sendSlotPool) busy() int {
	n := 0
	for i := 1; i < len(p.slots); i++ {
		if p.slots[i].occupied() {
			n++
		}
	}
	return n
}

// full reports whether spec's "max_send_packet_count unacknowledged data
// packets" bound has been reached.
func (p *sendSlotPool) full() bool { return p.freeStack.empty() }
