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

// maxOutOfOrder bounds how far ahead of rcvExpectedID a packet may arrive
// and still be buffered rather than dropped (spec §3, "Out-of-order receive
// buffer... bounded size"), grounded on the original source's unrolled
// four-slot moveToNextOutOfOrderPacket/keepOutOfOrderPacket lookup.
const maxOutOfOrder = 4

// outOfOrderSlot holds one buffered early-arrival packet, keyed implicitly
// by its position in recvWindow (slot i holds the packet rcvExpectedID+1+i
// would occupy once it arrives in order).
type outOfOrderSlot struct {
	packet     *Packet
	updateIDs  []uint32
	payload    []byte
}

func (s *outOfOrderSlot) occupied() bool { return s.packet != nil }

func (s *outOfOrderSlot) clear() {
	if s.packet != nil {
		releasePacket(s.packet)
	}
	s.packet = nil
	s.updateIDs = nil
	s.payload = nil
}

// recvWindow is the small fixed-size out-of-order buffer a session keeps
// while waiting for a missing in-sequence packet to arrive (spec §4.2.1
// "Inbound", invariant "bounded out-of-order buffer size"). It does not
// itself track rcvExpectedID; the session compares each new packet's id
// against its own expected id and only calls keep/drain when it falls
// within the window.
type recvWindow struct {
	slots [maxOutOfOrder]outOfOrderSlot
}

// keep buffers a packet that arrived ahead of rcvExpectedID by offset
// positions (offset must be in [0, maxOutOfOrder)). Returns false if the
// slot was already occupied (duplicate out-of-order arrival, spec §8
// "Duplicate packet" property).
func (w *recvWindow) keep(offset int, p *Packet, updateIDs []uint32, payload []byte) bool {
	if offset < 0 || offset >= maxOutOfOrder {
		return false
	}
	if w.slots[offset].occupied() {
		return false
	}
	w.slots[offset] = outOfOrderSlot{packet: p, updateIDs: updateIDs, payload: payload}
	return true
}

// next returns the packet buffered at offset 0 (the one that becomes
// in-order once the currently-missing packet is processed), if any, and
// shifts the remaining slots down by one so offset 0 is always "the next
// packet after whichever one is now expected".
func (w *recvWindow) next() (*Packet, []uint32, []byte, bool) {
	if !w.slots[0].occupied() {
		return nil, nil, nil, false
	}
	slot := w.slots[0]
	copy(w.slots[:], w.slots[1:])
	w.slots[maxOutOfOrder-1] = outOfOrderSlot{}
	return slot.packet, slot.updateIDs, slot.payload, true
}

// empty reports whether any out-of-order packet is currently buffered.
func (w *recvWindow) empty() bool {
	for i := range w.slots {
		if w.slots[i].occupied() {
			return false
		}
	}
	return true
}

// reset discards any buffered packets, releasing their backing buffers
// (used on session reconnect, spec §4.2.3 Reconnecting).
func (w *recvWindow) reset() {
	for i := range w.slots {
		w.slots[i].clear()
	}
}
