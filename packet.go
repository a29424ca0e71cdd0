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
	"encoding/binary"

	"github.com/pkg/errors"
)

// PacketType tags the four control kinds plus the two data-bearing kinds a
// Packet can be (spec §3). Relay carries no payload of its own: it is the
// Connect/Accept path's indicator that this packet is being forwarded
// through a gateway rather than delivered directly; the Connect/Accept
// payload itself (handshake.go) still distinguishes Basic/Relay4/Relay6.
type PacketType uint8

const (
	PacketTypeInvalid PacketType = iota
	PacketTypeData
	PacketTypeKeepAlive
	PacketTypeConnect
	PacketTypeAccept
	PacketTypeError
	PacketTypeRelay
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeData:
		return "Data"
	case PacketTypeKeepAlive:
		return "KeepAlive"
	case PacketTypeConnect:
		return "Connect"
	case PacketTypeAccept:
		return "Accept"
	case PacketTypeError:
		return "Error"
	case PacketTypeRelay:
		return "Relay"
	default:
		return "Invalid"
	}
}

// packet header flag bits (spec §6: "size's high bit is carried in a flags
// bit so logical size can exceed 64 KiB").
const (
	flagCompressed uint8 = 1 << iota
	flagSizeHigh
	flagHasUpdates
	flagRelayed
)

const (
	// headerSize is the fixed on-wire header: type(1) flags(1) size(2) id(4).
	// This equals Session::Data::MinPacketDataSize (8) from the original
	// source, which is the smallest reasonable grounding for the part of
	// the wire layout spec.md leaves unstated.
	headerSize = 8

	// maxUpdateIds bounds how many acknowledged peer ids one packet's
	// update vector may carry, matching the "small number" in spec §3/§4.1.
	maxUpdateIds = 4

	// updateVectorHeaderSize is the 1-byte count prefix of the update vector.
	updateVectorHeaderSize = 1

	// LastPacketId is the modulus packet ids wrap at (spec §6, "< 2^31").
	LastPacketId uint32 = (1 << 31) - 1

	// UpdatePacketId tags a packet carrying only acknowledgements, built
	// outside the normal send-id sequence (spec §3 Data model note in the
	// original source); losing one is harmless since the ids it carries
	// will be re-announced on the next packet.
	UpdatePacketId uint32 = 0xffffffff

	// MTU is the maximum encoded packet size this engine ever produces.
	MTU = 1472 // 1500 - 20 (IPv4) - 8 (UDP), matches the teacher's conservative default.

	// maxDataPayload bounds how many payload bytes fillSendBuffer may put in
	// one packet, leaving enough of MTU free for storeHeader to still append
	// a full update vector afterward (spec §4.2.1: acks piggyback on the
	// next outbound packet regardless of how full it already is).
	maxDataPayload = MTU - headerSize - updateVectorHeaderSize - maxUpdateIds*4
)

// overflowSafeLess implements the wraparound-aware ordering from spec §6:
// "(a - b) mod (LastPacketId+1) > (LastPacketId+1)/2" is the condition for
// b being "behind" a becoming ambiguous; this returns true when a precedes b.
func overflowSafeLess(a, b uint32) bool {
	modulus := uint64(LastPacketId) + 1
	diff := (uint64(b) - uint64(a) + modulus) % modulus
	return diff > 0 && diff <= modulus/2
}

// Packet is a single framed datagram: an 8-byte header, an optional update
// vector, and an opaque payload of message bytes (or, for control packets,
// a handshake payload). Before storeHeader is called, callers build the raw
// payload bytes into buf directly (spec §4.2.1 "fill_send_buffer" builds a
// packet's bytes before framing it); storeHeader then moves those bytes
// into payload once and, on every call after that (including every
// retransmission), rebuilds buf fresh from payload so a resent packet never
// re-frames an already-framed image (a prior revision did exactly that and
// doubled the header on resend).
type Packet struct {
	buf     []byte
	payload []byte

	typ         PacketType
	flags       uint8
	id          uint32
	resendCount uint16
}

// newPacket allocates an empty packet backed by a pooled MTU buffer.
func newPacket() *Packet {
	return &Packet{buf: packetBufferPool.Get()[:0]}
}

// releasePacket returns a packet's pooled payload buffer and clears it.
func releasePacket(p *Packet) {
	if p == nil {
		return
	}
	if p.payload != nil {
		packetBufferPool.Put(p.payload[:cap(p.payload)])
		p.payload = nil
	} else if p.buf != nil {
		packetBufferPool.Put(p.buf[:cap(p.buf)])
	}
	p.buf = nil
}

func (p *Packet) empty() bool { return p == nil || p.buf == nil }

// IsData, IsKeepAlive, IsConnect, IsAccept classify the packet type.
func (p *Packet) IsData() bool      { return p.typ == PacketTypeData }
func (p *Packet) IsKeepAlive() bool { return p.typ == PacketTypeKeepAlive }
func (p *Packet) IsConnect() bool   { return p.typ == PacketTypeConnect }
func (p *Packet) IsAccept() bool    { return p.typ == PacketTypeAccept }
func (p *Packet) IsRelay() bool     { return p.flags&flagRelayed != 0 }

func (p *Packet) Type() PacketType { return p.typ }
func (p *Packet) ID() uint32       { return p.id }
func (p *Packet) SetID(id uint32)  { p.id = id }

// ResendCount and IncResendCount track how many times this packet has been
// put back on the wire (spec §4.2.1 Retransmission).
func (p *Packet) ResendCount() uint16 { return p.resendCount }
func (p *Packet) IncResendCount()     { p.resendCount++ }
func (p *Packet) ResetResendCount()   { p.resendCount = 0 }

// storeHeader (re)serializes the header, optional update vector, and
// payload into buf. The first call moves whatever the caller built up in
// buf into payload; every call, first or not, rebuilds buf from payload
// into a fresh backing array, so calling storeHeader again with a new
// update vector (as every retransmission does) never re-frames bytes that
// are already framed. updateIDs may be nil or empty.
func (p *Packet) storeHeader(updateIDs []uint32) {
	if p.payload == nil {
		p.payload = p.buf
	}

	flags := p.flags &^ (flagHasUpdates | flagSizeHigh)
	if len(updateIDs) > 0 {
		flags |= flagHasUpdates
	}
	if len(p.payload) > 0xffff {
		flags |= flagSizeHigh
	}

	out := make([]byte, 0, headerSize+updateVectorHeaderSize+len(updateIDs)*4+len(p.payload))
	var hdr [headerSize]byte
	hdr[0] = byte(p.typ)
	hdr[1] = flags
	hdr[2] = byte(len(p.payload))
	hdr[3] = byte(len(p.payload) >> 8)
	binary.LittleEndian.PutUint32(hdr[4:8], p.id)
	out = append(out, hdr[:]...)

	if len(updateIDs) > 0 {
		out = append(out, byte(len(updateIDs)))
		var idbuf [4]byte
		for _, id := range updateIDs {
			binary.LittleEndian.PutUint32(idbuf[:], id)
			out = append(out, idbuf[:]...)
		}
	}
	out = append(out, p.payload...)

	p.flags = flags
	p.buf = out
}

// loadHeader parses header fields out of buf (which must already hold a
// full wire image) without copying the payload.
func (p *Packet) loadHeader() (updateIDs []uint32, payload []byte, err error) {
	if len(p.buf) < headerSize {
		return nil, nil, errors.New("ipc: packet shorter than header")
	}
	p.typ = PacketType(p.buf[0])
	p.flags = p.buf[1]
	p.id = binary.LittleEndian.Uint32(p.buf[4:8])

	off := headerSize
	if p.flags&flagHasUpdates != 0 {
		if off >= len(p.buf) {
			return nil, nil, errors.New("ipc: truncated update vector")
		}
		count := int(p.buf[off])
		off += updateVectorHeaderSize
		if count > maxUpdateIds || off+count*4 > len(p.buf) {
			return nil, nil, errors.New("ipc: corrupt update vector")
		}
		updateIDs = make([]uint32, count)
		for i := 0; i < count; i++ {
			updateIDs[i] = binary.LittleEndian.Uint32(p.buf[off : off+4])
			off += 4
		}
	}
	return updateIDs, p.buf[off:], nil
}

// isCompressed reports whether the payload bytes are snappy-compressed.
func (p *Packet) isCompressed() bool { return p.flags&flagCompressed != 0 }

func (p *Packet) setCompressed() { p.flags |= flagCompressed }
