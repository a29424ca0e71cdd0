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

// MessageFlags is the per-message flag bitset named in spec §3 (Message
// stub) and driven by the application at push_message time, optionally
// amended by the controller's on_prepare hook (spec §4.2.1).
type MessageFlags uint32

const (
	// FlagSynchronous marks a message whose serialization may not
	// interleave with another synchronous message on the same session
	// (spec §4.2.1 Synchronous discipline, §5 Ordering guarantees).
	FlagSynchronous MessageFlags = 1 << iota
	// FlagWaitResponse keeps the send-message stub alive after a
	// successful send until the correlated response arrives.
	FlagWaitResponse
	// FlagDisconnectAfterSend marks a message as the last before disconnect.
	// The session does not read this flag: sending such a message does not
	// tear the session down.
	FlagDisconnectAfterSend
	// FlagOneShotSend marks a message not to be requeued across a
	// reconnect. The session has no reconnect path and does not read it.
	FlagOneShotSend
	// FlagAuthentication marks an authentication message (spec §4.2.3
	// Authenticating state). The session does not read this flag, and
	// handleAccept moves a session to Connected without waiting for one.
	FlagAuthentication
	// FlagIdempotent marks a message as safe to deliver more than once.
	// The session does not read this flag.
	FlagIdempotent
	// FlagCanceled marks a stub the application has canceled (spec
	// §4.2.4); it is also sent on-wire so the peer may drop partial state.
	FlagCanceled
	// FlagSent marks a stub whose bytes have fully left the session (used
	// internally to distinguish "awaiting send" from "awaiting response").
	FlagSent
)

// Has reports whether all bits in mask are set.
func (f MessageFlags) Has(mask MessageFlags) bool { return f&mask == mask }

// MessageUid is the opaque (index, uid) handle spec §3 hands back to the
// application for a pushed message; Uid increments each time pushMessage
// reuses a stub index, so a stale handle referencing a reused index is
// detected (spec §9, "uid defeats ABA").
type MessageUid struct {
	Idx uint32
	Uid uint32
}

// IsZero reports whether this is the zero-value (i.e. "no request") handle.
func (u MessageUid) IsZero() bool { return u.Idx == 0 && u.Uid == 0 }

// sendMessageStub is the per-outbound-message bookkeeping record (spec §3,
// "Message stub"). It lives in Session.sendMsgVec, indexed by its slot.
type sendMessageStub struct {
	msg        any
	typeID     SerializationTypeID
	serializer Serializer
	flags      MessageFlags
	// localID is the monotonically assigned per-session sequence used to
	// break ties in the FIFO order messages were pushed in.
	localID uint32
	// uid is bumped by pushMessage every time this slot is reused, so a
	// MessageUid captured for an earlier occupant compares unequal after.
	uid uint32
	// requestUID names the request this stub is a response to, if any
	// (spec §4.2.2 Response correlation); zero if this is not a response.
	requestUID MessageUid
	// started is set once this stub's first chunk has been put in a send
	// slot, so fillSendBuffer knows whether the next chunk it emits must
	// carry chunkFirst (and the typeID/requestUID header extra that comes
	// with it).
	started bool
}

func (s *sendMessageStub) active() bool { return s.msg != nil }

func (s *sendMessageStub) reset() {
	s.msg = nil
	s.typeID = InvalidTypeID
	s.serializer = nil
	s.flags = 0
	s.requestUID = MessageUid{}
	s.started = false
}

// recvMessageStub is the per-inbound-message bookkeeping record (spec §3,
// "Receive message stub"): a partially deserialized message plus the
// deserializer holding its state.
type recvMessageStub struct {
	deserializer Deserializer
	typeID       SerializationTypeID
	// requestUID is the sender's own requestUID, captured off the chunk
	// header's first fragment and handed back to the handler once the
	// message completes (spec §4.2.2 Response correlation).
	requestUID MessageUid
}

// deliveredMessage pairs a fully reassembled inbound message with the
// request uid (if any) the sender stamped on it (spec §4.2.2).
type deliveredMessage struct {
	msg        any
	requestUID MessageUid
}

// chunkFlags tags one Data packet's position within its message (spec
// §4.2.2 Message layer: every packet carries exactly one message's bytes,
// so multi-packet messages need only mark the first and last fragment).
type chunkFlags uint8

const (
	chunkFirst chunkFlags = 1 << iota
	chunkLast
	chunkCanceled
)

const (
	// chunkHeaderSize is the fixed part of every chunk header: msgID(4) flags(1).
	chunkHeaderSize = 5
	// chunkFirstExtra is the extra bytes a chunkFirst header carries:
	// typeID(4) requestUID.Idx(4) requestUID.Uid(4).
	chunkFirstExtra = 12
)

// appendChunkHeader appends one packet's chunk header to dst. msgID is the
// sender's own sendMsgVec index for the message this chunk belongs to
// (spec §4.2.2: the receiver indexes its recvMsgVec by the sender's msgID
// directly, since it is bounded by MaxSendMessageQueueSize and needs no
// shared allocator). typeID/requestUID are only meaningful - and only
// written - on the first chunk of a message.
func appendChunkHeader(dst []byte, msgID uint32, flags chunkFlags, typeID SerializationTypeID, requestUID MessageUid) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], msgID)
	dst = append(dst, buf[:]...)
	dst = append(dst, byte(flags))
	if flags&chunkFirst != 0 {
		binary.LittleEndian.PutUint32(buf[:], uint32(typeID))
		dst = append(dst, buf[:]...)
		binary.LittleEndian.PutUint32(buf[:], requestUID.Idx)
		dst = append(dst, buf[:]...)
		binary.LittleEndian.PutUint32(buf[:], requestUID.Uid)
		dst = append(dst, buf[:]...)
	}
	return dst
}

// parseChunkHeader parses one packet's chunk header off the front of src,
// returning the remaining payload bytes.
func parseChunkHeader(src []byte) (msgID uint32, flags chunkFlags, typeID SerializationTypeID, requestUID MessageUid, rest []byte, err error) {
	if len(src) < chunkHeaderSize {
		return 0, 0, 0, MessageUid{}, nil, errors.New("ipc: truncated chunk header")
	}
	msgID = binary.LittleEndian.Uint32(src[0:4])
	flags = chunkFlags(src[4])
	src = src[chunkHeaderSize:]
	if flags&chunkFirst != 0 {
		if len(src) < chunkFirstExtra {
			return 0, 0, 0, MessageUid{}, nil, errors.New("ipc: truncated chunk first-fragment header")
		}
		typeID = SerializationTypeID(binary.LittleEndian.Uint32(src[0:4]))
		requestUID.Idx = binary.LittleEndian.Uint32(src[4:8])
		requestUID.Uid = binary.LittleEndian.Uint32(src[8:12])
		src = src[chunkFirstExtra:]
	}
	return msgID, flags, typeID, requestUID, src, nil
}

// uint32Stack is a tiny LIFO of free slot indices (spec §3: "a vector with
// a free-index stack"), grounded on the original source's Stack<uint32>.
type uint32Stack struct {
	data []uint32
}

func (s *uint32Stack) push(v uint32) { s.data = append(s.data, v) }

func (s *uint32Stack) pop() (uint32, bool) {
	if len(s.data) == 0 {
		return 0, false
	}
	n := len(s.data) - 1
	v := s.data[n]
	s.data = s.data[:n]
	return v, true
}

func (s *uint32Stack) empty() bool { return len(s.data) == 0 }

func (s *uint32Stack) len() int { return len(s.data) }

// uint32Queue is a small FIFO used for the pending-message queue and the
// received-id acknowledgement queue (spec §3).
type uint32Queue struct {
	data []uint32
}

func (q *uint32Queue) push(v uint32) { q.data = append(q.data, v) }

func (q *uint32Queue) pop() (uint32, bool) {
	if len(q.data) == 0 {
		return 0, false
	}
	v := q.data[0]
	q.data = q.data[1:]
	return v, true
}

func (q *uint32Queue) front() (uint32, bool) {
	if len(q.data) == 0 {
		return 0, false
	}
	return q.data[0], true
}

// rotate pops the front and pushes it back, used by the round-robin
// send-message scheduler (spec §4.2.1 fill_send_buffer).
func (q *uint32Queue) rotate() {
	if len(q.data) == 0 {
		return
	}
	v := q.data[0]
	q.data = append(q.data[1:], v)
}

func (q *uint32Queue) len() int { return len(q.data) }

func (q *uint32Queue) removeValue(v uint32) {
	out := q.data[:0]
	for _, x := range q.data {
		if x != v {
			out = append(out, x)
		}
	}
	q.data = out
}
