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

// refreshIndexMask mirrors StaticData::RefreshIndexMask from the original
// source: every 1<<7 packets the retransmit backoff position is recalibrated
// toward zero, so a session that has been running smoothly for a while
// doesn't keep inflating its retransmit timeout on a single late ack.
const refreshIndexMask = (1 << 7) - 1

// retransmitTable is the growing-timeout backoff schedule (spec §4.2.1:
// "100ms, 200ms, 400ms, ..."). It is a const table the way the original
// source's StaticData precomputes one, re-expressed as a Go slice (spec §9
// design note: "encode as a const array").
var retransmitTable = buildRetransmitTable()

func buildRetransmitTable() []time.Duration {
	const steps = 32
	table := make([]time.Duration, steps)
	d := 100 * time.Millisecond
	for i := range table {
		table[i] = d
		d *= 2
		if d > 8*time.Second {
			d = 8 * time.Second
		}
	}
	return table
}

// retransmitTimeout looks up the backoff duration for a given position,
// clamping to the table's last (largest) entry past its end.
func retransmitTimeout(pos int) time.Duration {
	if pos < 0 {
		pos = 0
	}
	if pos >= len(retransmitTable) {
		pos = len(retransmitTable) - 1
	}
	return retransmitTable[pos]
}

// connectRetransmitPosition / connectRetransmitPositionRelay are backoff
// table positions for Connect/Accept handshakes (direct and Relayed44).
// No code path reads them: checkTimeouts times handshake packets with the
// same computeRetransmitTimeout call it uses for data packets.
const (
	connectRetransmitPosition      = 2
	connectRetransmitPositionRelay = 4
)

// computeRetransmitTimeout mirrors Session::Data::computeRetransmitTimeout:
// it recalibrates retransmitPos toward 0 every refreshIndexMask+1 packets,
// then advances it at least as far as the current attempt number.
func computeRetransmitTimeout(retransmitPos *int, retryID int, pktID uint32) time.Duration {
	if pktID&refreshIndexMask == 0 {
		*retransmitPos = 0
	}
	if retryID > *retransmitPos {
		*retransmitPos = retryID
	}
	return retransmitTimeout(*retransmitPos + retryID)
}
