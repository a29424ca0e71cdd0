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

import "github.com/golang/snappy"

// compressPayload applies snappy's block codec (not the teacher's
// CompStream, which frames a byte stream rather than a single bounded
// datagram) to a packet's payload if it is at least threshold bytes and
// compression actually shrinks it (spec §3 Packet: "buffer-type
// plain/compressed"). It returns the bytes to put on the wire and whether
// they are compressed.
func compressPayload(payload []byte, threshold int) ([]byte, bool) {
	if threshold <= 0 || len(payload) < threshold {
		return payload, false
	}
	encoded := snappy.Encode(nil, payload)
	if len(encoded) >= len(payload) {
		return payload, false
	}
	return encoded, true
}

// decompressPayload reverses compressPayload.
func decompressPayload(payload []byte) ([]byte, error) {
	return snappy.Decode(nil, payload)
}
