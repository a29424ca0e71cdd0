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

import "sync"

// packetBufferPool is a system-wide pool of MTU-sized buffers shared among
// sending, receiving, and the compression hook, mitigating high-frequency
// allocation the way the teacher's bufferPool (bufferpool.go) does for raw
// UDP datagrams.
var packetBufferPool = newBufferPool(MTU)

type bufferPool struct {
	pool sync.Pool
	size int
}

func newBufferPool(size int) *bufferPool {
	return &bufferPool{
		size: size,
		pool: sync.Pool{
			New: func() any {
				return make([]byte, size)
			},
		},
	}
}

// Get retrieves a buffer from the pool at its full pool size; callers that
// build into it reslice it to zero length first (see newPacket).
func (bp *bufferPool) Get() []byte {
	return bp.pool.Get().([]byte)[:bp.size]
}

// Put returns a buffer to the pool.
func (bp *bufferPool) Put(buf []byte) {
	if cap(buf) < bp.size {
		return
	}
	bp.pool.Put(buf[:cap(buf)])
}
