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

import "github.com/pkg/errors"

// Error codes surfaced to callers (spec §6/§7). Transient network hiccups
// never reach the caller as one of these - retransmission absorbs them
// locally; these are the terminal outcomes of a message or a session.
var (
	// ErrGeneric is a catch-all session-fatal condition (malformed datagram
	// from the peer, internal invariant violation).
	ErrGeneric = errors.New("ipc: generic error")

	// ErrNoGateway is returned when a Relayed session has no configured
	// relay gateway to route through.
	ErrNoGateway = errors.New("ipc: no relay gateway configured")

	// ErrUnsupportedSocketFamily is returned for an address family the
	// Talker cannot bind (anything but IPv4/IPv6 UDP).
	ErrUnsupportedSocketFamily = errors.New("ipc: unsupported socket family")

	// ErrNoConnection is a caller error: the ConnectionUid named does not
	// resolve to a live session.
	ErrNoConnection = errors.New("ipc: no such connection")

	// ErrTryReconnect is session-fatal: the peer's Accept carried a
	// timestamp different from ours, meaning the peer process restarted
	// since the last time we talked to it.
	ErrTryReconnect = errors.New("ipc: peer restarted, reconnect")

	// ErrNotSent completes a message that was never placed on the wire
	// (session torn down before its turn, or it was still in the pending
	// FIFO at teardown).
	ErrNotSent = errors.New("ipc: message not sent")

	// ErrSentNoResponse completes a WaitResponse message whose send
	// succeeded but whose correlated response never arrived before the
	// session died.
	ErrSentNoResponse = errors.New("ipc: sent, no response")

	// ErrCanceled completes a message the application canceled explicitly.
	ErrCanceled = errors.New("ipc: message canceled")

	// ErrServiceClosed is a caller error: SendMessage was called on a
	// Service that has already been closed.
	ErrServiceClosed = errors.New("ipc: service closed")

	// ErrAuthenticationFailed tears a session down when its authentication
	// message is rejected by the controller.
	ErrAuthenticationFailed = errors.New("ipc: authentication failed")
)
