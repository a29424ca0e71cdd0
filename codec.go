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

// SerializationTypeID identifies the wire shape of an application message.
// The engine never interprets it beyond routing to the right (de)serializer
// - payload interpretation is the codec's job (spec §1 Non-goal).
type SerializationTypeID uint32

// InvalidTypeID marks a message stub that has not yet been assigned a type.
const InvalidTypeID SerializationTypeID = 0

// Serializer incrementally renders one application message into the byte
// stream the engine multiplexes across packets. Run returns the number of
// bytes it wrote into dst (which may be less than len(dst) if the message
// ran out of data) and reports whether the message is now fully drained.
type Serializer interface {
	Run(dst []byte) (n int, done bool, err error)
}

// Deserializer incrementally rebuilds one application message from the byte
// stream the engine demultiplexes out of packets. Run returns how many
// bytes of src it consumed and whether the message is now complete.
type Deserializer interface {
	Run(src []byte) (n int, done bool, err error)
	// Message returns the rebuilt application message; only valid once Run
	// has reported done.
	Message() (msg any, err error)
}

// Codec is the pluggable application-message boundary the engine's message
// layer multiplexes over (spec §1: "application-level serialization of
// message payloads... is an opaque byte stream produced/consumed by a
// pluggable codec"). The engine never deserializes or inspects payload
// bytes itself - it only drives Serializer/Deserializer to completion.
type Codec interface {
	// TypeID returns the wire type identifier for an outbound message.
	TypeID(msg any) SerializationTypeID
	// NewSerializer starts serializing an outbound message.
	NewSerializer(typeID SerializationTypeID, msg any) (Serializer, error)
	// NewDeserializer starts reconstructing an inbound message of the
	// given wire type.
	NewDeserializer(typeID SerializationTypeID) (Deserializer, error)
}
