package ipc

import (
	"bytes"
	"testing"
)

func TestCompressPayloadBelowThresholdSkipsCompression(t *testing.T) {
	payload := []byte("short")
	out, compressed := compressPayload(payload, 256)
	if compressed {
		t.Fatalf("expected no compression below threshold")
	}
	if &out[0] != &payload[0] {
		t.Fatalf("expected the original slice to be returned untouched")
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 128) // 1024 bytes, highly compressible
	out, compressed := compressPayload(payload, 16)
	if !compressed {
		t.Fatalf("expected a highly repetitive payload to compress")
	}
	if len(out) >= len(payload) {
		t.Fatalf("expected compressed form to be smaller, got %d vs %d", len(out), len(payload))
	}
	decoded, err := decompressPayload(out)
	if err != nil {
		t.Fatalf("decompressPayload: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCompressPayloadIncompressibleSkipsReplacement(t *testing.T) {
	// Random-looking small payload: snappy's own header overhead can make
	// the "compressed" form no smaller, in which case the original bytes
	// must be kept and compressed=false.
	payload := []byte{0x01, 0x02}
	out, compressed := compressPayload(payload, 1)
	if compressed {
		if len(out) >= len(payload) {
			t.Fatalf("claimed compression did not actually shrink the payload")
		}
	} else {
		if !bytes.Equal(out, payload) {
			t.Fatalf("expected uncompressed payload to be returned unchanged")
		}
	}
}
