package wire

import (
	"bytes"
	"strings"
	"testing"

	"entgldb/internal/hlc"
)

func TestWriteFrameReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"hello":"world"}`)
	if err := WriteFrame(&buf, TypeHandshakeReq, payload, false); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	frame, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Type != TypeHandshakeReq {
		t.Fatalf("expected type %v, got %v", TypeHandshakeReq, frame.Type)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("payload mismatch: got %s want %s", frame.Payload, payload)
	}
}

func TestWriteFrameCompressesLargePayloads(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(strings.Repeat("a", compressionThreshold*2))
	if err := WriteFrame(&buf, TypeChangeSetRes, payload, true); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if buf.Len() >= len(payload) {
		t.Fatalf("expected a highly compressible payload to shrink on the wire, got %d bytes for %d input", buf.Len(), len(payload))
	}

	frame, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Fatalf("decompressed payload did not round-trip")
	}
}

func TestWriteFrameSkipsCompressionBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"x":1}`)
	if err := WriteFrame(&buf, TypeAckRes, payload, true); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	// header(6) + payload, uncompressed since payload is below threshold.
	if buf.Len() != 6+len(payload) {
		t.Fatalf("expected an uncompressed small frame, got %d bytes", buf.Len())
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, 6)
	// Claim a length far beyond MaxFrameLength.
	header[0], header[1], header[2], header[3] = 0xFF, 0xFF, 0xFF, 0xFF
	header[4] = byte(TypeAckRes)
	buf.Write(header)

	if _, err := ReadFrame(&buf); err == nil {
		t.Fatalf("expected an error for an oversized claimed frame length")
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := PullChangesReq{NodeID: "n1", SincePhy: 100, SinceLog: 2}
	if err := Send(&buf, TypePullChangesReq, req, false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got PullChangesReq
	typ, err := Receive(&buf, &got)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if typ != TypePullChangesReq {
		t.Fatalf("unexpected type %v", typ)
	}
	if got != req {
		t.Fatalf("decoded request mismatch: got %+v want %+v", got, req)
	}
}

func TestReceiveSurfacesErrorRes(t *testing.T) {
	var buf bytes.Buffer
	if err := Send(&buf, TypeErrorRes, ErrorRes{Message: "auth rejected"}, false); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var ack AckRes
	_, err := Receive(&buf, &ack)
	if err == nil || !strings.Contains(err.Error(), "auth rejected") {
		t.Fatalf("expected Receive to surface the peer error message, got %v", err)
	}
}

func TestSupportsCompression(t *testing.T) {
	if !SupportsCompression([]string{"gzip", "brotli"}) {
		t.Fatalf("expected brotli to be recognized as supported")
	}
	if SupportsCompression([]string{"gzip"}) {
		t.Fatalf("expected gzip-only list to not support brotli")
	}
}

func TestVectorClockRoundTripsThroughWire(t *testing.T) {
	var buf bytes.Buffer
	vc := hlc.NewVectorClock()
	vc.Set("n1", hlc.Timestamp{Physical: 100, Logical: 0, NodeID: "n1"})

	if err := Send(&buf, TypeVectorClockRes, VectorClockRes{Vector: vc}, false); err != nil {
		t.Fatalf("Send: %v", err)
	}
	var got VectorClockRes
	if _, err := Receive(&buf, &got); err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Vector.Get("n1") != vc.Get("n1") {
		t.Fatalf("vector clock did not survive the wire round trip: got %v want %v", got.Vector, vc)
	}
}
