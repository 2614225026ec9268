package wire

import (
	"encoding/json"
	"fmt"
	"io"
)

// Conn is the byte-stream abstraction the wire layer sends frames over.
// In the simplest deployment this is just a net.Conn; when the external
// secure-handshake collaborator is layered underneath, it hands the
// sync layer something satisfying this same interface that happens to
// encrypt/decrypt transparently — the frame codec above never needs to
// know which.
type Conn interface {
	io.Reader
	io.Writer
}

// Send encodes body as JSON and writes it as a frame of the given type.
func Send(c Conn, typ Type, body any, useCompression bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("wire: marshal %v: %w", typ, err)
	}
	return WriteFrame(c, typ, payload, useCompression)
}

// Receive reads one frame and decodes its payload into out, which must
// be a pointer. It returns the frame's Type so callers expecting one of
// several possible response types can switch on it first.
func Receive(c Conn, out any) (Type, error) {
	frame, err := ReadFrame(c)
	if err != nil {
		return 0, err
	}
	if out == nil {
		return frame.Type, nil
	}
	if frame.Type == TypeErrorRes {
		var errRes ErrorRes
		if err := json.Unmarshal(frame.Payload, &errRes); err == nil {
			return frame.Type, fmt.Errorf("wire: peer error: %s", errRes.Message)
		}
	}
	if err := json.Unmarshal(frame.Payload, out); err != nil {
		return frame.Type, fmt.Errorf("wire: unmarshal %v: %w", frame.Type, err)
	}
	return frame.Type, nil
}

// SupportsCompression reports whether "brotli" is present in a
// handshake's advertised compression list.
func SupportsCompression(supported []string) bool {
	for _, s := range supported {
		if s == "brotli" {
			return true
		}
	}
	return false
}
