package syncorch

import (
	"fmt"
	"net"
	"sync"
	"time"

	"entgldb/internal/wire"

	"github.com/google/uuid"
)

// peerConn is one persistent client connection to a remote sync server.
// Requests on a single connection are strictly request/response, so a
// mutex serializes callers the same way the responder serves one
// request at a time per connection.
type peerConn struct {
	mu         sync.Mutex
	conn       net.Conn
	compressed bool
	nodeID     string
}

func dialPeer(address, selfNodeID, authToken string, timeout time.Duration) (*peerConn, error) {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	conn.SetDeadline(time.Now().Add(timeout))
	req := wire.HandshakeReq{
		NodeID:               selfNodeID,
		AuthToken:            authToken,
		SupportedCompression: []string{"brotli"},
		Nonce:                uuid.NewString(),
	}
	if err := wire.Send(conn, wire.TypeHandshakeReq, req, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake send: %w", err)
	}

	var res wire.HandshakeRes
	if _, err := wire.Receive(conn, &res); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake recv: %w", err)
	}
	if !res.Accepted {
		conn.Close()
		return nil, fmt.Errorf("handshake rejected by %s", address)
	}
	conn.SetDeadline(time.Time{})

	return &peerConn{
		conn:       conn,
		compressed: res.SelectedCompression == "brotli",
		nodeID:     res.NodeID,
	}, nil
}

// roundTrip sends req as typ and decodes the single response frame into
// resp, under the connection's serialization lock and operation
// timeout.
func (p *peerConn) roundTrip(typ wire.Type, req any, resp any, timeout time.Duration) (wire.Type, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conn.SetDeadline(time.Now().Add(timeout))
	defer p.conn.SetDeadline(time.Time{})

	if err := wire.Send(p.conn, typ, req, p.compressed); err != nil {
		return 0, err
	}
	return wire.Receive(p.conn, resp)
}

// readFrame reads one more frame without sending anything first — used
// to drain a multi-frame response such as a streamed snapshot.
func (p *peerConn) readFrame(timeout time.Duration) (wire.Frame, error) {
	p.conn.SetDeadline(time.Now().Add(timeout))
	defer p.conn.SetDeadline(time.Time{})
	return wire.ReadFrame(p.conn)
}

func (p *peerConn) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.Close()
}
