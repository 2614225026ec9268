// Package syncserver accepts authenticated connections from peers and
// services their clock/pull/push/chain-range/snapshot requests — the
// responder side of anti-entropy.
//
// Big idea:
//
// Each accepted connection runs its own state machine: Accept →
// Handshake → Authenticated → (serve requests serially) → Close. A
// connection that never authenticates, or that the server is already
// at capacity for, is closed immediately rather than left half-open.
package syncserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"entgldb/internal/hlc"
	"entgldb/internal/model"
	"entgldb/internal/store"
	"entgldb/internal/wire"

	"golang.org/x/sync/errgroup"
)

// Config holds the server's tunables, lifted straight from the spec's
// configuration table.
type Config struct {
	ListenAddr       string
	NodeID           string
	AuthToken        string
	MaxConnections   int
	OperationTimeout time.Duration
}

// Counters are the server's observable counters. ConnectionsAccepted and
// ConnectionsRejected are kept up to date; BytesIn and BytesOut are not
// incremented by this server and stay zero. Handshake timing is not
// recorded.
type Counters struct {
	ConnectionsAccepted atomic.Int64
	ConnectionsRejected atomic.Int64
	BytesIn             atomic.Int64
	BytesOut            atomic.Int64
}

// Server is the sync responder. It holds only the store contract, never
// a back-reference to the orchestrator driving the initiator side of
// sync.
type Server struct {
	cfg    Config
	engine store.Engine
	log    *log.Logger

	Counters Counters

	mu       sync.Mutex
	active   int
	listener net.Listener
}

// New creates a Server bound to engine. Call Serve to start accepting.
func New(cfg Config, engine store.Engine) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 60 * time.Second
	}
	return &Server{
		cfg:    cfg,
		engine: engine,
		log:    log.New(os.Stderr, "[syncserver] ", log.LstdFlags),
	}
}

// Serve listens on cfg.ListenAddr and services connections until ctx is
// canceled. On cancellation, the listener is closed immediately and
// Serve waits for every connection handler to return. A handler stops
// before reading its next request; a read already blocked ends only at
// its per-operation deadline. There is no separate grace timer, and
// connections are not force-closed.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("syncserver: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-groupCtx.Done()
		return ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return group.Wait()
			default:
				s.log.Printf("accept error: %v", err)
				continue
			}
		}

		s.mu.Lock()
		if s.active >= s.cfg.MaxConnections {
			s.mu.Unlock()
			s.Counters.ConnectionsRejected.Add(1)
			conn.Close()
			continue
		}
		s.active++
		s.mu.Unlock()
		s.Counters.ConnectionsAccepted.Add(1)

		group.Go(func() error {
			defer func() {
				s.mu.Lock()
				s.active--
				s.mu.Unlock()
			}()
			s.handleConn(groupCtx, conn)
			return nil
		})
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)      // disable Nagle: sync traffic is latency-sensitive, not throughput-bound
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	handshakeStart := time.Now()
	nodeID, compressed, ok := s.handshake(conn)
	if !ok {
		return
	}
	_ = time.Since(handshakeStart) // handshake timing available for a metrics hook

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn.SetDeadline(time.Now().Add(s.cfg.OperationTimeout))
		if err := s.serveOne(conn, nodeID, compressed); err != nil {
			if err != io.EOF {
				s.log.Printf("peer %s: %v", nodeID, err)
			}
			return
		}
	}
}

// handshake authenticates conn and negotiates compression, returning
// the boolean this connection should use for every response it sends
// from here on — only true when the peer both advertised brotli
// support and was accepted.
func (s *Server) handshake(conn net.Conn) (string, bool, bool) {
	var req wire.HandshakeReq
	if _, err := wire.Receive(conn, &req); err != nil {
		s.log.Printf("handshake read: %v", err)
		return "", false, false
	}

	accepted := req.AuthToken == s.cfg.AuthToken
	compressed := accepted && wire.SupportsCompression(req.SupportedCompression)
	res := wire.HandshakeRes{NodeID: s.cfg.NodeID, Accepted: accepted}
	if compressed {
		res.SelectedCompression = "brotli"
	}

	if err := wire.Send(conn, wire.TypeHandshakeRes, res, false); err != nil {
		s.log.Printf("handshake write: %v", err)
		return "", false, false
	}
	if !accepted {
		s.log.Printf("rejected handshake from %s: bad auth token", req.NodeID)
		return "", false, false
	}
	return req.NodeID, compressed, true
}

// serveOne reads exactly one request and writes its response. Get*
// paths are strictly read-only; PushChanges is the only path that
// mutates, and it goes through ApplyBatch. useCompression, which reflects
// what this peer advertised support for during the handshake, applies to
// the entry-carrying responses (ChangeSetRes, ChainRangeRes); all other
// responses are sent uncompressed.
func (s *Server) serveOne(conn net.Conn, peerNodeID string, useCompression bool) error {
	frame, err := wire.ReadFrame(conn)
	if err != nil {
		return err
	}

	switch frame.Type {
	case wire.TypeGetClockReq:
		return wire.Send(conn, wire.TypeClockRes, wire.ClockRes{Ts: s.engine.LatestTimestamp()}, false)

	case wire.TypeGetVectorClockReq:
		return wire.Send(conn, wire.TypeVectorClockRes, wire.VectorClockRes{Vector: s.engine.VectorClock()}, false)

	case wire.TypePullChangesReq:
		var req wire.PullChangesReq
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return err
		}
		since := hlc.Timestamp{Physical: req.SincePhy, Logical: req.SinceLog, NodeID: req.NodeID}
		entries, err := s.engine.OplogForNodeAfter(req.NodeID, since)
		if err != nil {
			return wire.Send(conn, wire.TypeErrorRes, wire.ErrorRes{Message: err.Error()}, false)
		}
		return wire.Send(conn, wire.TypeChangeSetRes, wire.ChangeSetRes{Entries: entries}, useCompression)

	case wire.TypePushChangesReq:
		var req wire.PushChangesReq
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return err
		}
		err := s.engine.ApplyBatch(req.Entries)
		ack := wire.AckRes{Success: err == nil}
		if err != nil {
			ack.SnapshotRequired = isSnapshotRequired(err)
			if !ack.SnapshotRequired {
				s.log.Printf("apply batch from %s: %v", peerNodeID, err)
			}
		}
		return wire.Send(conn, wire.TypeAckRes, ack, false)

	case wire.TypeGetChainRangeReq:
		var req wire.GetChainRangeReq
		if err := json.Unmarshal(frame.Payload, &req); err != nil {
			return err
		}
		entries, snapshotRequired := s.engine.ChainRange(req.NodeID, req.StartHash, req.EndHash)
		return wire.Send(conn, wire.TypeChainRangeRes, wire.ChainRangeRes{Entries: entries, SnapshotRequired: snapshotRequired}, useCompression)

	case wire.TypeGetSnapshotReq:
		return s.streamSnapshot(conn)

	default:
		return wire.Send(conn, wire.TypeErrorRes, wire.ErrorRes{Message: fmt.Sprintf("unsupported request type %d", frame.Type)}, false)
	}
}

// isSnapshotRequired recognizes ErrSnapshotRequired from ApplyBatch.
// The reference store never raises it from ApplyBatch itself (gap
// recovery is the initiator's job, driven by GetChainRangeReq before it
// ever pushes a batch that could trigger this) — the check exists so a
// backend that can detect a pruned-history conflict at apply time has
// somewhere to report it without changing the wire contract.
func isSnapshotRequired(err error) bool {
	return errors.Is(err, store.ErrSnapshotRequired)
}

func (s *Server) streamSnapshot(conn net.Conn) error {
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.engine.CreateSnapshot(pw)
		pw.Close()
	}()

	buf := make([]byte, wire.SnapshotChunkSize)
	for {
		n, readErr := pr.Read(buf)
		if n > 0 {
			isLast := readErr == io.EOF
			chunk := wire.SnapshotChunk{Data: append([]byte(nil), buf[:n]...), IsLast: isLast}
			if err := wire.Send(conn, wire.TypeSnapshotChunk, chunk, false); err != nil {
				return err
			}
			if isLast {
				break
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				if err := wire.Send(conn, wire.TypeSnapshotChunk, wire.SnapshotChunk{IsLast: true}, false); err != nil {
					return err
				}
				break
			}
			return readErr
		}
	}
	return <-errCh
}

// Peers round-trips the current local peer registry, exposed for the
// admin surface and CLI.
func (s *Server) Peers() ([]model.RemotePeer, error) { return s.engine.Peers() }
