// Package syncorch is the sync orchestrator — the heart of the engine.
// It runs the fixed-period gossip loop, selects peers, drives pairwise
// anti-entropy against each, and handles gap recovery, snapshot
// fallback, and backoff.
//
// Big idea:
//
// Every sync_with(peer) call is independent of every other: a slow or
// unreachable peer delays only itself, never the whole round, because
// the round's peers run in parallel goroutines bounded by the gossip
// fanout rather than one after another.
package syncorch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"entgldb/internal/hlc"
	"entgldb/internal/model"
	"entgldb/internal/oplog"
	"entgldb/internal/peerset"
	"entgldb/internal/store"
	"entgldb/internal/wire"

	"golang.org/x/sync/errgroup"
)

// ErrSnapshotRequired bubbles out of processInboundBatch when a chain
// gap cannot be served from the peer's remaining history.
var ErrSnapshotRequired = errors.New("syncorch: snapshot required")

// Config holds the orchestrator's tunables, lifted from the spec's
// configuration table and §4.8's fixed constants.
type Config struct {
	SelfNodeID          string
	AuthToken           string
	GossipFanout        int           // default 3
	GossipPeriod        time.Duration // default 2s
	MaintenanceInterval time.Duration // default 60m
	OplogRetention      time.Duration // default from oplog_retention_hours
	OperationTimeout    time.Duration // per-operation socket timeout, default 60s
}

func (c *Config) setDefaults() {
	if c.GossipFanout <= 0 {
		c.GossipFanout = 3
	}
	if c.GossipPeriod <= 0 {
		c.GossipPeriod = 2 * time.Second
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 60 * time.Minute
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = 60 * time.Second
	}
}

// Orchestrator is the sync orchestrator (C8). It depends only on the
// store contract and the peer registry; it never holds a reference to
// the coordinator, keeping the store→coordinator→orchestrator
// construction chain acyclic.
type Orchestrator struct {
	cfg      Config
	engine   store.Engine
	registry *peerset.Registry
	log      *log.Logger

	clientsMu sync.Mutex
	clients   map[string]*peerConn

	roundCounter int64
}

// New creates an Orchestrator driving engine against the peers tracked
// in registry.
func New(cfg Config, engine store.Engine, registry *peerset.Registry) *Orchestrator {
	cfg.setDefaults()
	return &Orchestrator{
		cfg:      cfg,
		engine:   engine,
		registry: registry,
		log:      log.New(os.Stderr, "[syncorch] ", log.LstdFlags),
		clients:  make(map[string]*peerConn),
	}
}

// Run drives the gossip loop and the maintenance (pruning) loop until
// ctx is canceled. On cancellation it waits for in-flight sync rounds
// to finish (bounded by the per-operation socket timeout) and then
// closes every persistent client connection.
func (o *Orchestrator) Run(ctx context.Context) error {
	gossipTicker := time.NewTicker(o.cfg.GossipPeriod)
	defer gossipTicker.Stop()
	maintenanceTicker := time.NewTicker(o.cfg.MaintenanceInterval)
	defer maintenanceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.closeAllClients()
			return ctx.Err()

		case <-gossipTicker.C:
			o.runRound(ctx)

		case <-maintenanceTicker.C:
			if o.cfg.OplogRetention > 0 {
				cutoff := hlc.Timestamp{Physical: time.Now().Add(-o.cfg.OplogRetention).UnixMilli()}
				if err := o.engine.PruneOplog(cutoff); err != nil {
					o.log.Printf("prune oplog: %v", err)
				}
			}
		}
	}
}

// runRound picks up to GossipFanout eligible peers and syncs with each
// in parallel; one peer's failure never blocks another's.
func (o *Orchestrator) runRound(ctx context.Context) {
	o.roundCounter++
	seed := fmt.Sprintf("round-%d", o.roundCounter)

	peers := o.registry.Fanout(o.cfg.SelfNodeID, seed, o.cfg.GossipFanout, time.Now())
	if len(peers) == 0 {
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		group.Go(func() error {
			if err := o.syncWith(groupCtx, peer); err != nil {
				o.log.Printf("sync with %s: %v", peer.NodeID, err)
			}
			return nil
		})
	}
	_ = group.Wait()
}

func (o *Orchestrator) getClient(peer model.RemotePeer) (*peerConn, error) {
	o.clientsMu.Lock()
	defer o.clientsMu.Unlock()

	if c, ok := o.clients[peer.NodeID]; ok {
		return c, nil
	}
	c, err := dialPeer(peer.Address, o.cfg.SelfNodeID, o.cfg.AuthToken, o.cfg.OperationTimeout)
	if err != nil {
		return nil, err
	}
	o.clients[peer.NodeID] = c
	return c, nil
}

func (o *Orchestrator) dropClient(nodeID string) {
	o.clientsMu.Lock()
	defer o.clientsMu.Unlock()
	if c, ok := o.clients[nodeID]; ok {
		c.close()
		delete(o.clients, nodeID)
	}
}

func (o *Orchestrator) closeAllClients() {
	o.clientsMu.Lock()
	defer o.clientsMu.Unlock()
	for id, c := range o.clients {
		c.close()
		delete(o.clients, id)
	}
}

// syncWith runs one round of pairwise anti-entropy against peer:
// exchange vector clocks, pull whatever peer is ahead on, push whatever
// we are ahead on, then record success or apply backoff.
func (o *Orchestrator) syncWith(ctx context.Context, peer model.RemotePeer) error {
	client, err := o.getClient(peer)
	if err != nil {
		o.registry.RecordFailure(peer.NodeID, time.Now(), err)
		return err
	}

	var remoteVec wire.VectorClockRes
	if _, err := client.roundTrip(wire.TypeGetVectorClockReq, struct{}{}, &remoteVec, o.cfg.OperationTimeout); err != nil {
		o.dropClient(peer.NodeID)
		o.registry.RecordFailure(peer.NodeID, time.Now(), err)
		return fmt.Errorf("exchange vector clock: %w", err)
	}

	localVec := o.engine.VectorClock()

	for _, node := range localVec.NodesPeerIsAheadOf(remoteVec.Vector) {
		if err := o.pullFromNode(ctx, client, peer, node, localVec.Get(node)); err != nil {
			if errors.Is(err, ErrSnapshotRequired) {
				o.registry.MarkRequiresSnapshot(peer.NodeID)
				if recErr := o.recoverViaMergeSnapshot(client); recErr != nil {
					o.dropClient(peer.NodeID)
					o.registry.RecordFailure(peer.NodeID, time.Now(), recErr)
					return fmt.Errorf("merge-snapshot recovery: %w", recErr)
				}
				continue
			}
			if errors.Is(err, store.ErrCorruptDatabase) {
				if recErr := o.recoverViaReplaceSnapshot(client); recErr != nil {
					o.registry.MarkUnreachable(peer.NodeID)
					o.dropClient(peer.NodeID)
					return fmt.Errorf("emergency replace failed, peer marked unreachable: %w", recErr)
				}
				continue
			}
			o.dropClient(peer.NodeID)
			o.registry.RecordFailure(peer.NodeID, time.Now(), err)
			return fmt.Errorf("pull from %s: %w", node, err)
		}
	}

	localVec = o.engine.VectorClock() // pulls above may have advanced it
	for _, node := range localVec.NodesWeAreAheadOf(remoteVec.Vector) {
		entries, err := o.engine.OplogForNodeAfter(node, remoteVec.Vector.Get(node))
		if err != nil {
			o.dropClient(peer.NodeID)
			o.registry.RecordFailure(peer.NodeID, time.Now(), err)
			return fmt.Errorf("read outbound entries for %s: %w", node, err)
		}
		if len(entries) == 0 {
			continue
		}
		var ack wire.AckRes
		if _, err := client.roundTrip(wire.TypePushChangesReq, wire.PushChangesReq{Entries: entries}, &ack, o.cfg.OperationTimeout); err != nil {
			o.dropClient(peer.NodeID)
			o.registry.RecordFailure(peer.NodeID, time.Now(), err)
			return fmt.Errorf("push to %s: %w", node, err)
		}
		if ack.SnapshotRequired {
			// Peer cannot absorb our push from its current history; its
			// own orchestrator will pull a snapshot from us next round.
			o.log.Printf("peer %s requires a snapshot to absorb %s's changes", peer.NodeID, node)
		}
	}

	o.registry.RecordSuccess(peer.NodeID, time.Now())
	return nil
}

// pullFromNode fetches node's entries newer than since from peer and
// applies them via processInboundBatch.
func (o *Orchestrator) pullFromNode(ctx context.Context, client *peerConn, peer model.RemotePeer, node string, since hlc.Timestamp) error {
	req := wire.PullChangesReq{NodeID: node, SincePhy: since.Physical, SinceLog: since.Logical}
	var res wire.ChangeSetRes
	if _, err := client.roundTrip(wire.TypePullChangesReq, req, &res, o.cfg.OperationTimeout); err != nil {
		return err
	}
	if len(res.Entries) == 0 {
		return nil
	}
	return o.processInboundBatch(client, peer, node, res.Entries)
}

// processInboundBatch validates and applies one author's batch of
// incoming entries:
//  1. sort by Ts
//  2. re-hash every entry; on mismatch, log critical but accept anyway
//     (soft validation — rejecting would deadlock sync indefinitely)
//  3. verify in-batch linkage
//  4. reconcile the batch's head against our local chain head for this
//     author, running gap recovery if they don't match
//  5. apply the (possibly gap-filled) group via ApplyBatch
func (o *Orchestrator) processInboundBatch(client *peerConn, peer model.RemotePeer, author string, entries []oplog.Entry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ts.Before(entries[j].Ts) })

	for i, e := range entries {
		if err := oplog.Validate(e); errors.Is(err, oplog.ErrMissingPayload) {
			o.log.Printf("WARN: entry %d from %s is a put without payload, skipping it: %v", i, author, err)
		} else if err != nil && !errors.Is(err, oplog.ErrHashMismatch) {
			return fmt.Errorf("entry %d from %s: %w", i, author, err)
		} else if err != nil {
			o.log.Printf("CRITICAL: entry %d from %s failed hash verification, accepting anyway: %v", i, author, err)
		}
	}

	if err := oplog.VerifyChain(entries, ""); err != nil {
		o.log.Printf("CRITICAL: in-batch chain break from %s, accepting anyway: %v", author, err)
	}

	localHead, _ := o.engine.LastEntryHash(author)
	head := entries[0]

	if localHead != head.PrevHash {
		filled, snapshotRequired, err := o.fetchChainRange(client, author, localHead, head.PrevHash)
		if err != nil {
			return fmt.Errorf("gap recovery from %s: %w", author, err)
		}
		if snapshotRequired {
			return ErrSnapshotRequired
		}
		if len(filled) == 0 {
			o.log.Printf("WARN: gap recovery for %s returned no entries; accepting partial history", author)
		} else {
			if err := oplog.VerifyChain(filled, localHead); err != nil {
				o.log.Printf("CRITICAL: filled chain range from %s failed verification, accepting anyway: %v", author, err)
			}
			if err := o.engine.ApplyBatch(filled); err != nil {
				return fmt.Errorf("apply gap-filled range from %s: %w", author, err)
			}
		}
	}

	return o.engine.ApplyBatch(entries)
}

// fetchChainRange asks peer for author's entries in (startHash,
// endHash].
func (o *Orchestrator) fetchChainRange(client *peerConn, author, startHash, endHash string) ([]oplog.Entry, bool, error) {
	req := wire.GetChainRangeReq{NodeID: author, StartHash: startHash, EndHash: endHash}
	var res wire.ChainRangeRes
	if _, err := client.roundTrip(wire.TypeGetChainRangeReq, req, &res, o.cfg.OperationTimeout); err != nil {
		return nil, false, err
	}
	return res.Entries, res.SnapshotRequired, nil
}

// recoverViaMergeSnapshot downloads a snapshot from client and merges
// it side-by-side with local state, used when a chain gap cannot be
// served from the peer's remaining history.
func (o *Orchestrator) recoverViaMergeSnapshot(client *peerConn) error {
	data, err := o.downloadSnapshot(client)
	if err != nil {
		return err
	}
	return o.engine.MergeSnapshot(bytes.NewReader(data))
}

// recoverViaReplaceSnapshot downloads a snapshot from client and
// atomically replaces local state with it, used when local storage has
// been found corrupt.
func (o *Orchestrator) recoverViaReplaceSnapshot(client *peerConn) error {
	data, err := o.downloadSnapshot(client)
	if err != nil {
		return err
	}
	return o.engine.ReplaceDatabase(bytes.NewReader(data))
}

func (o *Orchestrator) downloadSnapshot(client *peerConn) ([]byte, error) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if err := wire.Send(client.conn, wire.TypeGetSnapshotReq, wire.GetSnapshotReq{}, false); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for {
		frame, err := client.readFrame(o.cfg.OperationTimeout)
		if err != nil {
			return nil, err
		}
		var chunk wire.SnapshotChunk
		if err := json.Unmarshal(frame.Payload, &chunk); err != nil {
			return nil, err
		}
		buf.Write(chunk.Data)
		if chunk.IsLast {
			break
		}
	}
	return buf.Bytes(), nil
}

// Registry exposes the peer registry for the admin surface and CLI.
func (o *Orchestrator) Registry() *peerset.Registry { return o.registry }
