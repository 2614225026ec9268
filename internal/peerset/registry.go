package peerset

import (
	"sync"
	"time"

	"entgldb/internal/model"
)

// Status is a peer's current sync health, surfaced to operators exactly
// as the spec's §7 "user-visible behavior" describes: up, backoff,
// unreachable, or requires-snapshot.
type Status string

const (
	StatusUp               Status = "up"
	StatusBackoff          Status = "backoff"
	StatusUnreachable      Status = "unreachable"
	StatusRequiresSnapshot Status = "requires_snapshot"
)

// peerState is one entry of the orchestrator's peer-backoff table. Its
// fields are mutated in place, only while the registry's write lock is
// held, so a read never observes a half-updated status while a sync
// attempt is in flight.
type peerState struct {
	peer        model.RemotePeer
	status      Status
	failures    int
	nextAttempt time.Time
	lastSuccess time.Time
	lastError   string
}

// Registry tracks every remote peer this node knows about (from the
// discovery collaborator, static configuration, or replicated peer
// documents) plus each one's current backoff/health status. It is the
// concrete "list of reachable peers" the sync orchestrator consumes,
// and the ring used to pick a bounded, evenly distributed fanout from
// that list each round.
type Registry struct {
	mu    sync.RWMutex
	peers map[string]*peerState
	ring  *Ring
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[string]*peerState),
		ring:  NewRing(0),
	}
}

// Upsert adds or updates a known peer. A brand-new peer starts in Up
// status so it is eligible for the very next gossip round.
func (r *Registry) Upsert(p model.RemotePeer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.peers[p.NodeID]; ok {
		existing.peer = p
		return
	}
	r.peers[p.NodeID] = &peerState{peer: p, status: StatusUp}
	r.ring.AddNode(p.NodeID)
}

// Remove drops a peer entirely (operator removal, not a transient
// failure — transient failures go through RecordFailure instead).
func (r *Registry) Remove(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, nodeID)
	r.ring.RemoveNode(nodeID)
}

// Get returns the current peer row, if known.
func (r *Registry) Get(nodeID string) (model.RemotePeer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.peers[nodeID]
	if !ok {
		return model.RemotePeer{}, false
	}
	return st.peer, true
}

// Eligible returns the enabled peers, excluding selfID, that are not
// currently in backoff — the candidate set for EligibleFanout, and for
// any caller that just needs "who could we sync with right now".
func (r *Registry) Eligible(selfID string, now time.Time) []model.RemotePeer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.RemotePeer
	for id, st := range r.peers {
		if id == selfID || !st.peer.Enabled {
			continue
		}
		if st.status == StatusBackoff && now.Before(st.nextAttempt) {
			continue
		}
		out = append(out, st.peer)
	}
	return out
}

// Fanout picks up to n eligible peers for this gossip round, using the
// ring so repeated rounds spread attention evenly instead of relying on
// pure chance. seed should be unique per round (a round counter or the
// round's start time formatted to millisecond resolution both work).
func (r *Registry) Fanout(selfID, seed string, n int, now time.Time) []model.RemotePeer {
	eligible := r.Eligible(selfID, now)
	if len(eligible) == 0 {
		return nil
	}
	byID := make(map[string]model.RemotePeer, len(eligible))
	for _, p := range eligible {
		byID[p.NodeID] = p
	}

	r.mu.RLock()
	picked := r.ring.SelectFanout(seed, n)
	r.mu.RUnlock()

	var out []model.RemotePeer
	for _, id := range picked {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// RecordSuccess clears backoff and marks the peer Up after a successful
// sync round.
func (r *Registry) RecordSuccess(nodeID string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.peers[nodeID]
	if !ok {
		return
	}
	st.status = StatusUp
	st.failures = 0
	st.lastSuccess = now
	st.lastError = ""
}

// RecordFailure applies exponential backoff: min(2^failures, 60)
// seconds, per the spec's error-handling policy for transient network
// failures.
func (r *Registry) RecordFailure(nodeID string, now time.Time, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.peers[nodeID]
	if !ok {
		return
	}
	st.failures++
	delay := backoffDelay(st.failures)
	st.status = StatusBackoff
	st.nextAttempt = now.Add(delay)
	if cause != nil {
		st.lastError = cause.Error()
	}
}

// MarkRequiresSnapshot flags a peer as needing a snapshot transfer
// before ordinary sync can resume — surfaced to operators distinctly
// from a plain backoff.
func (r *Registry) MarkRequiresSnapshot(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.peers[nodeID]; ok {
		st.status = StatusRequiresSnapshot
	}
}

// MarkUnreachable flags a peer as down after recovery itself failed
// (e.g. an emergency snapshot replace that could not complete).
func (r *Registry) MarkUnreachable(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.peers[nodeID]; ok {
		st.status = StatusUnreachable
	}
}

func backoffDelay(failures int) time.Duration {
	seconds := 1 << failures // 2^failures
	if seconds > 60 || seconds <= 0 {
		seconds = 60
	}
	return time.Duration(seconds) * time.Second
}

// PeerStatus is the operator-facing view of one peer's health, returned
// by Status for the admin surface and CLI.
type PeerStatus struct {
	Peer        model.RemotePeer `json:"peer"`
	Status      Status           `json:"status"`
	Failures    int              `json:"failures"`
	LastSuccess time.Time        `json:"last_success,omitempty"`
	LastError   string           `json:"last_error,omitempty"`
}

// Snapshot returns the current status of every known peer, for
// operator surfaces.
func (r *Registry) Snapshot() []PeerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PeerStatus, 0, len(r.peers))
	for _, st := range r.peers {
		out = append(out, PeerStatus{
			Peer:        st.peer,
			Status:      st.status,
			Failures:    st.failures,
			LastSuccess: st.lastSuccess,
			LastError:   st.lastError,
		})
	}
	return out
}
