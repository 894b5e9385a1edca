// Copyright 2024 The ethsync Authors
// This file is part of the ethsync library.
//
// The ethsync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ethsync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ethsync library. If not, see <http://www.gnu.org/licenses/>.

package ethpeer

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// ErrNoAvailablePeer is returned by SelectPeer when no registered peer
// satisfies the supplied predicate.
var ErrNoAvailablePeer = errors.New("no available peer")

// PeerSet is the registry of connected peers available for task execution.
// Registration and removal happen from connection handling goroutines
// concurrently with selection from executor goroutines.
type PeerSet struct {
	lock      sync.RWMutex
	peers     map[string]*Peer
	nextOrder uint64
}

// NewPeerSet creates an empty peer registry.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		peers: make(map[string]*Peer),
	}
}

// Register adds a peer to the set. Registering an already known peer id is a
// no-op, keeping the original peer and its selection order.
func (ps *PeerSet) Register(p *Peer) {
	ps.lock.Lock()
	defer ps.lock.Unlock()

	if _, ok := ps.peers[p.id]; ok {
		return
	}
	p.order = ps.nextOrder
	ps.nextOrder++
	ps.peers[p.id] = p

	log.Debug("Registered sync peer", "peer", p.id, "peers", len(ps.peers))
}

// Unregister removes the peer with the given id. Unknown ids are ignored.
func (ps *PeerSet) Unregister(id string) {
	ps.lock.Lock()
	defer ps.lock.Unlock()

	if _, ok := ps.peers[id]; !ok {
		return
	}
	delete(ps.peers, id)

	log.Debug("Unregistered sync peer", "peer", id, "peers", len(ps.peers))
}

// Peer retrieves the registered peer with the given id, or nil.
func (ps *PeerSet) Peer(id string) *Peer {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	return ps.peers[id]
}

// Len returns the number of registered peers.
func (ps *PeerSet) Len() int {
	ps.lock.RLock()
	defer ps.lock.RUnlock()
	return len(ps.peers)
}

// AllPeers returns a snapshot of the currently registered peers.
func (ps *PeerSet) AllPeers() []*Peer {
	ps.lock.RLock()
	defer ps.lock.RUnlock()

	peers := make([]*Peer, 0, len(ps.peers))
	for _, p := range ps.peers {
		peers = append(peers, p)
	}
	return peers
}

// SelectPeer returns the highest reputation peer satisfying the predicate.
// Ties are broken by registration order, oldest first, so repeated calls over
// an unchanged set are deterministic. ErrNoAvailablePeer is returned when the
// filtered set is empty.
func (ps *PeerSet) SelectPeer(predicate func(*Peer) bool) (*Peer, error) {
	// Selection works on a snapshot so the predicate and reputation reads
	// never run with the set lock held.
	peers := ps.AllPeers()

	var best *Peer
	var bestScore int
	for _, p := range peers {
		if !predicate(p) {
			continue
		}
		score := p.Reputation()
		if best == nil || score > bestScore || (score == bestScore && p.order < best.order) {
			best, bestScore = p, score
		}
	}
	if best == nil {
		return nil, ErrNoAvailablePeer
	}
	return best, nil
}
