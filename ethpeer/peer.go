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

// Package ethpeer tracks the remote peers available for sync work and their
// running reputation. Peers are owned by a PeerSet; reputation adjustments go
// through the single-writer record methods rather than being scattered across
// callers.
package ethpeer

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

const (
	initialScore = 100
	maxScore     = 150

	usefulResponseBonus    = 1
	uselessResponsePenalty = 5
	timeoutPenalty         = 3
)

// Peer represents a remote node participating in the block propagation
// network. The mutable fields are guarded by the peer's own lock; the
// registration order is assigned once by the owning PeerSet and read-only
// afterwards.
type Peer struct {
	id           string
	protocolName string
	version      uint

	order uint64 // insertion sequence, used as the deterministic selection tie-break

	lock            sync.RWMutex
	score           int
	estimatedHeight uint64
	headHash        common.Hash
	timeouts        map[uint64]int // request timeouts seen per message code

	logger log.Logger
}

// NewPeer wraps a freshly handshaked connection. The estimated height is the
// head block number the peer advertised during the handshake.
func NewPeer(id string, protocolName string, version uint, estimatedHeight uint64) *Peer {
	return &Peer{
		id:              id,
		protocolName:    protocolName,
		version:         version,
		score:           initialScore,
		estimatedHeight: estimatedHeight,
		timeouts:        make(map[uint64]int),
		logger:          log.New("peer", id),
	}
}

// ID returns the unique identifier of the peer.
func (p *Peer) ID() string { return p.id }

// ProtocolName returns the sub-protocol the peer was negotiated on.
func (p *Peer) ProtocolName() string { return p.protocolName }

// Version returns the negotiated protocol version.
func (p *Peer) Version() uint { return p.version }

// Reputation returns the peer's current usefulness score.
func (p *Peer) Reputation() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.score
}

// EstimatedHeight returns the best known estimate of the peer's chain height.
func (p *Peer) EstimatedHeight() uint64 {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.estimatedHeight
}

// Head returns the hash of the peer's advertised chain head.
func (p *Peer) Head() common.Hash {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.headHash
}

// SetHead updates the advertised chain head of the peer. The estimated height
// never moves backwards; stale announcements are ignored.
func (p *Peer) SetHead(hash common.Hash, height uint64) {
	p.lock.Lock()
	defer p.lock.Unlock()

	p.headHash = hash
	if height > p.estimatedHeight {
		p.estimatedHeight = height
	}
}

// RecordUsefulResponse bumps the peer's score after a successfully parsed
// response.
func (p *Peer) RecordUsefulResponse() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.score < maxScore {
		p.score += usefulResponseBonus
		if p.score > maxScore {
			p.score = maxScore
		}
	}
}

// RecordUselessResponse penalises the peer for a malformed or irrelevant
// response.
func (p *Peer) RecordUselessResponse(reason string) {
	p.lock.Lock()
	p.score -= uselessResponsePenalty
	if p.score < 0 {
		p.score = 0
	}
	score := p.score
	p.lock.Unlock()

	p.logger.Debug("Recorded useless response", "reason", reason, "score", score)
}

// RecordRequestTimeout penalises the peer for failing to answer a request in
// time, tracking the count per message code.
func (p *Peer) RecordRequestTimeout(code uint64) {
	p.lock.Lock()
	p.timeouts[code]++
	count := p.timeouts[code]
	p.score -= timeoutPenalty
	if p.score < 0 {
		p.score = 0
	}
	score := p.score
	p.lock.Unlock()

	p.logger.Debug("Recorded request timeout", "code", code, "count", count, "score", score)
}

// TimeoutCount returns the number of timeouts recorded for the given message
// code.
func (p *Peer) TimeoutCount(code uint64) int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.timeouts[code]
}

func (p *Peer) String() string {
	return fmt.Sprintf("Peer %s [%s/%d, rep %d, height %d]", p.id, p.protocolName, p.version, p.Reputation(), p.EstimatedHeight())
}
