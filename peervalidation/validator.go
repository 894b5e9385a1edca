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

// Package peervalidation gates newly connected peers on chain facts before
// they are trusted for sync: possession of a required block, or being on the
// right side of a contentious hard fork.
package peervalidation

import (
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru"

	"github.com/Matilda-Clerke/ethsync/ethpeer"
	"github.com/Matilda-Clerke/ethsync/peertask"
)

// resultCacheSize bounds the per-validator memo of peer outcomes.
const resultCacheSize = 1024

// PeerValidator checks whether a peer can be trusted for sync work.
type PeerValidator interface {
	// ValidatePeer reports whether the peer passes this validator. Peers
	// that cannot be checked yet get the benefit of the doubt.
	ValidatePeer(peer *ethpeer.Peer) bool
}

// headersRequestFn runs a header task against one specific peer. It is the
// only executor surface the validators need, which keeps them trivially
// stubbable in tests.
type headersRequestFn func(task *peertask.GetHeadersTask, peer *ethpeer.Peer) peertask.Result[[]*types.Header]

func executorRequestFn(executor *peertask.Executor) headersRequestFn {
	return func(task *peertask.GetHeadersTask, peer *ethpeer.Peer) peertask.Result[[]*types.Header] {
		return peertask.ExecuteAgainstPeer(executor, task, peer)
	}
}

// blockValidator issues one bounded header-by-number request against the
// peer and judges the returned header with a policy specific check. Outcomes
// derived from an actual header are memoized per peer.
type blockValidator struct {
	request headersRequestFn

	blockNumber  uint64
	heightBuffer uint64
	check        func(header *types.Header) bool

	results *lru.Cache
	logger  log.Logger
}

func newBlockValidator(request headersRequestFn, name string, blockNumber, heightBuffer uint64, check func(*types.Header) bool) *blockValidator {
	results, _ := lru.New(resultCacheSize)
	return &blockValidator{
		request:      request,
		blockNumber:  blockNumber,
		heightBuffer: heightBuffer,
		check:        check,
		results:      results,
		logger:       log.New("component", "peervalidation", "validator", name),
	}
}

func (v *blockValidator) ValidatePeer(peer *ethpeer.Peer) bool {
	if cached, ok := v.results.Get(peer.ID()); ok {
		return cached.(bool)
	}
	if peer.EstimatedHeight() < v.blockNumber+v.heightBuffer {
		// The peer has not yet advertised the relevant height; give it the
		// benefit of the doubt until it does.
		return true
	}
	task := peertask.NewGetHeadersByNumberTask(v.blockNumber, 1, 0, false).
		WithBehaviors(peertask.RetryWithSamePeer)
	result := v.request(task, peer)

	switch {
	case result.Code != peertask.Success:
		v.logger.Debug("Peer validation request failed", "peer", peer.ID(), "response", result.Code)
		return false

	case len(result.Value) == 0:
		// Claims the height but served nothing; leave it unjudged so a
		// later attempt can settle the question.
		v.logger.Debug("Peer returned no header for validation block", "peer", peer.ID(), "block", v.blockNumber)
		return true

	default:
		valid := v.check(result.Value[0])
		v.results.Add(peer.ID(), valid)
		if !valid {
			v.logger.Debug("Peer failed block validation", "peer", peer.ID(), "block", v.blockNumber)
		}
		return valid
	}
}
