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

package chainsync

import (
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/Matilda-Clerke/ethsync/ethpeer"
	"github.com/Matilda-Clerke/ethsync/peertask"
)

const genesisBlockNumber = 0

// ErrNoCommonAncestor means the search interval collapsed below the genesis
// block: the peer's chain does not connect to ours. The peer should be
// dropped or deprioritised by the caller.
var ErrNoCommonAncestor = errors.New("no common ancestor")

// CommonAncestorTask finds the highest block number at which the local chain
// and a peer's chain agree. It is assumed the peer at least shares our
// genesis block; running it against a peer with a different genesis either
// fails with ErrNoCommonAncestor or, in degenerate cases, returns our genesis
// header.
//
// The search keeps a closed interval [min, max] bracketing the true ancestor
// and shrinks it with rounds of geometrically spaced backward header probes,
// so arbitrarily large ranges converge in a logarithmic number of rounds.
type CommonAncestorTask struct {
	chain    Blockchain
	executor *peertask.Executor
	peer     *ethpeer.Peer

	headerRequestSize int

	minimumPossibleCommonAncestorNumber int64
	maximumPossibleCommonAncestorNumber int64
	commonAncestorCandidate             *types.Header
	initialQuery                        bool

	logger log.Logger
}

// NewCommonAncestorTask prepares the search against the given peer. The
// initial interval runs from genesis to the lower of the local head and the
// peer's claimed height; the candidate starts as our genesis header.
func NewCommonAncestorTask(chain Blockchain, executor *peertask.Executor, peer *ethpeer.Peer, headerRequestSize int) *CommonAncestorTask {
	maximum := chain.ChainHeadNumber()
	if estimated := peer.EstimatedHeight(); estimated < maximum {
		maximum = estimated
	}
	return &CommonAncestorTask{
		chain:                               chain,
		executor:                            executor,
		peer:                                peer,
		headerRequestSize:                   headerRequestSize,
		minimumPossibleCommonAncestorNumber: genesisBlockNumber,
		maximumPossibleCommonAncestorNumber: int64(maximum),
		commonAncestorCandidate:             chain.HeaderByNumber(genesisBlockNumber),
		initialQuery:                        true,
		logger:                              log.New("component", "chainsync"),
	}
}

// Run drives the search to completion, returning the common ancestor header.
func (t *CommonAncestorTask) Run() (*types.Header, error) {
	for {
		if t.maximumPossibleCommonAncestorNumber == t.minimumPossibleCommonAncestorNumber {
			t.logger.Debug("Found common ancestor", "peer", t.peer.ID(), "number", t.commonAncestorCandidate.Number)
			return t.commonAncestorCandidate, nil
		}
		if t.maximumPossibleCommonAncestorNumber < genesisBlockNumber {
			return nil, ErrNoCommonAncestor
		}
		if err := t.processHeaders(t.requestHeaders()); err != nil {
			return nil, err
		}
	}
}

// requestHeaders issues one backward probe ending at the current maximum. The
// first round asks for headerRequestSize consecutive headers; later rounds
// space the probes so one batch spans the whole remaining interval.
func (t *CommonAncestorTask) requestHeaders() peertask.Result[[]*types.Header] {
	rangeSize := t.maximumPossibleCommonAncestorNumber - t.minimumPossibleCommonAncestorNumber

	skipInterval, count := 0, t.headerRequestSize
	if !t.initialQuery {
		skipInterval = calculateSkipInterval(rangeSize, t.headerRequestSize)
		count = calculateCount(float64(rangeSize), skipInterval)
	}
	t.logger.Debug("Searching for common ancestor", "peer", t.peer.ID(),
		"min", t.minimumPossibleCommonAncestorNumber, "max", t.maximumPossibleCommonAncestorNumber,
		"count", count, "skip", skipInterval)

	task := peertask.NewGetHeadersByNumberTask(uint64(t.maximumPossibleCommonAncestorNumber), count, skipInterval, true)
	return peertask.ExecuteAgainstPeer(t.executor, task, t.peer)
}

// calculateSkipInterval spaces the probes of one round across the remaining
// range. For a range of 100 blocks and a request size of 11 the interval
// works out to 9, probing the numbers 0, 10, 20, ... 100. The exact
// adjustments here are load-bearing; the worked example is pinned by tests.
func calculateSkipInterval(rangeSize int64, headerRequestSize int) int {
	skip := rangeSize/int64(headerRequestSize-1) - 1
	if skip < 0 {
		return 0
	}
	return int(skip)
}

func calculateCount(rangeSize float64, skipInterval int) int {
	return int(math.Ceil(rangeSize/float64(skipInterval+1))) + 1
}

// processHeaders narrows the interval from one probe's results. A batch with
// no locally known header lies entirely above the ancestor; otherwise the
// highest known header becomes the new candidate and lower bound. Transient
// failures leave the interval untouched so the round is simply re-issued;
// a disconnect is fatal.
func (t *CommonAncestorTask) processHeaders(result peertask.Result[[]*types.Header]) error {
	t.initialQuery = false

	if result.Code == peertask.PeerDisconnected {
		return fmt.Errorf("common ancestor search: %w", peertask.ErrPeerDisconnected)
	}
	if result.Code != peertask.Success || len(result.Value) == 0 {
		return nil
	}
	headers := result.Value

	index, found := highestKnownHeaderIndex(t.chain, headers)
	if !found {
		// The whole batch is above the insertion point; it must be in the
		// next request.
		t.maximumPossibleCommonAncestorNumber = int64(headers[len(headers)-1].Number.Uint64()) - 1
		return nil
	}
	t.commonAncestorCandidate = headers[index]

	if index > 0 {
		t.maximumPossibleCommonAncestorNumber = int64(headers[index-1].Number.Uint64()) - 1
	}
	t.minimumPossibleCommonAncestorNumber = int64(headers[index].Number.Uint64())
	return nil
}

// highestKnownHeaderIndex scans a newest-first header batch for the first one
// already known locally.
func highestKnownHeaderIndex(chain Blockchain, headers []*types.Header) (int, bool) {
	for i, header := range headers {
		if chain.HasHeader(header.Hash()) {
			return i, true
		}
	}
	return 0, false
}
