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

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/Matilda-Clerke/ethsync/peertask"
)

// CompleteBlocksTask turns a list of headers into full blocks by fetching the
// missing bodies from peers. Headers committing to an empty body never hit
// the network: the block is assembled locally up front.
type CompleteBlocksTask struct {
	executor  *peertask.Executor
	validator peertask.BodyValidator

	headers    []*types.Header
	blocks     map[uint64]*types.Block
	maxRetries int

	logger log.Logger
}

// NewCompleteBlocksTask prepares body completion for the given headers.
func NewCompleteBlocksTask(executor *peertask.Executor, validator peertask.BodyValidator, headers []*types.Header, maxRetries int) *CompleteBlocksTask {
	blocks := make(map[uint64]*types.Block, len(headers))
	for _, header := range headers {
		if hasEmptyBody(header) {
			blocks[header.Number.Uint64()] = types.NewBlockWithHeader(header)
		}
	}
	return &CompleteBlocksTask{
		executor:   executor,
		validator:  validator,
		headers:    headers,
		blocks:     blocks,
		maxRetries: maxRetries,
		logger:     log.New("component", "chainsync"),
	}
}

func hasEmptyBody(header *types.Header) bool {
	return header.TxHash == types.EmptyTxsHash && header.UncleHash == types.EmptyUncleHash
}

// Run fetches bodies until every header has a matching block, returning the
// blocks in header order. Rounds that make progress do not consume the retry
// budget.
func (t *CompleteBlocksTask) Run() ([]*types.Block, error) {
	if len(t.headers) == 0 {
		return nil, errors.New("must supply a non-empty headers list")
	}
	retriesRemaining := t.maxRetries
	for {
		incomplete := t.incompleteHeaders()
		if len(incomplete) == 0 {
			break
		}
		task := peertask.NewGetBodiesTask(incomplete, t.validator)
		result := peertask.Execute(t.executor, task)

		progressed := false
		if result.Code == peertask.Success {
			for _, block := range result.Value {
				if _, ok := t.blocks[block.NumberU64()]; !ok {
					progressed = true
				}
				t.blocks[block.NumberU64()] = block
			}
		}
		if progressed {
			retriesRemaining = t.maxRetries
			continue
		}
		retriesRemaining--
		if retriesRemaining <= 0 {
			return nil, fmt.Errorf("not all blocks matched to bodies: %d of %d remaining (last response: %s)",
				len(incomplete), len(t.headers), result.Code)
		}
		t.logger.Debug("Block body round made no progress", "remaining", len(incomplete), "response", result.Code, "retriesLeft", retriesRemaining)
	}

	blocks := make([]*types.Block, 0, len(t.headers))
	for _, header := range t.headers {
		blocks = append(blocks, t.blocks[header.Number.Uint64()])
	}
	return blocks, nil
}

func (t *CompleteBlocksTask) incompleteHeaders() []*types.Header {
	var incomplete []*types.Header
	for _, header := range t.headers {
		if _, ok := t.blocks[header.Number.Uint64()]; !ok {
			incomplete = append(incomplete, header)
		}
	}
	return incomplete
}
