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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"

	"github.com/Matilda-Clerke/ethsync/peertask"
)

// ErrConflictingReceipts is the internal consistency violation raised when a
// header would be matched to two different receipt sets. It indicates
// executor misuse, never a recoverable network condition.
var ErrConflictingReceipts = errors.New("conflicting receipts for block header")

// BlockWithReceipts pairs a completed block with its transaction receipts,
// ready for chain insertion.
type BlockWithReceipts struct {
	Block    *types.Block
	Receipts []*types.Receipt
}

// DownloadReceiptsStep matches every block in a batch with its receipt list.
// Blocks with a known-empty receipts root are satisfied without a network
// request.
type DownloadReceiptsStep struct {
	executor   *peertask.Executor
	validator  peertask.BodyValidator
	maxRetries int

	logger log.Logger
}

// NewDownloadReceiptsStep wires the receipts stage of the pipeline.
func NewDownloadReceiptsStep(executor *peertask.Executor, validator peertask.BodyValidator, maxRetries int) *DownloadReceiptsStep {
	return &DownloadReceiptsStep{
		executor:   executor,
		validator:  validator,
		maxRetries: maxRetries,
		logger:     log.New("component", "chainsync"),
	}
}

// Download keeps issuing receipts requests until every block is matched,
// removing satisfied headers from the work set each round. Rounds that make
// progress do not consume the retry budget.
func (s *DownloadReceiptsStep) Download(blocks []*types.Block) ([]*BlockWithReceipts, error) {
	receiptsByHeader := make(map[common.Hash][]*types.Receipt, len(blocks))
	matched := make(map[common.Hash]bool, len(blocks))

	remaining := make([]*types.Header, 0, len(blocks))
	for _, block := range blocks {
		header := block.Header()
		if header.ReceiptHash == types.EmptyReceiptsHash {
			matched[block.Hash()] = true
			continue
		}
		remaining = append(remaining, header)
	}

	retriesRemaining := s.maxRetries
	for len(remaining) > 0 {
		task := peertask.NewGetReceiptsTask(remaining, s.validator)
		result := peertask.Execute(s.executor, task)

		progressed := false
		if result.Code == peertask.Success {
			for hash, receipts := range result.Value {
				inserted, err := s.merge(receiptsByHeader, matched, hash, receipts)
				if err != nil {
					return nil, err
				}
				progressed = progressed || inserted
			}
			remaining = unmatchedHeaders(remaining, matched)
		}
		if progressed {
			retriesRemaining = s.maxRetries
			continue
		}
		retriesRemaining--
		if retriesRemaining <= 0 {
			return nil, fmt.Errorf("not all blocks matched to receipts: %d of %d remaining (last response: %s)",
				len(remaining), len(blocks), result.Code)
		}
		s.logger.Debug("Receipts round made no progress", "remaining", len(remaining), "response", result.Code, "retriesLeft", retriesRemaining)
	}

	out := make([]*BlockWithReceipts, 0, len(blocks))
	for _, block := range blocks {
		if !matched[block.Hash()] {
			return nil, fmt.Errorf("block %d not matched to receipts after completed download", block.NumberU64())
		}
		out = append(out, &BlockWithReceipts{Block: block, Receipts: receiptsByHeader[block.Hash()]})
	}
	return out, nil
}

// merge records a receipt set for a header. Re-delivery of an identical set
// is an idempotent no-op; a different set for an already populated header is
// the fatal ErrConflictingReceipts. Reports whether a new entry was inserted.
func (s *DownloadReceiptsStep) merge(accumulated map[common.Hash][]*types.Receipt, matched map[common.Hash]bool, hash common.Hash, receipts []*types.Receipt) (bool, error) {
	if matched[hash] {
		if s.validator.ReceiptsRoot(accumulated[hash]) != s.validator.ReceiptsRoot(receipts) {
			return false, fmt.Errorf("%w: block %x", ErrConflictingReceipts, hash)
		}
		return false, nil
	}
	accumulated[hash] = receipts
	matched[hash] = true
	return true, nil
}

func unmatchedHeaders(headers []*types.Header, matched map[common.Hash]bool) []*types.Header {
	var rest []*types.Header
	for _, header := range headers {
		if !matched[header.Hash()] {
			rest = append(rest, header)
		}
	}
	return rest
}
