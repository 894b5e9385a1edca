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
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/Matilda-Clerke/ethsync/ethpeer"
	"github.com/Matilda-Clerke/ethsync/peertask"
)

var (
	headerDownloadMeter  = metrics.NewRegisteredMeter("chainsync/download/headers", nil)
	blockImportMeter     = metrics.NewRegisteredMeter("chainsync/import/blocks", nil)
	segmentDownloadTimer = metrics.NewRegisteredTimer("chainsync/download/segment", nil)
)

// ChainDownloader drives a full sync session against one chosen peer: find
// the common ancestor, then walk the range up to the pivot in fixed size
// segments, completing bodies and receipts for each segment before importing
// it.
type ChainDownloader struct {
	chain    MutableBlockchain
	executor *peertask.Executor
	peers    peertask.PeerSelector

	pivot  uint64
	config Config

	validator peertask.BodyValidator
	logger    log.Logger
}

// NewChainDownloader prepares a sync session targeting the given pivot block.
func NewChainDownloader(chain MutableBlockchain, executor *peertask.Executor, peers peertask.PeerSelector, pivot uint64, config Config) *ChainDownloader {
	return &ChainDownloader{
		chain:     chain,
		executor:  executor,
		peers:     peers,
		pivot:     pivot,
		config:    config.withDefaults(),
		validator: peertask.NewBodyValidator(),
		logger:    log.New("component", "chainsync"),
	}
}

// Start launches the download, returning a channel that yields the final
// outcome: nil once the local head reaches the pivot, or the error that
// stopped the sync.
func (d *ChainDownloader) Start() <-chan error {
	errc := make(chan error, 1)
	go func() {
		errc <- d.run()
	}()
	return errc
}

func (d *ChainDownloader) run() error {
	peer, err := d.peers.SelectPeer(func(p *ethpeer.Peer) bool {
		return p.ProtocolName() == peertask.SubProtocolETH && p.EstimatedHeight() >= d.pivot
	})
	if err != nil {
		return fmt.Errorf("selecting sync peer for pivot %d: %w", d.pivot, err)
	}
	d.logger.Info("Starting chain download", "peer", peer.ID(), "pivot", d.pivot)

	ancestor, err := NewCommonAncestorTask(d.chain, d.executor, peer, d.config.HeadersRequestSize).Run()
	if err != nil {
		return fmt.Errorf("determining common ancestor with %s: %w", peer.ID(), err)
	}
	d.logger.Debug("Common ancestor located", "peer", peer.ID(), "number", ancestor.Number)

	receiptsStep := NewDownloadReceiptsStep(d.executor, d.validator, d.config.MaxRetries)

	for from := ancestor.Number.Uint64() + 1; from <= d.pivot; {
		segmentEnd := from + uint64(d.config.ChainSegmentSize) - 1
		if segmentEnd > d.pivot {
			segmentEnd = d.pivot
		}
		start := time.Now()

		headers, err := d.downloadHeaders(from, segmentEnd)
		if err != nil {
			return err
		}
		blocks, err := NewCompleteBlocksTask(d.executor, d.validator, headers, d.config.MaxRetries).Run()
		if err != nil {
			return err
		}
		withReceipts, err := receiptsStep.Download(blocks)
		if err != nil {
			return err
		}
		for _, bwr := range withReceipts {
			if err := d.chain.ImportBlock(bwr.Block, bwr.Receipts); err != nil {
				return fmt.Errorf("importing block %d: %w", bwr.Block.NumberU64(), err)
			}
		}
		blockImportMeter.Mark(int64(len(withReceipts)))
		segmentDownloadTimer.UpdateSince(start)

		d.logger.Debug("Imported chain segment", "from", from, "to", segmentEnd, "elapsed", time.Since(start))
		from = segmentEnd + 1
	}
	d.logger.Info("Chain download complete", "head", d.chain.ChainHeadNumber(), "pivot", d.pivot)
	return nil
}

// downloadHeaders fetches the canonical headers in [from, to], validating
// that they are contiguous and connect to the locally known parent of from.
func (d *ChainDownloader) downloadHeaders(from, to uint64) ([]*types.Header, error) {
	parent := d.chain.HeaderByNumber(from - 1)
	if parent == nil {
		return nil, fmt.Errorf("missing local parent header for block %d", from)
	}
	parentHash := parent.Hash()

	headers := make([]*types.Header, 0, to-from+1)
	retriesRemaining := d.config.MaxRetries

	for next := from; next <= to; {
		count := int(to - next + 1)
		if count > d.config.HeadersRequestSize {
			count = d.config.HeadersRequestSize
		}
		task := peertask.NewGetHeadersByNumberTask(next, count, 0, false)
		result := peertask.Execute(d.executor, task)
		if result.Code != peertask.Success || len(result.Value) == 0 {
			retriesRemaining--
			if retriesRemaining <= 0 {
				return nil, fmt.Errorf("header download stalled at block %d (last response: %s)", next, result.Code)
			}
			continue
		}
		for _, header := range result.Value {
			if header.Number.Uint64() != next {
				return nil, fmt.Errorf("header download out of order: wanted %d, got %d", next, header.Number.Uint64())
			}
			if header.ParentHash != parentHash {
				return nil, fmt.Errorf("header %d does not connect to downloaded chain", header.Number.Uint64())
			}
			headers = append(headers, header)
			parentHash = header.Hash()
			next++
		}
		headerDownloadMeter.Mark(int64(len(result.Value)))
		retriesRemaining = d.config.MaxRetries
	}
	return headers, nil
}
