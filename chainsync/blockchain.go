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

// Package chainsync turns the peer task executor into a block download
// pipeline: common ancestor discovery, header range fetching, body completion
// and receipt matching, feeding validated blocks into chain insertion.
package chainsync

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Blockchain is the read-only view of the local chain the sync core needs.
type Blockchain interface {
	// ChainHeadNumber returns the block number of the current chain head.
	ChainHeadNumber() uint64

	// HeaderByNumber returns the canonical header at the given height, or
	// nil if it is not known.
	HeaderByNumber(number uint64) *types.Header

	// HeaderByHash returns the header with the given hash, or nil.
	HeaderByHash(hash common.Hash) *types.Header

	// HasHeader reports whether the block with the given hash is known
	// locally.
	HasHeader(hash common.Hash) bool
}

// MutableBlockchain extends Blockchain with insertion, used by the downloader
// to import completed blocks together with their receipts.
type MutableBlockchain interface {
	Blockchain

	ImportBlock(block *types.Block, receipts []*types.Receipt) error
}
