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

package peervalidation

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Matilda-Clerke/ethsync/peertask"
)

// NewRequiredBlocksValidator rejects peers whose chain does not contain the
// required block hash at the given height. The height buffer delays judgement
// until the peer claims to be comfortably past the block.
func NewRequiredBlocksValidator(executor *peertask.Executor, blockNumber uint64, blockHash common.Hash, heightBuffer uint64) PeerValidator {
	return newBlockValidator(executorRequestFn(executor), "required-blocks", blockNumber, heightBuffer,
		func(header *types.Header) bool {
			return header.Number.Uint64() == blockNumber && header.Hash() == blockHash
		})
}
