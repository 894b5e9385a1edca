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
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Matilda-Clerke/ethsync/peertask"
)

// DAOForkBlockExtra is the extra-data a mainnet block at the DAO fork height
// must carry to be on the pro-fork side of the split ("dao-hard-fork").
var DAOForkBlockExtra = common.FromHex("0x64616f2d686172642d666f726b")

// NewDaoForkValidator rejects peers on the wrong side of the DAO hard fork
// by inspecting the extra-data of their fork block.
func NewDaoForkValidator(executor *peertask.Executor, forkBlockNumber, heightBuffer uint64) PeerValidator {
	return newBlockValidator(executorRequestFn(executor), "dao-fork", forkBlockNumber, heightBuffer,
		func(header *types.Header) bool {
			return bytes.Equal(header.Extra, DAOForkBlockExtra)
		})
}
