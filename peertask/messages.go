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

package peertask

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// SubProtocolETH is the sub-protocol all built-in tasks target.
const SubProtocolETH = "eth"

// Message codes of the eth sub-protocol exchanges used by the tasks.
const (
	GetBlockHeadersMsg = 0x03
	BlockHeadersMsg    = 0x04
	GetBlockBodiesMsg  = 0x05
	BlockBodiesMsg     = 0x06
	GetReceiptsMsg     = 0x0f
	ReceiptsMsg        = 0x10
)

// HashOrNumber is a combined field for specifying a block origin, either as a
// hash or as a number.
type HashOrNumber struct {
	Hash   common.Hash // Block hash from which to retrieve headers (excludes Number)
	Number uint64      // Block number from which to retrieve headers (excludes Hash)
}

// EncodeRLP is a specialized encoder for HashOrNumber to encode only one of
// the two contained union fields.
func (hn *HashOrNumber) EncodeRLP(w io.Writer) error {
	if hn.Hash == (common.Hash{}) {
		return rlp.Encode(w, hn.Number)
	}
	if hn.Number != 0 {
		return fmt.Errorf("both origin hash (%x) and number (%d) provided", hn.Hash, hn.Number)
	}
	return rlp.Encode(w, hn.Hash)
}

// DecodeRLP is a specialized decoder for HashOrNumber to decode the contents
// into either a block hash or a block number.
func (hn *HashOrNumber) DecodeRLP(s *rlp.Stream) error {
	_, size, err := s.Kind()
	switch {
	case err != nil:
		return err
	case size == 32:
		hn.Number = 0
		return s.Decode(&hn.Hash)
	default:
		hn.Hash = common.Hash{}
		return s.Decode(&hn.Number)
	}
}

// GetBlockHeadersRequest is the eth protocol header query.
type GetBlockHeadersRequest struct {
	Origin  HashOrNumber // Block from which to retrieve headers
	Amount  uint64       // Maximum number of headers to retrieve
	Skip    uint64       // Blocks to skip between consecutive headers
	Reverse bool         // Query direction (false = rising towards latest, true = falling towards genesis)
}

// BlockHeadersResponse is the answer to a header query.
type BlockHeadersResponse []*types.Header

// GetBlockBodiesRequest is the eth protocol body query, a list of block
// hashes to retrieve the bodies of.
type GetBlockBodiesRequest []common.Hash

// BlockBody is one block's transaction and uncle data.
type BlockBody struct {
	Transactions []*types.Transaction
	Uncles       []*types.Header
}

// BlockBodiesResponse is the answer to a body query.
type BlockBodiesResponse []*BlockBody

// GetReceiptsRequest is the eth protocol receipts query, a list of block
// hashes to retrieve the receipt lists of.
type GetReceiptsRequest []common.Hash

// ReceiptsResponse is the answer to a receipts query, one receipt list per
// served block.
type ReceiptsResponse [][]*types.Receipt

func encodeMessage(code uint64, data interface{}) (Message, error) {
	payload, err := rlp.EncodeToBytes(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Code: code, Payload: payload}, nil
}
