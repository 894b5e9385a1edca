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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/Matilda-Clerke/ethsync/ethpeer"
)

// GetHeadersTask requests a batch of consecutive (or skip-spaced) headers
// anchored at a block number or hash.
type GetHeadersTask struct {
	startHash   common.Hash
	startNumber uint64
	byHash      bool
	amount      int
	skip        int
	reverse     bool
	behaviors   Behavior
}

// NewGetHeadersByNumberTask anchors the header query at a block number.
func NewGetHeadersByNumberTask(number uint64, amount, skip int, reverse bool) *GetHeadersTask {
	return &GetHeadersTask{
		startNumber: number,
		amount:      amount,
		skip:        skip,
		reverse:     reverse,
		behaviors:   DefaultBehaviors,
	}
}

// NewGetHeadersByHashTask anchors the header query at a block hash. The
// number is the height the hash is expected at and is only used for peer
// eligibility.
func NewGetHeadersByHashTask(hash common.Hash, number uint64, amount, skip int, reverse bool) *GetHeadersTask {
	return &GetHeadersTask{
		startHash:   hash,
		startNumber: number,
		byHash:      true,
		amount:      amount,
		skip:        skip,
		reverse:     reverse,
		behaviors:   DefaultBehaviors,
	}
}

// WithBehaviors overrides the retry flags, returning the task for chaining.
func (t *GetHeadersTask) WithBehaviors(b Behavior) *GetHeadersTask {
	t.behaviors = b
	return t
}

func (t *GetHeadersTask) TaskName() string    { return "GetHeadersTask" }
func (t *GetHeadersTask) SubProtocol() string { return SubProtocolETH }
func (t *GetHeadersTask) Behaviors() Behavior { return t.behaviors }

func (t *GetHeadersTask) RequestMessage() (Message, error) {
	origin := HashOrNumber{Number: t.startNumber}
	if t.byHash {
		origin = HashOrNumber{Hash: t.startHash}
	}
	return encodeMessage(GetBlockHeadersMsg, &GetBlockHeadersRequest{
		Origin:  origin,
		Amount:  uint64(t.amount),
		Skip:    uint64(t.skip),
		Reverse: t.reverse,
	})
}

// ParseResponse decodes the header batch and sanity checks it against the
// request: no more headers than asked for, and for contiguous requests the
// headers must actually chain together in the requested direction. An empty
// batch is a valid answer, meaning the peer had none of the blocks.
func (t *GetHeadersTask) ParseResponse(payload []byte) ([]*types.Header, error) {
	var headers BlockHeadersResponse
	if err := rlp.DecodeBytes(payload, &headers); err != nil {
		return nil, invalidResponse("malformed block headers response: %v", err)
	}
	if len(headers) > t.amount {
		return nil, invalidResponse("too many headers: requested %d, got %d", t.amount, len(headers))
	}
	if t.skip == 0 {
		for i := 0; i+1 < len(headers); i++ {
			previous, next := headers[i], headers[i+1]
			if t.reverse {
				previous, next = next, previous
			}
			if next.ParentHash != previous.Hash() {
				return nil, invalidResponse("non sequential headers at index %d", i)
			}
		}
	}
	return headers, nil
}

func (t *GetHeadersTask) PeerFilter() func(*ethpeer.Peer) bool {
	return func(p *ethpeer.Peer) bool {
		return p.ProtocolName() == SubProtocolETH
	}
}

// RequiredBlockNumber is the highest block number the query can touch.
func (t *GetHeadersTask) RequiredBlockNumber() uint64 {
	if t.reverse || t.amount <= 1 {
		return t.startNumber
	}
	return t.startNumber + uint64((t.amount-1)*(t.skip+1))
}
