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
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/Matilda-Clerke/ethsync/ethpeer"
)

// GetBodiesTask requests the bodies for a batch of headers and assembles the
// matched pairs into full blocks. Headers with known-empty bodies should be
// short-circuited by the caller rather than requested.
type GetBodiesTask struct {
	headers   []*types.Header
	validator BodyValidator
	behaviors Behavior

	requiredHeight uint64
}

// NewGetBodiesTask builds a body query for the given headers. Bodies in the
// response are matched positionally and verified against the header's
// transactions root and uncle hash.
func NewGetBodiesTask(headers []*types.Header, validator BodyValidator) *GetBodiesTask {
	var required uint64
	for _, header := range headers {
		if number := header.Number.Uint64(); number > required {
			required = number
		}
	}
	return &GetBodiesTask{
		headers:        headers,
		validator:      validator,
		behaviors:      DefaultBehaviors,
		requiredHeight: required,
	}
}

// WithBehaviors overrides the retry flags, returning the task for chaining.
func (t *GetBodiesTask) WithBehaviors(b Behavior) *GetBodiesTask {
	t.behaviors = b
	return t
}

func (t *GetBodiesTask) TaskName() string    { return "GetBodiesTask" }
func (t *GetBodiesTask) SubProtocol() string { return SubProtocolETH }
func (t *GetBodiesTask) Behaviors() Behavior { return t.behaviors }

func (t *GetBodiesTask) RequestMessage() (Message, error) {
	hashes := make(GetBlockBodiesRequest, 0, len(t.headers))
	for _, header := range t.headers {
		hashes = append(hashes, header.Hash())
	}
	return encodeMessage(GetBlockBodiesMsg, hashes)
}

// ParseResponse matches returned bodies to the requested headers. Peers may
// truncate the response, but whatever arrives must correspond to a prefix of
// the request and verify against the header commitments.
func (t *GetBodiesTask) ParseResponse(payload []byte) ([]*types.Block, error) {
	var bodies BlockBodiesResponse
	if err := rlp.DecodeBytes(payload, &bodies); err != nil {
		return nil, invalidResponse("malformed block bodies response: %v", err)
	}
	if len(bodies) == 0 {
		return nil, invalidResponse("empty block bodies response")
	}
	if len(bodies) > len(t.headers) {
		return nil, invalidResponse("too many bodies: requested %d, got %d", len(t.headers), len(bodies))
	}
	blocks := make([]*types.Block, 0, len(bodies))
	for i, body := range bodies {
		header := t.headers[i]
		if root := t.validator.TransactionsRoot(body.Transactions); root != header.TxHash {
			return nil, invalidResponse("transactions root mismatch for block %d: want %x, got %x", header.Number.Uint64(), header.TxHash, root)
		}
		if hash := types.CalcUncleHash(body.Uncles); hash != header.UncleHash {
			return nil, invalidResponse("uncle hash mismatch for block %d: want %x, got %x", header.Number.Uint64(), header.UncleHash, hash)
		}
		blocks = append(blocks, types.NewBlockWithHeader(header).WithBody(body.Transactions, body.Uncles))
	}
	return blocks, nil
}

func (t *GetBodiesTask) PeerFilter() func(*ethpeer.Peer) bool {
	return func(p *ethpeer.Peer) bool {
		return p.ProtocolName() == SubProtocolETH
	}
}

func (t *GetBodiesTask) RequiredBlockNumber() uint64 { return t.requiredHeight }
