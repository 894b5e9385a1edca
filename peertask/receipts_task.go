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

// GetReceiptsTask requests the receipt lists for a batch of headers. Distinct
// blocks can share a receipts root (the empty root being the common case), so
// only one representative hash per unique root goes on the wire and the
// response is fanned back out to every header sharing that root.
type GetReceiptsTask struct {
	headers   []*types.Header
	validator BodyValidator
	behaviors Behavior

	headersByReceiptsRoot map[common.Hash][]*types.Header
	requestOrder          []common.Hash // unique receipt roots in first-seen order
	requiredHeight        uint64
}

// NewGetReceiptsTask builds a receipts query for the given headers.
func NewGetReceiptsTask(headers []*types.Header, validator BodyValidator) *GetReceiptsTask {
	t := &GetReceiptsTask{
		headers:               headers,
		validator:             validator,
		behaviors:             DefaultBehaviors,
		headersByReceiptsRoot: make(map[common.Hash][]*types.Header),
	}
	for _, header := range headers {
		root := header.ReceiptHash
		if _, ok := t.headersByReceiptsRoot[root]; !ok {
			t.requestOrder = append(t.requestOrder, root)
		}
		t.headersByReceiptsRoot[root] = append(t.headersByReceiptsRoot[root], header)

		if number := header.Number.Uint64(); number > t.requiredHeight {
			t.requiredHeight = number
		}
	}
	return t
}

// WithBehaviors overrides the retry flags, returning the task for chaining.
func (t *GetReceiptsTask) WithBehaviors(b Behavior) *GetReceiptsTask {
	t.behaviors = b
	return t
}

func (t *GetReceiptsTask) TaskName() string    { return "GetReceiptsTask" }
func (t *GetReceiptsTask) SubProtocol() string { return SubProtocolETH }
func (t *GetReceiptsTask) Behaviors() Behavior { return t.behaviors }

// RequestMessage requests receipts for one representative block per unique
// receipts root, since the data is matched back up by root.
func (t *GetReceiptsTask) RequestMessage() (Message, error) {
	hashes := make(GetReceiptsRequest, 0, len(t.requestOrder))
	for _, root := range t.requestOrder {
		hashes = append(hashes, t.headersByReceiptsRoot[root][0].Hash())
	}
	return encodeMessage(GetReceiptsMsg, hashes)
}

// ParseResponse maps each returned receipt list to every requested header
// whose receipts root commits to it, keyed by header hash. Receipt lists that
// match none of the requested roots mean the response is not for this request.
func (t *GetReceiptsTask) ParseResponse(payload []byte) (map[common.Hash][]*types.Receipt, error) {
	var receiptsByBlock ReceiptsResponse
	if err := rlp.DecodeBytes(payload, &receiptsByBlock); err != nil {
		return nil, invalidResponse("malformed receipts response: %v", err)
	}
	if len(receiptsByBlock) == 0 {
		return nil, invalidResponse("empty receipts response")
	}
	if len(receiptsByBlock) > len(t.headers) {
		return nil, invalidResponse("too many receipt lists: requested %d, got %d", len(t.headers), len(receiptsByBlock))
	}
	receiptsByHeader := make(map[common.Hash][]*types.Receipt)
	for _, receipts := range receiptsByBlock {
		root := t.validator.ReceiptsRoot(receipts)
		headers, ok := t.headersByReceiptsRoot[root]
		if !ok {
			return nil, invalidResponse("receipts with unrequested root %x", root)
		}
		for _, header := range headers {
			receiptsByHeader[header.Hash()] = receipts
		}
	}
	return receiptsByHeader, nil
}

func (t *GetReceiptsTask) PeerFilter() func(*ethpeer.Peer) bool {
	return func(p *ethpeer.Peer) bool {
		return p.ProtocolName() == SubProtocolETH
	}
}

func (t *GetReceiptsTask) RequiredBlockNumber() uint64 { return t.requiredHeight }
