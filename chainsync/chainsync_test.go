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
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/Matilda-Clerke/ethsync/ethpeer"
	"github.com/Matilda-Clerke/ethsync/peertask"
)

// testChain is a synthetic canonical chain serving as either side of a sync:
// headers indexed by number, with bodies and receipts for the non-empty
// blocks.
type testChain struct {
	headers  []*types.Header
	txs      map[common.Hash][]*types.Transaction
	receipts map[common.Hash][]*types.Receipt
}

// makeChain builds a linked chain of height+1 blocks (genesis included). The
// seed lands in the extra-data of every header so chains with different seeds
// share no blocks at all. Every third block past genesis carries one
// transaction and one receipt; the rest are empty.
func makeChain(height uint64, seed byte) *testChain {
	return extendChain(&testChain{
		txs:      make(map[common.Hash][]*types.Transaction),
		receipts: make(map[common.Hash][]*types.Receipt),
	}, height, seed)
}

// forkChain shares the parent chain up to and including block at, then
// diverges with differently seeded blocks up to height.
func forkChain(parent *testChain, at, height uint64, seed byte) *testChain {
	fork := &testChain{
		headers:  append([]*types.Header{}, parent.headers[:at+1]...),
		txs:      make(map[common.Hash][]*types.Transaction),
		receipts: make(map[common.Hash][]*types.Receipt),
	}
	for _, header := range fork.headers {
		hash := header.Hash()
		fork.txs[hash] = parent.txs[hash]
		fork.receipts[hash] = parent.receipts[hash]
	}
	return extendChain(fork, height, seed)
}

func extendChain(chain *testChain, height uint64, seed byte) *testChain {
	validator := peertask.NewBodyValidator()
	parent := common.Hash{}
	if len(chain.headers) > 0 {
		parent = chain.headers[len(chain.headers)-1].Hash()
	}
	for number := uint64(len(chain.headers)); number <= height; number++ {
		header := &types.Header{
			Number:      new(big.Int).SetUint64(number),
			ParentHash:  parent,
			Difficulty:  big.NewInt(1),
			Extra:       []byte{seed},
			TxHash:      types.EmptyTxsHash,
			UncleHash:   types.EmptyUncleHash,
			ReceiptHash: types.EmptyReceiptsHash,
		}
		var (
			txs      []*types.Transaction
			receipts []*types.Receipt
		)
		if number > 0 && number%3 == 0 {
			txs = []*types.Transaction{types.NewTx(&types.LegacyTx{
				Nonce:    number,
				To:       &common.Address{},
				Value:    big.NewInt(1),
				Gas:      21000,
				GasPrice: big.NewInt(1),
				V:        big.NewInt(27),
				R:        big.NewInt(1),
				S:        big.NewInt(1),
			})}
			receipts = []*types.Receipt{{
				Status:            types.ReceiptStatusSuccessful,
				CumulativeGasUsed: 21000,
			}}
			header.TxHash = validator.TransactionsRoot(txs)
			header.ReceiptHash = validator.ReceiptsRoot(receipts)
		}
		chain.headers = append(chain.headers, header)
		hash := header.Hash()
		chain.txs[hash] = txs
		chain.receipts[hash] = receipts
		parent = hash
	}
	return chain
}

func (c *testChain) height() uint64 { return uint64(len(c.headers)) - 1 }

func (c *testChain) headerByHash(hash common.Hash) *types.Header {
	for _, header := range c.headers {
		if header.Hash() == hash {
			return header
		}
	}
	return nil
}

// testBlockchain is an in-memory MutableBlockchain seeded from a prefix of a
// testChain.
type testBlockchain struct {
	mu       sync.Mutex
	byNumber map[uint64]*types.Header
	byHash   map[common.Hash]*types.Header
	head     uint64

	imported []*BlockWithReceipts
}

func newTestBlockchain(chain *testChain, upTo uint64) *testBlockchain {
	bc := &testBlockchain{
		byNumber: make(map[uint64]*types.Header),
		byHash:   make(map[common.Hash]*types.Header),
	}
	for number := uint64(0); number <= upTo; number++ {
		header := chain.headers[number]
		bc.byNumber[number] = header
		bc.byHash[header.Hash()] = header
	}
	bc.head = upTo
	return bc
}

func (bc *testBlockchain) ChainHeadNumber() uint64 {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.head
}

func (bc *testBlockchain) HeaderByNumber(number uint64) *types.Header {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.byNumber[number]
}

func (bc *testBlockchain) HeaderByHash(hash common.Hash) *types.Header {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.byHash[hash]
}

func (bc *testBlockchain) HasHeader(hash common.Hash) bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	_, ok := bc.byHash[hash]
	return ok
}

func (bc *testBlockchain) ImportBlock(block *types.Block, receipts []*types.Receipt) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	header := block.Header()
	bc.byNumber[header.Number.Uint64()] = header
	bc.byHash[block.Hash()] = header
	if number := header.Number.Uint64(); number > bc.head {
		bc.head = number
	}
	bc.imported = append(bc.imported, &BlockWithReceipts{Block: block, Receipts: receipts})
	return nil
}

func (bc *testBlockchain) importedBlocks() []*BlockWithReceipts {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return append([]*BlockWithReceipts{}, bc.imported...)
}

// testSender answers eth protocol requests from a testChain, decoding the
// request payloads the way a remote node would. Scripted errors, if any, are
// returned before serving resumes.
type testSender struct {
	mu       sync.Mutex
	chain    *testChain
	failures []error
	requests int
}

func newTestSender(chain *testChain) *testSender {
	return &testSender{chain: chain}
}

func (s *testSender) failNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

func (s *testSender) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *testSender) SendRequest(subProtocol string, request peertask.Message, peer *ethpeer.Peer) ([]byte, error) {
	s.mu.Lock()
	s.requests++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	switch request.Code {
	case peertask.GetBlockHeadersMsg:
		return s.serveHeaders(request.Payload)
	case peertask.GetBlockBodiesMsg:
		return s.serveBodies(request.Payload)
	case peertask.GetReceiptsMsg:
		return s.serveReceipts(request.Payload)
	default:
		return nil, peertask.ErrRequestTimeout
	}
}

func (s *testSender) serveHeaders(payload []byte) ([]byte, error) {
	var query peertask.GetBlockHeadersRequest
	if err := rlp.DecodeBytes(payload, &query); err != nil {
		return nil, err
	}
	origin := query.Origin.Number
	if query.Origin.Hash != (common.Hash{}) {
		header := s.chain.headerByHash(query.Origin.Hash)
		if header == nil {
			return rlp.EncodeToBytes(peertask.BlockHeadersResponse{})
		}
		origin = header.Number.Uint64()
	}

	var headers peertask.BlockHeadersResponse
	step := int64(query.Skip) + 1
	number := int64(origin)
	for len(headers) < int(query.Amount) {
		if number < 0 || number > int64(s.chain.height()) {
			break
		}
		headers = append(headers, s.chain.headers[number])
		if query.Reverse {
			number -= step
		} else {
			number += step
		}
	}
	return rlp.EncodeToBytes(headers)
}

func (s *testSender) serveBodies(payload []byte) ([]byte, error) {
	var hashes peertask.GetBlockBodiesRequest
	if err := rlp.DecodeBytes(payload, &hashes); err != nil {
		return nil, err
	}
	var bodies peertask.BlockBodiesResponse
	for _, hash := range hashes {
		if s.chain.headerByHash(hash) == nil {
			break
		}
		bodies = append(bodies, &peertask.BlockBody{Transactions: s.chain.txs[hash]})
	}
	return rlp.EncodeToBytes(bodies)
}

func (s *testSender) serveReceipts(payload []byte) ([]byte, error) {
	var hashes peertask.GetReceiptsRequest
	if err := rlp.DecodeBytes(payload, &hashes); err != nil {
		return nil, err
	}
	var receipts peertask.ReceiptsResponse
	for _, hash := range hashes {
		if s.chain.headerByHash(hash) == nil {
			break
		}
		receipts = append(receipts, s.chain.receipts[hash])
	}
	return rlp.EncodeToBytes(receipts)
}

// newSyncFixture wires an executor and a single registered peer against the
// given remote chain.
func newSyncFixture(t *testing.T, remote *testChain) (*peertask.Executor, *ethpeer.PeerSet, *ethpeer.Peer, *testSender) {
	t.Helper()
	sender := newTestSender(remote)
	peers := ethpeer.NewPeerSet()
	peer := ethpeer.NewPeer("remote", peertask.SubProtocolETH, 68, remote.height())
	peers.Register(peer)

	executor := peertask.NewExecutor(peers, sender, func() bool { return false }, peertask.ExecutorConfig{RetryDelay: 0})
	t.Cleanup(executor.Close)
	return executor, peers, peer, sender
}
