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
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"

	"github.com/Matilda-Clerke/ethsync/ethpeer"
	"github.com/Matilda-Clerke/ethsync/peertask"
)

// headerSender serves every header request with a fixed header batch, or a
// fixed error, counting the requests it sees.
type headerSender struct {
	mu       sync.Mutex
	headers  []*types.Header
	err      error
	requests int
}

func (s *headerSender) SendRequest(subProtocol string, request peertask.Message, peer *ethpeer.Peer) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if s.err != nil {
		return nil, s.err
	}
	return rlp.EncodeToBytes(peertask.BlockHeadersResponse(s.headers))
}

func (s *headerSender) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func newValidationFixture(t *testing.T, sender *headerSender) *peertask.Executor {
	t.Helper()
	executor := peertask.NewExecutor(ethpeer.NewPeerSet(), sender, func() bool { return false }, peertask.ExecutorConfig{RetryDelay: 0})
	t.Cleanup(executor.Close)
	return executor
}

func newSyncedPeer(id string, height uint64) *ethpeer.Peer {
	return ethpeer.NewPeer(id, peertask.SubProtocolETH, 68, height)
}

func testHeader(number uint64, extra []byte) *types.Header {
	return &types.Header{
		Number:     new(big.Int).SetUint64(number),
		Difficulty: big.NewInt(1),
		Extra:      extra,
	}
}

func TestRequiredBlocksValidatorAcceptsMatchingHeader(t *testing.T) {
	header := testHeader(100, nil)
	sender := &headerSender{headers: []*types.Header{header}}
	executor := newValidationFixture(t, sender)

	validator := NewRequiredBlocksValidator(executor, 100, header.Hash(), 10)
	assert.True(t, validator.ValidatePeer(newSyncedPeer("p1", 200)))
}

func TestRequiredBlocksValidatorRejectsWrongHash(t *testing.T) {
	sender := &headerSender{headers: []*types.Header{testHeader(100, nil)}}
	executor := newValidationFixture(t, sender)

	wanted := testHeader(100, []byte("other fork")).Hash()
	validator := NewRequiredBlocksValidator(executor, 100, wanted, 10)
	assert.False(t, validator.ValidatePeer(newSyncedPeer("p1", 200)))
}

func TestRequiredBlocksValidatorRejectsWrongNumber(t *testing.T) {
	header := testHeader(101, nil)
	sender := &headerSender{headers: []*types.Header{header}}
	executor := newValidationFixture(t, sender)

	validator := NewRequiredBlocksValidator(executor, 100, header.Hash(), 10)
	assert.False(t, validator.ValidatePeer(newSyncedPeer("p1", 200)))
}

func TestValidatorGivesBenefitOfDoubtBelowHeight(t *testing.T) {
	sender := &headerSender{}
	executor := newValidationFixture(t, sender)

	validator := NewRequiredBlocksValidator(executor, 100, testHeader(100, nil).Hash(), 10)

	// Claimed height 105 is inside the buffer zone, no request is made.
	assert.True(t, validator.ValidatePeer(newSyncedPeer("p1", 105)))
	assert.Zero(t, sender.requestCount())
}

func TestValidatorEmptyResponseIsUnjudged(t *testing.T) {
	sender := &headerSender{}
	executor := newValidationFixture(t, sender)

	validator := NewRequiredBlocksValidator(executor, 100, testHeader(100, nil).Hash(), 10)
	peer := newSyncedPeer("p1", 200)

	assert.True(t, validator.ValidatePeer(peer))
	first := sender.requestCount()

	// Not memoized: the peer is asked again next time.
	assert.True(t, validator.ValidatePeer(peer))
	assert.Greater(t, sender.requestCount(), first)
}

func TestValidatorFailedRequestRejectsWithoutCaching(t *testing.T) {
	sender := &headerSender{err: peertask.ErrRequestTimeout}
	executor := newValidationFixture(t, sender)

	header := testHeader(100, nil)
	validator := NewRequiredBlocksValidator(executor, 100, header.Hash(), 10)
	peer := newSyncedPeer("p1", 200)

	assert.False(t, validator.ValidatePeer(peer))

	// Once the peer recovers it can still pass.
	sender.mu.Lock()
	sender.err = nil
	sender.headers = []*types.Header{header}
	sender.mu.Unlock()
	assert.True(t, validator.ValidatePeer(peer))
}

func TestValidatorMemoizesJudgedPeers(t *testing.T) {
	header := testHeader(100, nil)
	sender := &headerSender{headers: []*types.Header{header}}
	executor := newValidationFixture(t, sender)

	validator := NewRequiredBlocksValidator(executor, 100, header.Hash(), 10)
	peer := newSyncedPeer("p1", 200)

	assert.True(t, validator.ValidatePeer(peer))
	judged := sender.requestCount()
	assert.True(t, validator.ValidatePeer(peer))
	assert.Equal(t, judged, sender.requestCount(), "memoized outcome must not re-request")
}

func TestValidatorMemoizesFailedJudgements(t *testing.T) {
	wanted := testHeader(100, nil)
	sender := &headerSender{headers: []*types.Header{testHeader(100, []byte("other fork"))}}
	executor := newValidationFixture(t, sender)

	validator := NewRequiredBlocksValidator(executor, 100, wanted.Hash(), 10)
	peer := newSyncedPeer("p1", 200)

	assert.False(t, validator.ValidatePeer(peer))

	// The judgement sticks even if the peer later serves the right header.
	sender.mu.Lock()
	sender.headers = []*types.Header{wanted}
	sender.mu.Unlock()
	assert.False(t, validator.ValidatePeer(peer))
}

func TestDaoForkValidatorAcceptsProForkExtra(t *testing.T) {
	sender := &headerSender{headers: []*types.Header{testHeader(1920000, DAOForkBlockExtra)}}
	executor := newValidationFixture(t, sender)

	validator := NewDaoForkValidator(executor, 1920000, 10)
	assert.True(t, validator.ValidatePeer(newSyncedPeer("p1", 2000000)))
}

func TestDaoForkValidatorRejectsNoForkExtra(t *testing.T) {
	sender := &headerSender{headers: []*types.Header{testHeader(1920000, nil)}}
	executor := newValidationFixture(t, sender)

	validator := NewDaoForkValidator(executor, 1920000, 10)
	assert.False(t, validator.ValidatePeer(newSyncedPeer("p1", 2000000)))
}

func TestDaoForkExtraDataBytes(t *testing.T) {
	assert.Equal(t, []byte("dao-hard-fork"), DAOForkBlockExtra)
}
