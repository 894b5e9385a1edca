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

// Package peertask implements the request/response units of sync work and the
// executor that runs them against a dynamic pool of peers with retry and
// reputation feedback.
package peertask

import (
	"github.com/Matilda-Clerke/ethsync/ethpeer"
)

// Behavior is a set of flags controlling how the executor retries a task.
type Behavior uint8

const (
	// RetryWithSamePeer allows up to three attempts against the peer the
	// task was first assigned to.
	RetryWithSamePeer Behavior = 1 << iota

	// RetryWithOtherPeers allows up to three distinct peers to be tried for
	// one logical request.
	RetryWithOtherPeers
)

// DefaultBehaviors is what the download pipeline uses for its tasks.
const DefaultBehaviors = RetryWithSamePeer | RetryWithOtherPeers

// Has reports whether all flags in b are set.
func (b Behavior) Has(flag Behavior) bool {
	return b&flag == flag
}

// Message is one wire message: a protocol code and its RLP encoded payload.
// Encoding and transport of the message belong to the networking layer; tasks
// only produce and consume payload bytes.
type Message struct {
	Code    uint64
	Payload []byte
}

// Task describes one request against a single peer: how to build the wire
// request, how to parse the response into a T, and which peers are eligible
// to serve it. Tasks are immutable once handed to the executor and are
// discarded after completion.
type Task[T any] interface {
	// TaskName identifies the task kind for logging and metrics.
	TaskName() string

	// SubProtocol names the wire sub-protocol the request targets.
	SubProtocol() string

	// RequestMessage builds the wire request.
	RequestMessage() (Message, error)

	// ParseResponse decodes and validates a response payload. Malformed or
	// irrelevant data fails with an *InvalidResponseError.
	ParseResponse(payload []byte) (T, error)

	// PeerFilter returns the task's own peer eligibility predicate. The
	// executor applies it on top of its used-peer and chain-height checks
	// when selecting a peer for the task.
	PeerFilter() func(*ethpeer.Peer) bool

	// RequiredBlockNumber is the minimum chain height a peer must claim to
	// be able to answer, or zero when any peer will do.
	RequiredBlockNumber() uint64

	// Behaviors returns the retry flags for this task.
	Behaviors() Behavior
}
