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
	"context"
	"errors"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/semaphore"

	"github.com/Matilda-Clerke/ethsync/ethpeer"
)

const (
	otherPeerAttempts = 3 // distinct peers tried when RetryWithOtherPeers is set
	samePeerAttempts  = 3 // attempts against one peer when RetryWithSamePeer is set
)

// PeerSelector answers "highest reputation peer matching predicate". It is
// satisfied by *ethpeer.PeerSet.
type PeerSelector interface {
	SelectPeer(predicate func(*ethpeer.Peer) bool) (*ethpeer.Peer, error)
}

// RequestSender delivers one request to a peer and blocks until the response
// payload arrives or the exchange deadline passes. Implementations report
// ErrPeerDisconnected when the connection drops mid-flight and
// ErrRequestTimeout (or a context deadline) when the peer goes silent.
type RequestSender interface {
	SendRequest(subProtocol string, request Message, peer *ethpeer.Peer) ([]byte, error)
}

// ExecutorConfig tunes the retry pacing and the async worker budget.
type ExecutorConfig struct {
	// RetryDelay is the pause between attempts against the same peer,
	// keeping a misbehaving exchange from turning into a request storm.
	RetryDelay time.Duration

	// MaxConcurrentTasks bounds how many async executions may be in flight
	// at once.
	MaxConcurrentTasks int64
}

// DefaultExecutorConfig mirrors the production settings.
var DefaultExecutorConfig = ExecutorConfig{
	RetryDelay:         time.Second,
	MaxConcurrentTasks: 16,
}

// Executor runs peer tasks against selected peers, applying the task's retry
// behaviors and feeding the outcome back into peer reputation.
type Executor struct {
	selector PeerSelector
	sender   RequestSender
	isPoS    func() bool // chain-height eligibility is waived post-merge

	retryDelay time.Duration
	workers    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc

	logger log.Logger
}

// NewExecutor wires an executor to a peer registry and a request transport.
// isPoS reports whether the protocol is past the proof-of-stake transition,
// in which case peer chain-height claims are not used for eligibility.
func NewExecutor(selector PeerSelector, sender RequestSender, isPoS func() bool, config ExecutorConfig) *Executor {
	if config.MaxConcurrentTasks <= 0 {
		config.MaxConcurrentTasks = DefaultExecutorConfig.MaxConcurrentTasks
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		selector:   selector,
		sender:     sender,
		isPoS:      isPoS,
		retryDelay: config.RetryDelay,
		workers:    semaphore.NewWeighted(config.MaxConcurrentTasks),
		ctx:        ctx,
		cancel:     cancel,
		logger:     log.New("component", "peertask"),
	}
}

// Close aborts in-flight retry waits and pending async admissions.
func (e *Executor) Close() {
	e.cancel()
}

// sleepBetweenRetries paces same-peer retries. It reports false when the
// executor is shutting down, which aborts the retry loop.
func (e *Executor) sleepBetweenRetries() bool {
	if e.retryDelay <= 0 {
		return true
	}
	timer := time.NewTimer(e.retryDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// Execute runs the task to completion, trying up to three distinct peers when
// the task allows it. A peer contacted once in this call is never reselected
// for it, whatever the outcome.
func Execute[T any](e *Executor, task Task[T]) Result[T] {
	triesRemaining := 1
	if task.Behaviors().Has(RetryWithOtherPeers) {
		triesRemaining = otherPeerAttempts
	}
	usedPeers := mapset.NewSet()
	filter := task.PeerFilter()

	var result Result[T]
	for {
		peer, err := e.selector.SelectPeer(func(candidate *ethpeer.Peer) bool {
			return !usedPeers.Contains(candidate.ID()) &&
				(e.isPoS() || candidate.EstimatedHeight() >= task.RequiredBlockNumber()) &&
				filter(candidate)
		})
		if err != nil {
			result = Result[T]{Code: NoPeerAvailable}
		} else {
			usedPeers.Add(peer.ID())
			result = ExecuteAgainstPeer(e, task, peer)
		}
		triesRemaining--
		if triesRemaining <= 0 || result.Code == Success {
			return result
		}
	}
}

// ExecuteAgainstPeer runs the task against one specific peer, retrying up to
// three times on transient failures when the task allows it. A disconnect is
// terminal: the peer is gone and no further attempt is made against it.
func ExecuteAgainstPeer[T any](e *Executor, task Task[T], peer *ethpeer.Peer) Result[T] {
	request, err := task.RequestMessage()
	if err != nil {
		e.logger.Error("Failed to build task request", "task", task.TaskName(), "err", err)
		return Result[T]{Code: InternalError}
	}
	triesRemaining := 1
	if task.Behaviors().Has(RetryWithSamePeer) {
		triesRemaining = samePeerAttempts
	}

	var result Result[T]
	for {
		start := time.Now()
		payload, err := e.sender.SendRequest(task.SubProtocol(), request, peer)
		requestTimer(task.TaskName()).UpdateSince(start)

		switch {
		case err == nil:
			value, parseErr := task.ParseResponse(payload)
			if parseErr == nil {
				peer.RecordUsefulResponse()
				result = Result[T]{Value: value, Code: Success}
				break
			}
			var invalid *InvalidResponseError
			if errors.As(parseErr, &invalid) {
				peer.RecordUselessResponse(invalid.Reason)
				result = Result[T]{Code: InvalidResponse}
			} else {
				e.logger.Error("Task response handling failed", "task", task.TaskName(), "peer", peer.ID(), "err", parseErr)
				result = Result[T]{Code: InternalError}
			}

		case errors.Is(err, ErrPeerDisconnected):
			result = Result[T]{Code: PeerDisconnected}

		case errors.Is(err, ErrRequestTimeout), errors.Is(err, context.DeadlineExceeded):
			peer.RecordRequestTimeout(request.Code)
			result = Result[T]{Code: Timeout}

		default:
			e.logger.Debug("Task request failed", "task", task.TaskName(), "peer", peer.ID(), "err", err)
			result = Result[T]{Code: InternalError}
		}

		triesRemaining--
		if triesRemaining <= 0 || result.Code == Success || result.Code == PeerDisconnected {
			return result
		}
		if !e.sleepBetweenRetries() {
			return result
		}
	}
}

// ExecuteAsync runs Execute on a pooled worker, delivering the result on the
// returned channel. The channel is buffered; the result is never lost if the
// caller stops listening.
func ExecuteAsync[T any](e *Executor, task Task[T]) <-chan Result[T] {
	resultCh := make(chan Result[T], 1)
	go func() {
		if err := e.workers.Acquire(e.ctx, 1); err != nil {
			resultCh <- Result[T]{Code: InternalError}
			return
		}
		defer e.workers.Release(1)
		resultCh <- Execute(e, task)
	}()
	return resultCh
}

// ExecuteAgainstPeerAsync runs ExecuteAgainstPeer on a pooled worker.
func ExecuteAgainstPeerAsync[T any](e *Executor, task Task[T], peer *ethpeer.Peer) <-chan Result[T] {
	resultCh := make(chan Result[T], 1)
	go func() {
		if err := e.workers.Acquire(e.ctx, 1); err != nil {
			resultCh <- Result[T]{Code: InternalError}
			return
		}
		defer e.workers.Release(1)
		resultCh <- ExecuteAgainstPeer(e, task, peer)
	}()
	return resultCh
}

// requestTimer tracks request round-trip times per task kind.
func requestTimer(taskName string) metrics.Timer {
	return metrics.GetOrRegisterTimer("peertask/request/"+taskName, nil)
}
