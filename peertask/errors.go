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
	"errors"
	"fmt"
)

var (
	// ErrPeerDisconnected is reported by the request sender when the peer
	// connection drops mid-flight. It is terminal for that peer.
	ErrPeerDisconnected = errors.New("peer disconnected")

	// ErrRequestTimeout is reported by the request sender when no response
	// arrives within the exchange deadline.
	ErrRequestTimeout = errors.New("request timed out")
)

// InvalidResponseError marks a response that decoded but does not answer the
// request, or failed to decode at all. The peer is penalised for it.
type InvalidResponseError struct {
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return "invalid peer task response: " + e.Reason
}

func invalidResponse(format string, args ...interface{}) error {
	return &InvalidResponseError{Reason: fmt.Sprintf(format, args...)}
}
