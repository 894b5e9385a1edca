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

// ResponseCode classifies the outcome of a task execution.
type ResponseCode int

const (
	Success ResponseCode = iota
	NoPeerAvailable
	PeerDisconnected
	Timeout
	InvalidResponse
	InternalError
)

func (c ResponseCode) String() string {
	switch c {
	case Success:
		return "success"
	case NoPeerAvailable:
		return "no peer available"
	case PeerDisconnected:
		return "peer disconnected"
	case Timeout:
		return "timeout"
	case InvalidResponse:
		return "invalid response"
	case InternalError:
		return "internal error"
	default:
		return "unknown"
	}
}

// Result is the outcome of running a task. Value is only meaningful when Code
// is Success.
type Result[T any] struct {
	Value T
	Code  ResponseCode
}
