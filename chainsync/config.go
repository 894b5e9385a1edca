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

// Config tunes the download pipeline.
type Config struct {
	// ChainSegmentSize is how many blocks are completed and imported as one
	// unit before moving to the next range.
	ChainSegmentSize int

	// HeadersRequestSize is the number of headers asked for in a single
	// header request, both during ancestor discovery and range download.
	HeadersRequestSize int

	// MaxRetries bounds how many fruitless executor rounds a pipeline stage
	// tolerates before the sync is declared failed.
	MaxRetries int
}

// DefaultConfig mirrors the production settings.
var DefaultConfig = Config{
	ChainSegmentSize:   200,
	HeadersRequestSize: 192,
	MaxRetries:         5,
}

func (c Config) withDefaults() Config {
	if c.ChainSegmentSize <= 0 {
		c.ChainSegmentSize = DefaultConfig.ChainSegmentSize
	}
	if c.HeadersRequestSize <= 0 {
		c.HeadersRequestSize = DefaultConfig.HeadersRequestSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultConfig.MaxRetries
	}
	return c
}
