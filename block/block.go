// Copyright 2025 Ian Lewis
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package block implements decompressing single blocks of a multistream
// archive.
//
// A multistream archive is a concatenation of independently compressed
// streams. Given the byte range of one stream, a Decoder reads exactly that
// range and decompresses it without touching the rest of the archive.
package block

import (
	"errors"
	"fmt"
	"io"
	"math"
)

var (
	// ErrInvalidRange indicates a byte range whose start is not before its end.
	ErrInvalidRange = errors.New("invalid block range")

	// ErrTruncatedBlock indicates that a block ended before its stream was
	// complete.
	ErrTruncatedBlock = errors.New("truncated block")

	// ErrDecompression indicates a checksum or format violation.
	ErrDecompression = errors.New("decompression error")
)

// DefaultMaxPayloadSize is the default limit of a decompressed block.
const DefaultMaxPayloadSize int64 = 256 << 20

// Options are options for a Decoder.
type Options struct {
	// Codec is the compression codec of the archive's blocks.
	Codec Codec

	// MaxPayloadSize is the maximum size of a decompressed block. Zero
	// means DefaultMaxPayloadSize.
	MaxPayloadSize int64
}

// DefaultOptions is the default options for a Decoder.
var DefaultOptions = &Options{
	Codec:          Bzip2,
	MaxPayloadSize: DefaultMaxPayloadSize,
}

// Decoder decodes blocks from an archive. A Decoder holds no state between
// calls and is safe for concurrent use if the underlying reader is.
type Decoder struct {
	r          io.ReaderAt
	codec      Codec
	maxPayload int64
}

// New returns a new Decoder reading the archive from r.
func New(r io.ReaderAt, options *Options) *Decoder {
	if options == nil {
		options = DefaultOptions
	}
	d := &Decoder{
		r:          r,
		codec:      options.Codec,
		maxPayload: options.MaxPayloadSize,
	}
	if d.codec == nil {
		d.codec = DefaultOptions.Codec
	}
	if d.maxPayload <= 0 {
		d.maxPayload = DefaultMaxPayloadSize
	}
	return d
}

// Codec returns the decoder's codec.
func (d *Decoder) Codec() Codec {
	return d.codec
}

// Decode decompresses the archive range [start, end) as one stream. The range
// is streamed to the codec and nothing at or beyond end is read.
func (d *Decoder) Decode(start, end uint64) ([]byte, error) {
	if start >= end || end > math.MaxInt64 {
		return nil, fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, end)
	}
	size := end - start
	if size < uint64(d.codec.MinSize()) {
		return nil, fmt.Errorf("%w: %d bytes at offset %d is shorter than a %s stream", ErrTruncatedBlock, size, start, d.codec.Name())
	}
	// A range past the end of the archive may still hold a complete stream.
	var last [1]byte
	//nolint:gosec // end is bounds checked above.
	if n, err := d.r.ReadAt(last[:], int64(end-1)); n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: archive ends before block end %d", ErrTruncatedBlock, end)
		}
		return nil, fmt.Errorf("reading block at offset %d: %w", start, err)
	}

	//nolint:gosec // end is bounds checked above.
	zr, err := d.codec.NewReader(io.NewSectionReader(d.r, int64(start), int64(size)))
	if err != nil {
		return nil, classify(err, start, d.codec)
	}
	defer zr.Close()

	payload, err := io.ReadAll(io.LimitReader(zr, d.maxPayload+1))
	if err != nil {
		return nil, classify(err, start, d.codec)
	}
	if int64(len(payload)) > d.maxPayload {
		return nil, fmt.Errorf("%w: block at offset %d exceeds %d bytes", ErrDecompression, start, d.maxPayload)
	}
	return payload, nil
}

func classify(err error, start uint64, c Codec) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s stream at offset %d: %w", ErrTruncatedBlock, c.Name(), start, err)
	}
	return fmt.Errorf("%w: %s stream at offset %d: %w", ErrDecompression, c.Name(), start, err)
}
