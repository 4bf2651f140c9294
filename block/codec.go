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

package block

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// ErrUnknownCodec indicates that no codec matches a name or file extension.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec decompresses a single self-contained compressed stream.
type Codec interface {
	// Name returns the codec name.
	Name() string

	// MinSize returns the size in bytes of the smallest valid stream.
	MinSize() int

	// NewReader returns a reader that decompresses one stream from r.
	NewReader(r io.Reader) (io.ReadCloser, error)
}

var (
	// Bzip2 decodes bzip2 streams, the format of multistream encyclopedia
	// dumps.
	Bzip2 Codec = bzip2Codec{}

	// Gzip decodes gzip members.
	Gzip Codec = gzipCodec{}

	// Zstd decodes zstd frames.
	Zstd Codec = &zstdCodec{}
)

// CodecByName returns the codec with the given name.
func CodecByName(name string) (Codec, error) {
	for _, c := range []Codec{Bzip2, Gzip, Zstd} {
		if c.Name() == strings.ToLower(name) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// CodecForPath returns the codec implied by the file extension of path.
func CodecForPath(path string) (Codec, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".bz2":
		return Bzip2, nil
	case ".gz":
		return Gzip, nil
	case ".zst":
		return Zstd, nil
	default:
		return nil, fmt.Errorf("%w: extension %q", ErrUnknownCodec, ext)
	}
}

type bzip2Codec struct{}

func (bzip2Codec) Name() string { return "bzip2" }

// MinSize is the stream header, the end of stream magic and the checksum.
func (bzip2Codec) MinSize() int { return 14 }

func (bzip2Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(bzip2.NewReader(r)), nil
}

type gzipCodec struct{}

func (gzipCodec) Name() string { return "gzip" }

// MinSize is the member header and trailer.
func (gzipCodec) MinSize() int { return 18 }

func (gzipCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err //nolint:wrapcheck // classified by the caller
	}
	zr.Multistream(false)
	return zr, nil
}

// zstdCodec pools decoders to reduce allocation overhead.
type zstdCodec struct {
	pool sync.Pool
}

func (*zstdCodec) Name() string { return "zstd" }

// MinSize is the frame magic, the frame header and one block header.
func (*zstdCodec) MinSize() int { return 9 }

func (c *zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	if dec, ok := c.pool.Get().(*zstd.Decoder); ok {
		if err := dec.Reset(r); err == nil {
			return &pooledDecoder{dec: dec, pool: &c.pool}, nil
		}
		dec.Close()
	}

	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err //nolint:wrapcheck // classified by the caller
	}
	return &pooledDecoder{dec: dec, pool: &c.pool}, nil
}

type pooledDecoder struct {
	dec  *zstd.Decoder
	pool *sync.Pool
}

func (d *pooledDecoder) Read(p []byte) (int, error) {
	return d.dec.Read(p) //nolint:wrapcheck // classified by the caller
}

// Close returns the decoder to the pool.
func (d *pooledDecoder) Close() error {
	if d.dec == nil {
		return nil
	}
	_ = d.dec.Reset(nil) //nolint:errcheck // clearing state before pool return
	d.pool.Put(d.dec)
	d.dec = nil
	return nil
}
