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

package idx

import (
	"compress/bzip2"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/ianlewis/go-dictzip"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression is the compression format of an index file.
type Compression int

const (
	// Auto detects the compression from the file extension. Readers without
	// a name are treated as uncompressed.
	Auto Compression = iota

	// None is an uncompressed index.
	None

	// Bzip2 is a (possibly multistream) bzip2 compressed index.
	Bzip2

	// Gzip is a (possibly multi-member) gzip compressed index.
	Gzip

	// Zstd is a zstd compressed index.
	Zstd

	// DictZip is a dictzip compressed index.
	DictZip
)

// String returns the name of the compression format.
func (c Compression) String() string {
	switch c {
	case Auto:
		return "auto"
	case None:
		return "none"
	case Bzip2:
		return "bzip2"
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case DictZip:
		return "dictzip"
	default:
		return fmt.Sprintf("compression(%d)", int(c))
	}
}

// CompressionFromPath returns the compression format implied by the file
// extension of path.
func CompressionFromPath(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bz2":
		return Bzip2
	case ".gz":
		return Gzip
	case ".zst":
		return Zstd
	case ".dz":
		return DictZip
	default:
		return None
	}
}

// Options are options for reading an index.
type Options struct {
	// Compression is the compression format of the index.
	Compression Compression
}

// DefaultOptions is the default options for reading an index.
var DefaultOptions = &Options{
	Compression: Auto,
}

// Open opens the index file at path.
func Open(path string, options *Options) (*Scanner, error) {
	if options == nil {
		options = DefaultOptions
	}
	opts := *options
	if opts.Compression == Auto {
		opts.Compression = CompressionFromPath(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	s, err := NewScanner(f, &opts)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	return s, nil
}

// File returns a restartable iterator over the records of the index file at
// path. The file is opened each time iteration starts.
func File(path string, options *Options) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		s, err := Open(path, options)
		if err != nil {
			yield(nil, err)
			return
		}
		defer s.Close()

		for rec, err := range s.All() {
			if !yield(rec, err) {
				return
			}
		}
	}
}

// decompress wraps r with a decompressor. The returned closer, if not nil,
// must be closed before r.
func decompress(r io.Reader, c Compression) (io.Reader, io.Closer, error) {
	switch c {
	case Auto, None:
		return r, nil, nil
	case Bzip2:
		return bzip2.NewReader(r), nil, nil
	case Gzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: gzip: %w", ErrArchiveCorrupt, err)
		}
		return zr, zr, nil
	case Zstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zstd: %w", ErrArchiveCorrupt, err)
		}
		rc := zr.IOReadCloser()
		return rc, rc, nil
	case DictZip:
		rs, ok := r.(io.ReadSeeker)
		if !ok {
			// dictzip files are valid gzip files.
			return decompress(r, Gzip)
		}
		zr, err := dictzip.NewReader(rs)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: dictzip: %w", ErrArchiveCorrupt, err)
		}
		return zr, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression: %v", c)
	}
}
