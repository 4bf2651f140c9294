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

package block_test

import (
	"bytes"
	"io"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ianlewis/go-multistream/block"
	"github.com/ianlewis/go-multistream/idx"
	"github.com/ianlewis/go-multistream/internal/testutil"
)

var testBlocks = [][]testutil.Page{
	{
		{ID: 10, Title: "AccessibleComputing", Redirect: "Computer accessibility"},
		{ID: 12, Title: "Anarchism", Text: "'''Anarchism''' is a political philosophy."},
	},
	{
		{ID: 25, Title: "Autism", Text: "Autism is a neurodevelopmental disorder."},
	},
	{
		{ID: 39, Title: "Albedo", Text: "Albedo is the fraction of sunlight that is reflected."},
		{ID: 290, Title: "A", Text: "A is the first letter."},
	},
}

// boundedReader records the furthest byte read and the largest single read.
type boundedReader struct {
	r io.ReaderAt

	mu      sync.Mutex
	max     int64
	largest int
}

func (b *boundedReader) ReadAt(p []byte, off int64) (int, error) {
	b.mu.Lock()
	if end := off + int64(len(p)); end > b.max {
		b.max = end
	}
	b.largest = max(b.largest, len(p))
	b.mu.Unlock()
	return b.r.ReadAt(p, off)
}

// ranges returns the block ranges described by the records of an archive
// built by MakeArchive.
func ranges(archive []byte, records []*idx.Record) [][2]uint64 {
	var result [][2]uint64
	for _, rec := range records {
		if n := len(result); n > 0 && result[n-1][0] == rec.Offset {
			continue
		}
		if n := len(result); n > 0 {
			result[n-1][1] = rec.Offset
		}
		result = append(result, [2]uint64{rec.Offset, 0})
	}
	result[len(result)-1][1] = uint64(len(archive))
	return result
}

// TestDecoder_Decode tests decoding every block of an archive.
func TestDecoder_Decode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		codec    block.Codec
		compress testutil.Compressor
	}{
		{name: "bzip2", codec: block.Bzip2, compress: testutil.Bzip2},
		{name: "gzip", codec: block.Gzip, compress: testutil.Gzip},
		{name: "zstd", codec: block.Zstd, compress: testutil.Zstd},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			archive, records := testutil.MakeArchive(t, test.compress, testBlocks)
			r := &boundedReader{r: bytes.NewReader(archive)}
			d := block.New(r, &block.Options{Codec: test.codec})

			for i, rng := range ranges(archive, records) {
				r.max = 0

				payload, err := d.Decode(rng[0], rng[1])
				if err != nil {
					t.Fatalf("Decode(%d, %d): %v", rng[0], rng[1], err)
				}
				if diff := cmp.Diff(string(testutil.MakePayload(testBlocks[i])), string(payload)); diff != "" {
					t.Fatalf("Decode(%d, %d) (-want, +got):\n%s", rng[0], rng[1], diff)
				}
				if r.max > int64(rng[1]) {
					t.Fatalf("Decode(%d, %d) read up to offset %d", rng[0], rng[1], r.max)
				}
			}
		})
	}
}

// TestDecoder_Decode_streaming tests that large blocks are decoded without
// reading the whole compressed range at once.
func TestDecoder_Decode_streaming(t *testing.T) {
	t.Parallel()

	rnd := rand.New(rand.NewPCG(1, 2))
	var text strings.Builder
	for range 256 << 10 {
		text.WriteByte(byte('a' + rnd.IntN(26)))
	}
	payload := testutil.MakePayload([]testutil.Page{{ID: 1, Title: "Noise", Text: text.String()}})

	tests := []struct {
		name     string
		codec    block.Codec
		compress testutil.Compressor
	}{
		{name: "bzip2", codec: block.Bzip2, compress: testutil.Bzip2},
		{name: "gzip", codec: block.Gzip, compress: testutil.Gzip},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			archive := test.compress(t, payload)
			r := &boundedReader{r: bytes.NewReader(archive)}
			d := block.New(r, &block.Options{Codec: test.codec})

			got, err := d.Decode(0, uint64(len(archive)))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(payload, got) {
				t.Fatalf("Decode: payload differs, want %d bytes, got %d", len(payload), len(got))
			}
			if r.largest >= len(archive) {
				t.Errorf("Decode read %d bytes at once from a %d byte block", r.largest, len(archive))
			}
			if r.max > int64(len(archive)) {
				t.Errorf("Decode read up to offset %d", r.max)
			}
		})
	}
}

// TestDecoder_Decode_errors tests decoding failures.
func TestDecoder_Decode_errors(t *testing.T) {
	t.Parallel()

	payload := testutil.MakePayload(testBlocks[0])
	gz := testutil.Gzip(t, payload)
	bz := testutil.Bzip2(t, payload)
	garbage := bytes.Repeat([]byte("garbage!"), 8)

	tests := []struct {
		name    string
		archive []byte
		options *block.Options
		start   uint64
		end     uint64
		err     error
	}{
		{
			name:    "empty range",
			archive: bz,
			start:   10,
			end:     10,
			err:     block.ErrInvalidRange,
		},
		{
			name:    "reversed range",
			archive: bz,
			start:   10,
			end:     5,
			err:     block.ErrInvalidRange,
		},
		{
			name:    "shorter than a stream",
			archive: bz,
			start:   0,
			end:     5,
			err:     block.ErrTruncatedBlock,
		},
		{
			name:    "past end of archive",
			archive: bz,
			start:   0,
			end:     uint64(len(bz)) + 100,
			err:     block.ErrTruncatedBlock,
		},
		{
			name:    "gzip missing trailer",
			archive: gz,
			options: &block.Options{Codec: block.Gzip},
			start:   0,
			end:     uint64(len(gz)) - 4,
			err:     block.ErrTruncatedBlock,
		},
		{
			name:    "bzip2 garbage",
			archive: garbage,
			options: &block.Options{Codec: block.Bzip2},
			start:   0,
			end:     uint64(len(garbage)),
			err:     block.ErrDecompression,
		},
		{
			name:    "gzip garbage",
			archive: garbage,
			options: &block.Options{Codec: block.Gzip},
			start:   0,
			end:     uint64(len(garbage)),
			err:     block.ErrDecompression,
		},
		{
			name:    "zstd garbage",
			archive: garbage,
			options: &block.Options{Codec: block.Zstd},
			start:   0,
			end:     uint64(len(garbage)),
			err:     block.ErrDecompression,
		},
		{
			name:    "payload too large",
			archive: bz,
			options: &block.Options{Codec: block.Bzip2, MaxPayloadSize: 16},
			start:   0,
			end:     uint64(len(bz)),
			err:     block.ErrDecompression,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			d := block.New(bytes.NewReader(test.archive), test.options)
			payload, err := d.Decode(test.start, test.end)
			if diff := cmp.Diff(test.err, err, cmpopts.EquateErrors()); diff != "" {
				t.Fatalf("Decode error (-want, +got):\n%s", diff)
			}
			if payload != nil {
				t.Fatalf("Decode: unexpected payload of %d bytes", len(payload))
			}
		})
	}
}

// TestCodecForPath tests CodecForPath and CodecByName.
func TestCodecForPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path     string
		expected string
		err      error
	}{
		{path: "enwiki-20251101-pages-articles-multistream.xml.bz2", expected: "bzip2"},
		{path: "archive.xml.GZ", expected: "gzip"},
		{path: "archive.xml.zst", expected: "zstd"},
		{path: "archive.xml", err: block.ErrUnknownCodec},
	}

	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			t.Parallel()

			c, err := block.CodecForPath(test.path)
			if diff := cmp.Diff(test.err, err, cmpopts.EquateErrors()); diff != "" {
				t.Fatalf("CodecForPath error (-want, +got):\n%s", diff)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(test.expected, c.Name()); diff != "" {
				t.Fatalf("CodecForPath (-want, +got):\n%s", diff)
			}

			byName, err := block.CodecByName(c.Name())
			if err != nil {
				t.Fatalf("CodecByName: %v", err)
			}
			if byName != c {
				t.Fatalf("CodecByName(%q) returned a different codec", c.Name())
			}
		})
	}
}
