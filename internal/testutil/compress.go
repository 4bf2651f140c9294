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

package testutil

import (
	"bytes"
	"io"
	"testing"

	"github.com/dsnet/compress/bzip2"
	"github.com/ianlewis/go-dictzip"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor compresses data into a single self-contained stream.
type Compressor func(tb testing.TB, data []byte) []byte

// Identity returns data unchanged.
func Identity(tb testing.TB, data []byte) []byte {
	tb.Helper()
	return append([]byte(nil), data...)
}

// Bzip2 compresses data as a single bzip2 stream.
func Bzip2(tb testing.TB, data []byte) []byte {
	tb.Helper()

	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, nil)
	if err != nil {
		tb.Fatal(err)
	}
	writeAndClose(tb, w, data)
	return buf.Bytes()
}

// Gzip compresses data as a single gzip member.
func Gzip(tb testing.TB, data []byte) []byte {
	tb.Helper()

	var buf bytes.Buffer
	writeAndClose(tb, gzip.NewWriter(&buf), data)
	return buf.Bytes()
}

// Zstd compresses data as a single zstd frame.
func Zstd(tb testing.TB, data []byte) []byte {
	tb.Helper()

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		tb.Fatal(err)
	}
	writeAndClose(tb, w, data)
	return buf.Bytes()
}

// DictZip compresses data in the dictzip format.
func DictZip(tb testing.TB, data []byte) []byte {
	tb.Helper()

	var buf bytes.Buffer
	w, err := dictzip.NewWriter(&buf)
	if err != nil {
		tb.Fatal(err)
	}
	writeAndClose(tb, w, data)
	return buf.Bytes()
}

func writeAndClose(tb testing.TB, w io.WriteCloser, data []byte) {
	tb.Helper()

	if _, err := w.Write(data); err != nil {
		tb.Fatal(err)
	}
	if err := w.Close(); err != nil {
		tb.Fatal(err)
	}
}
