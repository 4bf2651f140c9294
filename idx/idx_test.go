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

package idx_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ianlewis/go-multistream/idx"
	"github.com/ianlewis/go-multistream/internal/testutil"
)

// TestParseLine tests ParseLine.
func TestParseLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		line     string
		expected *idx.Record
		err      error
	}{
		{
			name: "simple",
			line: "0:1:Alpha",
			expected: &idx.Record{
				Offset: 0,
				ID:     1,
				Title:  "Alpha",
			},
		},
		{
			name: "title with colons",
			line: "597:10:Star Trek: The Next Generation: Season 1",
			expected: &idx.Record{
				Offset: 597,
				ID:     10,
				Title:  "Star Trek: The Next Generation: Season 1",
			},
		},
		{
			name: "title with spaces kept verbatim",
			line: "5:6: Leading space \r",
			expected: &idx.Record{
				Offset: 5,
				ID:     6,
				Title:  " Leading space ",
			},
		},
		{
			name: "escaped title kept verbatim",
			line: "0:2:AT&amp;T",
			expected: &idx.Record{
				Offset: 0,
				ID:     2,
				Title:  "AT&amp;T",
			},
		},
		{
			name: "non-numeric id",
			line: "100:abc:SomeTitle",
			err:  idx.ErrMalformedLine,
		},
		{
			name: "negative offset",
			line: "-1:2:Title",
			err:  idx.ErrMalformedLine,
		},
		{
			name: "no separators",
			line: "SomeTitle",
			err:  idx.ErrMalformedLine,
		},
		{
			name: "one separator",
			line: "100:SomeTitle",
			err:  idx.ErrMalformedLine,
		},
		{
			name: "empty title",
			line: "100:2:",
			err:  idx.ErrMalformedLine,
		},
		{
			name: "empty line",
			line: "",
			err:  idx.ErrMalformedLine,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			got, err := idx.ParseLine(test.line)
			if diff := cmp.Diff(test.err, err, cmpopts.EquateErrors()); diff != "" {
				t.Fatalf("ParseLine error (-want, +got):\n%s", diff)
			}
			if diff := cmp.Diff(test.expected, got); diff != "" {
				t.Fatalf("ParseLine (-want, +got):\n%s", diff)
			}
		})
	}
}

// TestUnescapeTitle tests UnescapeTitle.
func TestUnescapeTitle(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Alpha":                         "Alpha",
		"AT&amp;T":                      "AT&T",
		"AT&T":                          "AT&T",
		"&quot;Weird Al&quot; Yankovic": `"Weird Al" Yankovic`,
		"Rock &#039;n&#039; roll":       "Rock 'n' roll",
		"&lt;ref&gt;":                   "<ref>",
	}

	for title, expected := range tests {
		t.Run(title, func(t *testing.T) {
			t.Parallel()

			if diff := cmp.Diff(expected, idx.UnescapeTitle(title)); diff != "" {
				t.Errorf("UnescapeTitle(%q) (-want, +got):\n%s", title, diff)
			}
		})
	}
}

func testRecords() []*idx.Record {
	return []*idx.Record{
		{Line: 1, Offset: 0, ID: 1, Title: "Alpha"},
		{Line: 2, Offset: 0, ID: 2, Title: "Beta"},
		{Line: 3, Offset: 500, ID: 3, Title: "Gamma: The Sequel"},
	}
}

// TestOpen tests reading indexes in every supported compression format.
func TestOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ext      string
		compress testutil.Compressor
	}{
		{name: "plain", ext: ".txt", compress: testutil.Identity},
		{name: "bzip2", ext: ".txt.bz2", compress: testutil.Bzip2},
		{name: "gzip", ext: ".txt.gz", compress: testutil.Gzip},
		{name: "zstd", ext: ".txt.zst", compress: testutil.Zstd},
		{name: "dictzip", ext: ".txt.dz", compress: testutil.DictZip},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			expected := testRecords()
			path := testutil.WriteFile(t, t.TempDir(), "index"+test.ext, test.compress(t, testutil.MakeIndex(expected)))

			s, err := idx.Open(path, nil)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer s.Close()

			var records []*idx.Record
			for rec, err := range s.All() {
				if err != nil {
					t.Fatalf("All: %v", err)
				}
				records = append(records, rec)
			}

			if diff := cmp.Diff(expected, records); diff != "" {
				t.Fatalf("records (-want, +got):\n%s", diff)
			}
		})
	}
}

// TestFile_restart tests that File can be iterated more than once.
func TestFile_restart(t *testing.T) {
	t.Parallel()

	expected := testRecords()
	path := testutil.WriteFile(t, t.TempDir(), "index.txt.bz2", testutil.Bzip2(t, testutil.MakeIndex(expected)))
	seq := idx.File(path, nil)

	for i := range 2 {
		var records []*idx.Record
		for rec, err := range seq {
			if err != nil {
				t.Fatalf("iteration %d: %v", i, err)
			}
			records = append(records, rec)
		}
		if diff := cmp.Diff(expected, records); diff != "" {
			t.Fatalf("iteration %d (-want, +got):\n%s", i, diff)
		}
	}
}

// TestScanner_malformed tests that scanning continues past malformed lines
// and reports their line numbers.
func TestScanner_malformed(t *testing.T) {
	t.Parallel()

	data := []byte("0:1:Alpha\n100:abc:SomeTitle\n500:3:Gamma\n")
	s, err := idx.NewScanner(io.NopCloser(bytes.NewReader(data)), nil)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	defer s.Close()

	var titles []string
	var errs []error
	for rec, err := range s.All() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		titles = append(titles, rec.Title)
	}

	if diff := cmp.Diff([]string{"Alpha", "Gamma"}, titles); diff != "" {
		t.Fatalf("titles (-want, +got):\n%s", diff)
	}
	if len(errs) != 1 {
		t.Fatalf("unexpected # of errors; want: 1, got: %d", len(errs))
	}
	var lineErr *idx.MalformedLineError
	if !errors.As(errs[0], &lineErr) {
		t.Fatalf("expected *MalformedLineError, got: %v", errs[0])
	}
	if diff := cmp.Diff(2, lineErr.Line); diff != "" {
		t.Fatalf("line (-want, +got):\n%s", diff)
	}
	if !errors.Is(errs[0], idx.ErrMalformedLine) {
		t.Fatalf("expected ErrMalformedLine, got: %v", errs[0])
	}
}

// TestFile_corrupt tests that decompression failures are reported as
// ErrArchiveCorrupt.
func TestFile_corrupt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ext  string
	}{
		{name: "bzip2", ext: ".bz2"},
		{name: "gzip", ext: ".gz"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			path := testutil.WriteFile(t, t.TempDir(), "index"+test.ext, []byte("this is not a compressed stream"))

			var lastErr error
			for _, err := range idx.File(path, nil) {
				if err != nil {
					lastErr = err
				}
			}
			if !errors.Is(lastErr, idx.ErrArchiveCorrupt) {
				t.Fatalf("expected ErrArchiveCorrupt, got: %v", lastErr)
			}
		})
	}
}

// TestCompressionFromPath tests CompressionFromPath.
func TestCompressionFromPath(t *testing.T) {
	t.Parallel()

	tests := map[string]idx.Compression{
		"enwiki-multistream-index.txt.bz2": idx.Bzip2,
		"index.txt.GZ":                     idx.Gzip,
		"index.txt.zst":                    idx.Zstd,
		"index.txt.dz":                     idx.DictZip,
		"index.txt":                        idx.None,
	}
	for path, expected := range tests {
		if diff := cmp.Diff(expected, idx.CompressionFromPath(path)); diff != "" {
			t.Errorf("CompressionFromPath(%q) (-want, +got):\n%s", path, diff)
		}
	}
}
