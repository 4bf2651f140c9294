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
	"bufio"
	"errors"
	"fmt"
	"html"
	"io"
	"iter"
	"strconv"
	"strings"
)

var (
	// ErrMalformedLine indicates that an index line could not be parsed.
	ErrMalformedLine = errors.New("malformed index line")

	// ErrArchiveCorrupt indicates that the index could not be decompressed.
	ErrArchiveCorrupt = errors.New("archive corrupt")
)

// maxLineSize is the longest index line accepted by the Scanner.
const maxLineSize = 1 << 20

// Record is an offset index entry.
type Record struct {
	// Line is the 1-based line number of the record in the index. It is zero
	// for records parsed with ParseLine.
	Line int

	// Offset is the byte offset of the compressed stream holding the article.
	Offset uint64

	// ID is the article id.
	ID uint64

	// Title is the article title as written in the index. Index files escape
	// titles the same way as the dump markup, e.g. "AT&amp;T".
	Title string
}

// MalformedLineError describes an index line that could not be parsed.
type MalformedLineError struct {
	Line   int
	Text   string
	Reason string
}

func (e *MalformedLineError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%v: line %d: %s: %q", ErrMalformedLine, e.Line, e.Reason, e.Text)
	}
	return fmt.Sprintf("%v: %s: %q", ErrMalformedLine, e.Reason, e.Text)
}

// Is reports whether target is ErrMalformedLine.
func (e *MalformedLineError) Is(target error) bool {
	return target == ErrMalformedLine
}

// ParseLine parses a single "offset:id:title" index line. Only the first two
// colons are separators; the title is the remainder of the line.
func ParseLine(line string) (*Record, error) {
	return parseLine(line, 0)
}

func parseLine(line string, lineNo int) (*Record, error) {
	line = strings.TrimSuffix(line, "\r")
	malformed := func(reason string) error {
		return &MalformedLineError{Line: lineNo, Text: line, Reason: reason}
	}

	offsetStr, rest, ok := strings.Cut(line, ":")
	if !ok {
		return nil, malformed("missing separators")
	}
	idStr, title, ok := strings.Cut(rest, ":")
	if !ok {
		return nil, malformed("missing title separator")
	}

	offset, err := strconv.ParseUint(offsetStr, 10, 64)
	if err != nil {
		return nil, malformed("invalid offset")
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return nil, malformed("invalid id")
	}
	if title == "" {
		return nil, malformed("empty title")
	}

	return &Record{
		Line:   lineNo,
		Offset: offset,
		ID:     id,
		Title:  title,
	}, nil
}

// UnescapeTitle decodes the character references in an index title. Titles
// are compared and stored in their decoded form.
func UnescapeTitle(title string) string {
	return html.UnescapeString(title)
}

// Scanner scans a decompressed offset index from start to end.
type Scanner struct {
	closers []io.Closer
	s       *bufio.Scanner
	line    int
}

// NewScanner returns a new index scanner reading from r. r is decompressed
// according to options. The Scanner assumes ownership of the reader and should
// be closed with the Close method.
func NewScanner(r io.ReadCloser, options *Options) (*Scanner, error) {
	if options == nil {
		options = DefaultOptions
	}

	dr, closer, err := decompress(r, options.Compression)
	if err != nil {
		r.Close()
		return nil, err
	}

	s := &Scanner{
		closers: []io.Closer{r},
		s:       bufio.NewScanner(dr),
	}
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	s.s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return s, nil
}

// Scan advances the index to the next line. It returns false if the scan
// stops either by reaching the end of the index or an error.
func (s *Scanner) Scan() bool {
	if !s.s.Scan() {
		return false
	}
	s.line++
	return true
}

// Line returns the 1-based line number of the current line.
func (s *Scanner) Line() int {
	return s.line
}

// Record parses the current line. A *MalformedLineError is returned if the
// line cannot be parsed. Scanning may continue after a malformed line.
func (s *Scanner) Record() (*Record, error) {
	return parseLine(s.s.Text(), s.line)
}

// Err returns the first error encountered while reading the index.
func (s *Scanner) Err() error {
	if err := s.s.Err(); err != nil {
		return fmt.Errorf("%w: reading index after line %d: %w", ErrArchiveCorrupt, s.line, err)
	}
	return nil
}

// All returns an iterator over the remaining records. Each malformed line
// yields an error; iteration continues if the caller keeps consuming. A read
// error is yielded last.
func (s *Scanner) All() iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for s.Scan() {
			if !yield(s.Record()) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Close closes the decompressor and the underlying reader.
func (s *Scanner) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing index: %w", err)
	}
	return nil
}
