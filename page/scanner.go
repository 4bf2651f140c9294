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

// Package page implements locating articles in decompressed block payloads.
//
// A payload is a concatenation of <page> elements without an enclosing root
// element, so it is not a well formed document. Pages are found by scanning
// for the <page> and </page> delimiters and only the page's own <title>, <ns>,
// <id> and <redirect> fields are decoded.
package page

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"strconv"
)

var (
	// ErrDocumentNotFound indicates that no page in the payload matched.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrPayloadMalformed indicates an unterminated delimiter or a page
	// missing required fields.
	ErrPayloadMalformed = errors.New("payload malformed")
)

var (
	openTag     = []byte("<page>")
	closeTag    = []byte("</page>")
	revisionTag = []byte("<revision>")
	redirectTag = []byte("<redirect")
	titleAttr   = []byte(`title="`)
)

// Scanner scans the pages of a payload from start to end.
type Scanner struct {
	payload []byte
	pos     int
	page    *Page
	err     error
}

// NewScanner returns a new Scanner over payload. Pages returned by the
// Scanner reference payload, which must not be modified.
func NewScanner(payload []byte) *Scanner {
	return &Scanner{payload: payload}
}

// Scan advances to the next page. It returns false at the end of the payload
// or on error.
func (s *Scanner) Scan() bool {
	if s.err != nil {
		return false
	}

	i := bytes.Index(s.payload[s.pos:], openTag)
	if i < 0 {
		s.page = nil
		return false
	}
	start := s.pos + i
	body := s.payload[start+len(openTag):]

	j := bytes.Index(body, closeTag)
	if next := bytes.Index(body, openTag); j < 0 || (next >= 0 && next < j) {
		s.err = fmt.Errorf("%w: <page> at byte %d is not terminated", ErrPayloadMalformed, start)
		s.page = nil
		return false
	}
	end := start + len(openTag) + j + len(closeTag)

	p, err := parse(s.payload[start:end])
	if err != nil {
		s.err = fmt.Errorf("page at byte %d: %w", start, err)
		s.page = nil
		return false
	}
	s.page = p
	s.pos = end
	return true
}

// Page returns the current page.
func (s *Scanner) Page() *Page {
	return s.page
}

// Err returns the first error encountered.
func (s *Scanner) Err() error {
	return s.err
}

// Locate returns the page with the given title. Character references in
// title are decoded before matching.
func Locate(payload []byte, title string) (*Page, error) {
	want := html.UnescapeString(title)
	p, err := find(payload, func(p *Page) bool { return p.Title == want })
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: title %q", ErrDocumentNotFound, title)
	}
	return p, nil
}

// LocateByID returns the page with the given id.
func LocateByID(payload []byte, id uint64) (*Page, error) {
	p, err := find(payload, func(p *Page) bool { return p.ID == id })
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: id %d", ErrDocumentNotFound, id)
	}
	return p, nil
}

func find(payload []byte, match func(*Page) bool) (*Page, error) {
	s := NewScanner(payload)
	for s.Scan() {
		if p := s.Page(); match(p) {
			found := *p
			found.Raw = bytes.Clone(p.Raw)
			return &found, nil
		}
	}
	return nil, s.Err()
}

// parse decodes the fields of a single delimited page.
func parse(raw []byte) (*Page, error) {
	// The page's own fields come before its revisions.
	head := raw
	if i := bytes.Index(raw, revisionTag); i >= 0 {
		head = raw[:i]
	}

	p := &Page{Raw: raw}

	title, ok, err := field(head, "title")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing <title>", ErrPayloadMalformed)
	}
	p.Title = html.UnescapeString(title)

	id, ok, err := field(head, "id")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: missing <id> in %q", ErrPayloadMalformed, p.Title)
	}
	if p.ID, err = strconv.ParseUint(id, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: invalid <id> %q in %q", ErrPayloadMalformed, id, p.Title)
	}

	ns, ok, err := field(head, "ns")
	if err != nil {
		return nil, err
	}
	if ok {
		if p.Namespace, err = strconv.Atoi(ns); err != nil {
			return nil, fmt.Errorf("%w: invalid <ns> %q in %q", ErrPayloadMalformed, ns, p.Title)
		}
	}

	if i := bytes.Index(head, redirectTag); i >= 0 {
		attrs := head[i:]
		if end := bytes.IndexByte(attrs, '>'); end >= 0 {
			attrs = attrs[:end]
		}
		if j := bytes.Index(attrs, titleAttr); j >= 0 {
			value := attrs[j+len(titleAttr):]
			if k := bytes.IndexByte(value, '"'); k >= 0 {
				p.Redirect = html.UnescapeString(string(value[:k]))
			}
		}
	}

	return p, nil
}

// field returns the content of the first <name> element in b.
func field(b []byte, name string) (string, bool, error) {
	open := "<" + name + ">"
	i := bytes.Index(b, []byte(open))
	if i < 0 {
		return "", false, nil
	}
	rest := b[i+len(open):]
	j := bytes.Index(rest, []byte("</"+name+">"))
	if j < 0 {
		return "", true, fmt.Errorf("%w: <%s> is not terminated", ErrPayloadMalformed, name)
	}
	return string(bytes.TrimSpace(rest[:j])), true, nil
}
