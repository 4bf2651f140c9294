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

// Package testutil implements fixtures for multistream archives and indexes.
package testutil

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ianlewis/go-multistream/idx"
)

// Page is an article used to build test archives.
type Page struct {
	ID        uint64
	Namespace int
	Title     string

	// Redirect is the redirect target title, if any.
	Redirect string

	// Text is the unescaped wikitext of the article.
	Text string
}

// MakePage renders a page in the dump markup format.
func MakePage(p Page) string {
	var b strings.Builder
	b.WriteString("  <page>\n")
	fmt.Fprintf(&b, "    <title>%s</title>\n", html.EscapeString(p.Title))
	fmt.Fprintf(&b, "    <ns>%d</ns>\n", p.Namespace)
	fmt.Fprintf(&b, "    <id>%d</id>\n", p.ID)
	if p.Redirect != "" {
		fmt.Fprintf(&b, "    <redirect title=\"%s\" />\n", html.EscapeString(p.Redirect))
	}
	b.WriteString("    <revision>\n")
	fmt.Fprintf(&b, "      <id>%d</id>\n", p.ID+1000000)
	fmt.Fprintf(&b, "      <text bytes=\"%d\" xml:space=\"preserve\">%s</text>\n", len(p.Text), html.EscapeString(p.Text))
	b.WriteString("    </revision>\n")
	b.WriteString("  </page>\n")
	return b.String()
}

// MakePayload renders pages as a decompressed block payload.
func MakePayload(pages []Page) []byte {
	var b strings.Builder
	for _, p := range pages {
		b.WriteString(MakePage(p))
	}
	return []byte(b.String())
}

// MakeArchive compresses each group of pages as an independent stream and
// concatenates the streams starting at byte 0. It returns the archive and
// the offset index records describing it.
func MakeArchive(tb testing.TB, compress Compressor, blocks [][]Page) ([]byte, []*idx.Record) {
	tb.Helper()

	var archive []byte
	var records []*idx.Record
	for _, pages := range blocks {
		offset := uint64(len(archive))
		for _, p := range pages {
			records = append(records, &idx.Record{
				Line:   len(records) + 1,
				Offset: offset,
				ID:     p.ID,
				Title:  p.Title,
			})
		}
		archive = append(archive, compress(tb, MakePayload(pages))...)
	}
	return archive, records
}

// MakeIndex renders records as uncompressed offset index text. Titles are
// escaped as in the dump markup, e.g. "AT&amp;T".
func MakeIndex(records []*idx.Record) []byte {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%d:%d:%s\n", r.Offset, r.ID, html.EscapeString(r.Title))
	}
	return []byte(b.String())
}

// WriteFile writes data to a file named name in dir and returns its path.
func WriteFile(tb testing.TB, dir, name string, data []byte) string {
	tb.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		tb.Fatal(err)
	}
	return path
}
