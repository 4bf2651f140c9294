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

package page

import (
	"bytes"
	"html"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/k3a/html2text"
)

var redirectRegex = regexp.MustCompile(`(?i)^\s*#redirect\s*:?\s*\[\[([^\]]*)\]\]`)

// Page is an article extracted from a block payload.
type Page struct {
	// ID is the article id.
	ID uint64

	// Namespace is the article namespace. Articles are in namespace 0.
	Namespace int

	// Title is the article title with markup entities decoded.
	Title string

	// Redirect is the redirect target declared by the page, if any.
	Redirect string

	// Raw is the page markup including the <page> and </page> delimiters.
	Raw []byte
}

// String returns the raw page markup.
func (p *Page) String() string {
	return string(p.Raw)
}

// Text returns the wikitext of the page's revision with markup entities
// decoded. It returns an empty string if the page has no text.
func (p *Page) Text() string {
	raw := p.Raw
	for {
		i := bytes.Index(raw, []byte("<text"))
		if i < 0 {
			return ""
		}
		raw = raw[i+len("<text"):]
		// Skip tags that merely start with "text".
		if len(raw) > 0 && (raw[0] == '>' || raw[0] == ' ' || raw[0] == '/') {
			break
		}
	}

	end := bytes.IndexByte(raw, '>')
	if end < 0 {
		return ""
	}
	if end > 0 && raw[end-1] == '/' {
		return ""
	}
	raw = raw[end+1:]
	closing := bytes.Index(raw, []byte("</text>"))
	if closing < 0 {
		return ""
	}
	return html.UnescapeString(string(raw[:closing]))
}

// PlainText returns the page text with HTML markup removed.
func (p *Page) PlainText() string {
	return html2text.HTML2Text(p.Text())
}

// IsRedirect returns true if the page redirects to another page.
func (p *Page) IsRedirect() bool {
	return p.RedirectTarget() != ""
}

// RedirectTarget returns the normalized title the page redirects to, or an
// empty string if the page is not a redirect.
func (p *Page) RedirectTarget() string {
	if p.Redirect != "" {
		return NormalizeTitle(p.Redirect)
	}
	m := redirectRegex.FindStringSubmatch(p.Text())
	if m == nil {
		return ""
	}
	return NormalizeTitle(m[1])
}

// NormalizeTitle converts a link target into a page title. Section
// fragments and link labels are removed, underscores become spaces and the
// first letter is upper cased.
func NormalizeTitle(title string) string {
	if i := strings.IndexAny(title, "#|"); i >= 0 {
		title = title[:i]
	}
	title = strings.ReplaceAll(title, "_", " ")
	title = strings.TrimSpace(title)
	title = strings.TrimPrefix(title, ":")
	title = strings.Join(strings.Fields(title), " ")

	r, size := utf8.DecodeRuneInString(title)
	if r == utf8.RuneError {
		return title
	}
	return string(unicode.ToUpper(r)) + title[size:]
}
