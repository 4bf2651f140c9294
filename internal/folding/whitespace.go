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

package folding

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/transform"
)

// SpaceFolder performs whitespace folding on article titles. It removes
// spaces from the beginning and end of the input and replaces all internal
// whitespace spans with a single ASCII space rune. Underscores are treated as
// whitespace because titles in links and URLs use them in place of spaces.
type SpaceFolder struct {
	// notStart is true after encounting the first non-space rune.
	notStart bool

	// wsSpan is true if the transformer is currently handling a space span.
	wsSpan bool
}

func isTitleSpace(c rune) bool {
	return c == '_' || unicode.IsSpace(c)
}

// Transform implements [transform.Transformer.Transform].
func (w *SpaceFolder) Transform(dst, src []byte, atEOF bool) (int, int, error) {
	var nSrc, nDst int
	for nSrc < len(src) {
		c, size := utf8.DecodeRune(src[nSrc:])
		if c == utf8.RuneError && !atEOF && !utf8.FullRune(src[nSrc:]) {
			return nDst, nSrc, transform.ErrShortSrc
		}

		if isTitleSpace(c) {
			nSrc += size
			if w.notStart {
				w.wsSpan = true
			}
			continue
		}

		if w.wsSpan {
			// NOTE: trailing spaces are never emitted.
			if nDst+1 > len(dst) {
				return nDst, nSrc, transform.ErrShortDst
			}
			dst[nDst] = ' '
			nDst++
			w.wsSpan = false
		}

		// NOTE: we cannot use size here because c could be utf8.RuneError in
		// which case size would be 1 but the length of utf8.RuneError is 3.
		if nDst+utf8.RuneLen(c) > len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		w.notStart = true
		nSrc += size
		nDst += utf8.EncodeRune(dst[nDst:], c)
	}

	return nDst, nSrc, nil
}

// Reset implements [transform.Transformer.Reset].
func (w *SpaceFolder) Reset() {
	*w = SpaceFolder{}
}
