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

// Package folding implements the text folding used for loose title lookups.
package folding

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/transform"
)

// Title returns a transformer that folds titles for loose comparison. Space
// spans (including underscores) are collapsed and case is folded.
func Title() transform.Transformer {
	return transform.Chain(&SpaceFolder{}, cases.Fold())
}

// FoldTitle folds a single title with [Title].
func FoldTitle(title string) (string, error) {
	folded, _, err := transform.String(Title(), title)
	if err != nil {
		return "", fmt.Errorf("folding title %q: %w", title, err)
	}
	return folded, nil
}
