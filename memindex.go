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

package multistream

import (
	"github.com/google/uuid"

	"github.com/ianlewis/go-multistream/catalog"
	"github.com/ianlewis/go-multistream/store"
)

// MemoryIndex is an [Index] backed by an in-memory catalog. It must be
// rebuilt from the offset index by every process, so it suits tests and
// one-off reads. Use [Build] for a persistent title index.
type MemoryIndex struct {
	c       *catalog.Catalog
	buildID string
}

// NewMemoryIndex returns an Index over c.
func NewMemoryIndex(c *catalog.Catalog) *MemoryIndex {
	return &MemoryIndex{
		c:       c,
		buildID: uuid.NewString(),
	}
}

// Lookup implements [Index.Lookup].
func (m *MemoryIndex) Lookup(title string) (store.Entry, bool, error) {
	b, id, ok := m.c.Lookup(title)
	if !ok {
		return store.Entry{}, false, nil
	}
	return store.Entry{Start: b.Start, End: b.End, ID: id}, true, nil
}

// EntryByID implements [Index.EntryByID].
func (m *MemoryIndex) EntryByID(id uint64) (store.Entry, bool, error) {
	b, _, ok := m.c.LookupID(id)
	if !ok {
		return store.Entry{}, false, nil
	}
	return store.Entry{Start: b.Start, End: b.End, ID: id}, true, nil
}

// BuildID implements [Index.BuildID]. Each MemoryIndex has a distinct id.
func (m *MemoryIndex) BuildID() string {
	return m.buildID
}
