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

// Package catalog groups offset index records into compressed blocks.
//
// Every record that shares an offset belongs to the same compressed block.
// A block ends where the next distinct offset begins, and the final block ends
// at the end of the archive.
package catalog

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/ianlewis/go-multistream/idx"
	"github.com/ianlewis/go-multistream/internal/index"
)

var (
	// ErrUnsortedIndex indicates that index offsets decreased.
	ErrUnsortedIndex = errors.New("unsorted index")

	// ErrArchiveTooShort indicates that the archive ends at or before the
	// final block offset.
	ErrArchiveTooShort = errors.New("archive too short")

	// ErrInvalidPartition indicates blocks that do not partition the archive.
	ErrInvalidPartition = errors.New("invalid block partition")
)

// Member is an article held by a block.
type Member struct {
	ID    uint64 `json:"id"`
	Title string `json:"title"`
}

// Block is a compressed block of the archive. Start is inclusive and End is
// exclusive. Members are listed in the order they appear in the block.
type Block struct {
	Start   uint64   `json:"start"`
	End     uint64   `json:"end"`
	Members []Member `json:"members"`
}

// Size returns the compressed size of the block.
func (b *Block) Size() uint64 {
	return b.End - b.Start
}

// UnsortedIndexError describes a record whose offset is less than the offset
// of the record before it.
type UnsortedIndexError struct {
	Line     int
	Offset   uint64
	Previous uint64
}

func (e *UnsortedIndexError) Error() string {
	return fmt.Sprintf("%v: line %d: offset %d is less than previous offset %d", ErrUnsortedIndex, e.Line, e.Offset, e.Previous)
}

// Is reports whether target is ErrUnsortedIndex.
func (e *UnsortedIndexError) Is(target error) bool {
	return target == ErrUnsortedIndex
}

// Builder accumulates index records into blocks.
type Builder struct {
	cur *Block
}

// NewBuilder returns a new Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add adds a record. If the record starts a new block, the previous block is
// closed and returned. An *UnsortedIndexError is returned if the record's
// offset is less than the current block's offset; the record is not added.
func (b *Builder) Add(rec *idx.Record) (*Block, error) {
	if b.cur == nil {
		b.cur = &Block{Start: rec.Offset}
	}

	switch {
	case rec.Offset < b.cur.Start:
		return nil, &UnsortedIndexError{
			Line:     rec.Line,
			Offset:   rec.Offset,
			Previous: b.cur.Start,
		}
	case rec.Offset > b.cur.Start:
		closed := b.cur
		closed.End = rec.Offset
		b.cur = &Block{Start: rec.Offset}
		b.cur.Members = append(b.cur.Members, Member{ID: rec.ID, Title: rec.Title})
		return closed, nil
	default:
		b.cur.Members = append(b.cur.Members, Member{ID: rec.ID, Title: rec.Title})
		return nil, nil
	}
}

// Finish closes and returns the final block, which ends at archiveLen. It
// returns nil if no records were added.
func (b *Builder) Finish(archiveLen uint64) (*Block, error) {
	last := b.cur
	if last == nil {
		return nil, nil
	}
	if archiveLen <= last.Start {
		return nil, fmt.Errorf("%w: length %d, last block starts at %d", ErrArchiveTooShort, archiveLen, last.Start)
	}
	b.cur = nil
	last.End = archiveLen
	return last, nil
}

// Blocks returns an iterator that groups records into blocks. Errors from
// records and unsorted offsets are yielded in place; callers may stop at the
// first error or keep consuming to collect all of them.
func Blocks(records iter.Seq2[*idx.Record, error], archiveLen uint64) iter.Seq2[*Block, error] {
	return func(yield func(*Block, error) bool) {
		b := NewBuilder()
		for rec, err := range records {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			closed, err := b.Add(rec)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if closed != nil && !yield(closed, nil) {
				return
			}
		}
		last, err := b.Finish(archiveLen)
		if err != nil {
			yield(nil, err)
			return
		}
		if last != nil {
			yield(last, nil)
		}
	}
}

// Collect gathers every block and every error from blocks.
func Collect(blocks iter.Seq2[*Block, error]) ([]*Block, []error) {
	var result []*Block
	var errs []error
	for b, err := range blocks {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result = append(result, b)
	}
	return result, errs
}

// Validate checks that blocks are non-empty, contiguous and end at
// archiveLen.
func Validate(blocks []*Block, archiveLen uint64) error {
	for i, b := range blocks {
		if b.Start >= b.End {
			return fmt.Errorf("%w: block %d: start %d is not before end %d", ErrInvalidPartition, i, b.Start, b.End)
		}
		if i > 0 && blocks[i-1].End != b.Start {
			return fmt.Errorf("%w: block %d: starts at %d, previous block ends at %d", ErrInvalidPartition, i, b.Start, blocks[i-1].End)
		}
	}
	if len(blocks) > 0 && blocks[len(blocks)-1].End != archiveLen {
		return fmt.Errorf("%w: last block ends at %d, archive length is %d", ErrInvalidPartition, blocks[len(blocks)-1].End, archiveLen)
	}
	return nil
}

type titleEntry struct {
	title string
	block *Block
	id    uint64
}

// Catalog is an in-memory block catalog.
type Catalog struct {
	blocks []*Block
	titles *index.Index[*titleEntry]
	ids    map[uint64]*titleEntry
}

// New returns a catalog of the given blocks, which must be ordered by offset.
func New(blocks []*Block) *Catalog {
	var entries []*titleEntry
	ids := map[uint64]*titleEntry{}
	for _, b := range blocks {
		for _, m := range b.Members {
			e := &titleEntry{title: idx.UnescapeTitle(m.Title), block: b, id: m.ID}
			entries = append(entries, e)
			ids[m.ID] = e
		}
	}
	return &Catalog{
		blocks: blocks,
		titles: index.New(entries, func(e *titleEntry) string { return e.title }, strings.Compare),
		ids:    ids,
	}
}

// Build reads records and returns a catalog. It stops at the first error.
func Build(records iter.Seq2[*idx.Record, error], archiveLen uint64) (*Catalog, error) {
	var blocks []*Block
	for b, err := range Blocks(records, archiveLen) {
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return New(blocks), nil
}

// Blocks returns the blocks in offset order.
func (c *Catalog) Blocks() []*Block {
	return c.blocks
}

// Lookup returns the block holding title and the title's article id. If a
// title occurs more than once, the later occurrence is returned. Titles are
// matched after decoding character references.
func (c *Catalog) Lookup(title string) (*Block, uint64, bool) {
	e, ok := c.titles.Last(idx.UnescapeTitle(title))
	if !ok {
		return nil, 0, false
	}
	return e.block, e.id, true
}

// LookupID returns the block holding the article with the given id and the
// article's decoded title.
func (c *Catalog) LookupID(id uint64) (*Block, string, bool) {
	e, ok := c.ids[id]
	if !ok {
		return nil, "", false
	}
	return e.block, e.title, true
}

// Len returns the number of index records in the catalog.
func (c *Catalog) Len() int {
	return c.titles.Len()
}

// BlockAt returns the block whose range contains offset.
func (c *Catalog) BlockAt(offset uint64) (*Block, bool) {
	i := sort.Search(len(c.blocks), func(i int) bool {
		return c.blocks[i].End > offset
	})
	if i == len(c.blocks) || c.blocks[i].Start > offset {
		return nil, false
	}
	return c.blocks[i], true
}
