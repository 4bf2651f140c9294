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
	"cmp"
	"context"
	"fmt"
	"os"
	"runtime"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ianlewis/go-multistream/block"
	"github.com/ianlewis/go-multistream/catalog"
	"github.com/ianlewis/go-multistream/idx"
	"github.com/ianlewis/go-multistream/page"
	"github.com/ianlewis/go-multistream/store"
)

// VerifyOptions are options for Verify.
type VerifyOptions struct {
	// Jobs is the number of blocks decoded concurrently. Zero means the
	// number of CPUs.
	Jobs int

	// Codec is the compression codec of the archive. If nil, it is picked
	// from the archive's file extension.
	Codec block.Codec

	// VerifyDigest also verifies the archive contents against the digest
	// recorded in the title index.
	VerifyDigest bool

	// Logger receives progress. If nil, the standard logrus logger is used.
	Logger logrus.FieldLogger
}

// DefaultVerifyOptions is the default options for Verify.
var DefaultVerifyOptions = &VerifyOptions{}

// BlockError is a problem found in one block.
type BlockError struct {
	// Start is the offset of the block.
	Start uint64

	// End is the offset following the block.
	End uint64

	// Err describes the problem.
	Err error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block [%d, %d): %v", e.Start, e.End, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}

// VerifyReport is the result of Verify.
type VerifyReport struct {
	// Blocks is the number of blocks checked.
	Blocks int

	// Titles is the number of index records checked.
	Titles int

	// Problems are the problems found, ordered by block offset.
	Problems []*BlockError
}

// OK returns true if no problems were found.
func (r *VerifyReport) OK() bool {
	return len(r.Problems) == 0
}

// Verify checks the title index at storePath against the archive at
// archivePath. Every block is decompressed and every index record is located
// in its block. The blocks must partition the archive.
//
// Problems with the archive are collected in the report. An error is
// returned only if verification could not run to completion.
func Verify(ctx context.Context, archivePath, storePath, version string, options *VerifyOptions) (*VerifyReport, error) {
	if options == nil {
		options = DefaultVerifyOptions
	}
	log := logger(options.Logger)
	jobs := options.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	codec := options.Codec
	if codec == nil {
		c, err := block.CodecForPath(archivePath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", archivePath, err)
		}
		codec = c
	}

	id, err := store.NewIdentity(archivePath, version)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(storePath, id, &store.Options{
		Logger:       options.Logger,
		VerifyDigest: options.VerifyDigest,
	})
	if err != nil {
		return nil, err
	}
	defer s.Close()

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	dec := block.New(f, &block.Options{Codec: codec})

	report := &VerifyReport{}
	var mu sync.Mutex
	problem := func(b *catalog.Block, err error) {
		mu.Lock()
		defer mu.Unlock()
		report.Problems = append(report.Problems, &BlockError{Start: b.Start, End: b.End, Err: err})
	}

	var ranges []*catalog.Block
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	err = s.ForEachBlock(func(b *catalog.Block) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		ranges = append(ranges, &catalog.Block{Start: b.Start, End: b.End})
		report.Blocks++
		report.Titles += len(b.Members)
		if report.Blocks%1000 == 0 {
			log.WithFields(logrus.Fields{
				"blocks": report.Blocks,
				"offset": b.Start,
			}).Info("verifying blocks")
		}

		g.Go(func() error {
			for _, err := range verifyBlock(dec, b) {
				problem(b, err)
			}
			return nil
		})
		return nil
	})
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return nil, fmt.Errorf("verifying %s: %w", storePath, err)
	}

	//nolint:gosec // file sizes are never negative.
	if err := catalog.Validate(ranges, uint64(fi.Size())); err != nil {
		report.Problems = append(report.Problems, &BlockError{Err: err})
	}
	slices.SortStableFunc(report.Problems, func(a, b *BlockError) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return report, nil
}

// verifyBlock decodes b and checks that each of its members is in it.
func verifyBlock(dec *block.Decoder, b *catalog.Block) []error {
	payload, err := dec.Decode(b.Start, b.End)
	if err != nil {
		return []error{err}
	}

	found := map[uint64]string{}
	s := page.NewScanner(payload)
	for s.Scan() {
		found[s.Page().ID] = s.Page().Title
	}
	if err := s.Err(); err != nil {
		return []error{err}
	}

	var errs []error
	for _, m := range b.Members {
		title, ok := found[m.ID]
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%w: id %d (%q)", page.ErrDocumentNotFound, m.ID, m.Title))
		case title != idx.UnescapeTitle(m.Title):
			errs = append(errs, fmt.Errorf("%w: id %d has title %q, index has %q", page.ErrDocumentNotFound, m.ID, title, m.Title))
		}
	}
	return errs
}
