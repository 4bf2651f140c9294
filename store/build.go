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

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/ianlewis/go-multistream/catalog"
	"github.com/ianlewis/go-multistream/idx"
	"github.com/ianlewis/go-multistream/internal/folding"
)

// Build builds a store at path from blocks and opens it. The build holds the
// store's lock for its duration and writes to a temporary file that replaces
// path only when the build succeeds, so readers never observe a partial
// store.
//
// If a title occurs more than once, the later occurrence is kept.
func Build(path string, id Identity, blocks iter.Seq2[*catalog.Block, error], options *Options) (s *Store, err error) {
	if options == nil {
		options = DefaultOptions
	}
	batchSize := options.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	lock, err := AcquireLock(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil && err == nil {
			if s != nil {
				s.Close()
				s = nil
			}
			err = rerr
		}
	}()

	b := &builder{
		log: options.logger().WithFields(logrus.Fields{
			"store":   path,
			"archive": id.Path,
			"version": id.Version,
		}),
		stats: Stats{
			Format:   formatVersion,
			Identity: id,
			BuildID:  uuid.NewString(),
		},
	}
	b.log.WithField("build_id", b.stats.BuildID).Info("building index store")
	began := time.Now()

	tmp := path + ".tmp-" + lock.Token()
	db, err := bolt.Open(tmp, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	b.db = db
	if err := b.build(blocks, batchSize); err != nil {
		db.Close()
		os.Remove(tmp)
		return nil, err
	}
	if err := db.Close(); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("closing store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("replacing store: %w", err)
	}

	b.log.WithFields(logrus.Fields{
		"blocks":     b.stats.Blocks,
		"titles":     b.stats.Titles,
		"duplicates": b.stats.Duplicates,
		"duration":   time.Since(began).Round(time.Millisecond),
	}).Info("built index store")

	return openDB(path)
}

type builder struct {
	db    *bolt.DB
	log   logrus.FieldLogger
	stats Stats

	pending []*catalog.Block
	titles  int
}

func (b *builder) build(blocks iter.Seq2[*catalog.Block, error], batchSize int) error {
	if err := b.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, titlesBucket, idsBucket, blocksBucket, foldedBucket} {
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("initializing store: %w", err)
	}

	for blk, err := range blocks {
		if err != nil {
			return fmt.Errorf("building store: %w", err)
		}
		if blk == nil {
			return errors.New("building store: nil block")
		}
		b.pending = append(b.pending, blk)
		b.titles += len(blk.Members)
		if b.titles >= batchSize {
			if err := b.flush(); err != nil {
				return err
			}
		}
	}
	if err := b.flush(); err != nil {
		return err
	}

	b.stats.BuiltAt = time.Now().UTC()
	return b.db.Update(func(tx *bolt.Tx) error {
		value, err := json.Marshal(b.stats)
		if err != nil {
			return fmt.Errorf("marshalling build info: %w", err)
		}
		return tx.Bucket(metaBucket).Put(infoKey, value)
	})
}

// flush writes the pending blocks in a single transaction.
func (b *builder) flush() error {
	if len(b.pending) == 0 {
		return nil
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		for _, blk := range b.pending {
			if err := b.put(tx, blk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing blocks: %w", err)
	}

	last := b.pending[len(b.pending)-1]
	b.log.WithFields(logrus.Fields{
		"blocks": b.stats.Blocks,
		"titles": b.stats.Titles,
		"offset": last.End,
	}).Debug("committed batch")

	b.pending = b.pending[:0]
	b.titles = 0
	return nil
}

func (b *builder) put(tx *bolt.Tx, blk *catalog.Block) error {
	titles := tx.Bucket(titlesBucket)
	ids := tx.Bucket(idsBucket)
	folded := tx.Bucket(foldedBucket)

	value, err := json.Marshal(blk)
	if err != nil {
		return fmt.Errorf("marshalling block at offset %d: %w", blk.Start, err)
	}
	if err := tx.Bucket(blocksBucket).Put(uint64Key(blk.Start), value); err != nil {
		return fmt.Errorf("block at offset %d: %w", blk.Start, err)
	}
	b.stats.Blocks++

	for _, m := range blk.Members {
		title := idx.UnescapeTitle(m.Title)
		key := []byte(title)
		e := Entry{Start: blk.Start, End: blk.End, ID: m.ID}

		if prev := titles.Get(key); prev != nil {
			old, err := decodeEntry(prev)
			if err != nil {
				return err
			}
			b.stats.Duplicates++
			b.log.WithFields(logrus.Fields{
				"title":           title,
				"previous_id":     old.ID,
				"previous_offset": old.Start,
				"id":              m.ID,
				"offset":          blk.Start,
			}).Debug("duplicate title, keeping later occurrence")
		} else {
			b.stats.Titles++
		}

		if err := titles.Put(key, e.encode()); err != nil {
			return fmt.Errorf("title %q: %w", title, err)
		}
		if err := ids.Put(uint64Key(m.ID), append(e.encode(), title...)); err != nil {
			return fmt.Errorf("id %d: %w", m.ID, err)
		}

		f, err := folding.FoldTitle(title)
		if err != nil {
			return fmt.Errorf("folding %q: %w", title, err)
		}
		fkey := make([]byte, 0, len(f)+1+len(title))
		fkey = append(fkey, f...)
		fkey = append(fkey, 0)
		fkey = append(fkey, title...)
		if err := folded.Put(fkey, []byte{}); err != nil {
			return fmt.Errorf("title %q: %w", title, err)
		}
	}
	return nil
}
