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

// Package store implements a persistent title index for multistream
// archives.
//
// A store maps article titles and ids to the byte range of the block that
// holds them. It is built once per archive version and opened read-only
// afterwards, so any number of readers in any number of processes may share
// it. Lookups are point reads against an on-disk B+tree and never load the
// whole index into memory.
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/ianlewis/go-multistream/catalog"
	"github.com/ianlewis/go-multistream/idx"
	"github.com/ianlewis/go-multistream/internal/folding"
)

// formatVersion is the version of the store layout. Version 2 keys titles by
// their decoded form.
const formatVersion = 2

// DefaultBatchSize is the default number of titles written per transaction.
const DefaultBatchSize = 50000

// Bucket names
var (
	metaBucket   = []byte("meta")   // info=<Stats>
	titlesBucket = []byte("titles") // <title>=<entry>
	idsBucket    = []byte("ids")    // <id>=<entry><title>
	blocksBucket = []byte("blocks") // <start>=<catalog.Block>
	foldedBucket = []byte("folded") // <folded title>\x00<title>=
)

var infoKey = []byte("info")

const entrySize = 24

var (
	// ErrArchiveVersionMismatch indicates that the store was built from a
	// different archive. The store must be rebuilt before it can be used.
	ErrArchiveVersionMismatch = errors.New("archive version mismatch")

	// ErrStoreBuildInProgress indicates that a build holds the store's lock.
	ErrStoreBuildInProgress = errors.New("store build in progress")

	// ErrNoDigest indicates that digest verification was requested for a
	// store built without an archive digest.
	ErrNoDigest = errors.New("store has no archive digest")

	// ErrIncompatibleStore indicates a file that is not a store or was
	// written with an unsupported layout.
	ErrIncompatibleStore = errors.New("incompatible store")
)

// Entry is the location of an article in the archive.
type Entry struct {
	// Start is the offset of the article's block.
	Start uint64

	// End is the offset following the article's block.
	End uint64

	// ID is the article id.
	ID uint64
}

func (e Entry) encode() []byte {
	b := make([]byte, entrySize)
	binary.BigEndian.PutUint64(b[0:], e.Start)
	binary.BigEndian.PutUint64(b[8:], e.End)
	binary.BigEndian.PutUint64(b[16:], e.ID)
	return b
}

func decodeEntry(b []byte) (Entry, error) {
	if len(b) < entrySize {
		return Entry{}, fmt.Errorf("%w: entry is %d bytes", ErrIncompatibleStore, len(b))
	}
	return Entry{
		Start: binary.BigEndian.Uint64(b[0:]),
		End:   binary.BigEndian.Uint64(b[8:]),
		ID:    binary.BigEndian.Uint64(b[16:]),
	}, nil
}

func uint64Key(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// Stats describes a built store.
type Stats struct {
	// Format is the store layout version.
	Format int `json:"format"`

	// Identity is the archive the store was built from.
	Identity Identity `json:"identity"`

	// BuildID uniquely identifies the build.
	BuildID string `json:"build_id"`

	// BuiltAt is the time the build finished.
	BuiltAt time.Time `json:"built_at"`

	// Blocks is the number of blocks.
	Blocks uint64 `json:"blocks"`

	// Titles is the number of distinct titles.
	Titles uint64 `json:"titles"`

	// Duplicates is the number of index records whose title replaced an
	// earlier record with the same title.
	Duplicates uint64 `json:"duplicates"`
}

// Options are options for building and opening a store.
type Options struct {
	// Logger receives build progress. If nil, the standard logrus logger is
	// used.
	Logger logrus.FieldLogger

	// BatchSize is the number of titles written per transaction.
	BatchSize int

	// VerifyDigest re-hashes the archive on Open and compares it with the
	// digest recorded at build time.
	VerifyDigest bool
}

// DefaultOptions is the default options.
var DefaultOptions = &Options{
	BatchSize: DefaultBatchSize,
}

func (o *Options) logger() logrus.FieldLogger {
	if o == nil || o.Logger == nil {
		return logrus.StandardLogger()
	}
	return o.Logger
}

// Store is an opened, read-only title index. It is safe for concurrent use.
type Store struct {
	path  string
	db    *bolt.DB
	stats Stats
}

// Open opens the store at path for reading. The store must have been built
// from the archive described by id.
func Open(path string, id Identity, options *Options) (*Store, error) {
	if options == nil {
		options = DefaultOptions
	}

	locked, err := Locked(path)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, fmt.Errorf("%w: %s", ErrStoreBuildInProgress, path)
	}

	s, err := openDB(path)
	if err != nil {
		return nil, err
	}

	if err := s.stats.Identity.check(id); err != nil {
		s.Close()
		return nil, err
	}

	if options.VerifyDigest {
		if err := s.verifyDigest(id.Path); err != nil {
			s.Close()
			return nil, err
		}
	}

	options.logger().WithFields(logrus.Fields{
		"store":    path,
		"archive":  s.stats.Identity.Path,
		"version":  s.stats.Identity.Version,
		"build_id": s.stats.BuildID,
	}).Debug("opened index store")

	return s, nil
}

func openDB(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{
		ReadOnly: true,
		Timeout:  time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	s := &Store{
		path: path,
		db:   db,
	}
	if err := s.loadStats(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) loadStats() error {
	return s.db.View(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, titlesBucket, idsBucket, blocksBucket, foldedBucket} {
			if tx.Bucket(name) == nil {
				return fmt.Errorf("%w: %s: missing bucket %q", ErrIncompatibleStore, s.path, name)
			}
		}
		value := tx.Bucket(metaBucket).Get(infoKey)
		if value == nil {
			return fmt.Errorf("%w: %s: missing build info", ErrIncompatibleStore, s.path)
		}
		if err := json.Unmarshal(value, &s.stats); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrIncompatibleStore, s.path, err)
		}
		if s.stats.Format != formatVersion {
			return fmt.Errorf("%w: %s: format %d, want %d", ErrIncompatibleStore, s.path, s.stats.Format, formatVersion)
		}
		return nil
	})
}

func (s *Store) verifyDigest(archivePath string) error {
	stored := s.stats.Identity.Digest
	if stored == "" {
		return fmt.Errorf("%w: %s", ErrNoDigest, s.path)
	}
	got, err := digestFile(archivePath)
	if err != nil {
		return err
	}
	if got != stored {
		return &VersionMismatchError{Field: "digest", Stored: stored.String(), Requested: got.String()}
	}
	return nil
}

// Path returns the path of the store file.
func (s *Store) Path() string {
	return s.path
}

// Stats returns the build statistics of the store.
func (s *Store) Stats() Stats {
	return s.stats
}

// BuildID returns the unique id of the build that wrote the store. A rebuilt
// store always has a new build id.
func (s *Store) BuildID() string {
	return s.stats.BuildID
}

// Identity returns the identity of the archive the store was built from.
func (s *Store) Identity() Identity {
	return s.stats.Identity
}

// Lookup returns the location of the article with the given title.
// Character references in title are decoded before the lookup.
func (s *Store) Lookup(title string) (Entry, bool, error) {
	var e Entry
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(titlesBucket).Get([]byte(idx.UnescapeTitle(title)))
		if value == nil {
			return nil
		}
		var err error
		e, err = decodeEntry(value)
		ok = err == nil
		return err
	})
	return e, ok, err
}

// LookupByID returns the decoded title of the article with the given id.
func (s *Store) LookupByID(id uint64) (string, bool, error) {
	_, title, ok, err := s.byID(id)
	return title, ok, err
}

// EntryByID returns the location of the article with the given id.
func (s *Store) EntryByID(id uint64) (Entry, bool, error) {
	e, _, ok, err := s.byID(id)
	return e, ok, err
}

func (s *Store) byID(id uint64) (Entry, string, bool, error) {
	var e Entry
	var title string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(idsBucket).Get(uint64Key(id))
		if value == nil {
			return nil
		}
		var err error
		if e, err = decodeEntry(value); err != nil {
			return err
		}
		title = string(value[entrySize:])
		ok = true
		return nil
	})
	return e, title, ok, err
}

// LookupFolded returns the titles that equal query when case, underscores
// and runs of whitespace are ignored. Titles are returned in key order.
func (s *Store) LookupFolded(query string) ([]string, error) {
	folded, err := folding.FoldTitle(idx.UnescapeTitle(query))
	if err != nil {
		return nil, fmt.Errorf("folding %q: %w", query, err)
	}
	return s.scanFolded(append([]byte(folded), 0), 0)
}

// SearchPrefix returns up to limit titles whose folded form starts with the
// folded query. A limit of zero or less returns all matches.
func (s *Store) SearchPrefix(query string, limit int) ([]string, error) {
	folded, err := folding.FoldTitle(idx.UnescapeTitle(query))
	if err != nil {
		return nil, fmt.Errorf("folding %q: %w", query, err)
	}
	return s.scanFolded([]byte(folded), limit)
}

func (s *Store) scanFolded(prefix []byte, limit int) ([]string, error) {
	var titles []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(foldedBucket).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			i := bytes.IndexByte(k, 0)
			if i < 0 {
				return fmt.Errorf("%w: folded key %q", ErrIncompatibleStore, k)
			}
			titles = append(titles, string(k[i+1:]))
			if limit > 0 && len(titles) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return titles, nil
}

// Block returns the block starting at offset start.
func (s *Store) Block(start uint64) (*catalog.Block, bool, error) {
	var b *catalog.Block
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(blocksBucket).Get(uint64Key(start))
		if value == nil {
			return nil
		}
		b = &catalog.Block{}
		if err := json.Unmarshal(value, b); err != nil {
			return fmt.Errorf("%w: block at offset %d: %w", ErrIncompatibleStore, start, err)
		}
		return nil
	})
	return b, b != nil, err
}

// ForEachBlock calls fn for every block in offset order. Iteration stops at
// the first error returned by fn.
func (s *Store) ForEachBlock(fn func(*catalog.Block) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blocksBucket).ForEach(func(k, v []byte) error {
			b := &catalog.Block{}
			if err := json.Unmarshal(v, b); err != nil {
				return fmt.Errorf("%w: block %x: %w", ErrIncompatibleStore, k, err)
			}
			return fn(b)
		})
	})
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}
