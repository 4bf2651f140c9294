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

package store_test

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/ianlewis/go-multistream/catalog"
	"github.com/ianlewis/go-multistream/idx"
	"github.com/ianlewis/go-multistream/store"
)

func blocksOf(t *testing.T, archiveLen uint64, lines ...string) iter.Seq2[*catalog.Block, error] {
	t.Helper()

	var recs []*idx.Record
	for i, line := range lines {
		rec, err := idx.ParseLine(line)
		require.NoError(t, err)
		rec.Line = i + 1
		recs = append(recs, rec)
	}
	return catalog.Blocks(func(yield func(*idx.Record, error) bool) {
		for _, rec := range recs {
			if !yield(rec, nil) {
				return
			}
		}
	}, archiveLen)
}

func identity(t *testing.T, dir, version string) store.Identity {
	t.Helper()

	id, err := store.NewIdentity(filepath.Join(dir, "archive.xml.bz2"), version)
	require.NoError(t, err)
	return id
}

var scenario = []string{"0:1:Alpha", "0:2:Beta", "500:3:Gamma"}

func TestBuild(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	id := identity(t, dir, "20240101")

	s, err := store.Build(path, id, blocksOf(t, 900, scenario...), &store.Options{BatchSize: 1})
	require.NoError(t, err)
	defer s.Close()

	e, ok, err := s.Lookup("Beta")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.Entry{Start: 0, End: 500, ID: 2}, e)

	e, ok, err = s.Lookup("Gamma")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.Entry{Start: 500, End: 900, ID: 3}, e)

	_, ok, err = s.Lookup("Delta")
	require.NoError(t, err)
	require.False(t, ok)

	// Titles are case sensitive.
	_, ok, err = s.Lookup("beta")
	require.NoError(t, err)
	require.False(t, ok)

	title, ok, err := s.LookupByID(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Gamma", title)

	e, ok, err = s.EntryByID(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.Entry{Start: 0, End: 500, ID: 1}, e)

	_, ok, err = s.LookupByID(4)
	require.NoError(t, err)
	require.False(t, ok)

	stats := s.Stats()
	require.Equal(t, id, stats.Identity)
	require.Equal(t, uint64(2), stats.Blocks)
	require.Equal(t, uint64(3), stats.Titles)
	require.Equal(t, uint64(0), stats.Duplicates)
	require.NotEmpty(t, s.BuildID())
	require.Equal(t, s.BuildID(), stats.BuildID)

	// No build artifacts are left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestBuild_duplicateLaterWins(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	s, err := store.Build(path, identity(t, dir, "v1"), blocksOf(t, 900, "0:1:Alpha", "0:2:Beta", "500:3:Alpha"), nil)
	require.NoError(t, err)
	defer s.Close()

	e, ok, err := s.Lookup("Alpha")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.Entry{Start: 500, End: 900, ID: 3}, e)

	// The earlier record is still reachable by id.
	e, ok, err = s.EntryByID(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.Entry{Start: 0, End: 500, ID: 1}, e)

	require.Equal(t, uint64(2), s.Stats().Titles)
	require.Equal(t, uint64(1), s.Stats().Duplicates)
}

func TestBuild_idempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	id := identity(t, dir, "v1")
	lines := []string{"0:1:Alpha", "0:2:Beta", "500:3:Gamma", "700:4:Delta", "700:5:Alpha"}
	titles := []string{"Alpha", "Beta", "Gamma", "Delta", "Epsilon"}

	lookupAll := func(s *store.Store) map[string]store.Entry {
		got := map[string]store.Entry{}
		for _, title := range titles {
			e, ok, err := s.Lookup(title)
			require.NoError(t, err)
			if ok {
				got[title] = e
			}
		}
		return got
	}

	s1, err := store.Build(path, id, blocksOf(t, 1000, lines...), nil)
	require.NoError(t, err)
	first := lookupAll(s1)
	buildID := s1.BuildID()
	require.NoError(t, s1.Close())

	s2, err := store.Build(path, id, blocksOf(t, 1000, lines...), nil)
	require.NoError(t, err)
	defer s2.Close()

	require.Equal(t, first, lookupAll(s2))
	require.NotEqual(t, buildID, s2.BuildID())
}

func TestBuild_error(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	_, err := store.Build(path, identity(t, dir, "v1"), blocksOf(t, 900, "200:1:A", "100:2:B", "300:3:C"), nil)
	require.ErrorIs(t, err, catalog.ErrUnsortedIndex)

	// Neither a store nor a lock nor a temporary file remains.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestOpen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	id := identity(t, dir, "20240101")

	s, err := store.Build(path, id, blocksOf(t, 900, scenario...), nil)
	require.NoError(t, err)
	buildID := s.BuildID()
	require.NoError(t, s.Close())

	// Read-only handles can be opened concurrently.
	s1, err := store.Open(path, id, nil)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := store.Open(path, id, nil)
	require.NoError(t, err)
	defer s2.Close()

	require.Equal(t, buildID, s1.BuildID())
	e, ok, err := s2.Lookup("Alpha")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, store.Entry{Start: 0, End: 500, ID: 1}, e)
}

func TestOpen_versionMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	id := identity(t, dir, "20240101")

	s, err := store.Build(path, id, blocksOf(t, 900, scenario...), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	tests := []struct {
		name  string
		id    store.Identity
		field string
	}{
		{
			name:  "version",
			id:    identity(t, dir, "20240201"),
			field: "version",
		},
		{
			name:  "path",
			id:    identity(t, t.TempDir(), "20240101"),
			field: "path",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := store.Open(path, tc.id, nil)
			require.ErrorIs(t, err, store.ErrArchiveVersionMismatch)

			var mismatch *store.VersionMismatchError
			require.True(t, errors.As(err, &mismatch))
			require.Equal(t, tc.field, mismatch.Field)
		})
	}
}

func TestOpen_verifyDigest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	archive := filepath.Join(dir, "archive.xml.bz2")
	require.NoError(t, os.WriteFile(archive, []byte("archive contents"), 0o600))

	id, err := store.NewIdentity(archive, "v1")
	require.NoError(t, err)
	withDigest, err := id.WithDigest()
	require.NoError(t, err)
	require.NotEmpty(t, withDigest.Digest)

	path := filepath.Join(dir, "index.db")
	s, err := store.Build(path, withDigest, blocksOf(t, 900, scenario...), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	verify := &store.Options{VerifyDigest: true}

	s, err = store.Open(path, id, verify)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// The identity still matches but the contents changed.
	require.NoError(t, os.WriteFile(archive, []byte("different contents"), 0o600))
	s, err = store.Open(path, id, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = store.Open(path, id, verify)
	require.ErrorIs(t, err, store.ErrArchiveVersionMismatch)

	noDigest := filepath.Join(dir, "nodigest.db")
	s, err = store.Build(noDigest, id, blocksOf(t, 900, scenario...), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	_, err = store.Open(noDigest, id, verify)
	require.ErrorIs(t, err, store.ErrNoDigest)
}

func TestOpen_buildInProgress(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	id := identity(t, dir, "v1")

	s, err := store.Build(path, id, blocksOf(t, 900, scenario...), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	lock, err := store.AcquireLock(path)
	require.NoError(t, err)

	_, err = store.Open(path, id, nil)
	require.ErrorIs(t, err, store.ErrStoreBuildInProgress)
	_, err = store.Build(path, id, blocksOf(t, 900, scenario...), nil)
	require.ErrorIs(t, err, store.ErrStoreBuildInProgress)

	require.NoError(t, lock.Release())

	s, err = store.Open(path, id, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestOpen_missing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := store.Open(filepath.Join(dir, "index.db"), identity(t, dir, "v1"), nil)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOpen_incompatible(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "other.db")
	db, err := bolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucket([]byte("daemons"))
		return err
	}))
	require.NoError(t, db.Close())

	_, err = store.Open(path, identity(t, dir, "v1"), nil)
	require.ErrorIs(t, err, store.ErrIncompatibleStore)
}

func TestLookup_escaped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	lines := []string{
		"0:1:AT&amp;T",
		"0:2:Rock &#039;n&#039; roll",
		"500:3:Gamma",
	}
	s, err := store.Build(path, identity(t, dir, "v1"), blocksOf(t, 900, lines...), nil)
	require.NoError(t, err)
	defer s.Close()

	for _, title := range []string{"AT&T", "AT&amp;T"} {
		e, ok, err := s.Lookup(title)
		require.NoError(t, err)
		require.True(t, ok, title)
		require.Equal(t, store.Entry{Start: 0, End: 500, ID: 1}, e)
	}

	title, ok, err := s.LookupByID(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Rock 'n' roll", title)

	got, err := s.LookupFolded("at&t")
	require.NoError(t, err)
	require.Equal(t, []string{"AT&T"}, got)

	got, err = s.SearchPrefix("rock &#039;n", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"Rock 'n' roll"}, got)
}

func TestLookupFolded(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	lines := []string{
		"0:1:The Matrix",
		"0:2:The Matrix Reloaded",
		"500:3:the matrix",
		"500:4:Zion",
	}
	s, err := store.Build(path, identity(t, dir, "v1"), blocksOf(t, 900, lines...), nil)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LookupFolded("THE_MATRIX ")
	require.NoError(t, err)
	require.Equal(t, []string{"The Matrix", "the matrix"}, got)

	got, err = s.LookupFolded("Matrix")
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = s.SearchPrefix("the matrix", 0)
	require.NoError(t, err)
	require.Equal(t, []string{"The Matrix", "the matrix", "The Matrix Reloaded"}, got)

	got, err = s.SearchPrefix("the m", 1)
	require.NoError(t, err)
	require.Equal(t, []string{"The Matrix"}, got)
}

func TestForEachBlock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	s, err := store.Build(path, identity(t, dir, "v1"), blocksOf(t, 900, scenario...), nil)
	require.NoError(t, err)
	defer s.Close()

	want, errs := catalog.Collect(blocksOf(t, 900, scenario...))
	require.Empty(t, errs)

	var got []*catalog.Block
	require.NoError(t, s.ForEachBlock(func(b *catalog.Block) error {
		got = append(got, b)
		return nil
	}))
	require.Equal(t, want, got)

	b, ok, err := s.Block(500)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, want[1], b)

	_, ok, err = s.Block(100)
	require.NoError(t, err)
	require.False(t, ok)

	stop := errors.New("stop")
	calls := 0
	err = s.ForEachBlock(func(*catalog.Block) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "index.db")

	locked, err := store.Locked(path)
	require.NoError(t, err)
	require.False(t, locked)

	lock, err := store.AcquireLock(path)
	require.NoError(t, err)
	require.NotEmpty(t, lock.Token())

	locked, err = store.Locked(path)
	require.NoError(t, err)
	require.True(t, locked)

	_, err = store.AcquireLock(path)
	require.ErrorIs(t, err, store.ErrStoreBuildInProgress)

	require.NoError(t, lock.Release())
	require.Error(t, lock.Release())

	// A lock taken over by another holder is not released.
	lock, err = store.AcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path+".lock", []byte("someone else\n"), 0o600))
	require.Error(t, lock.Release())
}
