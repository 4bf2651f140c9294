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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/ianlewis/go-multistream/catalog"
	"github.com/ianlewis/go-multistream/idx"
	"github.com/ianlewis/go-multistream/store"
)

// BuildOptions are options for building a title index.
type BuildOptions struct {
	// Index are the options for reading the offset index.
	Index *idx.Options

	// BatchSize is the number of titles written per transaction.
	BatchSize int

	// Digest records the sha256 digest of the archive so that readers can
	// verify the archive contents later. It requires reading the whole
	// archive.
	Digest bool

	// Logger receives build progress. If nil, the standard logrus logger is
	// used.
	Logger logrus.FieldLogger
}

// DefaultBuildOptions is the default options for building a title index.
var DefaultBuildOptions = &BuildOptions{
	Index:     idx.DefaultOptions,
	BatchSize: store.DefaultBatchSize,
}

// Build builds the title index at storePath from the offset index at
// indexPath for the archive at archivePath. Any existing title index at
// storePath is replaced when the build succeeds.
func Build(indexPath, archivePath, storePath, version string, options *BuildOptions) (*store.Store, error) {
	if options == nil {
		options = DefaultBuildOptions
	}

	fi, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("opening archive: %s is a directory", archivePath)
	}

	id, err := store.NewIdentity(archivePath, version)
	if err != nil {
		return nil, err
	}
	if options.Digest {
		if id, err = id.WithDigest(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(storePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	records := idx.File(indexPath, options.Index)
	//nolint:gosec // file sizes are never negative.
	blocks := catalog.Blocks(records, uint64(fi.Size()))

	s, err := store.Build(storePath, id, blocks, &store.Options{
		Logger:    options.Logger,
		BatchSize: options.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("building %s from %s: %w", storePath, indexPath, err)
	}
	return s, nil
}

// EnsureStore opens the title index at storePath, building it first if it
// does not exist, was built for a different archive, or has an unsupported
// format. It returns true if the index was built.
func EnsureStore(indexPath, archivePath, storePath, version string, options *BuildOptions) (*store.Store, bool, error) {
	if options == nil {
		options = DefaultBuildOptions
	}

	id, err := store.NewIdentity(archivePath, version)
	if err != nil {
		return nil, false, err
	}
	s, err := store.Open(storePath, id, &store.Options{Logger: options.Logger})
	switch {
	case err == nil:
		return s, false, nil
	case errors.Is(err, fs.ErrNotExist),
		errors.Is(err, store.ErrArchiveVersionMismatch),
		errors.Is(err, store.ErrIncompatibleStore):
		logger(options.Logger).WithError(err).Info("rebuilding title index")
	default:
		return nil, false, err
	}

	s, err = Build(indexPath, archivePath, storePath, version, options)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func logger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}
