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
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
)

// Identity identifies the archive a store was built from.
type Identity struct {
	// Path is the absolute path of the archive.
	Path string `json:"path"`

	// Version is the declared version of the archive, e.g. the dump date.
	Version string `json:"version"`

	// Digest is the optional content digest of the archive.
	Digest digest.Digest `json:"digest,omitempty"`
}

// NewIdentity returns the identity of the archive at path with the given
// version.
func NewIdentity(path, version string) (Identity, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Identity{}, fmt.Errorf("resolving archive path: %w", err)
	}
	return Identity{
		Path:    abs,
		Version: version,
	}, nil
}

// WithDigest returns a copy of id with the sha256 digest of the archive
// contents. It reads the whole archive.
func (id Identity) WithDigest() (Identity, error) {
	d, err := digestFile(id.Path)
	if err != nil {
		return Identity{}, err
	}
	id.Digest = d
	return id, nil
}

func (id Identity) String() string {
	if id.Digest != "" {
		return fmt.Sprintf("%s@%s (%s)", id.Path, id.Version, id.Digest)
	}
	return fmt.Sprintf("%s@%s", id.Path, id.Version)
}

func digestFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	d, err := digest.SHA256.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("hashing archive: %w", err)
	}
	return d, nil
}

// VersionMismatchError indicates that a store was built from a different
// archive than the one requested.
type VersionMismatchError struct {
	// Field is the identity field that differs.
	Field string

	// Stored is the value recorded in the store.
	Stored string

	// Requested is the value requested by the caller.
	Requested string
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("%v: store has archive %s %q, requested %q", ErrArchiveVersionMismatch, e.Field, e.Stored, e.Requested)
}

// Is reports whether target is ErrArchiveVersionMismatch.
func (e *VersionMismatchError) Is(target error) bool {
	return target == ErrArchiveVersionMismatch
}

// check compares the requested identity with the stored one. Digests are
// compared only if both are known.
func (id Identity) check(requested Identity) error {
	if id.Path != requested.Path {
		return &VersionMismatchError{Field: "path", Stored: id.Path, Requested: requested.Path}
	}
	if id.Version != requested.Version {
		return &VersionMismatchError{Field: "version", Stored: id.Version, Requested: requested.Version}
	}
	if id.Digest != "" && requested.Digest != "" && id.Digest != requested.Digest {
		return &VersionMismatchError{Field: "digest", Stored: id.Digest.String(), Requested: requested.Digest.String()}
	}
	return nil
}
