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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/google/uuid"
)

const lockSuffix = ".lock"

// Lock is an exclusive build lock on a store location. The lock is a marker
// file next to the store that holds a random token.
type Lock struct {
	path  string
	token string
}

// AcquireLock acquires the build lock for the store at storePath. It fails
// with ErrStoreBuildInProgress if the lock is held.
func AcquireLock(storePath string) (*Lock, error) {
	path := storePath + lockSuffix
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			owner, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w: %s held by %q", ErrStoreBuildInProgress, path, strings.TrimSpace(string(owner)))
		}
		return nil, fmt.Errorf("creating lock: %w", err)
	}

	l := &Lock{
		path:  path,
		token: uuid.NewString(),
	}
	if _, err := f.WriteString(l.token + "\n"); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing lock: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing lock: %w", err)
	}
	return l, nil
}

// Token returns the random token identifying the lock holder.
func (l *Lock) Token() string {
	return l.token
}

// Release releases the lock. It fails if the lock file was removed or taken
// over by another holder.
func (l *Lock) Release() error {
	owner, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	if got := strings.TrimSpace(string(owner)); got != l.token {
		return fmt.Errorf("releasing lock: %s is held by %q", l.path, got)
	}
	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}

// Locked returns true if a build holds the lock for the store at storePath.
func Locked(storePath string) (bool, error) {
	_, err := os.Stat(storePath + lockSuffix)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("checking lock: %w", err)
	}
}
