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

// Package cache implements a decoded block cache shared between readers.
//
// Entries are keyed by the build id of the index store as well as the block
// range. A rebuilt store has a new build id, so payloads decoded against an
// older build are never served for it; they age out of the cache instead.
package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// Key identifies a decoded block.
type Key struct {
	// BuildID is the build id of the store the block range came from.
	BuildID string

	// Start is the offset of the block.
	Start uint64

	// End is the offset following the block.
	End uint64
}

// BlockCache is a bounded LRU cache of decoded block payloads. It is safe for
// concurrent use. Cached payloads are shared and must not be modified.
type BlockCache struct {
	mu       sync.Mutex
	lru      *lru.Cache
	maxBytes int64
	bytes    int64
}

// New returns a cache holding at most maxEntries payloads and at most
// maxBytes bytes of payload. Zero means no limit.
func New(maxEntries int, maxBytes int64) *BlockCache {
	c := &BlockCache{
		lru:      lru.New(maxEntries),
		maxBytes: maxBytes,
	}
	c.lru.OnEvicted = func(_ lru.Key, value interface{}) {
		c.bytes -= int64(len(value.([]byte)))
	}
	return c
}

// Get returns the payload of the block identified by k.
func (c *BlockCache) Get(k Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(k)
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Add adds a payload to the cache, evicting the least recently used payloads
// as needed. Payloads larger than the byte limit are not cached.
func (c *BlockCache) Add(k Key, payload []byte) {
	size := int64(len(payload))
	if c.maxBytes > 0 && size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(k); ok {
		c.bytes -= int64(len(v.([]byte)))
	}
	c.lru.Add(k, payload)
	c.bytes += size
	for c.maxBytes > 0 && c.bytes > c.maxBytes {
		c.lru.RemoveOldest()
	}
}

// Len returns the number of cached payloads.
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Size returns the total size of the cached payloads.
func (c *BlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Purge removes all payloads.
func (c *BlockCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Clear()
	c.bytes = 0
}
