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

package cache_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ianlewis/go-multistream/cache"
)

func TestBlockCache(t *testing.T) {
	t.Parallel()

	c := cache.New(2, 0)
	a := cache.Key{BuildID: "b1", Start: 0, End: 500}
	b := cache.Key{BuildID: "b1", Start: 500, End: 900}
	d := cache.Key{BuildID: "b1", Start: 900, End: 1000}

	_, ok := c.Get(a)
	require.False(t, ok)

	c.Add(a, []byte("alpha"))
	c.Add(b, []byte("beta"))
	require.Equal(t, 2, c.Len())
	require.Equal(t, int64(9), c.Size())

	// Touch a so that b is the least recently used.
	v, ok := c.Get(a)
	require.True(t, ok)
	require.Equal(t, []byte("alpha"), v)

	c.Add(d, []byte("delta"))
	require.Equal(t, 2, c.Len())
	_, ok = c.Get(b)
	require.False(t, ok)
	require.Equal(t, int64(10), c.Size())

	c.Purge()
	require.Equal(t, 0, c.Len())
	require.Equal(t, int64(0), c.Size())
}

func TestBlockCache_buildID(t *testing.T) {
	t.Parallel()

	c := cache.New(0, 0)
	c.Add(cache.Key{BuildID: "old", Start: 0, End: 500}, []byte("stale"))

	_, ok := c.Get(cache.Key{BuildID: "new", Start: 0, End: 500})
	require.False(t, ok)
}

func TestBlockCache_maxBytes(t *testing.T) {
	t.Parallel()

	c := cache.New(0, 10)
	k := func(start uint64) cache.Key {
		return cache.Key{BuildID: "b1", Start: start, End: start + 1}
	}

	c.Add(k(0), []byte("0123"))
	c.Add(k(1), []byte("4567"))
	c.Add(k(2), []byte("89ab"))
	require.Equal(t, 2, c.Len())
	require.Equal(t, int64(8), c.Size())
	_, ok := c.Get(k(0))
	require.False(t, ok)

	// Too large to cache at all.
	c.Add(k(3), []byte("0123456789abcdef"))
	_, ok = c.Get(k(3))
	require.False(t, ok)
	require.Equal(t, 2, c.Len())

	// Replacing an entry accounts for the old payload.
	c.Add(k(1), []byte("45"))
	require.Equal(t, int64(6), c.Size())
}

func TestBlockCache_concurrent(t *testing.T) {
	t.Parallel()

	c := cache.New(8, 0)
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 100 {
				k := cache.Key{BuildID: "b1", Start: uint64(j % 10), End: uint64(j%10) + 1}
				if _, ok := c.Get(k); !ok {
					c.Add(k, []byte{byte(i)})
				}
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, c.Len(), 8)
}
