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
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ianlewis/go-multistream/block"
	"github.com/ianlewis/go-multistream/cache"
	"github.com/ianlewis/go-multistream/idx"
	"github.com/ianlewis/go-multistream/internal/metrics"
	"github.com/ianlewis/go-multistream/page"
	"github.com/ianlewis/go-multistream/store"
)

// DefaultMaxRedirects is the default number of redirects followed by
// [Reader.Resolve].
const DefaultMaxRedirects = 3

var (
	// ErrTitleNotFound indicates that the title index has no entry for a
	// title or id.
	ErrTitleNotFound = errors.New("title not found")

	// ErrTooManyRedirects indicates a redirect chain longer than allowed or a
	// redirect cycle.
	ErrTooManyRedirects = errors.New("too many redirects")
)

// NotFoundError is returned for titles and ids missing from the title index.
// A miss is an ordinary outcome and callers reading many titles should
// report it and continue.
type NotFoundError struct {
	// Title is the requested title. It is empty for lookups by id.
	Title string

	// ID is the requested id. It is zero for lookups by title.
	ID uint64
}

func (e *NotFoundError) Error() string {
	if e.Title == "" {
		return fmt.Sprintf("%v: id %d", ErrTitleNotFound, e.ID)
	}
	return fmt.Sprintf("%v: %q", ErrTitleNotFound, e.Title)
}

// Is reports whether target is ErrTitleNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrTitleNotFound
}

// Index maps titles and ids to block ranges. [store.Store] implements Index.
type Index interface {
	// Lookup returns the entry for title.
	Lookup(title string) (store.Entry, bool, error)

	// EntryByID returns the entry for the article id.
	EntryByID(id uint64) (store.Entry, bool, error)

	// BuildID returns the unique id of the index build.
	BuildID() string
}

// Options are options for a Reader.
type Options struct {
	// Codec is the compression codec of the archive. If nil, Open picks the
	// codec from the archive's file extension and NewReader uses bzip2.
	Codec block.Codec

	// MaxPayloadSize limits the decompressed size of a block.
	MaxPayloadSize int64

	// Cache is an optional block cache shared between readers.
	Cache *cache.BlockCache

	// Registerer receives the reader's metrics. Metrics are shared by
	// readers using the same Registerer.
	Registerer prometheus.Registerer

	// Logger receives debug logs. If nil, the standard logrus logger is used.
	Logger logrus.FieldLogger

	// MaxRedirects is the default redirect limit of Resolve.
	MaxRedirects int

	// VerifyDigest makes Open verify the archive contents against the digest
	// recorded in the title index.
	VerifyDigest bool
}

// DefaultOptions is the default options for a Reader.
var DefaultOptions = &Options{
	MaxPayloadSize: block.DefaultMaxPayloadSize,
	MaxRedirects:   DefaultMaxRedirects,
}

// Reader reads articles from an archive. The most recently decoded block is
// kept so that consecutive reads from the same block decompress it once.
//
// A Reader is not safe for concurrent use. Use one Reader per worker; readers
// may share an [Index] and a [cache.BlockCache].
type Reader struct {
	index        Index
	dec          *block.Decoder
	cache        *cache.BlockCache
	metrics      *metrics.Metrics
	log          logrus.FieldLogger
	maxRedirects int

	last struct {
		ok         bool
		start, end uint64
		payload    []byte
	}

	closers []io.Closer
}

// NewReader returns a Reader for the archive read from ra using index.
func NewReader(ra io.ReaderAt, index Index, options *Options) (*Reader, error) {
	if options == nil {
		options = DefaultOptions
	}

	m, err := metrics.New(options.Registerer)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	r := &Reader{
		index: index,
		dec: block.New(ra, &block.Options{
			Codec:          options.Codec,
			MaxPayloadSize: options.MaxPayloadSize,
		}),
		cache:        options.Cache,
		metrics:      m,
		log:          options.Logger,
		maxRedirects: options.MaxRedirects,
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if r.maxRedirects <= 0 {
		r.maxRedirects = DefaultMaxRedirects
	}
	return r, nil
}

// Open opens the archive at archivePath with the title index at storePath.
// The title index must have been built from the same archive path and
// version, otherwise [store.ErrArchiveVersionMismatch] is returned.
func Open(archivePath, storePath, version string, options *Options) (*Reader, error) {
	if options == nil {
		options = DefaultOptions
	}
	opts := *options
	if opts.Codec == nil {
		c, err := block.CodecForPath(archivePath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", archivePath, err)
		}
		opts.Codec = c
	}

	id, err := store.NewIdentity(archivePath, version)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(storePath, id, &store.Options{
		Logger:       opts.Logger,
		VerifyDigest: opts.VerifyDigest,
	})
	if err != nil {
		return nil, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	r, err := NewReader(f, s, &opts)
	if err != nil {
		f.Close()
		s.Close()
		return nil, err
	}
	r.closers = []io.Closer{s, f}
	return r, nil
}

// Index returns the reader's title index.
func (r *Reader) Index() Index {
	return r.index
}

// GetDocument returns the markup of the article with the given title,
// including its <page> and </page> delimiters.
func (r *Reader) GetDocument(title string) (string, error) {
	p, err := r.Page(title)
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

// GetDocumentByID returns the markup of the article with the given id.
func (r *Reader) GetDocumentByID(id uint64) (string, error) {
	p, err := r.PageByID(id)
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

// Page returns the article with the given title. The title may be given
// with or without character references, e.g. "AT&T" or "AT&amp;T".
func (r *Reader) Page(title string) (*page.Page, error) {
	e, ok, err := r.index.Lookup(title)
	if err != nil {
		return nil, fmt.Errorf("looking up %q: %w", title, err)
	}
	r.metrics.Lookup(ok)
	if !ok {
		return nil, &NotFoundError{Title: title}
	}

	payload, err := r.payload(e.Start, e.End)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", title, err)
	}
	p, err := page.LocateByID(payload, e.ID)
	if err != nil {
		return nil, fmt.Errorf("reading %q from block at offset %d: %w", title, e.Start, err)
	}
	if want := idx.UnescapeTitle(title); p.Title != want {
		return nil, fmt.Errorf("reading %q from block at offset %d: %w: id %d has title %q", title, e.Start, page.ErrDocumentNotFound, e.ID, p.Title)
	}
	return p, nil
}

// PageByID returns the article with the given id.
func (r *Reader) PageByID(id uint64) (*page.Page, error) {
	e, ok, err := r.index.EntryByID(id)
	if err != nil {
		return nil, fmt.Errorf("looking up id %d: %w", id, err)
	}
	r.metrics.Lookup(ok)
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	payload, err := r.payload(e.Start, e.End)
	if err != nil {
		return nil, fmt.Errorf("reading id %d: %w", id, err)
	}
	p, err := page.LocateByID(payload, id)
	if err != nil {
		return nil, fmt.Errorf("reading id %d from block at offset %d: %w", id, e.Start, err)
	}
	return p, nil
}

// Resolve returns the article with the given title, following up to
// maxDepth redirects. maxDepth counts redirects, not page reads: resolving
// a title reads at most maxDepth+1 pages. A negative maxDepth uses the
// reader's default limit. With a maxDepth of zero, a redirect page fails
// with ErrTooManyRedirects; use Page to read a redirect page itself.
func (r *Reader) Resolve(title string, maxDepth int) (*page.Page, error) {
	if maxDepth < 0 {
		maxDepth = r.maxRedirects
	}

	seen := map[string]bool{}
	current := title
	for depth := 0; ; depth++ {
		p, err := r.Page(current)
		if err != nil {
			return nil, err
		}
		target := p.RedirectTarget()
		if target == "" {
			return p, nil
		}

		seen[current] = true
		if depth >= maxDepth || seen[target] {
			return nil, fmt.Errorf("%w: %q redirects to %q after %d redirects", ErrTooManyRedirects, title, target, depth)
		}
		r.log.WithFields(logrus.Fields{
			"title":  current,
			"target": target,
		}).Debug("following redirect")
		current = target
	}
}

// payload returns the decompressed payload of the block [start, end).
func (r *Reader) payload(start, end uint64) ([]byte, error) {
	if r.last.ok && r.last.start == start && r.last.end == end {
		r.metrics.CacheHit(metrics.CacheLast)
		return r.last.payload, nil
	}

	key := cache.Key{BuildID: r.index.BuildID(), Start: start, End: end}
	if r.cache != nil {
		if p, ok := r.cache.Get(key); ok {
			r.metrics.CacheHit(metrics.CacheShared)
			r.setLast(start, end, p)
			return p, nil
		}
	}
	r.metrics.CacheMiss()

	began := time.Now()
	p, err := r.dec.Decode(start, end)
	if err != nil {
		return nil, err
	}
	r.metrics.BlockDecoded(end-start, len(p), began)
	r.log.WithFields(logrus.Fields{
		"start":    start,
		"end":      end,
		"size":     len(p),
		"duration": time.Since(began),
	}).Debug("decoded block")

	r.setLast(start, end, p)
	if r.cache != nil {
		r.cache.Add(key, p)
	}
	return p, nil
}

func (r *Reader) setLast(start, end uint64, payload []byte) {
	r.last.ok = true
	r.last.start = start
	r.last.end = end
	r.last.payload = payload
}

// Close closes the resources opened by Open.
func (r *Reader) Close() error {
	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
