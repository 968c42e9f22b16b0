// Package blobcache puts a read-through LRU cache in front of a blob store.
// Blobs are immutable once written, so cached entries never go stale.
package blobcache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/dyluth/nlbayes/pkg/jobstore"
)

type entry struct {
	data     []byte
	filename string
}

// Cache wraps a BlobStore. It is safe for concurrent use.
type Cache struct {
	jobstore.BlobStore
	entries *lru.Cache
}

var _ jobstore.BlobStore = (*Cache)(nil)

// New returns a cache holding at most size blobs in front of store.
func New(store jobstore.BlobStore, size int) (*Cache, error) {
	entries, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob cache: %w", err)
	}
	return &Cache{BlobStore: store, entries: entries}, nil
}

// PutBlob writes through to the backing store and caches the blob on success.
func (c *Cache) PutBlob(ctx context.Context, data []byte, filename string) (string, error) {
	hash, err := c.BlobStore.PutBlob(ctx, data, filename)
	if err != nil {
		return "", err
	}
	c.entries.Add(hash, entry{data: clone(data), filename: filename})
	return hash, nil
}

// GetBlob serves cached blobs and loads misses from the backing store.
// Callers receive their own copy of the content.
func (c *Cache) GetBlob(ctx context.Context, hash string) ([]byte, string, error) {
	if v, ok := c.entries.Get(hash); ok {
		e := v.(entry)
		return clone(e.data), e.filename, nil
	}

	data, filename, err := c.BlobStore.GetBlob(ctx, hash)
	if err != nil {
		return nil, "", err
	}
	c.entries.Add(hash, entry{data: clone(data), filename: filename})
	return data, filename, nil
}

// Len returns the number of cached blobs.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
