package loader

import (
	"encoding/base64"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/blake2b"

	"github.com/winlinos/dwce/go/models"
)

// ImageCache holds parsed images keyed by content digest.
type ImageCache struct {
	mu sync.RWMutex

	cache *lru.ARCCache
}

func NewImageCache(size int) *ImageCache {
	if size <= 0 {
		size = 64
	}
	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}

	return &ImageCache{cache: cache}
}

func (c *ImageCache) Lookup(key string) (*models.LoadedImage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}

	return val.(*models.LoadedImage), true
}

func (c *ImageCache) Set(key string, img *models.LoadedImage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, img)
}

func (c *ImageCache) Len() int {
	return c.cache.Len()
}

// Digest is the blake2b-256 of p, URL-safe base64 encoded.
func Digest(p []byte) string {
	sum := blake2b.Sum256(p)
	return base64.URLEncoding.EncodeToString(sum[:])
}
