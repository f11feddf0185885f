package build

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/apodwall/vbuild/internal/fingerprint"
	"github.com/apodwall/vbuild/internal/fsutil"
)

// Cache directory layout:
//
//	cacheDir/
//	  .cache.json                 # index: fingerprint -> cacheEntry
//	  <fingerprint>/<binary>      # stored executable
const cacheFile = ".cache.json"

// cacheEntry contains metadata about a single successful build.
type cacheEntry struct {
	Binary    string    `json:"binary"`
	Features  []string  `json:"features"`
	Toolchain string    `json:"toolchain"`
	BuildTime time.Time `json:"build_time"`
}

// buildCache maps fingerprints to their build entries.
type buildCache struct {
	Cache map[string]*cacheEntry `json:"cache"`
}

func (c *buildCache) get(fp fingerprint.Hash) (*cacheEntry, bool) {
	entry, ok := c.Cache[fp.String()]
	return entry, ok
}

func (c *buildCache) set(fp fingerprint.Hash, entry *cacheEntry) {
	if c.Cache == nil {
		c.Cache = make(map[string]*cacheEntry)
	}
	c.Cache[fp.String()] = entry
}

// cachedPath returns where the executable for fp is stored.
func (b *Builder) cachedPath(fp fingerprint.Hash, binary string) string {
	return filepath.Join(b.cacheDir, fp.String(), binary)
}

// loadCache reads the cache index. A missing index is an empty cache.
func (b *Builder) loadCache() (*buildCache, error) {
	data, err := os.ReadFile(filepath.Join(b.cacheDir, cacheFile))
	if os.IsNotExist(err) {
		return &buildCache{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cache buildCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, err
	}
	return &cache, nil
}

// saveCache writes the cache index.
func (b *Builder) saveCache(cache *buildCache) error {
	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFile(filepath.Join(b.cacheDir, cacheFile), data, 0o644)
}

// lookup returns the stored executable for fp, if both the index entry and
// the file are present.
func (b *Builder) lookup(fp fingerprint.Hash, binary string) (string, bool) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	cache, err := b.loadCache()
	if err != nil {
		return "", false
	}
	entry, ok := cache.get(fp)
	if !ok || entry.Binary != binary {
		return "", false
	}
	path := b.cachedPath(fp, binary)
	if !fsutil.IsExecutable(path) {
		return "", false
	}
	return path, true
}

// store copies a freshly built executable into the cache and records it.
func (b *Builder) store(fp fingerprint.Hash, built string, entry *cacheEntry) (string, error) {
	b.cacheMu.Lock()
	defer b.cacheMu.Unlock()

	path := b.cachedPath(fp, entry.Binary)
	if err := fsutil.CopyFile(built, path, 0o755); err != nil {
		return "", err
	}
	cache, err := b.loadCache()
	if err != nil {
		// A corrupt index is rebuilt from scratch.
		cache = &buildCache{}
	}
	cache.set(fp, entry)
	if err := b.saveCache(cache); err != nil {
		return "", err
	}
	return path, nil
}
