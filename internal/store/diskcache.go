package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	// defaultExpiry bounds how long a cached event list is trusted after a
	// restart. Metadata entries never expire.
	defaultExpiry = 10 * time.Minute

	metaKeySuffix = "-metadata"
)

// DiskCache is a small JSON-file key-value cache. Each key becomes one file
// under the cache directory; entries written with a TTL are ignored by Get
// once expired.
type DiskCache struct {
	dir string
}

type cacheEntry struct {
	Value     json.RawMessage `json:"value"`
	UpdatedAt time.Time       `json:"updated_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// NewDiskCache creates the cache directory if needed.
func NewDiskCache(dir string) (*DiskCache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &DiskCache{dir: dir}, nil
}

// Set stores v under key. ttl == 0 means the entry never expires.
// Writes are atomic: temp file in the same directory, then rename.
func (c *DiskCache) Set(key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	entry := cacheEntry{
		Value:     raw,
		UpdatedAt: time.Now(),
	}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		entry.ExpiresAt = &exp
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, ".jcalapi-cache-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, c.keyPath(key))
}

// Get loads the entry for key into out. It returns false when the key is
// absent or expired; expired entries are removed.
func (c *DiskCache) Get(key string, out any) (bool, error) {
	data, err := os.ReadFile(c.keyPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return false, err
	}

	if entry.ExpiresAt != nil && time.Now().After(*entry.ExpiresAt) {
		_ = os.Remove(c.keyPath(key))
		return false, nil
	}

	if err := json.Unmarshal(entry.Value, out); err != nil {
		return false, err
	}
	return true, nil
}

func (c *DiskCache) keyPath(key string) string {
	return filepath.Join(c.dir, key+".json")
}
