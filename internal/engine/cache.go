package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/necessary-nu/tracey/internal/scanner"
	"github.com/necessary-nu/tracey/internal/units"
)

var artifactBucket = []byte("artifacts")

// Artifact is the cached per-file extraction result.
type Artifact struct {
	Refs  scanner.FileRefs `json:"refs"`
	Units []units.Unit     `json:"units"`
}

// cacheEntry pairs an artifact with the fingerprint it was computed
// from.
type cacheEntry struct {
	Fingerprint string   `json:"fingerprint"`
	Artifact    Artifact `json:"artifact"`
}

// Cache persists per-file parse artifacts across daemon restarts,
// keyed by path and invalidated on mtime, size, or prefix-set change.
type Cache struct {
	db *bolt.DB
}

// OpenCache opens (or creates) the artifact cache database.
func OpenCache(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists(artifactBucket)
		return berr
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func fingerprint(mtime int64, size int64, prefixes []string) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(mtime, 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(size, 10)))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(prefixes, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached artifact for a path when its fingerprint still
// matches.
func (c *Cache) Get(path string, mtime, size int64, prefixes []string) (Artifact, bool) {
	var entry cacheEntry
	found := false

	_ = c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(artifactBucket).Get([]byte(path))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil
		}
		found = true
		return nil
	})

	if !found || entry.Fingerprint != fingerprint(mtime, size, prefixes) {
		return Artifact{}, false
	}
	return entry.Artifact, true
}

// Put stores the artifact for a path. Failures are ignored; the cache
// is advisory.
func (c *Cache) Put(path string, mtime, size int64, prefixes []string, art Artifact) {
	entry := cacheEntry{
		Fingerprint: fingerprint(mtime, size, prefixes),
		Artifact:    art,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(artifactBucket).Put([]byte(path), data)
	})
}

// Drop removes a path's cached artifact.
func (c *Cache) Drop(path string) {
	_ = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(artifactBucket).Delete([]byte(path))
	})
}
