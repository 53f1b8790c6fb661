// Package cache provides a persistent cache of whole-file MD5 digests,
// keyed by path, size, inode, and modification time so that a second run
// over an unchanged tree skips re-hashing entirely.
//
// Each file is hashed once, whole, with MD5, so the stored digest is a
// fixed 16 bytes with no byte-range component.
package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ivoronin/btrdedupe/internal/types"
)

const (
	bucketName = "digests"
	digestSize = 16
)

// Cache provides persistent caching of whole-file MD5 digests using
// BoltDB. Self-cleaning: each run creates a new database seeded from hits
// against the old one, so only entries actually used survive.
type Cache struct {
	readDB  *bolt.DB // Existing cache (read-only)
	writeDB *bolt.DB // New cache (write) - BoltDB locks this file
	path    string   // Final path (for atomic swap)
	enabled bool
}

// Open opens the existing cache for reading and creates a new cache for
// writing. BoltDB's file locking on the .new file prevents concurrent
// instances. Returns a disabled cache if path is empty.
func Open(path string) (*Cache, error) {
	if path == "" {
		return &Cache{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{path: path, enabled: true}

	if _, statErr := os.Stat(path); statErr == nil {
		if db, err := bolt.Open(path, 0o600, &bolt.Options{ReadOnly: true, Timeout: time.Second}); err == nil {
			c.readDB = db
		}
	}

	newPath := path + ".new"
	writeDB, err := bolt.Open(newPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("create new cache (locked by another instance?): %w", err)
	}
	c.writeDB = writeDB

	if err := c.writeDB.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		_ = c.Close()
		return nil, err
	}

	return c, nil
}

// Close closes both databases and atomically replaces the old cache with
// the new one, provided the new one closed cleanly.
func (c *Cache) Close() error {
	var errs []error
	if c.readDB != nil {
		if err := c.readDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.writeDB != nil {
		if err := c.writeDB.Close(); err != nil {
			errs = append(errs, err)
		} else if err := os.Rename(c.path+".new", c.path); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

const keyVersion byte = 1 // Increment when key format changes

// makeKey builds a deterministic key: ver(1) + path + NUL + size(8) +
// inode(8) + mtime(8). Any change to any component is a cache miss.
func makeKey(ref *types.FileRef) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(keyVersion)
	buf.WriteString(ref.Path.String())
	buf.WriteByte(0)
	_ = binary.Write(buf, binary.BigEndian, ref.Size)
	_ = binary.Write(buf, binary.BigEndian, ref.Inode)
	_ = binary.Write(buf, binary.BigEndian, ref.ModTime.UnixNano())
	return buf.Bytes()
}

// Lookup returns a cached digest for ref, or (zero, false) on a miss. A
// hit is copied into the write database so it survives into the next
// run's cache (self-cleaning).
func (c *Cache) Lookup(ref *types.FileRef) (digest [digestSize]byte, ok bool) {
	if !c.enabled || c.readDB == nil {
		return digest, false
	}

	key := makeKey(ref)
	var data []byte
	_ = c.readDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		if v := b.Get(key); len(v) == digestSize {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if data == nil {
		return digest, false
	}

	copy(digest[:], data)
	_ = c.Store(ref, digest)
	return digest, true
}

// Store saves ref's digest in the write database.
func (c *Cache) Store(ref *types.FileRef, digest [digestSize]byte) error {
	if !c.enabled || c.writeDB == nil {
		return nil
	}
	return c.writeDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.Put(makeKey(ref), digest[:])
	})
}
