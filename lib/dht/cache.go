package dht

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/nesbox/pboted/lib/fs"
	"github.com/nesbox/pboted/lib/packet"
)

// cacheSize bounds the in-memory layer; the disk layer is unbounded.
const cacheSize = 1024

// LocalCache is the node's share of the DHT keyspace plus packets
// cached opportunistically. Two layers: an LRU in memory and one file
// per packet under DHTemail/ and DHTindex/, named by the I2P base64 of
// the key.
type LocalCache struct {
	mu   sync.Mutex
	dirs *fs.Dirs
	mem  *lru.Cache[packet.Tag, []byte]
	log  *logrus.Entry

	// deletions records the deletes this node has performed, served to
	// peers running delivery confirmation. Memory only; it is advisory.
	deletions map[packet.Tag][]packet.DeletionInfoEntry
}

// NewLocalCache builds the cache over the data directory layout.
func NewLocalCache(dirs *fs.Dirs) (*LocalCache, error) {
	mem, err := lru.New[packet.Tag, []byte](cacheSize)
	if err != nil {
		return nil, err
	}
	return &LocalCache{
		dirs:      dirs,
		mem:       mem,
		log:       logrus.WithField("component", "dht-cache"),
		deletions: map[packet.Tag][]packet.DeletionInfoEntry{},
	}, nil
}

// Safe stores a packet, sniffing its kind from the structure: an
// encrypted packet must self-certify through its content address, an
// index packet must parse exactly. Returns false for anything else.
// Idempotent; re-storing the same content is a no-op.
func (c *LocalCache) Safe(data []byte) bool {
	if enc, err := packet.ParseEncrypted(data, true); err == nil && enc.VerifyKey() {
		return c.put(enc.Key, c.dirs.DHTEmail(), data)
	}
	if idx, err := packet.ParseIndex(data, true); err == nil {
		return c.put(idx.Hash, c.dirs.DHTIndex(), data)
	}
	c.log.Warn("refusing to cache unrecognized packet")
	return false
}

// GetEmail returns the cached encrypted packet at key, nil if absent.
func (c *LocalCache) GetEmail(key packet.Tag) []byte {
	return c.get(key, c.dirs.DHTEmail())
}

// GetIndex returns the cached index packet for the identity hash, nil
// if absent.
func (c *LocalCache) GetIndex(identHash packet.Tag) []byte {
	return c.get(identHash, c.dirs.DHTIndex())
}

// DeleteEmail removes the cached encrypted packet at key if the delete
// authorization matches its stored delete hash.
func (c *LocalCache) DeleteEmail(key, da packet.Tag) bool {
	data := c.GetEmail(key)
	if data == nil {
		return false
	}
	enc, err := packet.ParseEncrypted(data, true)
	if err != nil || packet.DeleteHash(da) != enc.DeleteHash {
		return false
	}
	c.remove(key, c.dirs.DHTEmail())

	c.mu.Lock()
	c.deletions[key] = append(c.deletions[key], packet.DeletionInfoEntry{
		Key:  key,
		DA:   da,
		Time: uint32(time.Now().Unix()),
	})
	c.mu.Unlock()
	return true
}

// Deletions returns the deletion info recorded for key, nil if none.
func (c *LocalCache) Deletions(key packet.Tag) *packet.DeletionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.deletions[key]
	if len(entries) == 0 {
		return nil
	}
	return &packet.DeletionInfo{Entries: append([]packet.DeletionInfoEntry{}, entries...)}
}

// DeleteIndexEntry removes one entry from a cached index packet; the
// packet itself stays, possibly empty.
func (c *LocalCache) DeleteIndexEntry(identHash, key packet.Tag) bool {
	data := c.GetIndex(identHash)
	if data == nil {
		return false
	}
	idx, err := packet.ParseIndex(data, true)
	if err != nil {
		return false
	}

	kept := idx.Entries[:0]
	removed := false
	for _, e := range idx.Entries {
		if e.Key == key {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return false
	}
	idx.Entries = kept
	c.put(idx.Hash, c.dirs.DHTIndex(), idx.ToBytes())
	return true
}

func (c *LocalCache) put(key packet.Tag, dir string, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mem.Add(key, data)
	path := filepath.Join(dir, key.Base64())
	if err := os.WriteFile(path, data, 0o600); err != nil {
		c.log.WithError(err).Warnf("cannot persist packet %s", key.Base64())
		return false
	}
	return true
}

func (c *LocalCache) get(key packet.Tag, dir string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data, ok := c.mem.Get(key); ok {
		return data
	}
	data, err := os.ReadFile(filepath.Join(dir, key.Base64()))
	if err != nil {
		return nil
	}
	c.mem.Add(key, data)
	return data
}

func (c *LocalCache) remove(key packet.Tag, dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mem.Remove(key)
	if err := os.Remove(filepath.Join(dir, key.Base64())); err != nil && !os.IsNotExist(err) {
		c.log.WithError(err).Warnf("cannot remove cached packet %s", key.Base64())
	}
}
