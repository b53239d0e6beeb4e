// Package dht gives the pipeline its narrow view of the distributed
// hash table: scatter-gather lookups, stores, deletes and a local
// content cache. Routing lives on the other side of the transport;
// this package only builds communication packets, matches responses to
// requests and keeps the cache.
package dht

import (
	"github.com/nesbox/pboted/lib/packet"
)

// Client is the interface the pipeline depends on. Peer lists are
// base64 destinations; an empty result from a store or delete means no
// peer accepted.
type Client interface {
	// FindAll queries every peer for the value at key and returns the
	// response packets that arrived in time.
	FindAll(key packet.Tag, kind byte) []*packet.Communication

	// Store offers a store request to every peer and returns the peers
	// that replied OK.
	Store(key packet.Tag, kind byte, req *packet.StoreRequest) []string

	// GetEmail returns the locally cached encrypted packet at key, nil
	// if absent.
	GetEmail(key packet.Tag) []byte

	// GetIndex returns the locally cached index packet for the identity
	// hash, nil if absent.
	GetIndex(identHash packet.Tag) []byte

	// Safe writes a packet to the local cache. Idempotent by content
	// hash; returns false for data that is neither a valid encrypted
	// nor index packet.
	Safe(data []byte) bool

	// DeleteEmail asks peers to drop the encrypted packet at key and
	// returns the peers that accepted.
	DeleteEmail(key packet.Tag, req *packet.DeleteRequest) []string

	// DeleteIndexEntry asks peers to drop one entry from an identity's
	// index packet and returns the peers that accepted.
	DeleteIndexEntry(identHash, key, da packet.Tag) []string

	// DeletionQuery asks peers for deletion info recorded at key.
	DeletionQuery(key packet.Tag) []*packet.DeletionInfo
}
