package packet

import (
	"github.com/nesbox/pboted/lib/util"
)

// IndexEntry names one encrypted email packet addressed to the index
// owner.
type IndexEntry struct {
	Key  Tag    // DHT key of the encrypted packet
	DV   Tag    // delete verification: the plaintext DA
	Time uint32 // sender-claimed deposit time
}

// Index is the per-identity pointer list stored in the DHT under the
// recipient's identity hash.
//
// Wire layout:
//
//	hash(32) nump(4) entries[nump]{key(32) dv(32) time(4)}
type Index struct {
	Hash    Tag // identity hash of the recipient
	Entries []IndexEntry
}

// ParseIndex parses an index packet.
func ParseIndex(buf []byte, fromNet bool) (*Index, error) {
	if len(buf) < 36 {
		return nil, util.NewPacketError("index", "buffer shorter than header")
	}

	bo := ord(fromNet)

	p := &Index{Hash: TagFromBytes(buf[0:32])}
	nump := bo.Uint32(buf[32:36])

	if int(nump)*IndexEntryLen != len(buf)-36 {
		return nil, util.NewPacketError("index", "entry count disagrees with payload")
	}

	p.Entries = make([]IndexEntry, 0, nump)
	off := 36
	for i := uint32(0); i < nump; i++ {
		p.Entries = append(p.Entries, IndexEntry{
			Key:  TagFromBytes(buf[off : off+32]),
			DV:   TagFromBytes(buf[off+32 : off+64]),
			Time: bo.Uint32(buf[off+64 : off+68]),
		})
		off += IndexEntryLen
	}

	return p, nil
}

// ToBytes serializes the packet with big-endian fields. The entry
// count on the wire always equals len(Entries).
func (p *Index) ToBytes() []byte {
	buf := make([]byte, 36+len(p.Entries)*IndexEntryLen)
	copy(buf[0:32], p.Hash[:])
	be.PutUint32(buf[32:36], uint32(len(p.Entries)))

	off := 36
	for _, e := range p.Entries {
		copy(buf[off:off+32], e.Key[:])
		copy(buf[off+32:off+64], e.DV[:])
		be.PutUint32(buf[off+64:off+68], e.Time)
		off += IndexEntryLen
	}
	return buf
}
