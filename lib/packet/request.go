package packet

import (
	"github.com/nesbox/pboted/lib/util"
)

// DeleteRequest asks a peer to remove an encrypted email packet. The
// peer accepts only if SHA256(DA) equals the delete hash it stored
// alongside the packet.
//
// Wire layout:
//
//	key(32) DA(32)
type DeleteRequest struct {
	Key Tag // DHT key of the packet to delete
	DA  Tag // delete authorization preimage
}

// ParseDeleteRequest parses a delete request.
func ParseDeleteRequest(buf []byte, fromNet bool) (*DeleteRequest, error) {
	if len(buf) != DeleteRequestLen {
		return nil, util.NewPacketError("delete", "wrong size")
	}
	return &DeleteRequest{
		Key: TagFromBytes(buf[0:32]),
		DA:  TagFromBytes(buf[32:64]),
	}, nil
}

// ToBytes serializes the request.
func (p *DeleteRequest) ToBytes() []byte {
	buf := make([]byte, DeleteRequestLen)
	copy(buf[0:32], p.Key[:])
	copy(buf[32:64], p.DA[:])
	return buf
}

// StoreRequest carries a data packet to a peer together with a
// hashcash token. The token is a placeholder literal today; the
// contract is only that it is present and well formed, peers accept
// any value.
//
// Wire layout:
//
//	hcLength(2) hashcash(hcLength) length(2) data(length)
type StoreRequest struct {
	Hashcash []byte // hashcash token, never verified
	Data     []byte // serialized data packet
}

// ParseStoreRequest parses a store request.
func ParseStoreRequest(buf []byte, fromNet bool) (*StoreRequest, error) {
	if len(buf) < 4 {
		return nil, util.NewPacketError("store", "buffer shorter than header")
	}

	bo := ord(fromNet)

	hcLen := int(bo.Uint16(buf[0:2]))
	if len(buf) < 2+hcLen+2 {
		return nil, util.NewPacketError("store", "hashcash length disagrees with payload")
	}

	p := &StoreRequest{Hashcash: make([]byte, hcLen)}
	copy(p.Hashcash, buf[2:2+hcLen])

	off := 2 + hcLen
	dataLen := int(bo.Uint16(buf[off : off+2]))
	if dataLen != len(buf)-off-2 {
		return nil, util.NewPacketError("store", "length disagrees with payload")
	}

	p.Data = make([]byte, dataLen)
	copy(p.Data, buf[off+2:])

	return p, nil
}

// ToBytes serializes the request.
func (p *StoreRequest) ToBytes() []byte {
	buf := make([]byte, 2+len(p.Hashcash)+2+len(p.Data))
	be.PutUint16(buf[0:2], uint16(len(p.Hashcash)))
	copy(buf[2:], p.Hashcash)

	off := 2 + len(p.Hashcash)
	be.PutUint16(buf[off:off+2], uint16(len(p.Data)))
	copy(buf[off+2:], p.Data)
	return buf
}

// DeletionInfoEntry records one deletion a peer has performed.
type DeletionInfoEntry struct {
	Key  Tag    // DHT key of the deleted packet
	DA   Tag    // delete authorization that was presented
	Time uint32 // deletion time
}

// DeletionInfo is the reply to a deletion query: the deletions a peer
// knows about for the requested key. The delivery-confirmation task
// matches entries against the metadata saved with sent mail.
//
// Wire layout:
//
//	count(4) entries[count]{key(32) DA(32) time(4)}
type DeletionInfo struct {
	Entries []DeletionInfoEntry
}

// ParseDeletionInfo parses a deletion info packet.
func ParseDeletionInfo(buf []byte, fromNet bool) (*DeletionInfo, error) {
	if len(buf) < 4 {
		return nil, util.NewPacketError("deletion-info", "buffer shorter than header")
	}

	bo := ord(fromNet)
	count := bo.Uint32(buf[0:4])

	if int(count)*IndexEntryLen != len(buf)-4 {
		return nil, util.NewPacketError("deletion-info", "entry count disagrees with payload")
	}

	p := &DeletionInfo{Entries: make([]DeletionInfoEntry, 0, count)}
	off := 4
	for i := uint32(0); i < count; i++ {
		p.Entries = append(p.Entries, DeletionInfoEntry{
			Key:  TagFromBytes(buf[off : off+32]),
			DA:   TagFromBytes(buf[off+32 : off+64]),
			Time: bo.Uint32(buf[off+64 : off+68]),
		})
		off += IndexEntryLen
	}

	return p, nil
}

// ToBytes serializes the packet.
func (p *DeletionInfo) ToBytes() []byte {
	buf := make([]byte, 4+len(p.Entries)*IndexEntryLen)
	be.PutUint32(buf[0:4], uint32(len(p.Entries)))

	off := 4
	for _, e := range p.Entries {
		copy(buf[off:off+32], e.Key[:])
		copy(buf[off+32:off+64], e.DA[:])
		be.PutUint32(buf[off+64:off+68], e.Time)
		off += IndexEntryLen
	}
	return buf
}

// Contains reports whether the deletion info names the given key and
// delete authorization pair.
func (p *DeletionInfo) Contains(key, da Tag) bool {
	for _, e := range p.Entries {
		if e.Key == key && e.DA == da {
			return true
		}
	}
	return false
}
