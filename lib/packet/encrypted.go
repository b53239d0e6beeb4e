package packet

import (
	"github.com/nesbox/pboted/lib/util"
)

// Encrypted is the encrypted email packet stored in the DHT.
//
// Wire layout:
//
//	key(32) alg(1) storedTime(4) length(2) edata(length) deleteHash(32)
//
// key is SHA256 of the big-endian length followed by edata: it is both
// content addressing and the DHT key. deleteHash is SHA256 of the
// plaintext packet's delete authorization. alg carries the sender's
// key type so the receiver picks the right decrypt routine.
type Encrypted struct {
	Key        Tag    // content address, also the DHT key
	Alg        byte   // sender's key type
	StoredTime uint32 // peer-stamped storage time, zero when created
	Length     uint16 // edata length
	EData      []byte // ciphertext of the serialized plaintext packet
	DeleteHash Tag    // SHA256 of the plaintext DA
}

// ParseEncrypted parses an encrypted email packet.
func ParseEncrypted(buf []byte, fromNet bool) (*Encrypted, error) {
	if len(buf) < EncryptedPacketMinLen {
		return nil, util.NewPacketError("encrypted", "buffer shorter than header")
	}

	bo := ord(fromNet)

	p := &Encrypted{
		Key:        TagFromBytes(buf[0:32]),
		Alg:        buf[32],
		StoredTime: bo.Uint32(buf[33:37]),
		Length:     bo.Uint16(buf[37:39]),
	}

	// The declared length must leave exactly the trailing delete hash.
	if int(p.Length) != len(buf)-EncryptedPacketMinLen {
		return nil, util.NewPacketError("encrypted", "length disagrees with payload")
	}

	p.EData = make([]byte, p.Length)
	copy(p.EData, buf[39:39+int(p.Length)])
	p.DeleteHash = TagFromBytes(buf[39+int(p.Length):])

	return p, nil
}

// ToBytes serializes the packet with big-endian fields.
func (p *Encrypted) ToBytes() []byte {
	buf := make([]byte, EncryptedPacketMinLen+len(p.EData))
	copy(buf[0:32], p.Key[:])
	buf[32] = p.Alg
	be.PutUint32(buf[33:37], p.StoredTime)
	be.PutUint16(buf[37:39], p.Length)
	copy(buf[39:], p.EData)
	copy(buf[39+len(p.EData):], p.DeleteHash[:])
	return buf
}

// VerifyKey reports whether the stored key matches the content address
// recomputed from length and edata.
func (p *Encrypted) VerifyKey() bool {
	return p.Key == DHTKey(p.EData)
}
