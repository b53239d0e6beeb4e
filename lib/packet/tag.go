package packet

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/go-i2p/common/base64"
)

// Tag is a 32-byte value used throughout the engine for DHT keys,
// identity hashes, message IDs and delete authorizations.
type Tag [32]byte

// TagFromBytes copies the first 32 bytes of b into a Tag.
// The caller must have validated the length.
func TagFromBytes(b []byte) Tag {
	var t Tag
	copy(t[:], b)
	return t
}

// Base64 returns the I2P-alphabet base64 form of the tag, the encoding
// used for DHT-key filenames and log output.
func (t Tag) Base64() string {
	return base64.EncodeToString(t[:])
}

// IsZero reports whether every byte of the tag is zero.
func (t Tag) IsZero() bool {
	return t == Tag{}
}

// DHTKey computes the content address of an encrypted email packet:
// SHA256 of the big-endian 16-bit edata length followed by edata.
// It is both the integrity check and the DHT key.
func DHTKey(edata []byte) Tag {
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(edata)))

	h := sha256.New()
	h.Write(prefix[:])
	h.Write(edata)

	var key Tag
	copy(key[:], h.Sum(nil))
	return key
}

// DeleteHash computes SHA256 of a delete authorization. Possession of
// the preimage authorizes deletion of the packet advertising the hash.
func DeleteHash(da Tag) Tag {
	return Tag(sha256.Sum256(da[:]))
}

// be is the emitter byte order; everything on the wire is big-endian.
var be = binary.BigEndian

// ord returns the byte order a parser should use for multibyte fields:
// big-endian for buffers received from the network, host order for
// buffers built locally.
func ord(fromNet bool) binary.ByteOrder {
	if fromNet {
		return binary.BigEndian
	}
	return binary.NativeEndian
}
