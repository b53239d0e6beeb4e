package packet

import (
	"github.com/nesbox/pboted/lib/util"
)

// Email is the plaintext email packet: the unit that is compressed,
// encrypted and sliced for the DHT.
//
// Wire layout:
//
//	type(1) ver(1) mesID(32) DA(32) frID(2) frCount(2) length(2) data(length)
//
// The data field is the compressed MIME bytes prefixed by the one-byte
// compression tag.
type Email struct {
	MesID   Tag    // Message-ID UUIDv4 with the dashes stripped
	DA      Tag    // delete authorization nonce, random per message
	FrID    uint16 // fragment index
	FrCount uint16 // fragment count
	Length  uint16 // payload length
	Data    []byte // compressed MIME bytes with compression tag
}

// ParseEmail parses a plaintext email packet.
func ParseEmail(buf []byte, fromNet bool) (*Email, error) {
	if len(buf) < EmailPacketHeaderLen {
		return nil, util.NewPacketError("email", "buffer shorter than header")
	}
	if buf[0] != TypeEmail {
		return nil, util.NewPacketError("email", "wrong type")
	}
	if buf[1] != EmailPacketVersion {
		return nil, util.NewPacketError("email", "wrong version")
	}

	bo := ord(fromNet)

	p := &Email{
		MesID:   TagFromBytes(buf[2:34]),
		DA:      TagFromBytes(buf[34:66]),
		FrID:    bo.Uint16(buf[66:68]),
		FrCount: bo.Uint16(buf[68:70]),
		Length:  bo.Uint16(buf[70:72]),
	}

	if p.FrID >= p.FrCount {
		return nil, util.NewPacketError("email", "fragment index out of range")
	}
	if int(p.Length) != len(buf)-EmailPacketHeaderLen {
		return nil, util.NewPacketError("email", "length disagrees with payload")
	}

	p.Data = make([]byte, p.Length)
	copy(p.Data, buf[EmailPacketHeaderLen:])

	return p, nil
}

// ToBytes serializes the packet with big-endian fields.
func (p *Email) ToBytes() []byte {
	buf := make([]byte, EmailPacketHeaderLen+len(p.Data))
	buf[0] = TypeEmail
	buf[1] = EmailPacketVersion
	copy(buf[2:34], p.MesID[:])
	copy(buf[34:66], p.DA[:])
	be.PutUint16(buf[66:68], p.FrID)
	be.PutUint16(buf[68:70], p.FrCount)
	be.PutUint16(buf[70:72], p.Length)
	copy(buf[EmailPacketHeaderLen:], p.Data)
	return buf
}

// Incomplete reports whether this fragment is not the final one of its
// message, i.e. frID+1 != frCount.
func (p *Email) Incomplete() bool {
	return p.FrID+1 != p.FrCount
}
