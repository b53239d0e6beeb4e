package packet

import (
	"bytes"

	"github.com/nesbox/pboted/lib/util"
)

// Communication is the framing every packet exchanged with a DHT peer
// travels in: a four-byte magic prefix, type, version, a 32-byte
// correlation ID, and the payload.
//
// Wire layout:
//
//	prefix(4) type(1) ver(1) cid(32) payload(rest)
type Communication struct {
	Type    byte   // communication packet type
	Ver     byte   // framing version
	CID     Tag    // correlation ID matching responses to requests
	Payload []byte // type-specific payload
	From    string // peer destination the packet arrived from, not on the wire
}

// CommHeaderLen is the fixed communication header size.
const CommHeaderLen = 4 + 1 + 1 + 32

// ParseCommunication parses a communication packet received from a
// peer.
func ParseCommunication(buf []byte) (*Communication, error) {
	if len(buf) < CommHeaderLen {
		return nil, util.NewPacketError("communication", "buffer shorter than header")
	}
	if !bytes.Equal(buf[0:4], CommPrefix[:]) {
		return nil, util.NewPacketError("communication", "bad prefix")
	}
	if buf[5] != CommPacketVersion {
		return nil, util.NewPacketError("communication", "wrong version")
	}

	p := &Communication{
		Type: buf[4],
		Ver:  buf[5],
		CID:  TagFromBytes(buf[6:38]),
	}
	p.Payload = make([]byte, len(buf)-CommHeaderLen)
	copy(p.Payload, buf[CommHeaderLen:])

	return p, nil
}

// ToBytes serializes the communication packet.
func (p *Communication) ToBytes() []byte {
	buf := make([]byte, CommHeaderLen+len(p.Payload))
	copy(buf[0:4], CommPrefix[:])
	buf[4] = p.Type
	buf[5] = CommPacketVersion
	copy(buf[6:38], p.CID[:])
	copy(buf[CommHeaderLen:], p.Payload)
	return buf
}

// Response is the wrapper a peer's reply payload arrives in. A status
// other than StatusOK carries no usable data.
//
// Wire layout:
//
//	status(1) length(2) data(length)
type Response struct {
	Status StatusCode
	Data   []byte
}

// ParseResponse parses a response packet from the payload of a
// CommResponse communication packet.
func ParseResponse(comm *Communication, fromNet bool) (*Response, error) {
	if comm.Type != CommResponse {
		return nil, util.NewPacketError("response", "not a response communication")
	}
	buf := comm.Payload
	if len(buf) < 3 {
		return nil, util.NewPacketError("response", "buffer shorter than header")
	}

	bo := ord(fromNet)

	p := &Response{Status: StatusCode(buf[0])}
	length := int(bo.Uint16(buf[1:3]))
	if length != len(buf)-3 {
		return nil, util.NewPacketError("response", "length disagrees with payload")
	}

	p.Data = make([]byte, length)
	copy(p.Data, buf[3:])

	return p, nil
}

// ToBytes serializes the response packet body.
func (p *Response) ToBytes() []byte {
	buf := make([]byte, 3+len(p.Data))
	buf[0] = byte(p.Status)
	be.PutUint16(buf[1:3], uint16(len(p.Data)))
	copy(buf[3:], p.Data)
	return buf
}
