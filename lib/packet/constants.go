// Package packet implements the Bote wire format: the plaintext email
// packet, the encrypted DHT payload, the per-identity index packet, the
// delete and store requests, and the communication framing the DHT
// facade exchanges with peers.
//
// All multibyte integers are big-endian on the wire. Every parser takes
// a fromNet flag: when true, 16- and 32-bit fields are converted from
// network to host order; when false the buffer is assumed to already be
// in host order (packets built locally and cached as-is). Emitters
// always write big-endian.
package packet

// Data packet type discriminators. These are the published protocol's
// single-letter tags, not re-chosen here.
const (
	// TypeEmail tags an unencrypted (plaintext) email packet.
	TypeEmail byte = 'U'

	// TypeEncrypted tags an encrypted email packet stored in the DHT.
	TypeEncrypted byte = 'E'

	// TypeIndex tags an index packet addressed by an identity hash.
	TypeIndex byte = 'I'

	// TypeDelete tags an email delete request.
	TypeDelete byte = 'D'
)

// Communication packet types exchanged with DHT peers.
const (
	// CommResponse is the response wrapper every peer reply arrives in.
	CommResponse byte = 'N'

	// CommStore is a store request carrying a data packet.
	CommStore byte = 'S'

	// CommFetch is a retrieve request for a DHT key.
	CommFetch byte = 'Q'

	// CommDeletionQuery asks a peer for deletion info about a key.
	CommDeletionQuery byte = 'Y'
)

// Wire format versions.
const (
	// EmailPacketVersion is the format version of the plaintext email
	// packet; parsers reject anything else.
	EmailPacketVersion byte = 4

	// CommPacketVersion is the communication framing version.
	CommPacketVersion byte = 5
)

// CommPrefix is the four-byte magic every communication packet starts
// with; packets without it are discarded before type dispatch.
var CommPrefix = [4]byte{0x6D, 0x30, 0x52, 0xE9}

// StatusCode is the result status carried in a response packet.
type StatusCode byte

// Response status codes. Anything other than StatusOK is informational;
// the pipeline treats such responses as absent.
const (
	StatusOK                   StatusCode = 0
	StatusGeneralError         StatusCode = 1
	StatusNoDataFound          StatusCode = 2
	StatusInvalidPacket        StatusCode = 3
	StatusInvalidHashcash      StatusCode = 4
	StatusInsufficientHashcash StatusCode = 5
	StatusNoDiskSpace          StatusCode = 6
)

// String returns a log-friendly name for the status code.
func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusGeneralError:
		return "GENERAL_ERROR"
	case StatusNoDataFound:
		return "NO_DATA_FOUND"
	case StatusInvalidPacket:
		return "INVALID_PACKET"
	case StatusInvalidHashcash:
		return "INVALID_HASHCASH"
	case StatusInsufficientHashcash:
		return "INSUFFICIENT_HASHCASH"
	case StatusNoDiskSpace:
		return "NO_DISK_SPACE"
	default:
		return "UNKNOWN"
	}
}

// EmailPacketHeaderLen is the fixed header of the plaintext email
// packet: type(1) + ver(1) + mesID(32) + DA(32) + frID(2) +
// frCount(2) + length(2).
const EmailPacketHeaderLen = 72

// EncryptedPacketMinLen is the minimum size of an encrypted email
// packet: key(32) + alg(1) + storedTime(4) + length(2) + deleteHash(32)
// with empty edata.
const EncryptedPacketMinLen = 71

// IndexEntryLen is the wire size of one index entry:
// key(32) + dv(32) + time(4).
const IndexEntryLen = 68

// DeleteRequestLen is the wire size of a delete request:
// key(32) + DA(32).
const DeleteRequestLen = 64
