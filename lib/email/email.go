// Package email implements the mail object moved through the node: a
// MIME message with an allow-listed header set, the plaintext email
// packet derived from it, and the encrypted packet published to the
// DHT.
package email

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nesbox/pboted/lib/bote"
	"github.com/nesbox/pboted/lib/compress"
	"github.com/nesbox/pboted/lib/packet"
	"github.com/nesbox/pboted/lib/util"
)

// Metadata headers stamped by the pipeline.
const (
	HeaderDHTKey         = "X-I2PBote-DHT-Key"
	HeaderDeleteAuthHash = "X-I2PBote-Delete-Auth-Hash"
	HeaderDeleteAuth     = "X-I2PBote-Delete-Auth"
	HeaderDeleted        = "X-I2PBote-Deleted"
)

// MessageIDDomain is appended to generated Message-IDs.
const MessageIDDomain = "bote.i2p"

// MailExt is the suffix of every mail file on disk.
const MailExt = ".mail"

// allowedHeaders is the header allow-list. Anything else is stripped
// on load; unknown headers from the network must never reach a client.
var allowedHeaders = map[string]bool{
	"From":                      true,
	"To":                        true,
	"Subject":                   true,
	"Date":                      true,
	"Message-Id":                true,
	"References":                true,
	"In-Reply-To":               true,
	"Mime-Version":              true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
}

func headerAllowed(canonical string) bool {
	return allowedHeaders[canonical] || strings.HasPrefix(canonical, "X-I2pbote-")
}

// header keeps the spelling it was written with; matching is on the
// canonical form.
type header struct {
	name  string
	value string
}

func (h header) matches(canonical string) bool {
	return textproto.CanonicalMIMEHeaderKey(h.name) == canonical
}

// Email is one mail message. Headers keep their file order; lookups
// are case-insensitive on the canonical form.
type Email struct {
	headers []header
	body    []byte

	// Packet is the plaintext email packet; valid after Compose or
	// FromBytes.
	Packet packet.Email

	// Encrypted is the published form; non-nil once Encrypt succeeded.
	Encrypted *packet.Encrypted

	// Path is the backing file, empty for mail not yet on disk.
	Path string

	sender    *bote.PrivateIdentity
	recipient *bote.PublicIdentity

	// Rand supplies DA material; nil means crypto/rand.
	Rand io.Reader

	skip      bool
	deleted   bool
	encrypted bool
	composed  bool

	log *logrus.Entry
}

// New returns an empty email.
func New() *Email {
	return &Email{log: logrus.WithField("component", "email")}
}

// Parse reads a MIME message, keeping only allow-listed headers in
// their original order.
func Parse(raw []byte) (*Email, error) {
	e := New()

	r := bufio.NewReader(bytes.NewReader(raw))
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF && line == "" {
			break
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}

		// Folded continuation lines belong to the previous header.
		if line[0] == ' ' || line[0] == '\t' {
			if n := len(e.headers); n > 0 {
				e.headers[n-1].value += " " + strings.TrimSpace(trimmed)
			}
			continue
		}

		name, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			return nil, &util.PacketError{Kind: "email", Reason: fmt.Sprintf("malformed header line %q", trimmed)}
		}
		name = strings.TrimSpace(name)
		if !headerAllowed(textproto.CanonicalMIMEHeaderKey(name)) {
			continue
		}
		e.headers = append(e.headers, header{name: name, value: strings.TrimSpace(value)})
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	e.body = body
	return e, nil
}

// Load reads a mail file from disk.
func Load(path string) (*Email, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	e, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	e.Path = path
	return e, nil
}

// FromBytes parses a plaintext email packet received from the network,
// decompresses its payload and loads the MIME message.
func FromBytes(buf []byte, fromNet bool) (*Email, error) {
	p, err := packet.ParseEmail(buf, fromNet)
	if err != nil {
		return nil, err
	}

	raw, err := compress.Decompress(p.Data)
	if err != nil {
		return nil, err
	}

	e, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	e.Packet = *p
	e.composed = true
	return e, nil
}

// Header returns the first value of the named header.
func (e *Email) Header(name string) string {
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	for _, h := range e.headers {
		if h.matches(canonical) {
			return h.value
		}
	}
	return ""
}

// SetHeader replaces the first occurrence of the named header, or
// appends it.
func (e *Email) SetHeader(name, value string) {
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	for i, h := range e.headers {
		if h.matches(canonical) {
			e.headers[i].value = value
			return
		}
	}
	e.headers = append(e.headers, header{name: name, value: value})
}

// Body returns the message body.
func (e *Email) Body() []byte { return e.body }

// Bytes returns the MIME serialization: headers in order, a blank
// line, then the body.
func (e *Email) Bytes() []byte {
	var b bytes.Buffer
	for _, h := range e.headers {
		b.WriteString(h.name)
		b.WriteString(": ")
		b.WriteString(h.value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(e.body)
	return b.Bytes()
}

// Empty reports whether the message has no content at all.
func (e *Email) Empty() bool {
	return len(e.headers) == 0 && len(e.body) == 0
}

// Incomplete reports whether the packet is a fragment of a larger
// message.
func (e *Email) Incomplete() bool {
	return e.composed && e.Packet.Incomplete()
}

// Skip reports the per-attempt skip latch.
func (e *Email) Skip() bool { return e.skip }

// SetSkip sets or clears the skip latch. The outbox scanner clears it
// when it re-enqueues the file.
func (e *Email) SetSkip(v bool) { e.skip = v }

// Deleted reports the POP3 deletion mark.
func (e *Email) Deleted() bool { return e.deleted }

// SetDeleted sets the POP3 deletion mark.
func (e *Email) SetDeleted(v bool) { e.deleted = v }

// IsEncrypted reports whether Encrypt has succeeded.
func (e *Email) IsEncrypted() bool { return e.encrypted }

// SetSender attaches the local sending identity.
func (e *Email) SetSender(id *bote.PrivateIdentity) { e.sender = id }

// SetRecipient attaches the resolved recipient identity.
func (e *Email) SetRecipient(id *bote.PublicIdentity) { e.recipient = id }

// Sender returns the attached sending identity, nil if unresolved.
func (e *Email) Sender() *bote.PrivateIdentity { return e.sender }

// Recipient returns the attached recipient identity, nil if
// unresolved.
func (e *Email) Recipient() *bote.PublicIdentity { return e.recipient }

// MessageID returns the Message-ID header without angle brackets.
func (e *Email) MessageID() string {
	return strings.Trim(e.Header("Message-ID"), "<>")
}

// Compose fixes the message for sending: it ensures a UUIDv4
// Message-ID, derives the packet message id from it, randomises the
// delete authorization if still zero and settles the fragment fields.
// Composing an already encrypted email is an error.
func (e *Email) Compose() error {
	if e.encrypted {
		return &util.PacketError{Kind: "email", Reason: "compose after encrypt"}
	}

	id := e.MessageID()
	if u, err := uuid.Parse(strings.TrimSuffix(id, "@"+MessageIDDomain)); err != nil || u.Version() != 4 {
		u = uuid.New()
		id = u.String() + "@" + MessageIDDomain
		e.SetHeader("Message-ID", "<"+id+">")
		e.log.Debugf("assigned message id %s", id)
	}

	// The packet message id is the 32 hex characters of the UUID.
	hexID := strings.ReplaceAll(strings.TrimSuffix(id, "@"+MessageIDDomain), "-", "")
	if len(hexID) != 32 {
		return &util.PacketError{Kind: "email", Reason: fmt.Sprintf("message id %q does not reduce to 32 characters", id)}
	}
	copy(e.Packet.MesID[:], hexID)

	if e.Packet.DA.IsZero() {
		rng := e.Rand
		if rng == nil {
			rng = rand.Reader
		}
		if _, err := io.ReadFull(rng, e.Packet.DA[:]); err != nil {
			return &util.CryptoError{Op: "compose", Err: err}
		}
	}

	e.Packet.FrID = 0
	e.Packet.FrCount = 1
	e.Packet.Data = e.Bytes()
	e.Packet.Length = uint16(len(e.Packet.Data))
	e.composed = true
	return nil
}

// Compress replaces the packet payload with its tagged compressed
// form. Must follow Compose.
func (e *Email) Compress(alg compress.Algorithm) error {
	if !e.composed {
		return &util.PacketError{Kind: "email", Reason: "compress before compose"}
	}
	if e.encrypted {
		return &util.PacketError{Kind: "email", Reason: "compress after encrypt"}
	}

	data, err := compress.Compress(e.Bytes(), alg)
	if err != nil {
		return err
	}
	e.Packet.Data = data
	e.Packet.Length = uint16(len(data))
	return nil
}

// Encrypt produces the encrypted packet: it stamps the delete
// authorization hash, encrypts the serialized plaintext packet to the
// recipient and stamps the resulting DHT key. Idempotent once
// successful; any failure sets the skip latch.
func (e *Email) Encrypt() error {
	if e.encrypted {
		return nil
	}
	if e.sender == nil || e.recipient == nil {
		e.skip = true
		return fmt.Errorf("%w: sender or recipient not set", util.ErrAddressUnresolved)
	}
	if !e.composed {
		e.skip = true
		return &util.PacketError{Kind: "email", Reason: "encrypt before compose"}
	}

	deleteHash := packet.DeleteHash(e.Packet.DA)
	e.SetHeader(HeaderDeleteAuthHash, deleteHash.Base64())
	e.SetHeader(HeaderDeleteAuth, e.Packet.DA.Base64())

	edata, err := e.recipient.Encrypt(e.Packet.ToBytes())
	if err != nil {
		e.skip = true
		return err
	}

	enc := &packet.Encrypted{
		Alg:        byte(e.sender.Type),
		StoredTime: bote.TsNow(),
		Length:     uint16(len(edata)),
		EData:      edata,
		DeleteHash: deleteHash,
	}
	enc.Key = packet.DHTKey(edata)
	e.SetHeader(HeaderDHTKey, enc.Key.Base64())

	e.Encrypted = enc
	e.encrypted = true
	return nil
}

// Verify checks that the delete authorization hashes to expected, the
// binding between a decrypted email and the encrypted packet it came
// from.
func (e *Email) Verify(expected packet.Tag) bool {
	return packet.DeleteHash(e.Packet.DA) == expected
}

// Save writes the MIME serialization. With an empty dir it rewrites
// the backing file; otherwise it writes <dir>/<Message-ID>.mail and
// refuses to overwrite an existing file on the first save.
func (e *Email) Save(dir string) error {
	path := e.Path
	if dir != "" {
		id := e.MessageID()
		if id == "" {
			return &util.PacketError{Kind: "email", Reason: "save without a message id"}
		}
		path = filepath.Join(dir, id+MailExt)
		if path != e.Path && fileExists(path) {
			return fmt.Errorf("%w: %s", util.ErrDuplicateFile, path)
		}
	}
	if path == "" {
		return &util.PacketError{Kind: "email", Reason: "save without a path"}
	}

	if err := os.WriteFile(path, e.Bytes(), 0o600); err != nil {
		return err
	}
	e.Path = path
	return nil
}

// Move renames the backing file to <dir>/<DHT-Key>.mail. Inbound mail
// only; the DHT key header must be present.
func (e *Email) Move(dir string) error {
	key := e.Header(HeaderDHTKey)
	if key == "" {
		return &util.PacketError{Kind: "email", Reason: "move without a dht key"}
	}
	dst := filepath.Join(dir, key+MailExt)
	if err := os.Rename(e.Path, dst); err != nil {
		return err
	}
	e.Path = dst
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
