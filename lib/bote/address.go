package bote

import (
	"crypto/elliptic"
	"fmt"
	"strings"

	"github.com/nesbox/pboted/lib/util"
)

// Address format prefixes. A v1 address is the prefix followed by an
// encoded blob: one format-version byte, four suite selector bytes
// (crypto, sign, symm, hash), then the two public keys.
const (
	AddressB32Prefix = "b32."
	AddressB64Prefix = "b64."

	addressFormatV1 = 1
)

// Suite selector bytes used inside v1 address blobs.
const (
	crypTypeECDH256 = 2
	crypTypeECDH521 = 3
	crypTypeX25519  = 4

	signTypeECDSA256 = 2
	signTypeECDSA521 = 3
	signTypeEd25519  = 4

	symmTypeAES256 = 2

	hashTypeSHA256 = 1
	hashTypeSHA512 = 2
)

// legacyV0Base64Len is the exact length of a legacy v0 address: two
// compressed P-256 public keys, each base64-encoded with the leading
// 'A' character stripped.
const legacyV0Base64Len = 86

func selectorsFor(t KeyType) [4]byte {
	switch t {
	case KeyECDH256ECDSA256:
		return [4]byte{crypTypeECDH256, signTypeECDSA256, symmTypeAES256, hashTypeSHA256}
	case KeyECDH521ECDSA521:
		return [4]byte{crypTypeECDH521, signTypeECDSA521, symmTypeAES256, hashTypeSHA512}
	default:
		return [4]byte{crypTypeX25519, signTypeEd25519, symmTypeAES256, hashTypeSHA512}
	}
}

func typeForSelectors(sel [4]byte) (KeyType, bool) {
	switch sel {
	case [4]byte{crypTypeECDH256, signTypeECDSA256, symmTypeAES256, hashTypeSHA256}:
		return KeyECDH256ECDSA256, true
	case [4]byte{crypTypeECDH521, signTypeECDSA521, symmTypeAES256, hashTypeSHA512}:
		return KeyECDH521ECDSA521, true
	case [4]byte{crypTypeX25519, signTypeEd25519, symmTypeAES256, hashTypeSHA512}:
		return KeyX25519Ed25519, true
	}
	return 0, false
}

// v1Blob builds the versioned address payload for p.
func (p *PublicIdentity) v1Blob() []byte {
	sel := selectorsFor(p.Type)
	out := make([]byte, 0, 5+len(p.CryptoPub)+len(p.SigningPub))
	out = append(out, addressFormatV1)
	out = append(out, sel[:]...)
	out = append(out, p.CryptoPub...)
	return append(out, p.SigningPub...)
}

// ToBase64 returns the bare key bundle in I2P base64, the form used in
// logs and identity files.
func (p *PublicIdentity) ToBase64() string {
	return Base64Encode(p.keyBundle())
}

// ToBase64v1 returns the canonical v1 address, "b64." + blob.
func (p *PublicIdentity) ToBase64v1() string {
	return AddressB64Prefix + Base64Encode(p.v1Blob())
}

// ToBase32v1 returns the v1 address in its base32 form.
func (p *PublicIdentity) ToBase32v1() string {
	return AddressB32Prefix + Base32Encode(p.v1Blob())
}

// ParseAddress resolves a textual bote address to a public identity.
// "b32." and "b64." prefixes select the v1 format; anything else is
// tried as a legacy v0 address.
func ParseAddress(address string) (*PublicIdentity, error) {
	switch {
	case strings.HasPrefix(address, AddressB32Prefix):
		blob, err := Base32Decode(address[len(AddressB32Prefix):])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", util.ErrAddressUnresolved, address, err)
		}
		return parseAddressV1(blob)
	case strings.HasPrefix(address, AddressB64Prefix):
		blob, err := Base64Decode(address[len(AddressB64Prefix):])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", util.ErrAddressUnresolved, address, err)
		}
		return parseAddressV1(blob)
	default:
		return parseAddressV0(address)
	}
}

func parseAddressV1(blob []byte) (*PublicIdentity, error) {
	if len(blob) < 5 {
		return nil, fmt.Errorf("%w: v1 address blob too short: %d bytes", util.ErrAddressUnresolved, len(blob))
	}
	if blob[0] != addressFormatV1 {
		return nil, fmt.Errorf("%w: unsupported address format %d", util.ErrAddressUnresolved, blob[0])
	}

	var sel [4]byte
	copy(sel[:], blob[1:5])
	t, ok := typeForSelectors(sel)
	if !ok {
		return nil, fmt.Errorf("%w: unknown cipher suite selectors %v", util.ErrAddressUnresolved, sel)
	}

	keys := blob[5:]
	want := t.cryptoPubLen() + t.signingPubLen()
	if len(keys) != want {
		return nil, fmt.Errorf("%w: v1 key material is %d bytes, suite needs %d", util.ErrAddressUnresolved, len(keys), want)
	}

	id, err := NewPublicIdentity(t, keys[:t.cryptoPubLen()], keys[t.cryptoPubLen():])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrAddressUnresolved, err)
	}
	return id, nil
}

// parseAddressV0 handles the prefix-less legacy format: two compressed
// P-256 public keys whose base64 forms both start with 'A', written
// with that character stripped. Only the exact known length is
// accepted.
func parseAddressV0(address string) (*PublicIdentity, error) {
	if len(address) != legacyV0Base64Len {
		return nil, fmt.Errorf("%w: %d characters is not a known legacy address length", util.ErrAddressUnresolved, len(address))
	}
	half := legacyV0Base64Len / 2

	cryptoPub, err := decodeV0Key(address[:half])
	if err != nil {
		return nil, err
	}
	signingPub, err := decodeV0Key(address[half:])
	if err != nil {
		return nil, err
	}

	id, err := NewPublicIdentity(KeyECDH256ECDSA256, cryptoPub, signingPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrAddressUnresolved, err)
	}
	return id, nil
}

// decodeV0Key restores one stripped key half: re-prefix 'A', decode,
// and expand the compressed point to the uncompressed form the rest of
// the code works with.
func decodeV0Key(half string) ([]byte, error) {
	raw, err := Base64Decode("A" + half)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrAddressUnresolved, err)
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), raw)
	if x == nil {
		return nil, fmt.Errorf("%w: legacy key is not a valid compressed P-256 point", util.ErrAddressUnresolved)
	}
	return elliptic.Marshal(elliptic.P256(), x, y), nil
}
