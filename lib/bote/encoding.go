// Package bote implements cryptographic identities, the textual
// address formats wrapping them, the identity and address-book
// storage, and the process-wide context threaded through every
// component.
package bote

import (
	"github.com/go-i2p/common/base32"
	"github.com/go-i2p/common/base64"
)

// Re-export the I2P-alphabet codecs. Bote addresses, ident hashes and
// DHT-key filenames all use the I2P-modified alphabets: base64 with +
// as - and / as ~, and the RFC 3548 lowercase base32.

// Base64Encode encodes data to I2P base64.
func Base64Encode(data []byte) string {
	return base64.EncodeToString(data)
}

// Base64Decode decodes I2P base64.
func Base64Decode(s string) ([]byte, error) {
	return base64.DecodeString(s)
}

// Base32Encode encodes data to I2P base32.
func Base32Encode(data []byte) string {
	return base32.EncodeToString(data)
}

// Base32Decode decodes I2P base32.
func Base32Decode(s string) ([]byte, error) {
	return base32.DecodeString(s)
}
