package bote

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"
	"math/big"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"

	"github.com/nesbox/pboted/lib/util"
)

// KeyType selects an identity's cipher suite. The value doubles as the
// algorithm byte carried in encrypted email packets.
type KeyType byte

const (
	// KeyECDH256ECDSA256 is ECDH-P256 + ECDSA-P256 + SHA-256 + AES-256-CBC.
	KeyECDH256ECDSA256 KeyType = 1
	// KeyECDH521ECDSA521 is ECDH-P521 + ECDSA-P521 + SHA-512 + AES-256-CBC.
	KeyECDH521ECDSA521 KeyType = 2
	// KeyX25519Ed25519 is X25519 + Ed25519 + SHA-512 + AES-256-CBC.
	KeyX25519Ed25519 KeyType = 5
)

// Valid reports whether t names a supported suite.
func (t KeyType) Valid() bool {
	switch t {
	case KeyECDH256ECDSA256, KeyECDH521ECDSA521, KeyX25519Ed25519:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (t KeyType) String() string {
	switch t {
	case KeyECDH256ECDSA256:
		return "ECDH256_ECDSA256_SHA256_AES256CBC"
	case KeyECDH521ECDSA521:
		return "ECDH521_ECDSA521_SHA512_AES256CBC"
	case KeyX25519Ed25519:
		return "X25519_ED25519_SHA512_AES256CBC"
	}
	return fmt.Sprintf("KeyType(%d)", byte(t))
}

// cryptoPubLen is the encryption public key length on the wire: an
// uncompressed curve point for the NIST suites, a raw scalar for X25519.
func (t KeyType) cryptoPubLen() int {
	switch t {
	case KeyECDH256ECDSA256:
		return 65
	case KeyECDH521ECDSA521:
		return 133
	case KeyX25519Ed25519:
		return 32
	}
	return 0
}

// signingPubLen is the signing public key length on the wire.
func (t KeyType) signingPubLen() int {
	switch t {
	case KeyECDH256ECDSA256:
		return 65
	case KeyECDH521ECDSA521:
		return 133
	case KeyX25519Ed25519:
		return 32
	}
	return 0
}

// cryptoPrivLen is the encryption private scalar length.
func (t KeyType) cryptoPrivLen() int {
	switch t {
	case KeyECDH256ECDSA256:
		return 32
	case KeyECDH521ECDSA521:
		return 66
	case KeyX25519Ed25519:
		return 32
	}
	return 0
}

// signingPrivLen is the signing private scalar (or seed) length.
func (t KeyType) signingPrivLen() int {
	switch t {
	case KeyECDH256ECDSA256:
		return 32
	case KeyECDH521ECDSA521:
		return 66
	case KeyX25519Ed25519:
		return 32
	}
	return 0
}

func (t KeyType) ecdhCurve() ecdh.Curve {
	switch t {
	case KeyECDH256ECDSA256:
		return ecdh.P256()
	case KeyECDH521ECDSA521:
		return ecdh.P521()
	case KeyX25519Ed25519:
		return ecdh.X25519()
	}
	return nil
}

func (t KeyType) ecdsaCurve() elliptic.Curve {
	switch t {
	case KeyECDH256ECDSA256:
		return elliptic.P256()
	case KeyECDH521ECDSA521:
		return elliptic.P521()
	}
	return nil
}

// sigLen is the fixed signature length for the suites with raw-encoded
// signatures. ECDSA signatures are ASN.1 and variable, so 0 there.
func (t KeyType) sigLen() int {
	if t == KeyX25519Ed25519 {
		return ed25519.SignatureSize
	}
	return 0
}

// kdf derives the AES-256 key from an ECDH shared secret. The NIST
// suites hash the secret directly; X25519 runs HKDF over SHA-512 with
// the ephemeral public key as salt.
func (t KeyType) kdf(shared, ephPub []byte) ([]byte, error) {
	switch t {
	case KeyECDH256ECDSA256:
		sum := sha256.Sum256(shared)
		return sum[:], nil
	case KeyECDH521ECDSA521:
		sum := sha512.Sum512(shared)
		return sum[:32], nil
	case KeyX25519Ed25519:
		key := make([]byte, 32)
		r := hkdf.New(sha512.New, shared, ephPub, nil)
		if _, err := io.ReadFull(r, key); err != nil {
			return nil, err
		}
		return key, nil
	}
	return nil, &util.CryptoError{Op: "kdf", Err: fmt.Errorf("unsupported key type %d", t)}
}

// hash computes the suite's message digest, used before ECDSA signing.
func (t KeyType) hash(data []byte) []byte {
	if t == KeyECDH256ECDSA256 {
		sum := sha256.Sum256(data)
		return sum[:]
	}
	sum := sha512.Sum512(data)
	return sum[:]
}

// PublicIdentity is the shareable half of a bote identity: one
// encryption key and one signing key from the same suite.
type PublicIdentity struct {
	Type       KeyType
	CryptoPub  []byte
	SigningPub []byte
}

// NewPublicIdentity validates key lengths and builds a public identity.
func NewPublicIdentity(t KeyType, cryptoPub, signingPub []byte) (*PublicIdentity, error) {
	if !t.Valid() {
		return nil, &util.PacketError{Kind: "identity", Reason: fmt.Sprintf("unsupported key type %d", t)}
	}
	if len(cryptoPub) != t.cryptoPubLen() || len(signingPub) != t.signingPubLen() {
		return nil, &util.PacketError{Kind: "identity", Reason: "key length does not match suite"}
	}
	return &PublicIdentity{Type: t, CryptoPub: cryptoPub, SigningPub: signingPub}, nil
}

// Hash returns the 32-byte identity hash, SHA-256 over the
// concatenated public keys. It keys the per-identity DHT index.
func (p *PublicIdentity) Hash() [32]byte {
	h := sha256.New()
	h.Write(p.CryptoPub)
	h.Write(p.SigningPub)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// keyBundle is CryptoPub||SigningPub, the v0 address payload.
func (p *PublicIdentity) keyBundle() []byte {
	out := make([]byte, 0, len(p.CryptoPub)+len(p.SigningPub))
	out = append(out, p.CryptoPub...)
	return append(out, p.SigningPub...)
}

// Encrypt encrypts plain to this identity. The output is
// ephemeralPub || iv || ciphertext: an ephemeral ECDH key on the
// identity's curve, an AES-256-CBC key derived from the shared secret,
// PKCS#7 padding.
func (p *PublicIdentity) Encrypt(plain []byte) ([]byte, error) {
	curve := p.Type.ecdhCurve()
	pub, err := curve.NewPublicKey(p.CryptoPub)
	if err != nil {
		return nil, &util.CryptoError{Op: "encrypt", Err: err}
	}

	eph, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, &util.CryptoError{Op: "encrypt", Err: err}
	}
	ephPub := eph.PublicKey().Bytes()

	shared, err := eph.ECDH(pub)
	if err != nil {
		return nil, &util.CryptoError{Op: "encrypt", Err: err}
	}
	key, err := p.Type.kdf(shared, ephPub)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &util.CryptoError{Op: "encrypt", Err: err}
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, &util.CryptoError{Op: "encrypt", Err: err}
	}

	padded := pkcs7Pad(plain, aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	out := make([]byte, 0, len(ephPub)+len(iv)+len(ct))
	out = append(out, ephPub...)
	out = append(out, iv...)
	return append(out, ct...), nil
}

// VerifySig checks sig over data with the identity's signing key.
func (p *PublicIdentity) VerifySig(data, sig []byte) bool {
	if p.Type == KeyX25519Ed25519 {
		if len(p.SigningPub) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(p.SigningPub), data, sig)
	}

	curve := p.Type.ecdsaCurve()
	x, y := elliptic.Unmarshal(curve, p.SigningPub)
	if x == nil {
		return false
	}
	pub := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
	return ecdsa.VerifyASN1(pub, p.Type.hash(data), sig)
}

// PrivateIdentity is a full local identity. Private key material lives
// in memguard enclaves and is decrypted into locked buffers only for
// the duration of an operation.
type PrivateIdentity struct {
	PublicIdentity

	PublicName  string
	Description string

	cryptoPriv  *memguard.Enclave
	signingPriv *memguard.Enclave
}

// NewPrivateIdentity generates a fresh identity of the given suite.
func NewPrivateIdentity(t KeyType, publicName string) (*PrivateIdentity, error) {
	if !t.Valid() {
		return nil, &util.PacketError{Kind: "identity", Reason: fmt.Sprintf("unsupported key type %d", t)}
	}

	eck, err := t.ecdhCurve().GenerateKey(rand.Reader)
	if err != nil {
		return nil, &util.CryptoError{Op: "generate", Err: err}
	}

	var signPub, signPriv []byte
	if t == KeyX25519Ed25519 {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, &util.CryptoError{Op: "generate", Err: err}
		}
		signPub = pub
		signPriv = priv.Seed()
	} else {
		sk, err := ecdsa.GenerateKey(t.ecdsaCurve(), rand.Reader)
		if err != nil {
			return nil, &util.CryptoError{Op: "generate", Err: err}
		}
		signPub = elliptic.Marshal(sk.Curve, sk.X, sk.Y)
		signPriv = leftPad(sk.D.Bytes(), t.signingPrivLen())
	}

	id := &PrivateIdentity{
		PublicIdentity: PublicIdentity{
			Type:       t,
			CryptoPub:  eck.PublicKey().Bytes(),
			SigningPub: signPub,
		},
		PublicName:  publicName,
		cryptoPriv:  memguard.NewEnclave(leftPad(eck.Bytes(), t.cryptoPrivLen())),
		signingPriv: memguard.NewEnclave(signPriv),
	}
	return id, nil
}

// NewPrivateIdentityFromKeys rebuilds an identity from stored raw keys.
func NewPrivateIdentityFromKeys(t KeyType, cryptoPub, signingPub, cryptoPriv, signingPriv []byte) (*PrivateIdentity, error) {
	pub, err := NewPublicIdentity(t, cryptoPub, signingPub)
	if err != nil {
		return nil, err
	}
	if len(cryptoPriv) != t.cryptoPrivLen() || len(signingPriv) != t.signingPrivLen() {
		return nil, &util.PacketError{Kind: "identity", Reason: "private key length does not match suite"}
	}
	return &PrivateIdentity{
		PublicIdentity: *pub,
		cryptoPriv:     memguard.NewEnclave(cryptoPriv),
		signingPriv:    memguard.NewEnclave(signingPriv),
	}, nil
}

// Decrypt reverses PublicIdentity.Encrypt for material addressed to
// this identity.
func (p *PrivateIdentity) Decrypt(ciphered []byte) ([]byte, error) {
	ephLen := p.Type.cryptoPubLen()
	if len(ciphered) < ephLen+aes.BlockSize*2 {
		return nil, &util.CryptoError{Op: "decrypt", Err: fmt.Errorf("ciphertext too short: %d bytes", len(ciphered))}
	}
	ephPub := ciphered[:ephLen]
	iv := ciphered[ephLen : ephLen+aes.BlockSize]
	ct := ciphered[ephLen+aes.BlockSize:]
	if len(ct)%aes.BlockSize != 0 {
		return nil, &util.CryptoError{Op: "decrypt", Err: fmt.Errorf("ciphertext not block aligned: %d bytes", len(ct))}
	}

	buf, err := p.cryptoPriv.Open()
	if err != nil {
		return nil, &util.CryptoError{Op: "decrypt", Err: err}
	}
	defer buf.Destroy()

	curve := p.Type.ecdhCurve()
	priv, err := curve.NewPrivateKey(buf.Bytes())
	if err != nil {
		return nil, &util.CryptoError{Op: "decrypt", Err: err}
	}
	pub, err := curve.NewPublicKey(ephPub)
	if err != nil {
		return nil, &util.CryptoError{Op: "decrypt", Err: err}
	}
	shared, err := priv.ECDH(pub)
	if err != nil {
		return nil, &util.CryptoError{Op: "decrypt", Err: err}
	}
	key, err := p.Type.kdf(shared, ephPub)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &util.CryptoError{Op: "decrypt", Err: err}
	}
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return nil, &util.CryptoError{Op: "decrypt", Err: err}
	}
	return unpadded, nil
}

// Sign signs data with the identity's signing key.
func (p *PrivateIdentity) Sign(data []byte) ([]byte, error) {
	buf, err := p.signingPriv.Open()
	if err != nil {
		return nil, &util.CryptoError{Op: "sign", Err: err}
	}
	defer buf.Destroy()

	if p.Type == KeyX25519Ed25519 {
		sk := ed25519.NewKeyFromSeed(buf.Bytes())
		return ed25519.Sign(sk, data), nil
	}

	curve := p.Type.ecdsaCurve()
	d := new(big.Int).SetBytes(buf.Bytes())
	sk := &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve},
		D:         d,
	}
	sk.X, sk.Y = curve.ScalarBaseMult(buf.Bytes())

	sig, err := ecdsa.SignASN1(rand.Reader, sk, p.Type.hash(data))
	if err != nil {
		return nil, &util.CryptoError{Op: "sign", Err: err}
	}
	return sig, nil
}

// privateBundle serializes the full key material for identity storage:
// cryptoPub || signingPub || cryptoPriv || signingPriv.
func (p *PrivateIdentity) privateBundle() ([]byte, error) {
	cbuf, err := p.cryptoPriv.Open()
	if err != nil {
		return nil, &util.CryptoError{Op: "export", Err: err}
	}
	defer cbuf.Destroy()
	sbuf, err := p.signingPriv.Open()
	if err != nil {
		return nil, &util.CryptoError{Op: "export", Err: err}
	}
	defer sbuf.Destroy()

	out := make([]byte, 0, len(p.CryptoPub)+len(p.SigningPub)+cbuf.Size()+sbuf.Size())
	out = append(out, p.CryptoPub...)
	out = append(out, p.SigningPub...)
	out = append(out, cbuf.Bytes()...)
	return append(out, sbuf.Bytes()...), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(append([]byte{}, data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding byte %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}

func leftPad(b []byte, n int) []byte {
	if len(b) >= n {
		return b
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}
