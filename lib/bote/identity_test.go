package bote

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nesbox/pboted/lib/util"
)

var suites = []KeyType{KeyECDH256ECDSA256, KeyECDH521ECDSA521, KeyX25519Ed25519}

func TestIdentity_EncryptDecryptRoundTrip(t *testing.T) {
	plain := []byte("from alice to bob, across the network")

	for _, suite := range suites {
		t.Run(suite.String(), func(t *testing.T) {
			id, err := NewPrivateIdentity(suite, "alice")
			if err != nil {
				t.Fatalf("NewPrivateIdentity() error = %v", err)
			}

			ct, err := id.PublicIdentity.Encrypt(plain)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			if bytes.Contains(ct, plain) {
				t.Fatal("ciphertext contains the plaintext")
			}

			got, err := id.Decrypt(ct)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(got, plain) {
				t.Errorf("Decrypt() = %q, want %q", got, plain)
			}
		})
	}
}

func TestIdentity_DecryptRejectsGarbage(t *testing.T) {
	id, err := NewPrivateIdentity(KeyECDH256ECDSA256, "alice")
	if err != nil {
		t.Fatalf("NewPrivateIdentity() error = %v", err)
	}

	_, err = id.Decrypt([]byte("short"))
	if !errors.Is(err, util.ErrCryptoFailed) {
		t.Errorf("Decrypt(short) error = %v, want ErrCryptoFailed", err)
	}
}

func TestIdentity_SignVerify(t *testing.T) {
	data := []byte("signed payload")

	for _, suite := range suites {
		t.Run(suite.String(), func(t *testing.T) {
			id, err := NewPrivateIdentity(suite, "alice")
			if err != nil {
				t.Fatalf("NewPrivateIdentity() error = %v", err)
			}

			sig, err := id.Sign(data)
			if err != nil {
				t.Fatalf("Sign() error = %v", err)
			}
			if !id.VerifySig(data, sig) {
				t.Error("VerifySig() = false for a valid signature")
			}
			if id.VerifySig([]byte("other payload"), sig) {
				t.Error("VerifySig() = true for the wrong payload")
			}
		})
	}
}

func TestIdentity_HashStable(t *testing.T) {
	id, err := NewPrivateIdentity(KeyX25519Ed25519, "alice")
	if err != nil {
		t.Fatalf("NewPrivateIdentity() error = %v", err)
	}

	h1 := id.Hash()
	h2 := id.Hash()
	if h1 != h2 {
		t.Error("Hash() is not deterministic")
	}

	other, err := NewPrivateIdentity(KeyX25519Ed25519, "bob")
	if err != nil {
		t.Fatalf("NewPrivateIdentity() error = %v", err)
	}
	if id.Hash() == other.Hash() {
		t.Error("distinct identities share a hash")
	}
}

func TestIdentity_RebuildFromKeys(t *testing.T) {
	id, err := NewPrivateIdentity(KeyECDH521ECDSA521, "alice")
	if err != nil {
		t.Fatalf("NewPrivateIdentity() error = %v", err)
	}
	bundle, err := id.privateBundle()
	if err != nil {
		t.Fatalf("privateBundle() error = %v", err)
	}

	t2 := id.Type
	off := 0
	next := func(n int) []byte {
		out := bundle[off : off+n]
		off += n
		return out
	}
	rebuilt, err := NewPrivateIdentityFromKeys(t2,
		next(t2.cryptoPubLen()), next(t2.signingPubLen()),
		next(t2.cryptoPrivLen()), next(t2.signingPrivLen()))
	if err != nil {
		t.Fatalf("NewPrivateIdentityFromKeys() error = %v", err)
	}
	if rebuilt.Hash() != id.Hash() {
		t.Error("rebuilt identity hash differs")
	}

	ct, err := id.PublicIdentity.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	plain, err := rebuilt.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt() with rebuilt keys error = %v", err)
	}
	if string(plain) != "hello" {
		t.Errorf("Decrypt() = %q, want %q", plain, "hello")
	}
}
