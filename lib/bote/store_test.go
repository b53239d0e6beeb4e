package bote

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIdentityStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.txt")

	alice, err := NewPrivateIdentity(KeyX25519Ed25519, "alice")
	if err != nil {
		t.Fatalf("NewPrivateIdentity() error = %v", err)
	}
	alice.Description = "personal"
	bob, err := NewPrivateIdentity(KeyECDH256ECDSA256, "bob")
	if err != nil {
		t.Fatalf("NewPrivateIdentity() error = %v", err)
	}

	store := NewIdentityStore(path)
	store.Add(alice)
	store.Add(bob)
	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded := NewIdentityStore(path)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", loaded.Count())
	}

	got := loaded.ByName("alice")
	if got == nil {
		t.Fatal("ByName(alice) = nil")
	}
	if got.Hash() != alice.Hash() {
		t.Error("loaded identity hash differs")
	}
	if got.Description != "personal" {
		t.Errorf("Description = %q, want %q", got.Description, "personal")
	}

	ct, err := alice.PublicIdentity.Encrypt([]byte("mail"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if _, err := got.Decrypt(ct); err != nil {
		t.Errorf("loaded identity cannot decrypt: %v", err)
	}
}

func TestIdentityStore_MissingFile(t *testing.T) {
	store := NewIdentityStore(filepath.Join(t.TempDir(), "absent.txt"))
	if err := store.Load(); err != nil {
		t.Fatalf("Load() on a missing file error = %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("Count() = %d, want 0", store.Count())
	}
}

func TestIdentityStore_SkipsCorruptEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.txt")
	content := "identity0.publicName=broken\n" +
		"identity0.key=notBase64!!!\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	store := NewIdentityStore(path)
	if err := store.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after skipping the corrupt entry", store.Count())
	}
}

func TestAddressBook_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "addressbook.txt")
	content := "# contacts\n" +
		"bob b64.AAAA\n" +
		"carol@bote.i2p b32.bbbb\n" +
		"\n" +
		"malformed-line-without-address\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	book := NewAddressBook(path)
	if err := book.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if addr, ok := book.NameAddress("bob"); !ok || addr != "b64.AAAA" {
		t.Errorf("NameAddress(bob) = %q, %v", addr, ok)
	}
	if addr, ok := book.AliasAddress("carol@bote.i2p"); !ok || addr != "b32.bbbb" {
		t.Errorf("AliasAddress(carol@bote.i2p) = %q, %v", addr, ok)
	}
	if _, ok := book.NameAddress("malformed-line-without-address"); ok {
		t.Error("malformed line was indexed")
	}
	if book.Size() != 2 {
		t.Errorf("Size() = %d, want 2", book.Size())
	}
}
