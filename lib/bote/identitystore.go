package bote

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// IdentityStore loads and persists local identities. The on-disk
// format is the flat attribute file used by bote nodes:
//
//	identity0.publicName=Alice
//	identity0.key=<base64: type byte, public keys, private keys>
//	identity0.description=personal
//	default=identity0
//
// Unknown attributes are preserved-by-ignoring: the store rewrites the
// file from its own model, so stale attributes disappear on save.
type IdentityStore struct {
	path string
	log  *logrus.Entry

	identities []*PrivateIdentity
	defaultID  string
}

// NewIdentityStore creates a store backed by path. Nothing is read
// until Load.
func NewIdentityStore(path string) *IdentityStore {
	return &IdentityStore{
		path: path,
		log:  logrus.WithField("component", "identities"),
	}
}

// Load reads the identities file. A missing file is an empty store.
func (s *IdentityStore) Load() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		s.log.Info("no identities file, starting empty")
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	attrs := map[int]map[string]string{}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)

		if key == "default" {
			s.defaultID = value
			continue
		}

		prefix, attr, ok := strings.Cut(key, ".")
		if !ok || !strings.HasPrefix(prefix, "identity") {
			continue
		}
		n, err := strconv.Atoi(prefix[len("identity"):])
		if err != nil {
			continue
		}
		if attrs[n] == nil {
			attrs[n] = map[string]string{}
		}
		attrs[n][attr] = value
	}
	if err := sc.Err(); err != nil {
		return err
	}

	indexes := make([]int, 0, len(attrs))
	for n := range attrs {
		indexes = append(indexes, n)
	}
	sort.Ints(indexes)

	for _, n := range indexes {
		a := attrs[n]
		id, err := identityFromAttrs(a)
		if err != nil {
			s.log.WithError(err).Warnf("skipping identity%d", n)
			continue
		}
		s.identities = append(s.identities, id)
		s.log.WithFields(logrus.Fields{
			"publicName": id.PublicName,
			"type":       id.Type.String(),
		}).Info("loaded identity")
	}
	return nil
}

func identityFromAttrs(a map[string]string) (*PrivateIdentity, error) {
	keyB64, ok := a["key"]
	if !ok {
		return nil, fmt.Errorf("missing key attribute")
	}
	raw, err := Base64Decode(keyB64)
	if err != nil {
		return nil, fmt.Errorf("bad key encoding: %w", err)
	}
	if len(raw) < 1 {
		return nil, fmt.Errorf("empty key")
	}

	t := KeyType(raw[0])
	if !t.Valid() {
		return nil, fmt.Errorf("unsupported key type %d", raw[0])
	}
	raw = raw[1:]

	want := t.cryptoPubLen() + t.signingPubLen() + t.cryptoPrivLen() + t.signingPrivLen()
	if len(raw) != want {
		return nil, fmt.Errorf("key bundle is %d bytes, suite needs %d", len(raw), want)
	}

	off := 0
	next := func(n int) []byte {
		out := raw[off : off+n]
		off += n
		return out
	}
	id, err := NewPrivateIdentityFromKeys(t,
		next(t.cryptoPubLen()), next(t.signingPubLen()),
		next(t.cryptoPrivLen()), next(t.signingPrivLen()))
	if err != nil {
		return nil, err
	}
	id.PublicName = a["publicName"]
	id.Description = a["description"]
	return id, nil
}

// Save rewrites the identities file with mode 0600.
func (s *IdentityStore) Save() error {
	var b strings.Builder
	for i, id := range s.identities {
		bundle, err := id.privateBundle()
		if err != nil {
			return err
		}
		full := append([]byte{byte(id.Type)}, bundle...)
		fmt.Fprintf(&b, "identity%d.publicName=%s\n", i, id.PublicName)
		fmt.Fprintf(&b, "identity%d.key=%s\n", i, Base64Encode(full))
		if id.Description != "" {
			fmt.Fprintf(&b, "identity%d.description=%s\n", i, id.Description)
		}
	}
	if s.defaultID != "" {
		fmt.Fprintf(&b, "default=%s\n", s.defaultID)
	}
	return os.WriteFile(s.path, []byte(b.String()), 0o600)
}

// Add appends an identity to the store. Save persists it.
func (s *IdentityStore) Add(id *PrivateIdentity) {
	s.identities = append(s.identities, id)
}

// All returns every loaded identity.
func (s *IdentityStore) All() []*PrivateIdentity {
	return s.identities
}

// ByName returns the identity with the given public name.
func (s *IdentityStore) ByName(publicName string) *PrivateIdentity {
	for _, id := range s.identities {
		if id.PublicName == publicName {
			return id
		}
	}
	return nil
}

// Count returns the number of loaded identities.
func (s *IdentityStore) Count() int {
	return len(s.identities)
}
