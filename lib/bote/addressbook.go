package bote

import (
	"bufio"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// AddressBook maps local contact names to bote addresses. The file is
// one entry per line, "name address"; names containing '@' are treated
// as full alias addresses, bare names match the display-name part of a
// header.
type AddressBook struct {
	mu      sync.RWMutex
	path    string
	byName  map[string]string
	byAlias map[string]string
	log     *logrus.Entry
}

// NewAddressBook creates a book backed by path. Nothing is read until
// Load.
func NewAddressBook(path string) *AddressBook {
	return &AddressBook{
		path:    path,
		byName:  map[string]string{},
		byAlias: map[string]string{},
		log:     logrus.WithField("component", "addressbook"),
	}
}

// Load reads the book from disk. A missing file is an empty book.
func (b *AddressBook) Load() error {
	f, err := os.Open(b.path)
	if os.IsNotExist(err) {
		b.log.Debug("no address book file")
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	b.mu.Lock()
	defer b.mu.Unlock()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, address, ok := strings.Cut(line, " ")
		if !ok {
			b.log.Warnf("skipping malformed address book line: %q", line)
			continue
		}
		address = strings.TrimSpace(address)
		if strings.Contains(name, "@") {
			b.byAlias[name] = address
		} else {
			b.byName[name] = address
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	b.log.Infof("loaded %d names, %d aliases", len(b.byName), len(b.byAlias))
	return nil
}

// NameAddress resolves a contact name.
func (b *AddressBook) NameAddress(name string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	addr, ok := b.byName[name]
	return addr, ok
}

// AliasAddress resolves an alias of the form user@domain.
func (b *AddressBook) AliasAddress(alias string) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	addr, ok := b.byAlias[alias]
	return addr, ok
}

// Size returns the total number of entries.
func (b *AddressBook) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byName) + len(b.byAlias)
}
