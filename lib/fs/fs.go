// Package fs defines the node's data-directory layout and small
// filesystem helpers shared by the worker and the POP3 server.
//
// Layout under the data directory:
//
//	outbox/      mail dropped by local clients, client-chosen names
//	sent/        mail published to the DHT, named by DHT key
//	inbox/       reassembled inbound mail, named by DHT key
//	incomplete/  staged fragments of multipart mail
//	identities/  identity key storage
//	DHTindex/    local cache of index packets
//	DHTemail/    local cache of encrypted email packets
package fs

import (
	"os"
	"path/filepath"
)

// Subdirectories created under the data directory.
var subdirs = []string{
	"outbox", "sent", "inbox", "incomplete",
	"identities", "DHTindex", "DHTemail",
}

// Dirs is the resolved data-directory layout.
type Dirs struct {
	Root string
}

// Init creates the data directory and every subdirectory. It is the
// only place directories are created; a failure here is fatal at boot.
func Init(root string) (*Dirs, error) {
	for _, d := range subdirs {
		if err := os.MkdirAll(filepath.Join(root, d), 0o700); err != nil {
			return nil, err
		}
	}
	return &Dirs{Root: root}, nil
}

// Path joins parts under the data directory.
func (d *Dirs) Path(parts ...string) string {
	return filepath.Join(append([]string{d.Root}, parts...)...)
}

// Outbox returns the outbox directory path.
func (d *Dirs) Outbox() string { return d.Path("outbox") }

// Sent returns the sent directory path.
func (d *Dirs) Sent() string { return d.Path("sent") }

// Inbox returns the inbox directory path.
func (d *Dirs) Inbox() string { return d.Path("inbox") }

// Incomplete returns the fragment staging directory path.
func (d *Dirs) Incomplete() string { return d.Path("incomplete") }

// Identities returns the identity storage directory path.
func (d *Dirs) Identities() string { return d.Path("identities") }

// DHTIndex returns the index packet cache directory path.
func (d *Dirs) DHTIndex() string { return d.Path("DHTindex") }

// DHTEmail returns the encrypted packet cache directory path.
func (d *Dirs) DHTEmail() string { return d.Path("DHTemail") }

// Exists reports whether the path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ListFiles returns the full paths of the regular files directly in
// dir. A missing directory yields an empty slice, not an error: the
// scanners treat it as an empty mailbox.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
