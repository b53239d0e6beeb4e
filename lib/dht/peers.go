package dht

import (
	"bufio"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoadPeers reads the peer list: one base64 destination per line,
// blank lines and '#' comments skipped. A missing file yields an
// empty list; the node runs but every store and fetch stays local.
func LoadPeers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithField("component", "dht").
				Warnf("no peer list at %s, running without peers", path)
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var peers []string
	seen := make(map[string]bool)

	s := bufio.NewScanner(f)
	// Destinations are ~516 bytes of base64, well past the default
	// token size with certificates attached.
	s.Buffer(make([]byte, 0, 8192), 8192)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		peers = append(peers, line)
	}
	return peers, s.Err()
}
