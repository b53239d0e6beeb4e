package pop3

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nesbox/pboted/lib/bote"
	"github.com/nesbox/pboted/lib/email"
	"github.com/nesbox/pboted/lib/fs"
)

// state is the RFC 1939 session state.
type state int

const (
	stateAuthUser state = iota
	stateAuthPass
	stateTransaction
	stateQuit
)

const (
	replyOK  = "+OK "
	replyErr = "-ERR "
)

// message is one mailbox entry in the login snapshot.
type message struct {
	path    string
	size    int
	uid     string
	deleted bool
}

type session struct {
	ctx     *bote.Context
	checker InboxChecker
	conn    net.Conn
	r       *bufio.Reader
	state   state
	inbox   []*message
	log     *logrus.Entry
}

func newSession(ctx *bote.Context, checker InboxChecker, conn net.Conn) *session {
	return &session{
		ctx:     ctx,
		checker: checker,
		conn:    conn,
		r:       bufio.NewReader(conn),
		state:   stateAuthUser,
		log:     logrus.WithField("component", "pop3"),
	}
}

func (s *session) run() error {
	if err := s.reply(replyOK, "POP3 server ready"); err != nil {
		return err
	}

	for s.state != stateQuit {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		cmd, arg, _ := strings.Cut(line, " ")
		if err := s.dispatch(strings.ToUpper(cmd), arg); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) dispatch(cmd, arg string) error {
	switch cmd {
	case "CAPA":
		return s.handleCapa()
	case "QUIT":
		return s.handleQuit()
	}

	switch s.state {
	case stateAuthUser:
		switch cmd {
		case "USER":
			return s.handleUser(arg)
		case "APOP":
			return s.handleApop(arg)
		}
	case stateAuthPass:
		if cmd == "PASS" {
			return s.handlePass()
		}
	case stateTransaction:
		switch cmd {
		case "STAT":
			return s.handleStat()
		case "LIST":
			return s.handleList(arg)
		case "RETR":
			return s.handleRetr(arg)
		case "DELE":
			return s.handleDele(arg)
		case "RSET":
			return s.handleRset()
		case "NOOP":
			return s.reply(replyOK, "")
		case "TOP":
			return s.handleTop(arg)
		case "UIDL":
			return s.handleUidl(arg)
		}
	}
	return s.reply(replyErr, "denied")
}

// handleUser accepts a local identity's public name or the configured
// POP3 account.
func (s *session) handleUser(name string) error {
	if name == "" {
		return s.reply(replyErr, "denied")
	}
	if s.ctx.Identities.ByName(name) == nil && name != s.ctx.Config.POP3User {
		return s.reply(replyErr, "denied")
	}
	s.state = stateAuthPass
	return s.reply(replyOK, "")
}

// handlePass accepts any password: the server is a single-user local
// bus, the credential of value is reachability of the loopback socket.
func (s *session) handlePass() error {
	s.snapshot()
	s.state = stateTransaction
	return s.reply(replyOK, fmt.Sprintf("maildrop has %d messages", len(s.inbox)))
}

// handleApop is the digest form of login; accepted like PASS.
func (s *session) handleApop(arg string) error {
	name, _, _ := strings.Cut(arg, " ")
	if name == "" || (s.ctx.Identities.ByName(name) == nil && name != s.ctx.Config.POP3User) {
		return s.reply(replyErr, "denied")
	}
	s.snapshot()
	s.state = stateTransaction
	return s.reply(replyOK, fmt.Sprintf("maildrop has %d messages", len(s.inbox)))
}

// snapshot freezes the inbox into the session's numbered mailbox.
func (s *session) snapshot() {
	if s.checker != nil {
		s.checker.CheckInbox()
	}

	files, err := fs.ListFiles(s.ctx.Dirs.Inbox())
	if err != nil {
		s.log.WithError(err).Error("cannot scan inbox")
		return
	}
	for _, path := range files {
		if !strings.HasSuffix(path, email.MailExt) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		uid := strings.TrimSuffix(filepath.Base(path), email.MailExt)
		if e, err := email.Load(path); err == nil && e.MessageID() != "" {
			uid = e.MessageID()
		}
		s.inbox = append(s.inbox, &message{path: path, size: int(info.Size()), uid: uid})
	}
}

func (s *session) handleQuit() error {
	if s.state == stateTransaction {
		for _, m := range s.inbox {
			if !m.deleted {
				continue
			}
			if err := os.Remove(m.path); err != nil {
				s.log.WithError(err).Warnf("cannot remove %s", m.path)
			}
		}
	}
	s.state = stateQuit
	return s.reply(replyOK, "bye")
}

func (s *session) handleStat() error {
	count, octets := 0, 0
	for _, m := range s.inbox {
		if m.deleted {
			continue
		}
		count++
		octets += m.size
	}
	return s.reply(replyOK, fmt.Sprintf("%d %d", count, octets))
}

func (s *session) handleList(arg string) error {
	if arg != "" {
		m, n, err := s.lookup(arg)
		if err != nil {
			return s.reply(replyErr, err.Error())
		}
		return s.reply(replyOK, fmt.Sprintf("%d %d", n, m.size))
	}

	count, octets := 0, 0
	for _, m := range s.inbox {
		if !m.deleted {
			count++
			octets += m.size
		}
	}
	if err := s.reply(replyOK, fmt.Sprintf("%d messages (%d octets)", count, octets)); err != nil {
		return err
	}
	for i, m := range s.inbox {
		if m.deleted {
			continue
		}
		if err := s.line(fmt.Sprintf("%d %d", i+1, m.size)); err != nil {
			return err
		}
	}
	return s.line(".")
}

func (s *session) handleRetr(arg string) error {
	m, _, err := s.lookup(arg)
	if err != nil {
		return s.reply(replyErr, err.Error())
	}
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return s.reply(replyErr, "no such message")
	}
	lines := messageLines(raw)
	// Announce the size of the message as streamed, each line CRLF
	// terminated, not the on-disk byte count.
	octets := 0
	for _, l := range lines {
		octets += len(l) + 2
	}
	if err := s.reply(replyOK, fmt.Sprintf("%d octets", octets)); err != nil {
		return err
	}
	return s.multiline(lines, -1)
}

func (s *session) handleDele(arg string) error {
	m, n, err := s.lookup(arg)
	if err != nil {
		return s.reply(replyErr, err.Error())
	}
	if m.deleted {
		return s.reply(replyErr, "message already deleted")
	}
	m.deleted = true
	return s.reply(replyOK, fmt.Sprintf("message %d deleted", n))
}

func (s *session) handleRset() error {
	for _, m := range s.inbox {
		m.deleted = false
	}
	return s.reply(replyOK, fmt.Sprintf("maildrop has %d messages", len(s.inbox)))
}

func (s *session) handleTop(arg string) error {
	numArg, linesArg, ok := strings.Cut(arg, " ")
	if !ok {
		return s.reply(replyErr, "syntax")
	}
	lines, err := strconv.Atoi(linesArg)
	if err != nil || lines < 0 {
		return s.reply(replyErr, "syntax")
	}
	m, _, err := s.lookup(numArg)
	if err != nil {
		return s.reply(replyErr, err.Error())
	}
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return s.reply(replyErr, "no such message")
	}
	if err := s.reply(replyOK, ""); err != nil {
		return err
	}
	return s.multiline(messageLines(raw), lines)
}

func (s *session) handleUidl(arg string) error {
	if arg != "" {
		m, n, err := s.lookup(arg)
		if err != nil {
			return s.reply(replyErr, err.Error())
		}
		return s.reply(replyOK, fmt.Sprintf("%d %s", n, m.uid))
	}

	if err := s.reply(replyOK, ""); err != nil {
		return err
	}
	for i, m := range s.inbox {
		if m.deleted {
			continue
		}
		if err := s.line(fmt.Sprintf("%d %s", i+1, m.uid)); err != nil {
			return err
		}
	}
	return s.line(".")
}

func (s *session) handleCapa() error {
	if err := s.reply(replyOK, "capability list follows"); err != nil {
		return err
	}
	for _, c := range []string{"USER", "TOP", "UIDL"} {
		if err := s.line(c); err != nil {
			return err
		}
	}
	return s.line(".")
}

// lookup resolves a 1-based message number to a live message.
func (s *session) lookup(arg string) (*message, int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(s.inbox) {
		return nil, 0, fmt.Errorf("no such message")
	}
	m := s.inbox[n-1]
	if m.deleted {
		return nil, 0, fmt.Errorf("message deleted")
	}
	return m, n, nil
}

func (s *session) reply(prefix, text string) error {
	_, err := fmt.Fprintf(s.conn, "%s%s\r\n", prefix, text)
	return err
}

func (s *session) line(text string) error {
	_, err := fmt.Fprintf(s.conn, "%s\r\n", text)
	return err
}

// messageLines splits a raw message into lines with the line endings
// normalized away; the sender re-terminates each with CRLF.
func messageLines(raw []byte) []string {
	lines := strings.Split(string(raw), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, "\r")
	}
	return lines
}

// multiline streams a message body with dot-stuffing and the
// terminating dot line. maxBodyLines bounds the body after the header
// block; negative means the whole message.
func (s *session) multiline(lines []string, maxBodyLines int) error {
	inBody := false
	bodyLines := 0

	for _, l := range lines {
		if inBody {
			if maxBodyLines >= 0 && bodyLines >= maxBodyLines {
				break
			}
			bodyLines++
		} else if l == "" {
			inBody = true
		}

		if strings.HasPrefix(l, ".") {
			l = "." + l
		}
		if err := s.line(l); err != nil {
			return err
		}
	}
	return s.line(".")
}
