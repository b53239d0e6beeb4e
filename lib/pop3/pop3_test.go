package pop3

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nesbox/pboted/lib/bote"
)

func testContext(t *testing.T) *bote.Context {
	t.Helper()
	cfg := bote.DefaultConfig().WithDataDir(filepath.Join(t.TempDir(), "data"))
	ctx, err := bote.NewContext(cfg)
	if err != nil {
		t.Fatal(err)
	}
	id, err := bote.NewPrivateIdentity(bote.KeyX25519Ed25519, "alice")
	if err != nil {
		t.Fatal(err)
	}
	ctx.Identities.Add(id)
	return ctx
}

func writeInboxMail(t *testing.T, ctx *bote.Context, name, messageID, body string) string {
	t.Helper()
	raw := "From: <someone>\r\n" +
		"Message-ID: <" + messageID + ">\r\n" +
		"Subject: test\r\n" +
		"\r\n" +
		body + "\r\n"
	path := filepath.Join(ctx.Dirs.Inbox(), name+".mail")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// client drives one session over an in-memory pipe.
type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	done chan struct{}
}

func dial(t *testing.T, ctx *bote.Context) *client {
	t.Helper()
	server, conn := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer server.Close()
		newSession(ctx, nil, server).run()
	}()

	c := &client{t: t, conn: conn, r: bufio.NewReader(conn), done: done}
	t.Cleanup(func() {
		conn.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("session did not end")
		}
	})

	if got := c.readLine(); !strings.HasPrefix(got, "+OK POP3 server ready") {
		t.Fatalf("greeting = %q", got)
	}
	return c
}

func (c *client) send(line string) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
}

func (c *client) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// cmd sends a command and returns the single-line reply.
func (c *client) cmd(line string) string {
	c.send(line)
	return c.readLine()
}

// readMultiline collects lines until the terminating dot.
func (c *client) readMultiline() []string {
	var out []string
	for {
		line := c.readLine()
		if line == "." {
			return out
		}
		out = append(out, line)
	}
}

func login(t *testing.T, c *client) {
	t.Helper()
	if got := c.cmd("USER alice"); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("USER reply = %q", got)
	}
	if got := c.cmd("PASS whatever"); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("PASS reply = %q", got)
	}
}

func TestSession_AuthStateMachine(t *testing.T) {
	ctx := testContext(t)
	c := dial(t, ctx)

	if got := c.cmd("PASS early"); !strings.HasPrefix(got, "-ERR") {
		t.Errorf("PASS before USER = %q", got)
	}
	if got := c.cmd("STAT"); !strings.HasPrefix(got, "-ERR") {
		t.Errorf("STAT before login = %q", got)
	}
	if got := c.cmd("USER mallory"); !strings.HasPrefix(got, "-ERR") {
		t.Errorf("USER with unknown name = %q", got)
	}
	login(t, c)
	if got := c.cmd("NOOP"); !strings.HasPrefix(got, "+OK") {
		t.Errorf("NOOP after login = %q", got)
	}
	c.cmd("QUIT")
}

func TestSession_DeleQuitCommits(t *testing.T) {
	ctx := testContext(t)
	first := writeInboxMail(t, ctx, "a", "first@bote.i2p", "one")
	second := writeInboxMail(t, ctx, "b", "second@bote.i2p", "two")

	c := dial(t, ctx)
	login(t, c)

	if got := c.cmd("DELE 1"); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("DELE 1 = %q", got)
	}
	if got := c.cmd("DELE 1"); !strings.HasPrefix(got, "-ERR") {
		t.Errorf("second DELE 1 = %q", got)
	}
	if got := c.cmd("QUIT"); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("QUIT = %q", got)
	}

	if _, err := os.Stat(first); !os.IsNotExist(err) {
		t.Error("deleted message still on disk after QUIT")
	}
	if _, err := os.Stat(second); err != nil {
		t.Error("kept message vanished")
	}
}

func TestSession_DeleRsetPreserves(t *testing.T) {
	ctx := testContext(t)
	first := writeInboxMail(t, ctx, "a", "first@bote.i2p", "one")
	second := writeInboxMail(t, ctx, "b", "second@bote.i2p", "two")

	c := dial(t, ctx)
	login(t, c)

	c.cmd("DELE 1")
	if got := c.cmd("RSET"); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("RSET = %q", got)
	}
	// Message 1 is retrievable again.
	if got := c.cmd("RETR 1"); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("RETR 1 after RSET = %q", got)
	}
	c.readMultiline()
	c.cmd("QUIT")

	if _, err := os.Stat(first); err != nil {
		t.Error("message 1 vanished despite RSET")
	}
	if _, err := os.Stat(second); err != nil {
		t.Error("message 2 vanished")
	}
}

func TestSession_StatAndList(t *testing.T) {
	ctx := testContext(t)
	writeInboxMail(t, ctx, "a", "first@bote.i2p", "one")
	writeInboxMail(t, ctx, "b", "second@bote.i2p", "two")

	c := dial(t, ctx)
	login(t, c)

	stat := c.cmd("STAT")
	if !strings.HasPrefix(stat, "+OK 2 ") {
		t.Errorf("STAT = %q", stat)
	}

	if got := c.cmd("LIST"); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("LIST = %q", got)
	}
	if lines := c.readMultiline(); len(lines) != 2 {
		t.Errorf("LIST returned %d entries, want 2", len(lines))
	}

	c.cmd("DELE 2")
	if got := c.cmd("STAT"); !strings.HasPrefix(got, "+OK 1 ") {
		t.Errorf("STAT after DELE = %q", got)
	}
	if got := c.cmd("LIST 2"); !strings.HasPrefix(got, "-ERR") {
		t.Errorf("LIST of a deleted message = %q", got)
	}
	c.cmd("QUIT")
}

func TestSession_RetrDotStuffing(t *testing.T) {
	ctx := testContext(t)
	writeInboxMail(t, ctx, "a", "first@bote.i2p", ".starts with a dot")

	c := dial(t, ctx)
	login(t, c)

	if got := c.cmd("RETR 1"); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("RETR = %q", got)
	}
	lines := c.readMultiline()
	found := false
	for _, l := range lines {
		if l == "..starts with a dot" {
			found = true
		}
		if strings.HasPrefix(l, ".") && !strings.HasPrefix(l, "..") {
			t.Errorf("unstuffed dot line %q", l)
		}
	}
	if !found {
		t.Error("dot line was not stuffed")
	}
	c.cmd("QUIT")
}

func TestSession_RetrSizeMatchesStream(t *testing.T) {
	ctx := testContext(t)
	// LF-only line endings on disk; the stream re-terminates with CRLF.
	raw := "From: <someone>\nMessage-ID: <first@bote.i2p>\nSubject: test\n\nbare lf body\n"
	path := filepath.Join(ctx.Dirs.Inbox(), "a.mail")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	c := dial(t, ctx)
	login(t, c)

	reply := c.cmd("RETR 1")
	if !strings.HasPrefix(reply, "+OK ") {
		t.Fatalf("RETR = %q", reply)
	}
	var announced int
	if _, err := fmt.Sscanf(reply, "+OK %d octets", &announced); err != nil {
		t.Fatalf("RETR reply %q: %v", reply, err)
	}

	streamed := 0
	for _, l := range c.readMultiline() {
		streamed += len(l) + 2
	}
	if announced != streamed {
		t.Errorf("announced %d octets, streamed %d", announced, streamed)
	}
	c.cmd("QUIT")
}

func TestSession_TopAndUidl(t *testing.T) {
	ctx := testContext(t)
	writeInboxMail(t, ctx, "a", "first@bote.i2p", "line1\r\nline2\r\nline3")

	c := dial(t, ctx)
	login(t, c)

	if got := c.cmd("TOP 1 1"); !strings.HasPrefix(got, "+OK") {
		t.Fatalf("TOP = %q", got)
	}
	lines := c.readMultiline()
	body := 0
	inBody := false
	for _, l := range lines {
		if inBody {
			body++
		}
		if l == "" {
			inBody = true
		}
	}
	if body != 1 {
		t.Errorf("TOP 1 1 returned %d body lines, want 1", body)
	}

	if got := c.cmd("UIDL 1"); got != "+OK 1 first@bote.i2p" {
		t.Errorf("UIDL 1 = %q", got)
	}
	c.cmd("QUIT")
}

func TestServer_ServeAndClose(t *testing.T) {
	ctx := testContext(t)
	writeInboxMail(t, ctx, "a", "first@bote.i2p", "hello")

	srv := NewServer(ctx, nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(listener)
	defer srv.Close()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	c := &client{t: t, conn: conn, r: bufio.NewReader(conn), done: make(chan struct{})}
	close(c.done)
	if got := c.readLine(); !strings.HasPrefix(got, "+OK POP3 server ready") {
		t.Fatalf("greeting = %q", got)
	}
	login(t, c)
	if got := c.cmd("STAT"); !strings.HasPrefix(got, "+OK 1 ") {
		t.Errorf("STAT = %q", got)
	}
	c.cmd("QUIT")
}
