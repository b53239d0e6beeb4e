package transport

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nesbox/pboted/lib/bote"
	"github.com/nesbox/pboted/lib/packet"
)

// memConn records sent datagrams in memory.
type memConn struct {
	mu     sync.Mutex
	sent   []sentDatagram
	closed bool
	notify chan struct{}
}

type sentDatagram struct {
	payload []byte
	dest    string
	port    uint16
}

func newMemConn() *memConn {
	return &memConn{notify: make(chan struct{}, 16)}
}

func (c *memConn) SendTo(payload []byte, destB64 string, port uint16) error {
	c.mu.Lock()
	c.sent = append(c.sent, sentDatagram{payload: payload, dest: destB64, port: port})
	c.mu.Unlock()
	c.notify <- struct{}{}
	return nil
}

func (c *memConn) Protocol() uint8 { return 18 }

func (c *memConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *memConn) wait(t *testing.T) sentDatagram {
	t.Helper()
	select {
	case <-c.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram sent")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

func testContext(t *testing.T) *bote.Context {
	t.Helper()
	cfg := bote.DefaultConfig().WithDataDir(filepath.Join(t.TempDir(), "data"))
	ctx, err := bote.NewContext(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return ctx
}

func TestTransport_SendsQueuedPackets(t *testing.T) {
	ctx := testContext(t)
	conn := newMemConn()
	tr := NewTransport(ctx, conn, 5000)
	tr.Start()
	defer tr.Stop()

	p := &packet.Communication{
		Type:    packet.CommFetch,
		Ver:     packet.CommPacketVersion,
		CID:     bote.RandomCID(),
		Payload: []byte{packet.TypeEncrypted},
		From:    "peer-destination",
	}
	ctx.Send(p)

	c := conn.wait(t)
	if c.dest != "peer-destination" {
		t.Errorf("dest = %q", c.dest)
	}
	if c.port != 5000 {
		t.Errorf("port = %d", c.port)
	}

	parsed, err := packet.ParseCommunication(c.payload)
	if err != nil {
		t.Fatalf("sent payload does not parse: %v", err)
	}
	if parsed.Type != packet.CommFetch || parsed.CID != p.CID {
		t.Error("sent packet does not round-trip")
	}
}

func TestTransport_DropsPacketWithoutDestination(t *testing.T) {
	ctx := testContext(t)
	conn := newMemConn()
	tr := NewTransport(ctx, conn, 5000)
	tr.Start()

	ctx.Send(&packet.Communication{Type: packet.CommFetch, CID: bote.RandomCID()})
	ctx.Send(&packet.Communication{Type: packet.CommFetch, CID: bote.RandomCID(), From: "peer"})

	c := conn.wait(t)
	if c.dest != "peer" {
		t.Errorf("dest = %q, the destination-less packet should have been dropped", c.dest)
	}

	tr.Stop()
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.sent) != 1 {
		t.Errorf("sent %d datagrams, want 1", len(conn.sent))
	}
	if !conn.closed {
		t.Error("Stop did not close the connection")
	}
}

func TestTransport_DeliverFeedsReceiveQueue(t *testing.T) {
	ctx := testContext(t)
	tr := NewTransport(ctx, newMemConn(), 5000)

	p := &packet.Communication{
		Type:    packet.CommStore,
		Ver:     packet.CommPacketVersion,
		CID:     bote.RandomCID(),
		Payload: []byte("payload"),
	}
	if err := tr.Deliver(p.ToBytes(), "sender-destination"); err != nil {
		t.Fatal(err)
	}

	got, ok := ctx.RecvQueue.GetNextWithTimeout(time.Second)
	if !ok {
		t.Fatal("nothing on the receive queue")
	}
	if got.From != "sender-destination" {
		t.Errorf("From = %q", got.From)
	}
	if got.CID != p.CID || got.Type != packet.CommStore {
		t.Error("delivered packet does not match")
	}
}

func TestTransport_DeliverRejectsGarbage(t *testing.T) {
	ctx := testContext(t)
	tr := NewTransport(ctx, newMemConn(), 5000)

	if err := tr.Deliver([]byte("not a packet"), "sender"); err == nil {
		t.Fatal("garbage was accepted")
	}
	if ctx.RecvQueue.Len() != 0 {
		t.Error("garbage reached the receive queue")
	}
}
