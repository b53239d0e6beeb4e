package bote

import (
	"crypto/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nesbox/pboted/lib/fs"
	"github.com/nesbox/pboted/lib/packet"
	"github.com/nesbox/pboted/lib/queue"
)

// Context is the shared node state: configuration, directory layout,
// identities, the address book and the two packet queues between the
// transport and everything above it.
type Context struct {
	Config *Config
	Dirs   *fs.Dirs

	Identities  *IdentityStore
	AddressBook *AddressBook

	// SendQueue carries outbound communication packets to the
	// transport; RecvQueue carries inbound ones from it.
	SendQueue *queue.Queue[*packet.Communication]
	RecvQueue *queue.Queue[*packet.Communication]

	startTime time.Time
	bytesRecv atomic.Uint64
	bytesSent atomic.Uint64

	log *logrus.Entry
}

// NewContext builds the context, creates the data directories and
// loads identities and the address book.
func NewContext(cfg *Config) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dirs, err := fs.Init(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	ctx := &Context{
		Config:      cfg,
		Dirs:        dirs,
		Identities:  NewIdentityStore(dirs.Path("identities", "identities.txt")),
		AddressBook: NewAddressBook(dirs.Path("addressbook.txt")),
		SendQueue:   queue.New[*packet.Communication](),
		RecvQueue:   queue.New[*packet.Communication](),
		startTime:   time.Now(),
		log:         logrus.WithField("component", "context"),
	}

	if err := ctx.Identities.Load(); err != nil {
		return nil, err
	}
	if err := ctx.AddressBook.Load(); err != nil {
		return nil, err
	}

	ctx.log.WithFields(logrus.Fields{
		"identities": ctx.Identities.Count(),
		"contacts":   ctx.AddressBook.Size(),
	}).Info("context initialized")
	return ctx, nil
}

// Send enqueues one outbound packet and counts its bytes.
func (c *Context) Send(p *packet.Communication) {
	c.bytesSent.Add(uint64(len(p.Payload) + packet.CommHeaderLen))
	c.SendQueue.Put(p)
}

// Receive enqueues one inbound packet and counts its bytes.
func (c *Context) Receive(p *packet.Communication) {
	c.bytesRecv.Add(uint64(len(p.Payload) + packet.CommHeaderLen))
	c.RecvQueue.Put(p)
}

// Uptime returns the time since the context was created.
func (c *Context) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// BytesRecv returns the inbound byte count.
func (c *Context) BytesRecv() uint64 { return c.bytesRecv.Load() }

// BytesSent returns the outbound byte count.
func (c *Context) BytesSent() uint64 { return c.bytesSent.Load() }

// TsNow returns the current unix time in seconds, the timestamp format
// used on the wire.
func TsNow() uint32 {
	return uint32(time.Now().Unix())
}

// RandomBytes fills a fresh n-byte slice from the system RNG.
func RandomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(err)
	}
	return b
}

// RandomCID returns a fresh correlation id for a communication packet.
func RandomCID() packet.Tag {
	var t packet.Tag
	copy(t[:], RandomBytes(len(t)))
	return t
}
