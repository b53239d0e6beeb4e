// Package transport moves communication packets between the node and
// its peers over I2P datagrams. The send loop drains the context's
// send queue; inbound datagrams are parsed and handed to the receive
// queue for the DHT worker.
package transport

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nesbox/pboted/lib/bote"
	"github.com/nesbox/pboted/lib/packet"
)

// DatagramConnection is an interface representing go-datagrams
// DatagramConn. This abstraction allows for testing without an actual
// I2P router.
type DatagramConnection interface {
	// SendTo sends a datagram to the destination.
	SendTo(payload []byte, destB64 string, port uint16) error

	// Protocol returns the datagram protocol type.
	Protocol() uint8

	// Close closes the connection.
	Close() error
}

// Transport pumps the outbound queue onto the wire and feeds inbound
// datagrams back into the node.
type Transport struct {
	ctx  *bote.Context
	conn DatagramConnection
	port uint16

	started atomic.Bool
	done    chan struct{}
	log     *logrus.Entry
}

// NewTransport creates the transport on top of an established datagram
// connection. port is the destination port outbound packets are
// addressed to.
func NewTransport(ctx *bote.Context, conn DatagramConnection, port uint16) *Transport {
	return &Transport{
		ctx:  ctx,
		conn: conn,
		port: port,
		done: make(chan struct{}),
		log:  logrus.WithField("component", "transport"),
	}
}

// Start launches the send loop.
func (t *Transport) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	go t.sendLoop()
	t.log.WithField("protocol", t.conn.Protocol()).Info("started")
}

// Stop ends the send loop and closes the connection.
func (t *Transport) Stop() {
	if !t.started.CompareAndSwap(true, false) {
		return
	}
	t.ctx.SendQueue.WakeUp()
	<-t.done
	if err := t.conn.Close(); err != nil {
		t.log.WithError(err).Warn("close failed")
	}
	t.log.Info("stopped")
}

// sendLoop drains the send queue one packet at a time. The timeout
// bounds how long a stop request can go unnoticed.
func (t *Transport) sendLoop() {
	defer close(t.done)

	for t.started.Load() {
		p, ok := t.ctx.SendQueue.GetNextWithTimeout(time.Second)
		if !ok {
			continue
		}
		if p.From == "" {
			t.log.Warn("dropping outbound packet without a destination")
			continue
		}
		if err := t.conn.SendTo(p.ToBytes(), p.From, t.port); err != nil {
			t.log.WithError(err).Warnf("cannot send type %q packet", p.Type)
		}
	}
}

// Deliver parses one inbound datagram and enqueues it for the DHT
// worker. from is the sender's destination, used to address the reply.
func (t *Transport) Deliver(data []byte, from string) error {
	p, err := packet.ParseCommunication(data)
	if err != nil {
		return err
	}
	p.From = from
	t.ctx.Receive(p)
	return nil
}
