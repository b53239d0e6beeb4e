package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-i2p/go-datagrams"
	go_i2cp "github.com/go-i2p/go-i2cp"
	"github.com/sirupsen/logrus"
)

// Receiver consumes one inbound datagram.
type Receiver func(data []byte, from string)

// Link is the node's connection to the local I2P router: an I2CP
// client, one session, and a go-datagrams connection bound to the
// node's port. It implements DatagramConnection.
type Link struct {
	mu      sync.RWMutex
	client  *go_i2cp.Client
	session *go_i2cp.Session
	conn    *datagrams.DatagramConn
	recv    Receiver

	stop chan struct{}
	log  *logrus.Entry
}

// Connect dials the I2P router over I2CP, creates a session and binds
// a datagram connection to port. The router is expected at the
// default I2CP address, localhost:7654.
func Connect(ctx context.Context, port uint16) (*Link, error) {
	l := &Link{
		stop: make(chan struct{}),
		log:  logrus.WithField("component", "i2cp"),
	}

	l.client = go_i2cp.NewClient(&go_i2cp.ClientCallBacks{})
	if err := l.client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("cannot connect to I2P router: %w", err)
	}

	callbacks := go_i2cp.SessionCallbacks{
		OnMessage: l.onMessage,
		OnStatus: func(session *go_i2cp.Session, status go_i2cp.SessionStatus) {
			l.log.Debugf("session status %v", status)
		},
	}
	l.session = go_i2cp.NewSession(l.client, callbacks)

	// ProcessIO drives the I2CP protocol; go-i2cp expects the caller
	// to pump it.
	go l.processIO()

	if err := l.client.CreateSessionSync(ctx, l.session); err != nil {
		l.Close()
		return nil, fmt.Errorf("cannot create I2CP session: %w", err)
	}

	conn, err := datagrams.NewDatagramConn(l.session, port)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("cannot bind datagram connection: %w", err)
	}
	l.conn = conn

	l.log.Info("connected to I2P router")
	return l, nil
}

// SetReceiver installs the inbound datagram consumer. Datagrams
// arriving before a receiver is set are dropped.
func (l *Link) SetReceiver(r Receiver) {
	l.mu.Lock()
	l.recv = r
	l.mu.Unlock()
}

// Destination returns the session's base64 destination, the address
// peers reach this node at.
func (l *Link) Destination() string {
	dest := l.session.Destination()
	if dest == nil {
		return ""
	}
	return dest.Base64()
}

// SendTo implements DatagramConnection.
func (l *Link) SendTo(payload []byte, destB64 string, port uint16) error {
	return l.conn.SendTo(payload, destB64, port)
}

// Protocol implements DatagramConnection.
func (l *Link) Protocol() uint8 {
	if l.conn == nil {
		return 0
	}
	return l.conn.Protocol()
}

// Close implements DatagramConnection. Safe to call on a partially
// constructed link.
func (l *Link) Close() error {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
	if l.conn != nil {
		l.conn.Close()
	}
	if l.session != nil {
		l.session.Close()
	}
	return l.client.Close()
}

func (l *Link) onMessage(session *go_i2cp.Session, srcDest *go_i2cp.Destination, protocol uint8, srcPort, destPort uint16, payload *go_i2cp.Stream) {
	l.mu.RLock()
	recv := l.recv
	l.mu.RUnlock()

	if recv == nil || srcDest == nil || payload == nil {
		return
	}
	recv(payload.Bytes(), srcDest.Base64())
}

func (l *Link) processIO() {
	for {
		select {
		case <-l.stop:
			return
		default:
		}
		if err := l.client.ProcessIO(context.Background()); err != nil {
			if err == go_i2cp.ErrClientClosed {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
}
