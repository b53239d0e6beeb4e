// Package pop3 serves the inbox to local mail clients over RFC 1939.
// The server accepts one client at a time; the mailbox is a snapshot
// of inbox/ taken at login, and deletions are committed only by QUIT.
package pop3

import (
	"errors"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nesbox/pboted/lib/bote"
)

// InboxChecker triggers an inbound mail round before a mailbox
// snapshot, so a login sees mail that arrived since the last periodic
// check.
type InboxChecker interface {
	CheckInbox()
}

// Server is the POP3 server.
type Server struct {
	ctx      *bote.Context
	checker  InboxChecker
	listener net.Listener
	closed   atomic.Bool
	done     chan struct{}
	log      *logrus.Entry
}

// NewServer creates the server. checker may be nil; the snapshot then
// serves whatever is already on disk.
func NewServer(ctx *bote.Context, checker InboxChecker) *Server {
	return &Server{
		ctx:     ctx,
		checker: checker,
		done:    make(chan struct{}),
		log:     logrus.WithField("component", "pop3"),
	}
}

// ListenAndServe listens on the configured address and serves clients
// serially. It blocks until Close.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.ctx.Config.POP3Addr)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts clients on the listener one at a time.
func (s *Server) Serve(listener net.Listener) error {
	s.listener = listener
	defer close(s.done)

	s.log.Infof("listening on %s", listener.Addr())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return err
		}
		s.handle(conn)
	}
}

// handle runs one full session; errors only end that session.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	sess := newSession(s.ctx, s.checker, conn)
	if err := sess.run(); err != nil {
		s.log.WithError(err).Debug("session ended with error")
	}
}

// Close stops accepting and waits for the accept loop to return. A
// session in progress finishes on its own.
func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.listener != nil {
		s.listener.Close()
		<-s.done
	}
	s.log.Info("stopped")
}
