/*
Copyright 2023 Alexander Bartolomey (github@alexanderbartolomey.de)

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package input

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/netflowlabs/ipfixcollector/internal/bus"
	"github.com/netflowlabs/ipfixcollector/internal/session"
)

// TCPInput accepts IPFIX exporter connections and reassembles each one's
// byte stream into whole messages via a framer, one goroutine per
// connection — an IPFIX TCP connection is a Session for its entire life,
// unlike UDP where every datagram stands alone (RFC 7011 §10.3.4).
// NetFlow v5/v9 are UDP-only in practice, so TCPInput only ever hands
// IPFIX-framed payloads to Sink.
type TCPInput struct {
	bindAddr string
	sink     *Sink
	feedback bus.FeedbackEdge

	addr     *net.TCPAddr
	listener *net.TCPListener

	mu      sync.Mutex
	closers map[uuid.UUID]context.CancelFunc
}

// NewTCPInput constructs a listener bound to bindAddr. feedback may be nil,
// in which case close_session_request is simply never honored (useful in
// tests that don't exercise the feedback edge).
func NewTCPInput(bindAddr string, sink *Sink, feedback bus.FeedbackEdge) *TCPInput {
	return &TCPInput{
		bindAddr: bindAddr,
		sink:     sink,
		feedback: feedback,
		closers:  make(map[uuid.UUID]context.CancelFunc),
	}
}

// Listen blocks, accepting connections and tearing down the connection
// named by each close request arriving on the feedback edge, until ctx is
// cancelled.
func (l *TCPInput) Listen(ctx context.Context) error {
	log := l.sink.Log
	var err error
	l.addr, err = net.ResolveTCPAddr("tcp", l.bindAddr)
	if err != nil {
		log.Error(err, "failed to resolve TCP address", "addr", l.bindAddr)
		return err
	}
	l.listener, err = net.ListenTCP("tcp", l.addr)
	if err != nil {
		log.Error(err, "failed to bind TCP listener", "addr", l.bindAddr)
		return err
	}
	defer l.listener.Close()

	if l.feedback != nil {
		go l.watchFeedback(ctx)
	}

	acceptErrCh := make(chan error, 1)
	go l.acceptLoop(ctx, acceptErrCh)

	log.Info("started TCP listener", "addr", l.bindAddr)
	defer log.Info("shutting down TCP listener", "addr", l.bindAddr)

	select {
	case <-ctx.Done():
		return nil
	case err := <-acceptErrCh:
		return err
	}
}

func (l *TCPInput) acceptLoop(ctx context.Context, errCh chan<- error) {
	log := l.sink.Log
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			TCPErrorsTotal.Inc()
			log.Error(err, "failed to accept TCP connection", "addr", l.bindAddr)
			errCh <- err
			return
		}
		go l.handleConnection(ctx, conn)
	}
}

// watchFeedback tears down whichever connection owns the session named in
// each incoming CloseSessionRequest.
func (l *TCPInput) watchFeedback(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-l.feedback:
			l.mu.Lock()
			cancel, ok := l.closers[req.SessionID]
			l.mu.Unlock()
			if ok {
				cancel()
			}
		}
	}
}

func (l *TCPInput) handleConnection(parent context.Context, conn net.Conn) {
	log := l.sink.Log
	TCPActiveConnections.Inc()
	defer TCPActiveConnections.Dec()
	defer conn.Close()

	remote, rok := conn.RemoteAddr().(*net.TCPAddr)
	local, lok := conn.LocalAddr().(*net.TCPAddr)
	if !rok || !lok {
		log.Info("tcp connection had no TCPAddr endpoints, dropping")
		return
	}

	sess := session.NewTCP(remote.IP, uint16(remote.Port), local.IP, uint16(local.Port))
	sess = l.sink.Sessions.Open(sess)
	log.V(1).Info("accepted TCP connection", "session", sess.Ident())

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	l.mu.Lock()
	l.closers[sess.ID] = cancel
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.closers, sess.ID)
		l.mu.Unlock()
	}()

	fr := newFramer(conn)
	errCh := make(chan error, 1)
	go func() {
		for {
			if err := fr.receive(); err != nil {
				errCh <- err
				return
			}
		}
	}()

	reason := "remote closed"
	for {
		select {
		case <-ctx.Done():
			reason = "closed by feedback edge"
			l.sink.Sessions.Close(sess.ID, reason)
			return
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				log.V(1).Info("connection closed by remote", "session", sess.Ident())
			} else {
				TCPErrorsTotal.Inc()
				log.Error(err, "reading framed message", "session", sess.Ident())
				reason = "read error"
			}
			l.sink.Sessions.Close(sess.ID, reason)
			return
		case packet := <-fr.messages():
			TCPReceivedBytes.Add(float64(len(packet)))
			l.sink.handle(sess, packet)
		}
	}
}
