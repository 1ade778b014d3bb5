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
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/netflowlabs/ipfixcollector/internal/session"
)

// UDPInput reads IPFIX/NetFlow datagrams off one UDP socket and turns each
// into a bus.Message via Sink. UDP carries no connection, so "session" here
// just means the (remote, local) address tuple session.Registry already
// keys on; a peer that goes quiet for the registry's connectionTimeout is
// aged out by Registry.RunIdleSweep rather than by anything this type does.
type UDPInput struct {
	bindAddr      string
	templateLife  time.Duration
	optionsLife   time.Duration
	periodicFlush time.Duration

	sink *Sink

	addr     *net.UDPAddr
	listener net.PacketConn
}

// NewUDPInput constructs a listener bound to bindAddr ("host:port").
// templateLife/optionsLife are the per-exporter UDP lifetimes §4.4 requires
// (and are recorded on each session.Session the first time its peer is
// seen); periodicFlush drives the housekeeping tick forwarded to the bus so
// downstream stages can sweep expired templates on a wall-clock cadence
// even during a lull in traffic.
func NewUDPInput(bindAddr string, templateLife, optionsLife, periodicFlush time.Duration, sink *Sink) *UDPInput {
	return &UDPInput{
		bindAddr:      bindAddr,
		templateLife:  templateLife,
		optionsLife:   optionsLife,
		periodicFlush: periodicFlush,
		sink:          sink,
	}
}

func reusePortControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	controlErr := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if controlErr != nil {
		return controlErr
	}
	return sockErr
}

// Listen blocks, reading datagrams until ctx is cancelled.
func (l *UDPInput) Listen(ctx context.Context) error {
	log := l.sink.Log
	var err error
	l.addr, err = net.ResolveUDPAddr("udp", l.bindAddr)
	if err != nil {
		log.Error(err, "failed to resolve UDP address", "addr", l.bindAddr)
		return err
	}

	listenConfig := net.ListenConfig{Control: reusePortControl}
	l.listener, err = listenConfig.ListenPacket(ctx, "udp", l.bindAddr)
	if err != nil {
		log.Error(err, "failed to bind udp listener", "addr", l.bindAddr)
		return err
	}
	defer l.listener.Close()

	readErrCh := make(chan error, 1)
	go l.readLoop(readErrCh)

	var ticker *time.Ticker
	var tickCh <-chan time.Time
	if l.periodicFlush > 0 {
		ticker = time.NewTicker(l.periodicFlush)
		defer ticker.Stop()
		tickCh = ticker.C
	}

	log.Info("started UDP listener", "addr", l.bindAddr)
	defer log.Info("shutting down UDP listener", "addr", l.bindAddr)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErrCh:
			return err
		case t := <-tickCh:
			emitPeriodic(l.sink.Out, t)
		}
	}
}

func (l *UDPInput) readLoop(errCh chan<- error) {
	log := l.sink.Log
	buffer := make([]byte, UDPPacketBufferSize)
	for {
		n, addr, err := l.listener.ReadFrom(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			UDPErrorsTotal.Inc()
			log.Error(err, "failed to read from UDP socket")
			errCh <- err
			return
		}
		UDPPacketsTotal.Inc()
		UDPPacketBytes.Observe(float64(n))

		packet := make([]byte, n)
		copy(packet, buffer[:n])

		remote, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		local := l.addr
		sess := session.NewUDP(remote.IP, uint16(remote.Port), local.IP, uint16(local.Port), l.templateLife, l.optionsLife)
		sess = l.sink.Sessions.Open(sess)

		l.sink.handle(sess, packet)
	}
}
