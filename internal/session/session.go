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

// Package session tracks Transport Sessions (the Exporter<->Collector
// relationship independent of Observation Domain or Stream), mirroring
// ipx_session from CESNET's ipfixcol2 but built on net.IP/net.UDPAddr
// instead of a tagged union of sockaddrs.
package session

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Variant is the transport a Session was established over.
type Variant int

const (
	Tcp Variant = iota
	Udp
	Sctp
	File
)

func (v Variant) String() string {
	switch v {
	case Tcp:
		return "tcp"
	case Udp:
		return "udp"
	case Sctp:
		return "sctp"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// Session is immutable after construction. Two sessions with the same
// remote/local tuple and Variant compare equal by value; v4-mapped-in-v6
// addresses are normalized to their 4-byte form in the constructors so
// "::ffff:10.0.0.1" and "10.0.0.1" are the same peer.
type Session struct {
	ID uuid.UUID

	Variant Variant

	RemoteIP   net.IP
	RemotePort uint16
	LocalIP    net.IP
	LocalPort  uint16

	// FilePath is set only for Variant == File.
	FilePath string

	// TemplateLifetime and OptionsLifetime are UDP-only (§4.4); zero for
	// every other Variant, meaning "rely on explicit withdrawal instead".
	TemplateLifetime time.Duration
	OptionsLifetime  time.Duration

	ident string
}

func normalize(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// NewTCP constructs a TCP Session.
func NewTCP(remoteIP net.IP, remotePort uint16, localIP net.IP, localPort uint16) *Session {
	s := &Session{
		ID:         uuid.New(),
		Variant:    Tcp,
		RemoteIP:   normalize(remoteIP),
		RemotePort: remotePort,
		LocalIP:    normalize(localIP),
		LocalPort:  localPort,
	}
	s.ident = fmt.Sprintf("tcp %s:%d->%s:%d", s.RemoteIP, s.RemotePort, s.LocalIP, s.LocalPort)
	return s
}

// NewUDP constructs a UDP Session with its per-exporter template/options
// lifetimes (§4.4 "UDP redefinition always allowed, retroactive expiry").
func NewUDP(remoteIP net.IP, remotePort uint16, localIP net.IP, localPort uint16, templateLifetime, optionsLifetime time.Duration) *Session {
	s := &Session{
		ID:               uuid.New(),
		Variant:          Udp,
		RemoteIP:         normalize(remoteIP),
		RemotePort:       remotePort,
		LocalIP:          normalize(localIP),
		LocalPort:        localPort,
		TemplateLifetime: templateLifetime,
		OptionsLifetime:  optionsLifetime,
	}
	s.ident = fmt.Sprintf("udp %s:%d->%s:%d", s.RemoteIP, s.RemotePort, s.LocalIP, s.LocalPort)
	return s
}

// NewSCTP constructs an SCTP Session.
func NewSCTP(remoteIP net.IP, remotePort uint16, localIP net.IP, localPort uint16) *Session {
	s := &Session{
		ID:         uuid.New(),
		Variant:    Sctp,
		RemoteIP:   normalize(remoteIP),
		RemotePort: remotePort,
		LocalIP:    normalize(localIP),
		LocalPort:  localPort,
	}
	s.ident = fmt.Sprintf("sctp %s:%d->%s:%d", s.RemoteIP, s.RemotePort, s.LocalIP, s.LocalPort)
	return s
}

// NewFile constructs a File "session" used when replaying a persisted
// IPFIX File Format stream rather than decoding live transport traffic.
func NewFile(path string) *Session {
	s := &Session{
		ID:       uuid.New(),
		Variant:  File,
		FilePath: path,
	}
	s.ident = fmt.Sprintf("file %s", path)
	return s
}

// Ident is the human-readable identity string used in logs, matching the
// "<proto> <src>-><dst>" convention ipfixcol2 documents for ipx_session.ident.
func (s *Session) Ident() string {
	return s.ident
}

// Equal compares two sessions by their network tuple and Variant, not by
// ID — two Session values constructed for the same peer are Equal even
// though each carries its own freshly generated uuid.UUID.
func (s *Session) Equal(o *Session) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Variant != o.Variant {
		return false
	}
	switch s.Variant {
	case File:
		return s.FilePath == o.FilePath
	default:
		return s.RemoteIP.Equal(o.RemoteIP) && s.RemotePort == o.RemotePort &&
			s.LocalIP.Equal(o.LocalIP) && s.LocalPort == o.LocalPort
	}
}

func (s *Session) String() string {
	return s.ident
}
