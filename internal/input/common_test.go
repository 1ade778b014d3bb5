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
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/netflowlabs/ipfixcollector/iana/version"
	"github.com/netflowlabs/ipfixcollector/internal/bus"
	"github.com/netflowlabs/ipfixcollector/internal/ieregistry"
	"github.com/netflowlabs/ipfixcollector/internal/netflow"
	"github.com/netflowlabs/ipfixcollector/internal/parser"
	"github.com/netflowlabs/ipfixcollector/internal/session"
	"github.com/netflowlabs/ipfixcollector/internal/tmgr"
)

func v5Packet(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 24+48)
	binary.BigEndian.PutUint16(b[0:2], 5)
	binary.BigEndian.PutUint16(b[2:4], 1)
	binary.BigEndian.PutUint32(b[8:12], 1000)
	b[21] = 7 // engine id, stands in for an observation domain

	rec := b[24:]
	copy(rec[0:4], []byte{10, 0, 0, 1})
	copy(rec[4:8], []byte{10, 0, 0, 2})
	return b
}

func newTestSink(t *testing.T, out chan bus.Message) *Sink {
	t.Helper()
	return &Sink{
		Log:      logr.Discard(),
		Sessions: session.NewRegistry(nil, 0),
		Parser:   parser.New(logr.Discard(), tmgr.NewRegistry(), ieregistry.NewSeedRegistry()),
		V5:       netflow.NewV5Converter(ieregistry.NewSeedRegistry(), time.Hour),
		V9:       netflow.NewV9Converter(),
		Out:      out,
	}
}

func TestSinkHandleTranslatesNetflowV5OntoBus(t *testing.T) {
	out := make(chan bus.Message, 4)
	sink := newTestSink(t, out)

	sess := session.NewUDP(net.ParseIP("192.0.2.1"), 2055, net.ParseIP("192.0.2.254"), 4739, time.Hour, time.Hour)
	sink.handle(sess, v5Packet(t))

	select {
	case msg := <-out:
		if msg.Kind != bus.KindIpfix {
			t.Fatalf("expected a KindIpfix message, got %s", msg.Kind)
		}
		if msg.Ipfix.Protocol != version.NetFlowV5 {
			t.Fatalf("expected protocol NetFlowV5, got %s", msg.Ipfix.Protocol)
		}
		if msg.Ipfix.ObservationDomainId != 7 {
			t.Fatalf("expected observation domain 7 (from engine id), got %d", msg.Ipfix.ObservationDomainId)
		}
		if len(msg.Ipfix.Message.Sets) != 2 {
			t.Fatalf("expected a template set and a data set, got %d sets", len(msg.Ipfix.Message.Sets))
		}
	default:
		t.Fatal("expected a message on the bus")
	}
}

func TestSniffRejectsUnknownVersion(t *testing.T) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint16(b[0:2], 1234)
	if _, err := sniff(b); err == nil {
		t.Fatal("expected an error for an unrecognized wire version")
	}
}
