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

// Package input adapts the teacher's udp.go/tcp.go listeners to the wider
// pipeline: instead of handing raw []byte packets straight to a decoder,
// each listener sniffs the protocol version, runs NetFlow v5/v9 through
// internal/netflow, resolves a session.Session for the peer, and dispatches
// the result through internal/parser onto the bus.
package input

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/netflowlabs/ipfixcollector"
	"github.com/netflowlabs/ipfixcollector/iana/version"
	"github.com/netflowlabs/ipfixcollector/internal/bus"
	"github.com/netflowlabs/ipfixcollector/internal/netflow"
	"github.com/netflowlabs/ipfixcollector/internal/parser"
	"github.com/netflowlabs/ipfixcollector/internal/session"
	"github.com/netflowlabs/ipfixcollector/internal/tmgr"
)

// ipfixMessageHeaderLength is the fixed size of an IPFIX Message Header
// (RFC 7011 §3.1), shared by both the TCP framer and the version sniff.
const ipfixMessageHeaderLength = 16

// Sink is the shared plumbing both TCPInput and UDPInput hand a framed
// payload to once they've read one off the wire. It owns nothing about
// sockets; it only knows how to turn bytes into a bus.Message.
type Sink struct {
	Log logr.Logger

	Sessions *session.Registry
	Parser   *parser.Parser
	V5       *netflow.V5Converter
	V9       *netflow.V9Converter

	Out chan<- bus.Message

	// Feedback lets handle ask a reliable-transport listener to tear down
	// the session a parser.FatalDispatchError came from. Left as the zero
	// value (a nil chan), Request is a silent no-op, which is what every
	// UDP-only Sink wants since UDP sessions have nothing to close.
	Feedback bus.FeedbackEdge
}

// sniff reads the 2-byte version field every supported wire format starts
// with, without consuming payload.
func sniff(payload []byte) (version.ProtocolVersion, error) {
	if len(payload) < 2 {
		return version.Unknown, fmt.Errorf("%w: payload shorter than a version field", ipfix.ErrTrunc)
	}
	switch v := binary.BigEndian.Uint16(payload[0:2]); v {
	case 5:
		return version.NetFlowV5, nil
	case 9:
		return version.NetFlowV9, nil
	case 10:
		return version.IPFIX, nil
	default:
		return version.Unknown, fmt.Errorf("%w: unrecognized wire version %d", ipfix.ErrFormat, v)
	}
}

// handle turns one framed payload from sess into a resolved bus.Message,
// translating NetFlow v5/v9 through internal/netflow first. sess.Variant tells
// the Template Manager which redefinition/withdrawal policy namespace this
// payload belongs to.
func (s *Sink) handle(sess *session.Session, payload []byte) {
	proto, err := sniff(payload)
	if err != nil {
		s.Log.V(1).Info("dropping unparseable payload", "session", sess.Ident(), "error", err.Error())
		return
	}

	var (
		msg  *ipfix.Message
		odid uint32
	)

	switch proto {
	case version.NetFlowV5:
		odid = uint32(payload[21]) // EngineID, RFC 7011 has no v5 equivalent of an ODID
		msg, err = s.V5.Convert(sess.ID, odid, payload)
	case version.NetFlowV9:
		if len(payload) < 20 {
			err = fmt.Errorf("%w: netflow v9 header truncated", ipfix.ErrTrunc)
			break
		}
		odid = binary.BigEndian.Uint32(payload[16:20]) // Source ID
		msg, err = s.V9.Convert(sess.ID, odid, payload)
	case version.IPFIX:
		if len(payload) < ipfixMessageHeaderLength {
			err = fmt.Errorf("%w: ipfix message header truncated", ipfix.ErrTrunc)
			break
		}
		odid = binary.BigEndian.Uint32(payload[12:16])
	}
	if err != nil {
		s.Log.Error(err, "translating inbound payload", "session", sess.Ident(), "protocol", proto.String())
		return
	}

	ns := tmgr.NamespaceKey{SessionID: sess.ID, ODID: odid}

	var wire []byte
	if proto == version.IPFIX {
		wire = payload
	} else {
		buf := make([]byte, 0, msg.Length)
		w := &byteSliceWriter{buf: &buf}
		if _, err := msg.Encode(w); err != nil {
			s.Log.Error(err, "re-encoding translated message", "session", sess.Ident())
			return
		}
		wire = buf
	}

	result, err := s.Parser.Parse(ns, sess.Variant, sess.TemplateLifetime, sess.OptionsLifetime, wire)
	if err != nil {
		s.Log.Error(err, "parsing message", "session", sess.Ident(), "namespace", ns.String())
		var fatal *parser.FatalDispatchError
		if errors.As(err, &fatal) {
			s.Feedback.Request(sess.ID, err.Error())
		}
		return
	}

	s.Sessions.Touch(sess.ID)

	s.Out <- bus.Message{
		Kind: bus.KindIpfix,
		Ipfix: &bus.IpfixPayload{
			SessionID:           sess.ID,
			Protocol:            proto,
			ObservationDomainId: odid,
			Message:             result.Message,
		},
	}

	for _, g := range result.Garbage {
		s.Out <- bus.Message{
			Kind: bus.KindGarbage,
			Garbage: &bus.GarbagePayload{
				Tag:                 g.Tag.String(),
				Kind:                g.Reason,
				ObservationDomainId: odid,
			},
		}
	}
}

// emitPeriodic is used by whichever input stage owns the housekeeping
// ticker (UDPInput — TCP connections have no natural per-peer ticker of
// their own) to drive template-expiry sweeps downstream.
func emitPeriodic(out chan<- bus.Message, t time.Time) {
	out <- bus.Message{Kind: bus.KindPeriodic, Periodic: &bus.PeriodicPayload{Time: t}}
}

// byteSliceWriter adapts a *[]byte to io.Writer without pulling in
// bytes.Buffer just to grow a slice once.
type byteSliceWriter struct {
	buf *[]byte
}

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
