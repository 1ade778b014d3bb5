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

// Package bus implements the typed message bus that input stages, the
// parser, and the writer are wired together through. It generalizes the
// teacher's raw []byte channels (UDPListener.packetCh, TCPListener.packetCh)
// into a tagged union so every stage can be written against one Message
// type instead of a per-pair channel protocol.
package bus

import (
	"time"

	"github.com/google/uuid"
	"github.com/netflowlabs/ipfixcollector/iana/version"

	"github.com/netflowlabs/ipfixcollector"
)

// Kind discriminates the payload carried by a Message.
type Kind int

const (
	KindIpfix Kind = iota
	KindSessionEvent
	KindGarbage
	KindPeriodic
	KindTerminate
)

func (k Kind) String() string {
	switch k {
	case KindIpfix:
		return "ipfix"
	case KindSessionEvent:
		return "session-event"
	case KindGarbage:
		return "garbage"
	case KindPeriodic:
		return "periodic"
	case KindTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Message is the single type flowing through the bus. Exactly one of the
// payload fields is populated, matching Kind.
type Message struct {
	Kind Kind

	Ipfix        *IpfixPayload
	SessionEvent *SessionEventPayload
	Garbage      *GarbagePayload
	Periodic     *PeriodicPayload
}

// IpfixPayload carries a decoded message plus the transport identity it
// arrived on, so downstream stages (the writer) can key per-ODID state and
// the feedback edge can name which session to close.
type IpfixPayload struct {
	SessionID           uuid.UUID
	Protocol            version.ProtocolVersion
	ObservationDomainId uint32
	StreamId            uint16
	Message             *ipfix.Message
}

type SessionEventKind int

const (
	SessionOpen SessionEventKind = iota
	SessionClose
)

func (k SessionEventKind) String() string {
	if k == SessionOpen {
		return "open"
	}
	return "close"
}

// SessionEventPayload announces a Transport Session's lifecycle. It is
// deliberately independent of internal/session's concrete Session type, so
// this package has no import-cycle back to it.
type SessionEventPayload struct {
	Kind      SessionEventKind
	SessionID uuid.UUID
	Ident     string
	Reason    string
}

// GarbagePayload announces that a stage evicted state (an expired template,
// a pruned snapshot, a closed session) that log correlation may want to
// reference by Tag.
type GarbagePayload struct {
	Tag                 string
	Kind                string
	ObservationDomainId uint32
}

// PeriodicPayload is emitted on a fixed cadence by whichever stage drives
// wall-clock-independent housekeeping (template expiry sweeps, metrics
// flushes) so that downstream stages are not themselves required to keep a
// timer.
type PeriodicPayload struct {
	Time time.Time
}

// CloseSessionRequest travels the feedback edge from a downstream stage
// back to the input stage that owns the session, e.g. when the parser
// reports a fatal dispatch error on a reliable-transport session and that
// connection has to be torn down. The writer does not send one on an ODID
// collision; it drops the colliding session's messages instead.
type CloseSessionRequest struct {
	SessionID uuid.UUID
	Reason    string
}

// FeedbackEdge is the bounded channel a downstream stage uses to ask an
// input stage to tear a session down, without either side needing to hold
// a reference to the other's concrete type.
type FeedbackEdge chan CloseSessionRequest

// NewFeedbackEdge constructs a FeedbackEdge buffered to size.
func NewFeedbackEdge(size int) FeedbackEdge {
	return make(FeedbackEdge, size)
}

// Request asks that id be closed for reason, dropping the request rather
// than blocking the caller if the edge is full.
func (f FeedbackEdge) Request(id uuid.UUID, reason string) {
	select {
	case f <- CloseSessionRequest{SessionID: id, Reason: reason}:
	default:
	}
}
