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

package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netflowlabs/ipfixcollector/internal/bus"
)

// Registry tracks live sessions by remote endpoint, the way the teacher's
// udp.go/tcp.go reader goroutines kept an implicit map of peers alive for
// the life of the listener — generalized here into an explicit, queryable
// store that also emits SessionOpen/SessionClose onto the bus.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	lastSeen map[uuid.UUID]time.Time

	events chan<- bus.Message

	// connectionTimeout ages out idle UDP peers; a peer with no packets
	// for this long is treated as gone even though UDP itself has no
	// close handshake to observe.
	connectionTimeout time.Duration
}

// NewRegistry constructs an empty Registry. events may be nil, in which
// case session lifecycle is tracked but nothing is published to the bus
// (useful in tests).
func NewRegistry(events chan<- bus.Message, connectionTimeout time.Duration) *Registry {
	return &Registry{
		sessions:          make(map[string]*Session),
		lastSeen:          make(map[uuid.UUID]time.Time),
		events:            events,
		connectionTimeout: connectionTimeout,
	}
}

func key(remoteIP string, remotePort uint16, variant Variant) string {
	return fmt.Sprintf("%s:%d/%s", remoteIP, remotePort, variant)
}

// Open returns the existing Session for this peer if one is live, or
// registers s as the session for its tuple and emits SessionOpen.
func (r *Registry) Open(s *Session) *Session {
	k := key(s.RemoteIP.String(), s.RemotePort, s.Variant)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[k]; ok {
		r.lastSeen[existing.ID] = time.Now()
		return existing
	}

	r.sessions[k] = s
	r.lastSeen[s.ID] = time.Now()
	r.emit(bus.Message{
		Kind: bus.KindSessionEvent,
		SessionEvent: &bus.SessionEventPayload{
			Kind:      bus.SessionOpen,
			SessionID: s.ID,
			Ident:     s.Ident(),
		},
	})
	return s
}

// Touch records that a packet was just seen for the session, resetting its
// idle-aging deadline.
func (r *Registry) Touch(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lastSeen[id]; ok {
		r.lastSeen[id] = time.Now()
	}
}

// Close removes a session from the registry and emits SessionClose.
func (r *Registry) Close(id uuid.UUID, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, s := range r.sessions {
		if s.ID == id {
			delete(r.sessions, k)
			delete(r.lastSeen, id)
			r.emit(bus.Message{
				Kind: bus.KindSessionEvent,
				SessionEvent: &bus.SessionEventPayload{
					Kind:      bus.SessionClose,
					SessionID: id,
					Ident:     s.Ident(),
					Reason:    reason,
				},
			})
			return
		}
	}
}

// Get returns the session registered under id, if any.
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// All returns a snapshot slice of currently registered sessions.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) emit(m bus.Message) {
	if r.events == nil {
		return
	}
	r.events <- m
}

// RunIdleSweep blocks, periodically closing UDP sessions that have gone
// silent for longer than connectionTimeout, until ctx is cancelled. Only
// UDP sessions are aged this way — TCP and SCTP sessions close when their
// net.Conn does, and File sessions are not live transport at all.
func (r *Registry) RunIdleSweep(ctx context.Context, interval time.Duration) {
	if r.connectionTimeout <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	var expired []*Session
	for k, s := range r.sessions {
		if s.Variant != Udp {
			continue
		}
		if now.Sub(r.lastSeen[s.ID]) > r.connectionTimeout {
			expired = append(expired, s)
			delete(r.sessions, k)
			delete(r.lastSeen, s.ID)
		}
	}
	r.mu.Unlock()

	for _, s := range expired {
		r.emit(bus.Message{
			Kind: bus.KindSessionEvent,
			SessionEvent: &bus.SessionEventPayload{
				Kind:      bus.SessionClose,
				SessionID: s.ID,
				Ident:     s.Ident(),
				Reason:    "idle timeout",
			},
		})
	}
}
