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

package tmgr

import (
	"sort"
	"time"

	"github.com/netflowlabs/ipfixcollector"
)

// Snapshot is an immutable view of a namespace's templates as of one point
// in the namespace's export-time clock. A parser holding a Snapshot from
// when a Data Set was received keeps resolving that set's fields against
// the templates current at that time, even if the live Manager has since
// redefined or withdrawn them — the same guarantee ipfixcol2 documents for
// "snapshots" in template_manager.h, generalized here to be namespaced.
//
// validityEnd marks when this snapshot stopped being the namespace's
// current one (the moment a successor replaced it); the zero value means
// it still is. A snapshot's validity range is therefore [at, validityEnd),
// half-open on the live one.
type Snapshot struct {
	at          time.Time
	validityEnd time.Time
	templates   map[uint16]*ipfix.Template
}

// At returns the export time this snapshot was taken at.
func (s *Snapshot) At() time.Time {
	return s.at
}

// ValidityEnd returns the export time this snapshot was superseded by a
// successor, or the zero Time if it is still the namespace's current one.
func (s *Snapshot) ValidityEnd() time.Time {
	return s.validityEnd
}

// Lookup resolves a template id within the snapshot.
func (s *Snapshot) Lookup(id uint16) (*ipfix.Template, bool) {
	t, ok := s.templates[id]
	return t, ok
}

// snapshot appends a new Snapshot reflecting the namespace's current
// template set. Called with m.mu already held. Consecutive snapshots that
// would be identical in content are collapsed into the earlier one's
// timestamp being extended, rather than kept as separate entries, so a
// namespace that never redefines anything doesn't grow an unbounded
// snapshot history.
func (m *Manager) snapshot() {
	copyOf := make(map[uint16]*ipfix.Template, len(m.templates))
	for id, e := range m.templates {
		copyOf[id] = e.template
	}

	if n := len(m.snapshots); n > 0 && sameTemplateSet(m.snapshots[n-1].templates, copyOf) {
		m.pruneSnapshotsLocked()
		return
	}

	if n := len(m.snapshots); n > 0 {
		m.snapshots[n-1].validityEnd = m.current
	}
	m.snapshots = append(m.snapshots, &Snapshot{at: m.current, templates: copyOf})
	m.pruneSnapshotsLocked()
}

// pruneSnapshotsLocked discards every snapshot whose validity ended more
// than snapshotTimeout ago, always keeping at least the current (still-
// valid) one. Mirrors ipx_tmgr_set_snapshot_timeout: a snapshot is kept
// alive past its replacement for this grace window so a parser still
// holding a reference to it (a reordered or delayed packet resolving
// against the template set that was current when it was sent) can finish
// using it. snapshotTimeout <= 0 disables pruning entirely, matching the
// zero-value Manager's existing unbounded-history behavior.
func (m *Manager) pruneSnapshotsLocked() {
	if m.snapshotTimeout <= 0 {
		return
	}
	i := 0
	for i < len(m.snapshots)-1 {
		end := m.snapshots[i].validityEnd
		if end.IsZero() || !m.current.After(end.Add(m.snapshotTimeout)) {
			break
		}
		i++
	}
	if i > 0 {
		m.snapshots = m.snapshots[i:]
	}
}

func sameTemplateSet(a, b map[uint16]*ipfix.Template) bool {
	if len(a) != len(b) {
		return false
	}
	for id, ta := range a {
		tb, ok := b[id]
		if !ok || ta != tb {
			return false
		}
	}
	return true
}

// Snapshot returns the namespace's template set as it stood at the latest
// recorded point not after exportTime. If exportTime precedes every
// recorded snapshot, the earliest available snapshot is returned — a
// parser asking about a time before this Manager existed gets the oldest
// truth it has, rather than nothing.
func (m *Manager) Snapshot(exportTime time.Time) (*Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.snapshots) == 0 {
		return nil, false
	}

	idx := sort.Search(len(m.snapshots), func(i int) bool {
		return m.snapshots[i].at.After(exportTime)
	})
	if idx == 0 {
		return m.snapshots[0], true
	}
	return m.snapshots[idx-1], true
}
