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
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netflowlabs/ipfixcollector/internal/session"
)

// Registry lazily creates and owns one Manager per namespace, and is the
// Template Manager's entry point for the rest of the pipeline: the parser
// only ever asks the Registry for a namespace's Manager, never constructs
// one itself.
type Registry struct {
	mu       sync.Mutex
	managers map[NamespaceKey]*Manager

	// snapshotTimeout is applied to every Manager this Registry creates,
	// mirroring ipx_tmgr_set_snapshot_timeout's process-wide default —
	// unlike the UDP template/options lifetimes, it isn't something an
	// exporter session negotiates, so there's nothing per-namespace to
	// thread through Manager().
	snapshotTimeout time.Duration
}

// NewRegistry constructs an empty Registry. Per-namespace UDP lifetimes are
// supplied at Manager() call time instead of being fixed process-wide,
// since §4.4 scopes tmplt_lifetime_s/opts_tmplt_lifetime_s to the exporter
// session that negotiated them, not to the collector as a whole.
func NewRegistry() *Registry {
	return &Registry{
		managers: make(map[NamespaceKey]*Manager),
	}
}

// SetSnapshotTimeout configures the snapshot pruning grace window applied
// to every Manager this Registry creates from this point on. It does not
// retroactively change Managers that already exist.
func (r *Registry) SetSnapshotTimeout(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshotTimeout = timeout
}

// Manager returns the Manager for key, creating it (bound to variant, with
// the given UDP template/options lifetimes) on first use. The lifetimes are
// ignored for a namespace whose Manager already exists, matching the
// existing "settled at first use" contract the rest of this package
// assumes.
func (r *Registry) Manager(key NamespaceKey, variant session.Variant, templateLifetime, optionsLifetime time.Duration) *Manager {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.managers[key]
	if !ok {
		m = NewManager(key, variant, templateLifetime, optionsLifetime)
		m.SetSnapshotTimeout(r.snapshotTimeout)
		r.managers[key] = m
	}
	return m
}

// Drop discards the Manager for key, e.g. once its owning session has
// closed and its templates no longer have anything to scope.
func (r *Registry) Drop(key NamespaceKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.managers, key)
}

// DropSession discards every namespace belonging to sessionID, for a
// session that spans multiple Observation Domains or SCTP streams.
func (r *Registry) DropSession(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.managers {
		if key.SessionID == sessionID {
			delete(r.managers, key)
		}
	}
}

// TakeGarbage drains every namespace's pending garbage in one pass, tagged
// with the namespace it came from.
func (r *Registry) TakeGarbage() []GarbageItem {
	r.mu.Lock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.Unlock()

	var all []GarbageItem
	for _, m := range managers {
		all = append(all, m.TakeGarbage()...)
	}
	return all
}
