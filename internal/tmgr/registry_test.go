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
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/netflowlabs/ipfixcollector/internal/session"
)

func TestRegistrySnapshotTimeoutAppliesToNewManagers(t *testing.T) {
	reg := NewRegistry()
	reg.SetSnapshotTimeout(time.Minute)

	key := NamespaceKey{SessionID: uuid.New(), ODID: 1}
	m := reg.Manager(key, session.Tcp, 0, 0)

	m.mu.Lock()
	got := m.snapshotTimeout
	m.mu.Unlock()
	if got != time.Minute {
		t.Fatalf("expected the registry's snapshot timeout to be applied at creation, got %v", got)
	}
}

func TestRegistryDropSessionRemovesAllItsNamespaces(t *testing.T) {
	reg := NewRegistry()
	sessionID := uuid.New()
	other := uuid.New()

	reg.Manager(NamespaceKey{SessionID: sessionID, ODID: 1}, session.Tcp, 0, 0)
	reg.Manager(NamespaceKey{SessionID: sessionID, ODID: 2}, session.Tcp, 0, 0)
	reg.Manager(NamespaceKey{SessionID: other, ODID: 1}, session.Tcp, 0, 0)

	reg.DropSession(sessionID)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if len(reg.managers) != 1 {
		t.Fatalf("expected only the other session's namespace to remain, got %d", len(reg.managers))
	}
	if _, ok := reg.managers[NamespaceKey{SessionID: other, ODID: 1}]; !ok {
		t.Fatal("expected the other session's namespace to survive DropSession")
	}
}
