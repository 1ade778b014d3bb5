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

// Package tmgr is the Template Manager: a time-indexed, per-namespace store
// of IPFIX templates. It generalizes the teacher's flat, single-version
// TemplateCache/DecayingEphemeralCache (template_cache.go, decaying_cache.go)
// along two axes the teacher never needed: templates are scoped per
// (Session, Observation Domain, Stream) rather than globally, and every
// mutation is recorded so a consumer holding an old Snapshot keeps seeing
// the templates that were current when it received its data, even after
// the live namespace has moved on.
package tmgr

import (
	"fmt"

	"github.com/google/uuid"
)

// NamespaceKey scopes a Manager to one Transport Session, one Observation
// Domain, and (for SCTP) one Stream.
type NamespaceKey struct {
	SessionID uuid.UUID
	ODID      uint32
	Stream    uint16
}

func (k NamespaceKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.SessionID, k.ODID, k.Stream)
}
