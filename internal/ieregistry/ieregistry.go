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

// Package ieregistry defines the minimal IE-manager surface this collector
// needs: mapping a (PEN, element id) pair to its InformationElement
// descriptor. A full IANA-backed registry is explicitly out of scope (see
// DESIGN.md); SeedRegistry only carries the elements internal/netflow's
// synthetic templates and tests construct fields from, plus the ones
// internal/tmgr's Options Template classifier keys off of.
package ieregistry

import (
	"sync"

	"github.com/netflowlabs/ipfixcollector"
)

// IeManager is the interface internal/tmgr and internal/netflow consult to
// resolve a field id to its InformationElement descriptor, mirroring
// ipx_tmgr_set_iemgr's role in ipfixcol2: swapping the manager can change
// what a previously-added template's fields resolve to.
type IeManager interface {
	Lookup(pen uint32, id uint16) (*ipfix.InformationElement, bool)
}

// SeedRegistry is a small, static, in-memory IeManager. It is not meant to
// be a general-purpose substitute for a CSV- or RFC5610-backed registry —
// just enough well-known IANA IEs for the NetFlow v5/v9 converters and this
// module's own tests to build templates against without a FieldCache
// having been seeded by some other external source first.
type SeedRegistry struct {
	mu   sync.RWMutex
	ies  map[uint64]*ipfix.InformationElement
}

func key(pen uint32, id uint16) uint64 {
	return uint64(pen)<<16 | uint64(id)
}

// NewSeedRegistry constructs a SeedRegistry pre-populated with the IANA IEs
// named in the module's domain-stack documentation.
func NewSeedRegistry() *SeedRegistry {
	r := &SeedRegistry{ies: make(map[uint64]*ipfix.InformationElement)}
	for _, ie := range wellKnown {
		ie := ie
		r.ies[key(0, ie.Id)] = &ie
	}
	return r
}

// Add registers or overwrites the descriptor for (pen, ie.Id).
func (r *SeedRegistry) Add(pen uint32, ie ipfix.InformationElement) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ies[key(pen, ie.Id)] = &ie
}

// Lookup implements IeManager.
func (r *SeedRegistry) Lookup(pen uint32, id uint16) (*ipfix.InformationElement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ie, ok := r.ies[key(pen, id)]
	return ie, ok
}

func typ(s string) *string { return &s }

// wellKnown covers the IEs internal/netflow's synthetic v5/v9 templates
// construct fields from, plus the canonical IANA IEs internal/tmgr's
// Options Template classifier (ClassifyOptions) keys off of — a Flow Keys,
// Meter Stats, or Reliability Stats Options Template only resolves to a
// real integer DataType, rather than falling back to an opaque octetArray,
// if its scope/option IEs are registered here.
var wellKnown = []ipfix.InformationElement{
	{Id: 1, Name: "octetDeltaCount", Type: typ("unsigned64"), Constructor: ipfix.LookupConstructor("unsigned64")},
	{Id: 2, Name: "packetDeltaCount", Type: typ("unsigned64"), Constructor: ipfix.LookupConstructor("unsigned64")},
	{Id: 4, Name: "protocolIdentifier", Type: typ("unsigned8"), Constructor: ipfix.LookupConstructor("unsigned8")},
	{Id: 5, Name: "ipClassOfService", Type: typ("unsigned8"), Constructor: ipfix.LookupConstructor("unsigned8")},
	{Id: 6, Name: "tcpControlBits", Type: typ("unsigned16"), Constructor: ipfix.LookupConstructor("unsigned16")},
	{Id: 7, Name: "sourceTransportPort", Type: typ("unsigned16"), Constructor: ipfix.LookupConstructor("unsigned16")},
	{Id: 8, Name: "sourceIPv4Address", Type: typ("ipv4Address"), Constructor: ipfix.LookupConstructor("ipv4Address")},
	{Id: 9, Name: "sourceIPv4PrefixLength", Type: typ("unsigned8"), Constructor: ipfix.LookupConstructor("unsigned8")},
	{Id: 10, Name: "ingressInterface", Type: typ("unsigned32"), Constructor: ipfix.LookupConstructor("unsigned32")},
	{Id: 11, Name: "destinationTransportPort", Type: typ("unsigned16"), Constructor: ipfix.LookupConstructor("unsigned16")},
	{Id: 12, Name: "destinationIPv4Address", Type: typ("ipv4Address"), Constructor: ipfix.LookupConstructor("ipv4Address")},
	{Id: 13, Name: "destinationIPv4PrefixLength", Type: typ("unsigned8"), Constructor: ipfix.LookupConstructor("unsigned8")},
	{Id: 14, Name: "egressInterface", Type: typ("unsigned32"), Constructor: ipfix.LookupConstructor("unsigned32")},
	{Id: 15, Name: "ipNextHopIPv4Address", Type: typ("ipv4Address"), Constructor: ipfix.LookupConstructor("ipv4Address")},
	{Id: 16, Name: "bgpSourceAsNumber", Type: typ("unsigned32"), Constructor: ipfix.LookupConstructor("unsigned32")},
	{Id: 17, Name: "bgpDestinationAsNumber", Type: typ("unsigned32"), Constructor: ipfix.LookupConstructor("unsigned32")},
	{Id: 21, Name: "flowEndSysUpTime", Type: typ("unsigned32"), Constructor: ipfix.LookupConstructor("unsigned32")},
	{Id: 22, Name: "flowStartSysUpTime", Type: typ("unsigned32"), Constructor: ipfix.LookupConstructor("unsigned32")},
	{Id: 34, Name: "samplingInterval", Type: typ("unsigned32"), Constructor: ipfix.LookupConstructor("unsigned32")},
	{Id: 35, Name: "samplingAlgorithm", Type: typ("unsigned8"), Constructor: ipfix.LookupConstructor("unsigned8")},
	{Id: 152, Name: "flowStartMilliseconds", Type: typ("dateTimeMilliseconds"), Constructor: ipfix.LookupConstructor("dateTimeMilliseconds")},
	{Id: 153, Name: "flowEndMilliseconds", Type: typ("dateTimeMilliseconds"), Constructor: ipfix.LookupConstructor("dateTimeMilliseconds")},
	{Id: 210, Name: "paddingOctets", Type: typ("octetArray"), Constructor: ipfix.LookupConstructor("octetArray")},
	{Id: 40, Name: "exportedOctetTotalCount", Type: typ("unsigned64"), Constructor: ipfix.LookupConstructor("unsigned64")},
	{Id: 42, Name: "exportedFlowRecordTotalCount", Type: typ("unsigned64"), Constructor: ipfix.LookupConstructor("unsigned64")},
	{Id: 143, Name: "meteringProcessId", Type: typ("unsigned32"), Constructor: ipfix.LookupConstructor("unsigned32")},
	{Id: 144, Name: "exportingProcessId", Type: typ("unsigned32"), Constructor: ipfix.LookupConstructor("unsigned32")},
	{Id: 145, Name: "templateId", Type: typ("unsigned16"), Constructor: ipfix.LookupConstructor("unsigned16")},
	{Id: 166, Name: "notSentFlowTotalCount", Type: typ("unsigned64"), Constructor: ipfix.LookupConstructor("unsigned64")},
	{Id: 167, Name: "notSentPacketTotalCount", Type: typ("unsigned64"), Constructor: ipfix.LookupConstructor("unsigned64")},
	{Id: 168, Name: "notSentOctetTotalCount", Type: typ("unsigned64"), Constructor: ipfix.LookupConstructor("unsigned64")},
	{Id: 173, Name: "flowKeyIndicator", Type: typ("unsigned64"), Constructor: ipfix.LookupConstructor("unsigned64")},
	{Id: 41, Name: "exportedMessageTotalCount", Type: typ("unsigned64"), Constructor: ipfix.LookupConstructor("unsigned64")},
}
