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

package ipfix

import "strings"

// ianaSeedCSV carries the handful of IANA IPFIX Information Elements that
// the wire codecs and their tests construct fields from directly. A full
// mirror of the IANA registry belongs to whatever component seeds a
// FieldCache at runtime (see internal/ieregistry), not to this package;
// this seed only needs to cover what's used when no FieldCache is wired up.
//
// Columns follow the IANA "ipfix-information-elements" CSV export: ElementID,
// Name, Data Type, Data Type Semantics, Status, Description, Units, Range,
// Additional Information, Reference, Revision.
const ianaSeedCSV = `ElementID,Name,Data Type,Data Type Semantics,Status,Description,Units,Range,Additional Information,Reference,Revision
1,octetDeltaCount,unsigned64,deltaCounter,current,,,,,RFC7011,
2,packetDeltaCount,unsigned64,deltaCounter,current,,,,,RFC7011,
4,protocolIdentifier,unsigned8,identifier,current,,,,,RFC7011,
6,tcpControlBits,unsigned16,flags,current,,,,,RFC7011,
7,sourceTransportPort,unsigned16,identifier,current,,,,,RFC7011,
8,sourceIPv4Address,ipv4Address,default,current,,,,,RFC7011,
10,ingressInterface,unsigned32,identifier,current,,,,,RFC7011,
11,destinationTransportPort,unsigned16,identifier,current,,,,,RFC7011,
12,destinationIPv4Address,ipv4Address,default,current,,,,,RFC7011,
14,egressInterface,unsigned32,identifier,current,,,,,RFC7011,
27,sourceIPv6Address,ipv6Address,default,current,,,,,RFC7011,
28,destinationIPv6Address,ipv6Address,default,current,,,,,RFC7011,
150,flowStartSeconds,dateTimeSeconds,default,current,,,,,RFC7011,
152,flowStartMilliseconds,dateTimeMilliseconds,default,current,,,,,RFC7011,
153,flowEndMilliseconds,dateTimeMilliseconds,default,current,,,,,RFC7011,
210,paddingOctets,octetArray,default,current,,,,,RFC7011,
239,biflowDirection,unsigned8,identifier,current,,,,,RFC5103,
291,basicList,basicList,default,current,,,,,RFC6313,
292,subTemplateList,subTemplateList,default,current,,,,,RFC6313,
293,subTemplateMultiList,subTemplateMultiList,default,current,,,,,RFC6313,
303,informationElementId,unsigned16,identifier,current,,,,,RFC5610,
339,informationElementDataType,unsigned8,identifier,current,,,,,RFC5610,
340,informationElementDescription,string,default,current,,,,,RFC5610,
341,informationElementName,string,default,current,,,,,RFC5610,
342,informationElementRangeBegin,unsigned64,identifier,current,,,,,RFC5610,
343,informationElementRangeEnd,unsigned64,identifier,current,,,,,RFC5610,
344,informationElementSemantics,unsigned8,identifier,current,,,,,RFC5610,
345,informationElementUnits,unsigned16,identifier,current,,,,,RFC5610,
346,privateEnterpriseNumber,unsigned32,identifier,current,,,,,RFC5610,
`

var ianaIpfixIEs map[uint16]*InformationElement

func init() {
	initGlobalIANARegistry()
}

func initGlobalIANARegistry() {
	ianaIpfixIEs = mustReadCSVPointers(ianaSeedCSV)
}

// mustReadCSVPointers adapts MustReadCSV's value map to the pointer map the
// rest of the package indexes into (field builders are constructed from
// *InformationElement).
func mustReadCSVPointers(csv string) map[uint16]*InformationElement {
	m := MustReadCSV(strings.NewReader(csv))
	out := make(map[uint16]*InformationElement, len(m))
	for id, ie := range m {
		ie := ie
		out[id] = &ie
	}
	return out
}

func iana() map[uint16]*InformationElement {
	if len(ianaIpfixIEs) == 0 {
		initGlobalIANARegistry()
	}

	return ianaIpfixIEs
}
