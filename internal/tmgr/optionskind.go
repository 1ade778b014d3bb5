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

import "github.com/netflowlabs/ipfixcollector"

// Canonical IANA Information Element numbers used to classify an Options
// Template by its Scope/Option composition. RFC 7011 itself draws no such
// distinction; this is the same heuristic ipfixcol2 applies to fill in its
// IPX_OPTS_TEMPLATE_TYPE enum from whatever an exporter actually sent.
const (
	ieMeteringProcessId            = 143
	ieExportingProcessId           = 144
	ieTemplateId                   = 145
	ieFlowKeyIndicator             = 173
	ieExportedMessageTotalCount    = 41
	ieExportedFlowRecordTotalCount = 42
	ieExportedOctetTotalCount      = 40
	ieNotSentFlowTotalCount        = 166
	ieNotSentPacketTotalCount      = 167
	ieNotSentOctetTotalCount       = 168
)

// OptionsKind classifies an Options Template, mirroring ipx_tmgr's
// IPX_OPTS_TEMPLATE_TYPE enum (template.h).
type OptionsKind int

const (
	// OptionsKindUnknown is every Options Template whose Scope/Option
	// composition doesn't match one of the well-known forms below —
	// still a perfectly valid Options Template, just not one this
	// package attaches special meaning to.
	OptionsKindUnknown OptionsKind = iota
	// OptionsKindMeterStats scopes to a Metering Process and reports
	// its own operational counters.
	OptionsKindMeterStats
	// OptionsKindMeterReliabilityStats reports how many flows/packets/
	// octets a Metering Process failed to export (notSent* options).
	OptionsKindMeterReliabilityStats
	// OptionsKindExporterReliabilityStats reports an Exporting
	// Process's own export totals (exported* options), or scopes to one
	// without reporting Metering Process notSent* counters.
	OptionsKindExporterReliabilityStats
	// OptionsKindFlowKeys carries RFC 7011 §8.2's Flow Keys Option
	// Template: a Template ID scope paired with a flowKeyIndicator
	// option bitmap naming which fields of the scoped template are part
	// of its Flow Key.
	OptionsKindFlowKeys
)

func (k OptionsKind) String() string {
	switch k {
	case OptionsKindMeterStats:
		return "MeterStats"
	case OptionsKindMeterReliabilityStats:
		return "MeterReliabilityStats"
	case OptionsKindExporterReliabilityStats:
		return "ExporterReliabilityStats"
	case OptionsKindFlowKeys:
		return "FlowKeys"
	default:
		return "Unknown"
	}
}

// ClassifyOptions inspects otr's Scopes/Options and returns the kind of
// Options Template it represents. Only standard (PEN 0) Information
// Elements participate in classification — an enterprise-specific field
// never decides it, the same restriction ipfixcol2's own classifier
// applies to the well-known IANA numbers it recognizes.
func ClassifyOptions(otr *ipfix.OptionsTemplateRecord) OptionsKind {
	switch {
	case hasIANA(otr.Scopes, ieTemplateId) && hasIANA(otr.Options, ieFlowKeyIndicator):
		return OptionsKindFlowKeys
	case hasIANA(otr.Options, ieExportedMessageTotalCount),
		hasIANA(otr.Options, ieExportedFlowRecordTotalCount),
		hasIANA(otr.Options, ieExportedOctetTotalCount):
		return OptionsKindExporterReliabilityStats
	case hasIANA(otr.Options, ieNotSentFlowTotalCount),
		hasIANA(otr.Options, ieNotSentPacketTotalCount),
		hasIANA(otr.Options, ieNotSentOctetTotalCount):
		return OptionsKindMeterReliabilityStats
	case hasIANA(otr.Scopes, ieMeteringProcessId):
		return OptionsKindMeterStats
	case hasIANA(otr.Scopes, ieExportingProcessId):
		return OptionsKindExporterReliabilityStats
	default:
		return OptionsKindUnknown
	}
}

func hasIANA(fields []ipfix.Field, id uint16) bool {
	for _, f := range fields {
		if f.PEN() == 0 && f.Id() == id {
			return true
		}
	}
	return false
}

// asUint64 extracts an integer DataType's raw value as a uint64,
// regardless of which unsigned width the exporter actually used for it —
// RFC 7011 §8.2 doesn't fix a width for flowKeyIndicator-shaped fields,
// and the information model's own canonical definitions for the ones this
// package cares about vary between unsigned16, unsigned32, and unsigned64.
func asUint64(dt ipfix.DataType) (uint64, bool) {
	switch v := dt.Value().(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	default:
		return 0, false
	}
}
