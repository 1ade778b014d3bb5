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

	"github.com/netflowlabs/ipfixcollector"
	"github.com/netflowlabs/ipfixcollector/internal/session"
)

func iaField(id uint16) ipfix.Field {
	return ipfix.NewUnassignedFieldBuilder(id).SetLength(4).Complete()
}

// typedField builds a field whose DataType is a real integer type rather
// than the Unassigned builder's octetArray, since AnnotateFlowKeys reads
// back through Value().Value() and an octetArray doesn't hold an integer.
func typedField(id uint16, constructor string, length uint16, value any) ipfix.Field {
	ie := &ipfix.InformationElement{Id: id, Constructor: ipfix.LookupConstructor(constructor)}
	f := ipfix.NewFieldBuilder(ie).SetLength(length).Complete()
	f.SetValue(value)
	return f
}

func TestClassifyOptionsFlowKeys(t *testing.T) {
	otr := &ipfix.OptionsTemplateRecord{
		Scopes:  []ipfix.Field{iaField(ieTemplateId)},
		Options: []ipfix.Field{iaField(ieFlowKeyIndicator)},
	}
	if got := ClassifyOptions(otr); got != OptionsKindFlowKeys {
		t.Fatalf("expected OptionsKindFlowKeys, got %v", got)
	}
}

func TestClassifyOptionsMeterStats(t *testing.T) {
	otr := &ipfix.OptionsTemplateRecord{
		Scopes:  []ipfix.Field{iaField(ieMeteringProcessId)},
		Options: []ipfix.Field{iaField(999)},
	}
	if got := ClassifyOptions(otr); got != OptionsKindMeterStats {
		t.Fatalf("expected OptionsKindMeterStats, got %v", got)
	}
}

func TestClassifyOptionsMeterReliabilityStats(t *testing.T) {
	otr := &ipfix.OptionsTemplateRecord{
		Scopes:  []ipfix.Field{iaField(ieMeteringProcessId)},
		Options: []ipfix.Field{iaField(ieNotSentFlowTotalCount)},
	}
	if got := ClassifyOptions(otr); got != OptionsKindMeterReliabilityStats {
		t.Fatalf("expected OptionsKindMeterReliabilityStats, got %v", got)
	}
}

func TestClassifyOptionsExporterReliabilityStats(t *testing.T) {
	otr := &ipfix.OptionsTemplateRecord{
		Scopes:  []ipfix.Field{iaField(ieExportingProcessId)},
		Options: []ipfix.Field{iaField(ieExportedMessageTotalCount)},
	}
	if got := ClassifyOptions(otr); got != OptionsKindExporterReliabilityStats {
		t.Fatalf("expected OptionsKindExporterReliabilityStats, got %v", got)
	}
}

func TestClassifyOptionsUnknown(t *testing.T) {
	otr := &ipfix.OptionsTemplateRecord{
		Scopes:  []ipfix.Field{iaField(1)},
		Options: []ipfix.Field{iaField(2)},
	}
	if got := ClassifyOptions(otr); got != OptionsKindUnknown {
		t.Fatalf("expected OptionsKindUnknown, got %v", got)
	}
}

func TestManagerAddClassifiesOptionsTemplate(t *testing.T) {
	m := NewManager(NamespaceKey{}, session.Tcp, 0, 0)
	otr := &ipfix.OptionsTemplateRecord{
		TemplateId:      500,
		FieldCount:      2,
		ScopeFieldCount: 1,
		Scopes:          []ipfix.Field{iaField(ieTemplateId)},
		Options:         []ipfix.Field{iaField(ieFlowKeyIndicator)},
	}
	if err := m.Add(&ipfix.Template{TemplateMetadata: &ipfix.TemplateMetadata{TemplateId: 500}, Record: otr}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	kind, ok := m.OptionsKind(500)
	if !ok {
		t.Fatal("expected template 500 to be recognized as an Options Template")
	}
	if kind != OptionsKindFlowKeys {
		t.Fatalf("expected OptionsKindFlowKeys, got %v", kind)
	}

	if _, ok := m.OptionsKind(501); ok {
		t.Fatal("expected an unknown id to report false")
	}
}

func TestManagerAnnotateFlowKeysRecordsBitmap(t *testing.T) {
	m := NewManager(NamespaceKey{}, session.Tcp, 0, 0)

	tid := typedField(ieTemplateId, "unsigned16", 2, 300)
	fk := typedField(ieFlowKeyIndicator, "unsigned64", 8, 0x5)

	m.AnnotateFlowKeys([]ipfix.Field{tid, fk})

	bitmap, ok := m.FlowKeys(300)
	if !ok {
		t.Fatal("expected a flow key bitmap to have been recorded for template 300")
	}
	if bitmap != 0x5 {
		t.Fatalf("expected bitmap 0x5, got %#x", bitmap)
	}
}

func TestManagerAnnotateFlowKeysIgnoresIncompleteRecords(t *testing.T) {
	m := NewManager(NamespaceKey{}, session.Tcp, 0, 0)

	tid := typedField(ieTemplateId, "unsigned16", 2, 300)

	m.AnnotateFlowKeys([]ipfix.Field{tid})

	if _, ok := m.FlowKeys(300); ok {
		t.Fatal("expected no bitmap to be recorded without a flowKeyIndicator field")
	}
}
