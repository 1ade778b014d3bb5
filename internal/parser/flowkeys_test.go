package parser

import (
	"bytes"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/netflowlabs/ipfixcollector"
	"github.com/netflowlabs/ipfixcollector/internal/ieregistry"
	"github.com/netflowlabs/ipfixcollector/internal/session"
	"github.com/netflowlabs/ipfixcollector/internal/tmgr"
)

// typedField builds a Field whose DataType actually holds an integer,
// for constructing Data Record bytes by hand in tests.
func typedField(id uint16, constructor string, length uint16, value any) ipfix.Field {
	ie := &ipfix.InformationElement{Id: id, Constructor: ipfix.LookupConstructor(constructor)}
	f := ipfix.NewFieldBuilder(ie).SetLength(length).Complete()
	f.SetValue(value)
	return f
}

// flowKeysOptionsTemplateMessage builds the wire bytes of an Options
// Template Set defining a Flow Keys template (RFC 7011 §8.2): a
// templateId scope paired with a flowKeyIndicator option.
func flowKeysOptionsTemplateMessage(t *testing.T, exportTime, seq, odid, optionsTemplateId uint32) []byte {
	t.Helper()
	otr := ipfix.OptionsTemplateRecord{
		TemplateId:      uint16(optionsTemplateId),
		FieldCount:      2,
		ScopeFieldCount: 1,
		Scopes:          []ipfix.Field{typedField(145, "unsigned16", 2, 0)},
		Options:         []ipfix.Field{typedField(173, "unsigned64", 8, 0)},
	}
	ots := &ipfix.OptionsTemplateSet{Records: []ipfix.OptionsTemplateRecord{otr}}
	var setBody bytes.Buffer
	if _, err := ots.Encode(&setBody); err != nil {
		t.Fatalf("encoding options template set: %v", err)
	}

	msg := &ipfix.Message{
		Version:             10,
		ExportTime:          exportTime,
		SequenceNumber:      seq,
		ObservationDomainId: odid,
		Sets: []ipfix.Set{
			{
				SetHeader: ipfix.SetHeader{Id: ipfix.IPFIXOptions, Length: uint16(4 + setBody.Len())},
				Kind:      ipfix.KindOptionsTemplateSet,
				Set:       ots,
			},
		},
	}
	var buf bytes.Buffer
	if _, err := msg.Encode(&buf); err != nil {
		t.Fatalf("encoding message: %v", err)
	}
	return buf.Bytes()
}

// flowKeysDataMessage builds the wire bytes of a Data Set reported against
// optionsTemplateId, naming targetTemplateId and bitmap as its one record.
func flowKeysDataMessage(t *testing.T, exportTime, seq, odid, optionsTemplateId uint32, targetTemplateId uint16, bitmap uint64) []byte {
	t.Helper()
	dr := &ipfix.DataRecord{
		Fields: []ipfix.Field{
			typedField(145, "unsigned16", 2, int(targetTemplateId)),
			typedField(173, "unsigned64", 8, int(bitmap)),
		},
	}
	var recBody bytes.Buffer
	if _, err := dr.Encode(&recBody); err != nil {
		t.Fatalf("encoding data record: %v", err)
	}

	msg := &ipfix.Message{
		Version:             10,
		ExportTime:          exportTime,
		SequenceNumber:      seq,
		ObservationDomainId: odid,
		Sets: []ipfix.Set{
			{
				SetHeader: ipfix.SetHeader{Id: uint16(optionsTemplateId), Length: uint16(4 + recBody.Len())},
			},
		},
	}
	var header bytes.Buffer
	if _, err := msg.Encode(&header); err != nil {
		t.Fatalf("encoding message header: %v", err)
	}
	return append(header.Bytes(), recBody.Bytes()...)
}

// TestParserClassifiesAndAnnotatesFlowKeys exercises the full path: an
// Options Template defining a Flow Keys template is classified as such on
// Add, then a Data Set reported against it teaches the Manager the Flow
// Key bitmap for the template it names.
func TestParserClassifiesAndAnnotatesFlowKeys(t *testing.T) {
	reg := tmgr.NewRegistry()
	p := New(logr.Discard(), reg, ieregistry.NewSeedRegistry())
	ns := tmgr.NamespaceKey{SessionID: uuid.New(), ODID: 1}

	optionsTemplateId := uint32(500)
	define := flowKeysOptionsTemplateMessage(t, 1000, 1, ns.ODID, optionsTemplateId)
	if _, err := p.Parse(ns, session.Tcp, 0, 0, define); err != nil {
		t.Fatalf("defining the flow keys options template failed: %v", err)
	}

	mgr := reg.Manager(ns, session.Tcp, 0, 0)
	kind, ok := mgr.OptionsKind(uint16(optionsTemplateId))
	if !ok || kind != tmgr.OptionsKindFlowKeys {
		t.Fatalf("expected the options template to be classified FlowKeys, got %v (ok=%v)", kind, ok)
	}

	report := flowKeysDataMessage(t, 1001, 2, ns.ODID, optionsTemplateId, 900, 0x7)
	if _, err := p.Parse(ns, session.Tcp, 0, 0, report); err != nil {
		t.Fatalf("parsing the flow keys data set failed: %v", err)
	}

	bitmap, ok := mgr.FlowKeys(900)
	if !ok {
		t.Fatal("expected template 900 to have a flow key bitmap recorded")
	}
	if bitmap != 0x7 {
		t.Fatalf("expected bitmap 0x7, got %#x", bitmap)
	}
}
