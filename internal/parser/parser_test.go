package parser

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/netflowlabs/ipfixcollector"
	"github.com/netflowlabs/ipfixcollector/internal/ieregistry"
	"github.com/netflowlabs/ipfixcollector/internal/netflow"
	"github.com/netflowlabs/ipfixcollector/internal/session"
	"github.com/netflowlabs/ipfixcollector/internal/tmgr"
)

// templateMessage builds the wire bytes of a single-Set IPFIX Message
// carrying one TemplateSet Set holding the given TemplateRecords.
func templateMessage(t *testing.T, exportTime, seq, odid uint32, records []ipfix.TemplateRecord) []byte {
	t.Helper()
	ts := &ipfix.TemplateSet{Records: records}
	var setBody bytes.Buffer
	if _, err := ts.Encode(&setBody); err != nil {
		t.Fatalf("encoding template set: %v", err)
	}

	msg := &ipfix.Message{
		Version:             10,
		ExportTime:          exportTime,
		SequenceNumber:      seq,
		ObservationDomainId: odid,
		Sets: []ipfix.Set{
			{
				SetHeader: ipfix.SetHeader{Id: ipfix.IPFIX, Length: uint16(4 + setBody.Len())},
				Kind:      ipfix.KindTemplateSet,
				Set:       ts,
			},
		},
	}
	var buf bytes.Buffer
	if _, err := msg.Encode(&buf); err != nil {
		t.Fatalf("encoding message: %v", err)
	}
	return buf.Bytes()
}

func oneFieldTemplate(id uint16) ipfix.TemplateRecord {
	return ipfix.TemplateRecord{
		TemplateId: id,
		FieldCount: 1,
		Fields:     []ipfix.Field{ipfix.NewUnassignedFieldBuilder(1).SetLength(4).Complete()},
	}
}

func withdrawalRecord(id uint16) ipfix.TemplateRecord {
	return ipfix.TemplateRecord{TemplateId: id, FieldCount: 0}
}

// TestParserWithdrawsIndividualTemplateOverTCP exercises an individual
// Template Withdrawal record (field count 0) sitting alongside ordinary
// definitions in the same TemplateSet: only the withdrawn id should
// disappear, the rest of the Set must still be applied.
func TestParserWithdrawsIndividualTemplateOverTCP(t *testing.T) {
	reg := tmgr.NewRegistry()
	p := New(logr.Discard(), reg, ieregistry.NewSeedRegistry())
	ns := tmgr.NamespaceKey{SessionID: uuid.New(), ODID: 1}

	define := templateMessage(t, 1000, 1, ns.ODID, []ipfix.TemplateRecord{
		oneFieldTemplate(300), oneFieldTemplate(301),
	})
	if _, err := p.Parse(ns, session.Tcp, 0, 0, define); err != nil {
		t.Fatalf("defining templates failed: %v", err)
	}

	withdraw := templateMessage(t, 1001, 2, ns.ODID, []ipfix.TemplateRecord{
		withdrawalRecord(300),
	})
	if _, err := p.Parse(ns, session.Tcp, 0, 0, withdraw); err != nil {
		t.Fatalf("withdrawing template 300 failed: %v", err)
	}

	mgr := reg.Manager(ns, session.Tcp, 0, 0)
	if _, ok := mgr.Get(300); ok {
		t.Fatal("expected template 300 to have been withdrawn")
	}
	if _, ok := mgr.Get(301); !ok {
		t.Fatal("expected template 301 to remain defined, untouched by the withdrawal of 300")
	}
}

// TestParserDispatchErrorVariantAware reproduces the same malformed input —
// a reliable-transport redefinition of an existing template id with a
// different field layout, which RFC 7011 §8.1 treats as a session-ending
// error — for TCP and UDP, and checks the two policies: TCP gets a
// FatalDispatchError and the session's template state is left alone; UDP
// quietly accepts the redefinition, since a retransmitted or genuinely new
// definition are indistinguishable on that transport.
func TestParserDispatchErrorVariantAware(t *testing.T) {
	t.Run("tcp returns a fatal dispatch error", func(t *testing.T) {
		reg := tmgr.NewRegistry()
		p := New(logr.Discard(), reg, ieregistry.NewSeedRegistry())
		ns := tmgr.NamespaceKey{SessionID: uuid.New(), ODID: 1}

		first := templateMessage(t, 1000, 1, ns.ODID, []ipfix.TemplateRecord{oneFieldTemplate(400)})
		if _, err := p.Parse(ns, session.Tcp, 0, 0, first); err != nil {
			t.Fatalf("defining template 400 failed: %v", err)
		}

		conflicting := ipfix.TemplateRecord{
			TemplateId: 400,
			FieldCount: 1,
			Fields:     []ipfix.Field{ipfix.NewUnassignedFieldBuilder(2).SetLength(8).Complete()},
		}
		second := templateMessage(t, 1001, 2, ns.ODID, []ipfix.TemplateRecord{conflicting})

		_, err := p.Parse(ns, session.Tcp, 0, 0, second)
		if err == nil {
			t.Fatal("expected redefining template 400 over TCP with a different layout to fail")
		}
		var fatal *FatalDispatchError
		if !errors.As(err, &fatal) {
			t.Fatalf("expected a *FatalDispatchError, got %T: %v", err, err)
		}
	})

	t.Run("udp accepts the redefinition", func(t *testing.T) {
		reg := tmgr.NewRegistry()
		p := New(logr.Discard(), reg, ieregistry.NewSeedRegistry())
		ns := tmgr.NamespaceKey{SessionID: uuid.New(), ODID: 1}

		first := templateMessage(t, 1000, 1, ns.ODID, []ipfix.TemplateRecord{oneFieldTemplate(400)})
		if _, err := p.Parse(ns, session.Udp, time.Hour, time.Hour, first); err != nil {
			t.Fatalf("defining template 400 failed: %v", err)
		}

		conflicting := ipfix.TemplateRecord{
			TemplateId: 400,
			FieldCount: 1,
			Fields:     []ipfix.Field{ipfix.NewUnassignedFieldBuilder(2).SetLength(8).Complete()},
		}
		second := templateMessage(t, 1001, 2, ns.ODID, []ipfix.TemplateRecord{conflicting})

		if _, err := p.Parse(ns, session.Udp, time.Hour, time.Hour, second); err != nil {
			t.Fatalf("expected UDP redefinition to succeed, got %v", err)
		}

		mgr := reg.Manager(ns, session.Udp, time.Hour, time.Hour)
		tmpl, ok := mgr.Get(400)
		if !ok {
			t.Fatal("expected template 400 to still be defined")
		}
		tr, ok := tmpl.Record.(*ipfix.TemplateRecord)
		if !ok || len(tr.Fields) != 1 || tr.Fields[0].Id() != 2 {
			t.Fatalf("expected template 400 to carry the redefinition's field, got %+v", tmpl.Record)
		}
	})
}

func TestParserResolvesTemplateThenData(t *testing.T) {
	reg := tmgr.NewRegistry()
	p := New(logr.Discard(), reg, ieregistry.NewSeedRegistry())

	ns := tmgr.NamespaceKey{SessionID: uuid.New(), ODID: 1}

	conv := netflow.NewV5Converter(ieregistry.NewSeedRegistry(), time.Hour)
	msg, err := conv.Convert(ns.SessionID, ns.ODID, v5PacketFor(t))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	var buf bytes.Buffer
	if _, err := msg.Encode(&buf); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	result, err := p.Parse(ns, session.Udp, time.Hour, time.Hour, buf.Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(result.Message.Sets) != 2 {
		t.Fatalf("expected 2 sets (template + data), got %d", len(result.Message.Sets))
	}
	if result.Message.Sets[1].Kind != "DataSet" {
		t.Fatalf("expected the second set to be a resolved DataSet, got %q", result.Message.Sets[1].Kind)
	}
	ds, ok := result.Message.Sets[1].Set.(interface{ Length() int })
	if !ok || ds.Length() != 1 {
		t.Fatalf("expected exactly one decoded data record")
	}
}

func v5PacketFor(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 24+48)
	b[0], b[1] = 0, 5 // version 5
	b[2], b[3] = 0, 1 // count 1
	b[8], b[9], b[10], b[11] = 0, 0, 0x3, 0xe8 // sec = 1000

	rec := b[24:]
	copy(rec[0:4], []byte{10, 0, 0, 1})
	copy(rec[4:8], []byte{10, 0, 0, 2})
	rec[33] = 443 % 256
	return b
}
