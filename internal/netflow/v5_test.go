package netflow

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/netflowlabs/ipfixcollector"
	"github.com/netflowlabs/ipfixcollector/internal/ieregistry"
)

func v5Packet(t *testing.T, sec, uptime uint32, count int) []byte {
	t.Helper()
	b := make([]byte, v5HeaderSize+count*v5RecordSize)
	binary.BigEndian.PutUint16(b[0:2], 5)
	binary.BigEndian.PutUint16(b[2:4], uint16(count))
	binary.BigEndian.PutUint32(b[4:8], uptime)
	binary.BigEndian.PutUint32(b[8:12], sec)

	rec := b[v5HeaderSize:]
	copy(rec[0:4], []byte{10, 0, 0, 1})
	copy(rec[4:8], []byte{10, 0, 0, 2})
	binary.BigEndian.PutUint32(rec[16:20], 5)  // packets
	binary.BigEndian.PutUint32(rec[20:24], 1500) // octets
	binary.BigEndian.PutUint16(rec[32:34], 443)
	binary.BigEndian.PutUint16(rec[34:36], 54321)
	rec[38] = 6 // tcp
	return b
}

func TestV5ConvertProducesTemplateOnFirstPacketOnly(t *testing.T) {
	c := NewV5Converter(ieregistry.NewSeedRegistry(), time.Hour)
	session := uuid.New()

	first, err := c.Convert(session, 1, v5Packet(t, 1000, 500, 1))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(first.Sets) != 2 {
		t.Fatalf("expected a template set and a data set on the first packet, got %d sets", len(first.Sets))
	}

	second, err := c.Convert(session, 1, v5Packet(t, 1001, 501, 1))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(second.Sets) != 1 {
		t.Fatalf("expected no template re-emission within the refresh window, got %d sets", len(second.Sets))
	}
}

func TestV5ConvertRejectsWrongVersion(t *testing.T) {
	c := NewV5Converter(ieregistry.NewSeedRegistry(), time.Hour)
	b := v5Packet(t, 1000, 500, 1)
	binary.BigEndian.PutUint16(b[0:2], 9)

	if _, err := c.Convert(uuid.New(), 1, b); err == nil {
		t.Fatal("expected a version mismatch to be rejected")
	}
}

// TestV5ConvertEmitsMillisecondPrecisionTimestamps reproduces the worked
// example: sysUptime=10001ms, record UptimeFirst=6501ms, export Sec and a
// 123ms Nsec residual such that Sec*1000 + Nsec/1e6 == 1562857357123 ->
// flowStartMilliseconds =
// 1562857357123 - 10001 + 6501 = 1562857353623. The synthetic template
// must carry IE 152/153 (flowStartMilliseconds/flowEndMilliseconds), not
// IE 22/21, and the Data Record's values must be full-precision
// time.Time values, not seconds-since-boot integers.
func TestV5ConvertEmitsMillisecondPrecisionTimestamps(t *testing.T) {
	c := NewV5Converter(ieregistry.NewSeedRegistry(), time.Hour)

	const sysUptimeMillis = 10001
	const exportSec = 1562857357
	b := v5Packet(t, exportSec, sysUptimeMillis, 1)
	binary.BigEndian.PutUint32(b[12:16], 123000000) // Nsec residual: 123ms
	rec := b[v5HeaderSize:]
	binary.BigEndian.PutUint32(rec[24:28], 6501) // UptimeFirst
	binary.BigEndian.PutUint32(rec[28:32], 6501) // UptimeLast

	msg, err := c.Convert(uuid.New(), 1, b)
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	tr, err := c.buildTemplateRecord()
	if err != nil {
		t.Fatalf("buildTemplateRecord: %v", err)
	}
	var startID, endID uint16
	for _, f := range tr.Fields {
		switch f.Id() {
		case 152:
			startID = f.Id()
		case 153:
			endID = f.Id()
		case 22, 21:
			t.Fatalf("synthetic template must not carry IE %d (sysUptime-relative)", f.Id())
		}
	}
	if startID != 152 {
		t.Fatal("expected the synthetic template to carry IE 152 (flowStartMilliseconds)")
	}
	if endID != 153 {
		t.Fatal("expected the synthetic template to carry IE 153 (flowEndMilliseconds)")
	}

	var ds *ipfix.DataSet
	for _, s := range msg.Sets {
		if s.Kind == ipfix.KindDataSet {
			ds = s.Set.(*ipfix.DataSet)
		}
	}
	if ds == nil || len(ds.Records) != 1 {
		t.Fatalf("expected exactly one data record, got sets=%+v", msg.Sets)
	}

	wantStart := time.UnixMilli(1562857357123 - sysUptimeMillis + 6501).UTC()
	wantEnd := wantStart

	if ds.Records[0].Fields[7].Id() != 152 {
		t.Fatalf("expected data record field 7 to be IE 152, got %d", ds.Records[0].Fields[7].Id())
	}
	gotStart, ok := ds.Records[0].Fields[7].Value().Value().(time.Time)
	if !ok {
		t.Fatalf("expected field 7 (flowStartMilliseconds) to carry a time.Time, got %T", ds.Records[0].Fields[7].Value().Value())
	}
	if !gotStart.Equal(wantStart) {
		t.Fatalf("flowStartMilliseconds = %v, want %v", gotStart, wantStart)
	}

	if ds.Records[0].Fields[8].Id() != 153 {
		t.Fatalf("expected data record field 8 to be IE 153, got %d", ds.Records[0].Fields[8].Id())
	}
	gotEnd, ok := ds.Records[0].Fields[8].Value().Value().(time.Time)
	if !ok {
		t.Fatalf("expected field 8 (flowEndMilliseconds) to carry a time.Time, got %T", ds.Records[0].Fields[8].Value().Value())
	}
	if !gotEnd.Equal(wantEnd) {
		t.Fatalf("flowEndMilliseconds = %v, want %v", gotEnd, wantEnd)
	}
}
