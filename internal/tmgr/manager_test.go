package tmgr

import (
	"testing"
	"time"

	"github.com/netflowlabs/ipfixcollector"
	"github.com/netflowlabs/ipfixcollector/internal/ieregistry"
	"github.com/netflowlabs/ipfixcollector/internal/session"
)

func testTemplate(id uint16, fieldID uint16) *ipfix.Template {
	ie := &ipfix.InformationElement{Id: fieldID, Constructor: ipfix.LookupConstructor("unsigned32")}
	field := ipfix.NewFieldBuilder(ie).SetLength(4).Complete()
	tr := &ipfix.TemplateRecord{TemplateId: id, FieldCount: 1, Fields: []ipfix.Field{field}}
	return &ipfix.Template{TemplateMetadata: &ipfix.TemplateMetadata{TemplateId: id}, Record: tr}
}

func TestManagerUDPRedefinitionAlwaysWins(t *testing.T) {
	m := NewManager(NamespaceKey{}, session.Udp, time.Minute, time.Minute)

	if err := m.Add(testTemplate(256, 8)); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	if err := m.Add(testTemplate(256, 12)); err != nil {
		t.Fatalf("redefinition over udp should not error, got %v", err)
	}

	got, ok := m.Get(256)
	if !ok {
		t.Fatal("expected template 256 to be present after redefinition")
	}
	tr := got.Record.(*ipfix.TemplateRecord)
	if tr.Fields[0].Id() != 12 {
		t.Fatalf("expected udp redefinition to replace the field set, got field id %d", tr.Fields[0].Id())
	}
}

func TestManagerTCPRejectsConflictingRedefinition(t *testing.T) {
	m := NewManager(NamespaceKey{}, session.Tcp, 0, 0)

	if err := m.Add(testTemplate(256, 8)); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	if err := m.Add(testTemplate(256, 8)); err != nil {
		t.Fatalf("identical redefinition over tcp should be a no-op, got %v", err)
	}
	if err := m.Add(testTemplate(256, 12)); err == nil {
		t.Fatal("expected conflicting redefinition over tcp to be rejected")
	}
}

func TestManagerWithdrawRejectedOverUDP(t *testing.T) {
	m := NewManager(NamespaceKey{}, session.Udp, 0, 0)
	_ = m.Add(testTemplate(256, 8))

	if err := m.Withdraw(256); err == nil {
		t.Fatal("expected withdrawal over udp to be rejected")
	}
}

func TestManagerUDPTemplateExpiresAfterLifetime(t *testing.T) {
	m := NewManager(NamespaceKey{}, session.Udp, time.Second, time.Second)
	base := time.Unix(1000, 0)
	_ = m.SetTime(base)
	_ = m.Add(testTemplate(256, 8))

	if err := m.SetTime(base.Add(2 * time.Second)); err != nil {
		t.Fatalf("SetTime failed: %v", err)
	}

	if _, ok := m.Get(256); ok {
		t.Fatal("expected template to have expired after its lifetime elapsed")
	}

	garbage := m.TakeGarbage()
	if len(garbage) == 0 {
		t.Fatal("expected an expiry to produce a garbage item")
	}
}

func TestManagerSnapshotReflectsPointInTime(t *testing.T) {
	m := NewManager(NamespaceKey{}, session.Tcp, 0, 0)
	base := time.Unix(1000, 0)
	_ = m.SetTime(base)
	_ = m.Add(testTemplate(256, 8))

	later := base.Add(time.Minute)
	_ = m.SetTime(later)
	_ = m.Add(testTemplate(257, 12))

	early, ok := m.Snapshot(base)
	if !ok {
		t.Fatal("expected a snapshot at base time")
	}
	if _, ok := early.Lookup(257); ok {
		t.Fatal("expected template 257 to be absent from the earlier snapshot")
	}
	if _, ok := early.Lookup(256); !ok {
		t.Fatal("expected template 256 to be present in the earlier snapshot")
	}

	recent, ok := m.Snapshot(later)
	if !ok {
		t.Fatal("expected a snapshot at the later time")
	}
	if _, ok := recent.Lookup(257); !ok {
		t.Fatal("expected template 257 to be present in the later snapshot")
	}
}

func TestManagerPrunesSnapshotsPastTimeout(t *testing.T) {
	m := NewManager(NamespaceKey{}, session.Tcp, 0, 0)
	m.SetSnapshotTimeout(time.Minute)

	base := time.Unix(1000, 0)
	_ = m.SetTime(base)
	_ = m.Add(testTemplate(256, 8))

	_ = m.SetTime(base.Add(30 * time.Second))
	_ = m.Add(testTemplate(257, 12))

	if _, ok := m.Snapshot(base); !ok {
		t.Fatal("expected the first snapshot to still be reachable within the timeout")
	}

	// base's snapshot ended at base+30s; advancing past base+30s+timeout
	// should prune it, but never the current (still-live) snapshot.
	_ = m.SetTime(base.Add(30*time.Second + 2*time.Minute))

	m.mu.Lock()
	n := len(m.snapshots)
	m.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected only the current snapshot to remain, got %d", n)
	}

	if _, ok := m.Snapshot(base); !ok {
		t.Fatal("Snapshot should still return the oldest remaining snapshot as a fallback, not report absence")
	}
}

func TestManagerSnapshotTimeoutZeroDisablesPruning(t *testing.T) {
	m := NewManager(NamespaceKey{}, session.Tcp, 0, 0)
	base := time.Unix(1000, 0)
	_ = m.SetTime(base)
	_ = m.Add(testTemplate(256, 8))

	_ = m.SetTime(base.Add(24 * time.Hour))
	_ = m.Add(testTemplate(257, 12))

	m.mu.Lock()
	n := len(m.snapshots)
	m.mu.Unlock()
	if n != 2 {
		t.Fatalf("expected both snapshots to survive with pruning disabled, got %d", n)
	}
}

func TestManagerSetIeManagerRebuildsUnresolvedFields(t *testing.T) {
	m := NewManager(NamespaceKey{}, session.Tcp, 0, 0)
	_ = m.Add(testTemplate(256, 8))

	reg := ieregistry.NewSeedRegistry() // has id 8 seeded
	m.SetIeManager(reg)

	got, _ := m.Get(256)
	tr := got.Record.(*ipfix.TemplateRecord)
	if tr.Fields[0].Id() != 8 {
		t.Fatalf("expected field id to remain 8, got %d", tr.Fields[0].Id())
	}

	empty := ieregistry.NewSeedRegistry()
	// id 8 is seeded in SeedRegistry's well-known set, so swap to a manager
	// that genuinely lacks it by adding a field id SeedRegistry never has.
	_ = m.Add(testTemplate(300, 65000))
	m.SetIeManager(empty)

	got, _ = m.Get(300)
	tr = got.Record.(*ipfix.TemplateRecord)
	if tr.Fields[0].Id() != 65000 {
		t.Fatalf("expected unassigned field to preserve its original id, got %d", tr.Fields[0].Id())
	}
}
