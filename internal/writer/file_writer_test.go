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

package writer

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/netflowlabs/ipfixcollector"
	"github.com/netflowlabs/ipfixcollector/internal/bus"
	"github.com/netflowlabs/ipfixcollector/internal/pipelinecfg"
)

func newTestWriter(t *testing.T, filename string) *FileWriter {
	t.Helper()
	fw, err := NewFileWriter(pipelinecfg.WriterConfig{Filename: filename}, logr.Discard())
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	t.Cleanup(func() { fw.Close() })
	return fw
}

func templateMessage(odid uint32, templateID uint16, seq uint32) *ipfix.Message {
	return &ipfix.Message{
		Version:             10,
		ExportTime:          uint32(time.Now().Unix()),
		SequenceNumber:      seq,
		ObservationDomainId: odid,
		Sets: []ipfix.Set{{
			SetHeader: ipfix.SetHeader{Id: ipfix.IPFIX, Length: 8},
			Kind:      ipfix.KindTemplateSet,
			Set: &ipfix.TemplateSet{
				Records: []ipfix.TemplateRecord{{TemplateId: templateID, FieldCount: 0}},
			},
		}},
	}
}

func dataMessage(odid uint32, templateID uint16, seq uint32) *ipfix.Message {
	return &ipfix.Message{
		Version:             10,
		ExportTime:          uint32(time.Now().Unix()),
		SequenceNumber:      seq,
		ObservationDomainId: odid,
		Sets: []ipfix.Set{{
			SetHeader: ipfix.SetHeader{Id: templateID, Length: 4},
			Kind:      ipfix.KindDataSet,
			Set:       &ipfix.DataSet{},
		}},
	}
}

func payload(sessionID uuid.UUID, odid uint32, msg *ipfix.Message) *bus.IpfixPayload {
	return &bus.IpfixPayload{
		SessionID:           sessionID,
		ObservationDomainId: odid,
		Message:             msg,
	}
}

func TestFileWriterMarksForwardedTemplateEmitted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ipfix")
	fw := newTestWriter(t, path)

	session := uuid.New()
	if err := fw.Write(payload(session, 1, templateMessage(1, 256, 1))); err != nil {
		t.Fatalf("Write template message: %v", err)
	}
	if err := fw.Write(payload(session, 1, dataMessage(1, 256, 2))); err != nil {
		t.Fatalf("Write data message: %v", err)
	}

	st := fw.odids[1]
	if st == nil || !st.emitted[256] {
		t.Fatalf("expected template 256 to be marked emitted, state=%+v", st)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat output file: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("expected output file to contain bytes")
	}
}

func TestFileWriterSynthesizesTemplateLearnedInEarlierFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ipfix")
	fw := newTestWriter(t, path)

	session := uuid.New()
	odid := uint32(2)

	// Seed the writer's template cache directly, as if it had been
	// learned in an earlier file before a rotation cleared the emitted
	// set, without ever re-sending the Template Set on the bus.
	fw.templates[templateKey{session: session, odid: odid, id: 300}] = &ipfix.TemplateRecord{TemplateId: 300}
	fw.odids[odid] = &odidState{owner: session, emitted: map[uint16]bool{}, skippedWarned: map[uint16]bool{}}

	if err := fw.Write(payload(session, odid, dataMessage(odid, 300, 2))); err != nil {
		t.Fatalf("Write data message: %v", err)
	}

	st := fw.odids[odid]
	if !st.emitted[300] {
		t.Fatal("expected the cached template to be synthesized and marked emitted")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat output file: %v", err)
	}
	// One synthesized Template Set message plus the Data Set message:
	// more than a single 16-byte-header Data Set message alone.
	if info.Size() <= messageHeaderSize+4 {
		t.Fatalf("expected a synthesized template message to have been written too, got %d bytes", info.Size())
	}
}

func TestFileWriterDropsColliderAfterOwnershipClaimed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ipfix")
	fw := newTestWriter(t, path)

	owner := uuid.New()
	interloper := uuid.New()

	if err := fw.Write(payload(owner, 5, templateMessage(5, 400, 1))); err != nil {
		t.Fatalf("Write owner message: %v", err)
	}
	if err := fw.Write(payload(interloper, 5, templateMessage(5, 401, 1))); err != nil {
		t.Fatalf("Write colliding message: %v", err)
	}

	st := fw.odids[5]
	if st == nil || st.owner != owner {
		t.Fatalf("expected odid 5 to remain owned by the first session, got %+v", st)
	}
	if _, ok := fw.templates[templateKey{session: interloper, odid: 5, id: 401}]; ok {
		t.Fatal("expected the colliding session's template to never be learned")
	}
}

func TestFileWriterReleasesOwnershipOnSessionClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ipfix")
	fw := newTestWriter(t, path)

	first := uuid.New()
	second := uuid.New()

	if err := fw.Write(payload(first, 7, templateMessage(7, 500, 1))); err != nil {
		t.Fatalf("Write first message: %v", err)
	}
	fw.HandleSessionClose(first)

	if _, ok := fw.odids[7]; ok {
		t.Fatal("expected odid 7's state to be released after session close")
	}

	if err := fw.Write(payload(second, 7, templateMessage(7, 501, 1))); err != nil {
		t.Fatalf("Write second message: %v", err)
	}
	if fw.odids[7].owner != second {
		t.Fatalf("expected the new session to take ownership, got %v", fw.odids[7].owner)
	}
}

func TestFileWriterDropsUnresolvedDataSetWithoutPreserveOriginal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.ipfix")
	fw := newTestWriter(t, path)

	session := uuid.New()
	msg := &ipfix.Message{
		Version:             10,
		ExportTime:          uint32(time.Now().Unix()),
		SequenceNumber:      10,
		ObservationDomainId: 9,
		Sets: []ipfix.Set{{
			SetHeader: ipfix.SetHeader{Id: 999, Length: 8},
			Kind:      unresolvedKind,
			Set:       &droppableRawSet{},
		}},
	}

	if err := fw.Write(payload(session, 9, msg)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	st := fw.odids[9]
	if st.seqAdjust != 1 {
		t.Fatalf("expected seqAdjust to be incremented by the dropped set's nominal record count, got %d", st.seqAdjust)
	}
}

// droppableRawSet stands in for parser.rawSet here, since that type is
// unexported across package boundaries; it only needs to satisfy the same
// unexported set interface (String/Length/Encode).
type droppableRawSet struct{}

func (droppableRawSet) String() string { return "droppableRawSet" }
func (droppableRawSet) Length() int    { return 1 }
func (droppableRawSet) Encode(w io.Writer) (int, error) {
	return 0, nil
}
