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

package netflow

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/netflowlabs/ipfixcollector"
)

// v9TemplateKey identifies a NetFlow v9 template by the tuple it's scoped
// to: a v9 Template ID is only unique within one (session, source id) pair,
// unlike an IPFIX Template ID, which is scoped to (session, ODID).
type v9TemplateKey struct {
	session  uuid.UUID
	sourceID uint32
	id       uint16
}

// V9Converter rewrites NetFlow v9 Template/Data FlowSets into IPFIX-shaped
// equivalents, emitting the translated Template Set the first time a v9
// template id is observed for a (session, source id) pair and thereafter
// just translating Data FlowSets against the table it already built.
type V9Converter struct {
	mu        sync.Mutex
	templates map[v9TemplateKey]*ipfix.TemplateRecord
	announced map[v9TemplateKey]bool
}

// NewV9Converter constructs an empty converter; state accumulates per
// session as v9 Template FlowSets are observed.
func NewV9Converter() *V9Converter {
	return &V9Converter{
		templates: make(map[v9TemplateKey]*ipfix.TemplateRecord),
		announced: make(map[v9TemplateKey]bool),
	}
}

// field identifiers in a NetFlow v9 Template FlowSet are already the IANA
// element id (RFC 3954 Appendix A largely mirrors the IPFIX/IANA registry),
// so translating a template record only requires rewriting FlowSet framing,
// not renumbering fields.

// v9Header mirrors RFC 3954 §5.1's packet header.
type v9Header struct {
	Version        uint16
	Count          uint16
	SysUptime      uint32
	UnixSecs       uint32
	SequenceNumber uint32
	SourceID       uint32
}

func decodeV9Header(b []byte) (v9Header, error) {
	var h v9Header
	if len(b) < 20 {
		return h, fmt.Errorf("%w: netflow v9 header needs 20 bytes, got %d", ipfix.ErrTrunc, len(b))
	}
	h.Version = binary.BigEndian.Uint16(b[0:2])
	h.Count = binary.BigEndian.Uint16(b[2:4])
	h.SysUptime = binary.BigEndian.Uint32(b[4:8])
	h.UnixSecs = binary.BigEndian.Uint32(b[8:12])
	h.SequenceNumber = binary.BigEndian.Uint32(b[12:16])
	h.SourceID = binary.BigEndian.Uint32(b[16:20])
	return h, nil
}

// flowSetHeader is the 4-byte (FlowSet ID, Length) pair every v9 FlowSet
// starts with — structurally identical to ipfix.SetHeader.
type flowSetHeader struct {
	ID     uint16
	Length uint16
}

const (
	v9TemplateFlowSetID = 0
	v9OptionsFlowSetID  = 1

	// templateSetID is the well-known Set ID a Template Set's SetHeader
	// carries, per RFC 7011 §3.3.2.
	templateSetID uint16 = 2
)

// Convert decodes a NetFlow v9 packet into an IPFIX Message. Template
// FlowSets update the converter's per-(session,source id) table and are
// re-emitted as IPFIX Template Sets (keeping the v9 Template ID as sent);
// Data FlowSets are resolved against that table and translated into IPFIX
// Data Sets using the same field order as the source v9 template.
func (c *V9Converter) Convert(sessionID uuid.UUID, observationDomainId uint32, payload []byte) (*ipfix.Message, error) {
	header, err := decodeV9Header(payload)
	if err != nil {
		return nil, err
	}
	if header.Version != 9 {
		return nil, fmt.Errorf("%w: not a netflow v9 packet", ipfix.ErrFormat)
	}

	sets := make([]ipfix.Set, 0, header.Count)
	b := payload[20:]

	for len(b) >= 4 {
		var fsh flowSetHeader
		fsh.ID = binary.BigEndian.Uint16(b[0:2])
		fsh.Length = binary.BigEndian.Uint16(b[2:4])
		if int(fsh.Length) < 4 || int(fsh.Length) > len(b) {
			return nil, fmt.Errorf("%w: netflow v9 flowset length %d invalid", ipfix.ErrFormat, fsh.Length)
		}
		body := b[4:fsh.Length]

		switch fsh.ID {
		case v9TemplateFlowSetID:
			set, err := c.translateTemplateFlowSet(sessionID, header.SourceID, body)
			if err != nil {
				return nil, err
			}
			if set != nil {
				sets = append(sets, *set)
			}
		case v9OptionsFlowSetID:
			// options templates are not translated: the spec scopes v9
			// translation to ordinary flow templates and data, per §4.3.
		default:
			set, err := c.translateDataFlowSet(sessionID, header.SourceID, fsh.ID, body)
			if err != nil {
				return nil, err
			}
			if set != nil {
				sets = append(sets, *set)
			}
		}

		b = b[fsh.Length:]
	}

	return &ipfix.Message{
		Version:             10,
		Length:              messageLength(sets),
		ExportTime:          header.UnixSecs,
		SequenceNumber:      header.SequenceNumber,
		ObservationDomainId: observationDomainId,
		Sets:                sets,
	}, nil
}

func (c *V9Converter) translateTemplateFlowSet(sessionID uuid.UUID, sourceID uint32, body []byte) (*ipfix.Set, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("%w: netflow v9 template record truncated", ipfix.ErrTrunc)
	}
	templateID := binary.BigEndian.Uint16(body[0:2])
	fieldCount := binary.BigEndian.Uint16(body[2:4])

	fields := make([]ipfix.Field, 0, fieldCount)
	cur := body[4:]
	for i := uint16(0); i < fieldCount; i++ {
		if len(cur) < 4 {
			return nil, fmt.Errorf("%w: netflow v9 template field truncated", ipfix.ErrTrunc)
		}
		fieldID := binary.BigEndian.Uint16(cur[0:2])
		fieldLength := binary.BigEndian.Uint16(cur[2:4])
		cur = cur[4:]

		ie := &ipfix.InformationElement{Id: fieldID, Constructor: ipfix.LookupConstructor("octetArray")}
		fields = append(fields, ipfix.NewFieldBuilder(ie).SetLength(fieldLength).Complete())
	}

	tr := &ipfix.TemplateRecord{TemplateId: templateID, FieldCount: fieldCount, Fields: fields}

	c.mu.Lock()
	key := v9TemplateKey{session: sessionID, sourceID: sourceID, id: templateID}
	c.templates[key] = tr
	alreadyAnnounced := c.announced[key]
	c.announced[key] = true
	c.mu.Unlock()

	if alreadyAnnounced {
		return nil, nil
	}

	ts := &ipfix.TemplateSet{Records: []ipfix.TemplateRecord{*tr}}
	var buf bytes.Buffer
	n, err := ts.Encode(&buf)
	if err != nil {
		return nil, err
	}
	return &ipfix.Set{
		SetHeader: ipfix.SetHeader{Id: templateSetID, Length: uint16(4 + n)},
		Kind:      ipfix.KindTemplateSet,
		Set:       ts,
	}, nil
}

func (c *V9Converter) translateDataFlowSet(sessionID uuid.UUID, sourceID uint32, flowSetID uint16, body []byte) (*ipfix.Set, error) {
	c.mu.Lock()
	tr, ok := c.templates[v9TemplateKey{session: sessionID, sourceID: sourceID, id: flowSetID}]
	c.mu.Unlock()
	if !ok {
		// the exporter sent data for a template we have not seen yet
		// (e.g. we joined mid-stream); §4.3 says to drop rather than guess.
		return nil, nil
	}

	recordLength := 0
	for _, f := range tr.Fields {
		recordLength += int(f.Length())
	}
	if recordLength == 0 {
		return nil, nil
	}

	records := make([]ipfix.DataRecord, 0, len(body)/recordLength)
	for len(body) >= recordLength {
		fields := make([]ipfix.Field, len(tr.Fields))
		off := 0
		for i, f := range tr.Fields {
			l := int(f.Length())
			fields[i] = f.Clone().SetValue(append([]byte(nil), body[off:off+l]...))
			off += l
		}
		records = append(records, ipfix.DataRecord{
			TemplateId: tr.TemplateId,
			FieldCount: uint16(len(fields)),
			Fields:     fields,
		})
		body = body[recordLength:]
	}

	ds := &ipfix.DataSet{Records: records}
	var buf bytes.Buffer
	n, err := ds.Encode(&buf)
	if err != nil {
		return nil, err
	}
	return &ipfix.Set{
		SetHeader: ipfix.SetHeader{Id: tr.TemplateId, Length: uint16(4 + n)},
		Kind:      ipfix.KindDataSet,
		Set:       ds,
	}, nil
}
