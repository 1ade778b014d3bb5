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

// Package netflow translates NetFlow v5 and v9 packets into IPFIX Messages
// so the rest of the pipeline only ever has to deal with one wire format.
// The v5 record layout is grounded on the NFv5Header/NFv5Record byte
// offsets used throughout the netflow ingest ecosystem (24-byte header,
// 48-byte fixed records, big-endian fields); this package produces
// ipfix.Message values instead of opaque ingest entries.
package netflow

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netflowlabs/ipfixcollector"
	"github.com/netflowlabs/ipfixcollector/internal/ieregistry"
)

const (
	v5HeaderSize int = 24
	v5RecordSize int = 48

	// maxV5Records bounds how many fixed-size records a single v5 packet
	// may claim to carry before the converter refuses it outright, well
	// above any realistic MTU-bound packet but far short of letting a
	// corrupt Count field drive an unbounded allocation.
	maxV5Records int = 1364

	// V5TemplateID is the synthetic IPFIX Template ID this converter
	// assigns to every v5 Data Record it produces.
	V5TemplateID uint16 = 500

	// templateSetID is the well-known Set ID a Template Set's SetHeader
	// carries, per RFC 7011 §3.3.2.
	templateSetID uint16 = 2
)

type v5Header struct {
	Version        uint16
	Count          uint16
	SysUptime      uint32
	Sec            uint32
	Nsec           uint32
	Sequence       uint32
	EngineType     uint8
	EngineID       uint8
	SamplingMode   uint8
	SamplingInterv uint16
}

func decodeV5Header(b []byte) (v5Header, error) {
	var h v5Header
	if len(b) < v5HeaderSize {
		return h, fmt.Errorf("%w: netflow v5 header needs %d bytes, got %d", ipfix.ErrTrunc, v5HeaderSize, len(b))
	}
	h.Version = binary.BigEndian.Uint16(b[0:2])
	h.Count = binary.BigEndian.Uint16(b[2:4])
	h.SysUptime = binary.BigEndian.Uint32(b[4:8])
	h.Sec = binary.BigEndian.Uint32(b[8:12])
	h.Nsec = binary.BigEndian.Uint32(b[12:16])
	h.Sequence = binary.BigEndian.Uint32(b[16:20])
	h.EngineType = b[20]
	h.EngineID = b[21]
	h.SamplingMode = b[22] >> 6
	h.SamplingInterv = binary.BigEndian.Uint16(b[22:24]) & 0x3fff
	return h, nil
}

type v5Record struct {
	Src, Dst, Next         net.IP
	Input, Output          uint16
	Pkts, Octets           uint32
	UptimeFirst, UptimeLast uint32
	SrcPort, DstPort       uint16
	Flags, Protocol, ToS   uint8
	SrcAs, DstAs           uint16
	SrcMask, DstMask       uint8
}

func decodeV5Record(b []byte) v5Record {
	return v5Record{
		Src:         net.IPv4(b[0], b[1], b[2], b[3]),
		Dst:         net.IPv4(b[4], b[5], b[6], b[7]),
		Next:        net.IPv4(b[8], b[9], b[10], b[11]),
		Input:       binary.BigEndian.Uint16(b[12:14]),
		Output:      binary.BigEndian.Uint16(b[14:16]),
		Pkts:        binary.BigEndian.Uint32(b[16:20]),
		Octets:      binary.BigEndian.Uint32(b[20:24]),
		UptimeFirst: binary.BigEndian.Uint32(b[24:28]),
		UptimeLast:  binary.BigEndian.Uint32(b[28:32]),
		SrcPort:     binary.BigEndian.Uint16(b[32:34]),
		DstPort:     binary.BigEndian.Uint16(b[34:36]),
		// b[36] is padding
		Flags:    b[37],
		Protocol: b[38],
		ToS:      b[39],
		SrcAs:    binary.BigEndian.Uint16(b[40:42]),
		DstAs:    binary.BigEndian.Uint16(b[42:44]),
		SrcMask:  b[44],
		DstMask:  b[45],
		// b[46:48] is padding
	}
}

// V5Converter translates NetFlow v5 packets into IPFIX Messages, emitting a
// synthetic Template Set on a session's first packet and again every
// templateRefresh export-time seconds thereafter.
type V5Converter struct {
	ies             ieregistry.IeManager
	templateRefresh time.Duration

	mu           sync.Mutex
	lastTemplate map[uuid.UUID]uint32 // sessionID -> export time seconds of last template emission
}

// NewV5Converter constructs a converter. ies supplies the InformationElement
// descriptors used to build the synthetic template; templateRefresh is the
// export-time interval (§4.3 "template_refresh_interval") after which the
// template is re-emitted even without a session restart.
func NewV5Converter(ies ieregistry.IeManager, templateRefresh time.Duration) *V5Converter {
	return &V5Converter{
		ies:             ies,
		templateRefresh: templateRefresh,
		lastTemplate:    make(map[uuid.UUID]uint32),
	}
}

// v5Fields is the ordered field-id list the synthetic v5 template and every
// Data Record built against it share.
var v5Fields = []struct {
	id     uint16
	length uint16
}{
	{8, 4},   // sourceIPv4Address
	{12, 4},  // destinationIPv4Address
	{15, 4},  // ipNextHopIPv4Address
	{10, 2},  // ingressInterface (reduced-length uint32)
	{14, 2},  // egressInterface (reduced-length uint32)
	{2, 4},   // packetDeltaCount (reduced-length uint64)
	{1, 4},   // octetDeltaCount (reduced-length uint64)
	{152, 8}, // flowStartMilliseconds
	{153, 8}, // flowEndMilliseconds
	{7, 2},   // sourceTransportPort
	{11, 2},  // destinationTransportPort
	{210, 1}, // paddingOctets
	{6, 1},   // tcpControlBits
	{4, 1},   // protocolIdentifier
	{5, 1},   // ipClassOfService
	{16, 2},  // bgpSourceAsNumber (reduced-length uint32)
	{17, 2},  // bgpDestinationAsNumber (reduced-length uint32)
	{9, 1},   // sourceIPv4PrefixLength
	{13, 1},  // destinationIPv4PrefixLength
	{210, 2}, // paddingOctets
	{34, 4},  // samplingInterval
	{35, 1},  // samplingAlgorithm
}

func (c *V5Converter) buildTemplateRecord() (*ipfix.TemplateRecord, error) {
	fields := make([]ipfix.Field, 0, len(v5Fields))
	for _, f := range v5Fields {
		ie, ok := c.ies.Lookup(0, f.id)
		if !ok {
			return nil, fmt.Errorf("%w: netflow v5 template references unknown IE %d", ipfix.ErrNotFound, f.id)
		}
		fields = append(fields, ipfix.NewFieldBuilder(ie).SetLength(f.length).Complete())
	}
	return &ipfix.TemplateRecord{
		TemplateId: V5TemplateID,
		FieldCount: uint16(len(fields)),
		Fields:     fields,
	}, nil
}

func (c *V5Converter) needsTemplate(sessionID uuid.UUID, exportTime uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastTemplate[sessionID]
	if !ok || c.templateRefresh <= 0 || uint32(c.templateRefresh.Seconds()) == 0 {
		c.lastTemplate[sessionID] = exportTime
		return true
	}
	if exportTime-last >= uint32(c.templateRefresh.Seconds()) {
		c.lastTemplate[sessionID] = exportTime
		return true
	}
	return false
}

// Convert decodes a NetFlow v5 UDP payload into an equivalent IPFIX
// Message. observationDomainId is assigned by the caller (§4.3: typically
// derived from the exporter's identity, since NetFlow v5 carries no ODID
// of its own).
func (c *V5Converter) Convert(sessionID uuid.UUID, observationDomainId uint32, payload []byte) (*ipfix.Message, error) {
	header, err := decodeV5Header(payload)
	if err != nil {
		return nil, err
	}
	if header.Version != 5 {
		return nil, fmt.Errorf("%w: not a netflow v5 packet", ipfix.ErrFormat)
	}
	if header.Count == 0 || int(header.Count) > maxV5Records {
		return nil, fmt.Errorf("%w: netflow v5 record count %d out of bounds", ipfix.ErrNoMem, header.Count)
	}
	want := v5HeaderSize + int(header.Count)*v5RecordSize
	if len(payload) < want {
		return nil, fmt.Errorf("%w: netflow v5 payload is %d bytes, expected %d for %d records", ipfix.ErrTrunc, len(payload), want, header.Count)
	}

	unixMillis := int64(header.Sec)*1000 + int64(header.Nsec)/1e6

	records := make([]ipfix.DataRecord, 0, header.Count)
	body := payload[v5HeaderSize:want]
	for i := 0; i < int(header.Count); i++ {
		rec := decodeV5Record(body[i*v5RecordSize : (i+1)*v5RecordSize])

		flowStartMillis := unixMillis - int64(header.SysUptime) + int64(rec.UptimeFirst)
		flowEndMillis := unixMillis - int64(header.SysUptime) + int64(rec.UptimeLast)

		values := []any{
			rec.Src,
			rec.Dst,
			rec.Next,
			int(rec.Input),
			int(rec.Output),
			int(rec.Pkts),
			int(rec.Octets),
			time.UnixMilli(flowStartMillis).UTC(),
			time.UnixMilli(flowEndMillis).UTC(),
			int(rec.SrcPort),
			int(rec.DstPort),
			make([]byte, 1),
			int(rec.Flags),
			int(rec.Protocol),
			int(rec.ToS),
			int(rec.SrcAs),
			int(rec.DstAs),
			int(rec.SrcMask),
			int(rec.DstMask),
			make([]byte, 2),
			int(header.SamplingInterv),
			int(header.SamplingMode),
		}

		fields, err := c.buildTemplateRecord()
		if err != nil {
			return nil, err
		}
		dataFields := make([]ipfix.Field, len(fields.Fields))
		for j, f := range fields.Fields {
			dataFields[j] = f.Clone().SetValue(values[j])
		}

		records = append(records, ipfix.DataRecord{
			TemplateId: V5TemplateID,
			FieldCount: uint16(len(dataFields)),
			Fields:     dataFields,
		})
	}

	sets := make([]ipfix.Set, 0, 2)
	if c.needsTemplate(sessionID, header.Sec) {
		tr, err := c.buildTemplateRecord()
		if err != nil {
			return nil, err
		}
		ts := &ipfix.TemplateSet{Records: []ipfix.TemplateRecord{*tr}}
		var buf bytes.Buffer
		n, err := ts.Encode(&buf)
		if err != nil {
			return nil, err
		}
		sets = append(sets, ipfix.Set{
			SetHeader: ipfix.SetHeader{Id: templateSetID, Length: uint16(4 + n)},
			Kind:      ipfix.KindTemplateSet,
			Set:       ts,
		})
	}

	ds := &ipfix.DataSet{Records: records}
	var buf bytes.Buffer
	n, err := ds.Encode(&buf)
	if err != nil {
		return nil, err
	}
	sets = append(sets, ipfix.Set{
		SetHeader: ipfix.SetHeader{Id: V5TemplateID, Length: uint16(4 + n)},
		Kind:      ipfix.KindDataSet,
		Set:       ds,
	})

	return &ipfix.Message{
		Version:             10,
		Length:              messageLength(sets),
		ExportTime:          header.Sec,
		SequenceNumber:      header.Sequence,
		ObservationDomainId: observationDomainId,
		Sets:                sets,
	}, nil
}

// messageHeaderSize is the fixed 16-byte IPFIX Message Header (RFC 7011
// §3.1): version, length, export time, sequence number, observation
// domain id.
const messageHeaderSize = 16

func messageLength(sets []ipfix.Set) uint16 {
	total := uint32(messageHeaderSize)
	for _, s := range sets {
		total += uint32(s.Length)
	}
	return uint16(total)
}
