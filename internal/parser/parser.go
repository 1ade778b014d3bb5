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

// Package parser turns the raw bytes of one IPFIX Message (already
// version-sniffed and, for NetFlow v5/v9, already translated by
// internal/netflow) into a fully resolved ipfix.Message, dispatching each
// Set within it to the Template Manager namespace it belongs to. This is
// the piece the teacher's root package never had to have on its own:
// Message.Decode there stops after the message header, leaving Set
// dispatch to whatever called it — this package is that caller, grounded
// on the teacher's DataSet.With/TemplateRecord.Decode contracts and on
// plugin_parser.c's per-Set dispatch loop.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/netflowlabs/ipfixcollector"
	"github.com/netflowlabs/ipfixcollector/internal/ieregistry"
	"github.com/netflowlabs/ipfixcollector/internal/session"
	"github.com/netflowlabs/ipfixcollector/internal/tmgr"
)

// Parser resolves Template/OptionsTemplate/Data Sets against a Registry
// of per-namespace Template Managers, and tracks each namespace's
// Sequence Number so gaps and resets can be logged rather than silently
// accepted (RFC 7011 §10's Sequence Number is only meaningful per
// (Session, ODID), exactly the scope tmgr.NamespaceKey models).
type Parser struct {
	log logr.Logger

	registry  *tmgr.Registry
	ieManager ieregistry.IeManager

	mu  sync.Mutex
	seq map[tmgr.NamespaceKey]uint32
}

// New constructs a Parser backed by registry. ies may be nil; when set, it
// is bound into every namespace's Manager via SetIeManager as soon as the
// namespace is first touched.
func New(log logr.Logger, registry *tmgr.Registry, ies ieregistry.IeManager) *Parser {
	return &Parser{
		log:       log,
		registry:  registry,
		ieManager: ies,
		seq:       make(map[tmgr.NamespaceKey]uint32),
	}
}

// Result is what Parse produces: the resolved message plus any template
// definitions its owning namespace retired while handling it.
type Result struct {
	Message *ipfix.Message
	Garbage []tmgr.GarbageItem
}

// FatalDispatchError marks a Set dispatch failure that happened on a
// reliable transport. RFC 7011 §8.1 only lets a collector shrug off a
// malformed Set on UDP, where the next packet is an independent retry
// anyway; over TCP/SCTP the stream itself is now desynchronized, so the
// owning session must be torn down rather than limped along. internal/input
// detects this with errors.As and drives the session's feedback edge from
// it; a plain error out of Parse never reaches that path.
type FatalDispatchError struct {
	Err error
}

func (e *FatalDispatchError) Error() string { return e.Err.Error() }

func (e *FatalDispatchError) Unwrap() error { return e.Err }

// Parse decodes one IPFIX Message from payload, scoped to ns, and
// dispatches each of its Sets through the namespace's Template Manager.
// templateLifetime and optionsLifetime are the UDP expiry windows
// negotiated for this session (zero for TCP/SCTP/File, which rely on
// explicit withdrawal instead); they only take effect the first time ns's
// Manager is created and are ignored afterwards.
func (p *Parser) Parse(ns tmgr.NamespaceKey, variant session.Variant, templateLifetime, optionsLifetime time.Duration, payload []byte) (*Result, error) {
	r := bytes.NewReader(payload)

	msg := &ipfix.Message{}
	if _, err := msg.Decode(r); err != nil {
		return nil, fmt.Errorf("decoding message header: %w", err)
	}

	mgr := p.registry.Manager(ns, variant, templateLifetime, optionsLifetime)
	if p.ieManager != nil {
		mgr.SetIeManager(p.ieManager)
	}
	if err := mgr.SetTime(time.Unix(int64(msg.ExportTime), 0)); err != nil {
		return nil, err
	}
	p.checkSequence(ns, msg.SequenceNumber)

	fieldCache := mgr.AsFieldCache()
	templateCache := mgr.AsTemplateCache()

	sets := make([]ipfix.Set, 0, 4)
	for {
		var sh ipfix.SetHeader
		if _, err := sh.Decode(r); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decoding set header: %w", err)
		}
		if sh.Length < 4 {
			return nil, fmt.Errorf("%w: set %d declares length %d", ipfix.ErrFormat, sh.Id, sh.Length)
		}
		body := io.LimitReader(r, int64(sh.Length)-4)

		set, err := p.dispatch(mgr, fieldCache, templateCache, sh, body)
		io.Copy(io.Discard, body) // consume any padding left unread by the Set's own Decode, success or not

		if err != nil {
			if variant == session.Udp {
				// A malformed UDP Set only ever affects this one packet;
				// the next datagram is an independent retry, so log and
				// move on to whatever Sets follow it in this Message.
				p.log.V(1).Info("dropping set over udp after dispatch error", "setId", sh.Id, "error", err.Error())
				continue
			}
			return nil, &FatalDispatchError{Err: err}
		}
		if set != nil {
			sets = append(sets, *set)
		}
	}
	msg.Sets = sets

	return &Result{Message: msg, Garbage: mgr.TakeGarbage()}, nil
}

func (p *Parser) dispatch(mgr *tmgr.Manager, fc ipfix.FieldCache, tc ipfix.TemplateCache, sh ipfix.SetHeader, body io.Reader) (*ipfix.Set, error) {
	switch {
	case sh.Id == ipfix.IPFIX:
		ts := new(ipfix.TemplateSet).WithCaches(fc, tc)
		if _, err := ts.Decode(body); err != nil {
			return nil, fmt.Errorf("decoding template set: %w", err)
		}
		if len(ts.Records) == 0 {
			if err := mgr.WithdrawAll(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		for i := range ts.Records {
			tr := ts.Records[i]
			if tr.FieldCount == 0 {
				// Template Withdrawal (RFC 7011 §8.1): this one record
				// retracts tr.Id() without touching any other template
				// carried in the same Set.
				if err := mgr.Withdraw(tr.Id()); err != nil {
					return nil, err
				}
				continue
			}
			if err := mgr.Add(&ipfix.Template{
				TemplateMetadata: &ipfix.TemplateMetadata{TemplateId: tr.Id(), CreationTimestamp: time.Now()},
				Record:           &tr,
			}); err != nil {
				return nil, err
			}
		}
		return &ipfix.Set{SetHeader: sh, Kind: ipfix.KindTemplateSet, Set: ts}, nil

	case sh.Id == ipfix.IPFIXOptions:
		ots := new(ipfix.OptionsTemplateSet).WithCaches(fc, tc)
		if _, err := ots.Decode(body); err != nil {
			return nil, fmt.Errorf("decoding options template set: %w", err)
		}
		if len(ots.Records) == 0 {
			if err := mgr.WithdrawAll(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		for i := range ots.Records {
			otr := ots.Records[i]
			if otr.FieldCount == 0 {
				// Options Template Withdrawal (RFC 7011 §8.1).
				if err := mgr.Withdraw(otr.Id()); err != nil {
					return nil, err
				}
				continue
			}
			if err := mgr.Add(&ipfix.Template{
				TemplateMetadata: &ipfix.TemplateMetadata{TemplateId: otr.Id(), CreationTimestamp: time.Now()},
				Record:           &otr,
			}); err != nil {
				return nil, err
			}
		}
		return &ipfix.Set{SetHeader: sh, Kind: ipfix.KindOptionsTemplateSet, Set: ots}, nil

	default:
		tmpl, ok := mgr.Get(sh.Id)
		if !ok {
			p.log.V(1).Info("data set references unknown template, preserving raw bytes", "templateId", sh.Id)
			raw, err := io.ReadAll(body)
			if err != nil {
				return nil, fmt.Errorf("reading unresolvable data set %d: %w", sh.Id, err)
			}
			return &ipfix.Set{SetHeader: sh, Kind: KindUnresolvedDataSet, Set: &rawSet{raw: raw}}, nil
		}
		ds := new(ipfix.DataSet).With(tmpl)
		if _, err := ds.Decode(body); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decoding data set %d: %w", sh.Id, err)
		}
		if kind, ok := mgr.OptionsKind(sh.Id); ok && kind == tmgr.OptionsKindFlowKeys {
			for i := range ds.Records {
				mgr.AnnotateFlowKeys(ds.Records[i].Fields)
			}
		}
		return &ipfix.Set{SetHeader: sh, Kind: ipfix.KindDataSet, Set: ds}, nil
	}
}

// KindUnresolvedDataSet tags a Data Set the parser could not resolve
// against any known template. Its raw bytes are preserved rather than
// dropped so a writer configured with preserveOriginal can still emit the
// set verbatim.
const KindUnresolvedDataSet = "UnresolvedDataSet"

// rawSet carries the undecoded body of a Data Set whose Template was not
// known at parse time. Record boundaries inside it cannot be recovered
// without that Template, so Length reports a nominal record count of 1 —
// enough for a writer's sequence-number bookkeeping to treat dropping the
// whole set as dropping one record, matching every worked example that
// exercises this path.
type rawSet struct {
	raw []byte
}

func (r *rawSet) String() string {
	return fmt.Sprintf("UnresolvedDataSet<%d bytes>", len(r.raw))
}

func (r *rawSet) Length() int { return 1 }

func (r *rawSet) Encode(w io.Writer) (int, error) {
	return w.Write(r.raw)
}

// checkSequence logs (rather than rejects) a namespace's sequence number
// not following the prior message's by exactly 1 — acceptable loss
// detection per §10, not a parse error.
func (p *Parser) checkSequence(ns tmgr.NamespaceKey, seq uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	last, ok := p.seq[ns]
	p.seq[ns] = seq
	if !ok {
		return
	}
	if expected := last + 1; seq != expected {
		p.log.V(1).Info("sequence number gap", "namespace", ns.String(), "expected", expected, "got", seq)
	}
}
