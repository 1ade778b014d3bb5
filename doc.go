/*
Package ipfix implements the wire format layer of an IPFIX flow-record
collector: decoding and encoding of IPFIX Messages, Sets and Records
according to RFC 7011, plus the related RFCs needed for a faithful
collector:

  - RFC 5103: Bidirectional Flow Export Using IP Flow Information Export (IPFIX)
  - RFC 5610: Exporting Type Information for IPFIX Information Elements
  - RFC 5655: Specification of the IPFIX File Format
  - RFC 6313: Export of Structured Data in IPFIX

# Scope

This package only concerns itself with the wire format: primitive data
type codecs, Field/Template/Record/Set/Message framing, and the small
field- and template-caching interfaces the wire codecs need during
decode to resolve a field's data type from its (PEN, element id).

It deliberately does not implement session bookkeeping, Template Manager
policy (lifetimes, withdrawal rules, snapshots), NetFlow v5/v9 to IPFIX
translation, the pipeline bus, or the file writer — those live in the
internal/ subpackages of this module, each of which builds on the types
defined here. See the module's DESIGN.md for how the pieces fit together.

# Data structures

An IPFIX Message carries one or more Sets. A Set is either a Template Set
(Set ID 2), an Options Template Set (Set ID 3), or a Data Set (Set ID
256-65535, naming the Template that describes its Records' layout).
Fields within a Record are typed according to RFC 7011/RFC 6313; every
such type implements the DataType interface.

RFC 6313 additionally allows Data Records to nest other Data Records
(possibly described by a different Template) via SubTemplateList and
SubTemplateMultiList, forming a tree bounded only by the 65535-byte
message size limit.

Because a Data Record's meaning is only known once its Template has been
received, any component decoding a Data Set must resolve the Template
that was in force at the message's Export Time, not merely "the latest
one" — see internal/tmgr for the time-indexed snapshot store that
provides this.
*/
package ipfix
