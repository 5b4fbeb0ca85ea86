/*
Package marcidb implements a schema-first document database on top of an
ordered key-value store (in this case, on top of Bolt).

Models, fields, relations and derived fields are declared at runtime,
either in the marci schema language or in YAML, and validated into a
frozen registry. Documents are stored as flat binary records; relations
are materialized as paired direct/reverse index entries so that derived
fields are always computed from index scans, never from stored
duplicates.

# Technical Details

**Buckets.**
Three flat buckets: “data” for documents, “index” for relation and field
index entries (plus ordered-collection counters), “meta” for the
registry state record.

**Ordinals.**
Each model, relation and field index is assigned a positive integer
ordinal, persisted in the meta bucket. Ordinals are never reused, even
after a model is removed from the schema, so key prefixes stay valid
across schema edits.

## Binary encoding

**Entity key**: model ordinal (u32 BE), then entity id (u64 BE).

**Index key**: relation ordinal (u32 BE), marker byte (0x00 direct,
0x01 reverse), group id (u64 BE), optional position bytes for ordered
collections, member id (u64 BE). The marker byte makes all direct
entries of a relation sort before its reverse entries. A key that ends
right after the group id is the collection’s append-only counter and is
skipped by scans via a length check.

**Field index key**: index ordinal (u32 BE), marker byte 0x02, the
order-preserving encoding of the field value, entity id (u64 BE).

**Document value**: version byte (1), stored field count (u16 BE), one
u32 BE offset per stored field (0 means null), then field payloads in
declaration order. Strings and bytes are length-prefixed (u32 BE);
integers and timestamps are 8-byte big-endian; doubles are IEEE-754
bits; booleans are a single byte. Derived fields are virtual and occupy
no slot.
*/
package marcidb
