package marcidb

import "math"

// Stable small-integer ordinals used as key-space prefixes. Assigned by
// the registry state and never reused within a data directory.
type (
	ModelID    uint32
	RelationID uint32
	IndexID    uint32
	EntityID   uint64
)

// Index key markers. Direct must sort before reverse so a relation's
// entries stay segregated under a single prefix.
const (
	markerDirect  byte = 0x00
	markerReverse byte = 0x01
	markerValue   byte = 0x02
)

const (
	entityKeyLen = 4 + 8     // model ordinal + entity id
	groupKeyLen  = 4 + 1 + 8 // relation ordinal + marker + group id
	minIndexKey  = groupKeyLen + 8
)

func encodeEntityKey(buf []byte, model ModelID, id EntityID) []byte {
	buf = appendUint32(buf, uint32(model))
	buf = appendUint64(buf, uint64(id))
	return buf
}

func decodeEntityKey(key []byte) (ModelID, EntityID, error) {
	if len(key) != entityKeyLen {
		return 0, 0, codecErrf(key, 0, "truncated entity key: %d bytes, want %d", len(key), entityKeyLen)
	}
	d := makeByteDecoder(key)
	model := must(d.Uint32())
	id := must(d.Uint64())
	return ModelID(model), EntityID(id), nil
}

func entityKeyPrefix(buf []byte, model ModelID) []byte {
	return appendUint32(buf, uint32(model))
}

// encodeIndexKey lays out relation ++ marker ++ group ++ [position] ++
// member. The position component, when present, sorts the collection;
// the trailing member id doubles as the tie-break, so two entries can
// never collide.
func encodeIndexKey(buf []byte, rel RelationID, marker byte, group EntityID, pos []byte, member EntityID) []byte {
	buf = appendUint32(buf, uint32(rel))
	buf = appendByte(buf, marker)
	buf = appendUint64(buf, uint64(group))
	buf = appendRaw(buf, pos)
	buf = appendUint64(buf, uint64(member))
	return buf
}

type indexKey struct {
	Rel    RelationID
	Marker byte
	Group  EntityID
	Pos    []byte
	Member EntityID
}

func decodeIndexKey(key []byte) (indexKey, error) {
	if len(key) < minIndexKey {
		return indexKey{}, codecErrf(key, 0, "truncated index key: %d bytes, want at least %d", len(key), minIndexKey)
	}
	d := makeByteDecoder(key)
	var ik indexKey
	ik.Rel = RelationID(must(d.Uint32()))
	ik.Marker = must(d.Byte())
	if ik.Marker != markerDirect && ik.Marker != markerReverse {
		return indexKey{}, codecErrf(key, 4, "invalid index marker 0x%02x", ik.Marker)
	}
	ik.Group = EntityID(must(d.Uint64()))
	rest := must(d.Raw(d.Remaining()))
	n := len(rest)
	ik.Pos = rest[:n-8]
	d2 := makeByteDecoder(rest[n-8:])
	ik.Member = EntityID(must(d2.Uint64()))
	return ik, nil
}

// groupPrefix is both the scan prefix for a collection and, as an exact
// key, the collection's append-only counter slot.
func groupPrefix(buf []byte, rel RelationID, marker byte, group EntityID) []byte {
	buf = appendUint32(buf, uint32(rel))
	buf = appendByte(buf, marker)
	buf = appendUint64(buf, uint64(group))
	return buf
}

func encodeFieldIndexKey(buf []byte, idx IndexID, sortKey []byte, id EntityID) []byte {
	buf = appendUint32(buf, uint32(idx))
	buf = appendByte(buf, markerValue)
	buf = appendRaw(buf, sortKey)
	buf = appendUint64(buf, uint64(id))
	return buf
}

func fieldIndexPrefix(buf []byte, idx IndexID, sortKey []byte) []byte {
	buf = appendUint32(buf, uint32(idx))
	buf = appendByte(buf, markerValue)
	buf = appendRaw(buf, sortKey)
	return buf
}

func decodeFieldIndexEntity(key []byte) (EntityID, error) {
	if len(key) < 4+1+8 {
		return 0, codecErrf(key, 0, "truncated field index key: %d bytes", len(key))
	}
	d := makeByteDecoder(key[len(key)-8:])
	return EntityID(must(d.Uint64())), nil
}

// Order-preserving scalar encodings: byte-lexicographic order of the
// encoded form matches the natural order of the value.

func appendSortKeyInt64(buf []byte, v int64) []byte {
	return appendUint64(buf, uint64(v)^(1<<63))
}

func decodeSortKeyInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, codecErrf(b, 0, "truncated int64 sort key: %d bytes", len(b))
	}
	d := makeByteDecoder(b)
	return int64(must(d.Uint64()) ^ (1 << 63)), nil
}

func appendSortKeyFloat64(buf []byte, v float64) []byte {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return appendUint64(buf, bits)
}

func decodeSortKeyFloat64(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, codecErrf(b, 0, "truncated float64 sort key: %d bytes", len(b))
	}
	d := makeByteDecoder(b)
	bits := must(d.Uint64())
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), nil
}

// Strings are 0x00-escaped (0x00 becomes 0x00 0xFF) and terminated with
// a single 0x00, which keeps lexicographic order across component
// boundaries regardless of what follows the string.
func appendSortKeyString(buf []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		c := s[i]
		buf = appendByte(buf, c)
		if c == 0x00 {
			buf = appendByte(buf, 0xFF)
		}
	}
	return appendByte(buf, 0x00)
}

func decodeSortKeyString(b []byte) (string, int, error) {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != 0x00 {
			out = append(out, c)
			continue
		}
		if i+1 < len(b) && b[i+1] == 0xFF {
			out = append(out, 0x00)
			i++
			continue
		}
		return string(out), i + 1, nil
	}
	return "", 0, codecErrf(b, len(b), "unterminated string sort key")
}

func appendSortKeyBool(buf []byte, v bool) []byte {
	if v {
		return appendByte(buf, 1)
	}
	return appendByte(buf, 0)
}
