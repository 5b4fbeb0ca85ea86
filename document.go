package marcidb

import (
	"math"
	"time"
)

// Document value layout: version byte, stored field count (u16 BE), one
// u32 BE offset cell per stored slot (0 = null), payloads in slot
// order. Offsets are absolute within the value, so they can never
// legitimately be zero.
const (
	documentVersion     = 1
	documentHeaderFixed = 3
)

// Document is the in-memory form of a stored record. Values are typed:
// int64, string, bool, time.Time, float64, []byte, EntityID for
// references. Derived and list fields never appear here.
type Document map[string]any

func encodeDocument(model *Model, doc Document) ([]byte, error) {
	for name := range doc {
		f := model.fieldsByName[name]
		if f == nil {
			return nil, validationErrf(model.Name, name, "unknown field")
		}
		if !f.Kind.stored() {
			return nil, validationErrf(model.Name, name, "%v field cannot be stored directly", f.Kind)
		}
	}

	buf := make([]byte, 0, model.headerSize+16*model.storedCount)
	buf = appendByte(buf, documentVersion)
	buf = appendUint16(buf, uint16(model.storedCount))
	for i := 0; i < model.storedCount; i++ {
		buf = appendUint32(buf, 0)
	}

	for _, f := range model.Fields {
		if !f.Kind.stored() {
			continue
		}
		v, present := doc[f.Name]
		if !present || v == nil {
			if !f.Nullable {
				return nil, validationErrf(model.Name, f.Name, "required field is null")
			}
			continue
		}
		off := len(buf)
		var err error
		buf, err = appendFieldPayload(buf, f, v)
		if err != nil {
			return nil, err
		}
		writeOffsetCell(buf, f.Slot, uint32(off))
	}
	return buf, nil
}

func writeOffsetCell(buf []byte, slot int, off uint32) {
	p := documentHeaderFixed + slot*4
	buf[p] = byte(off >> 24)
	buf[p+1] = byte(off >> 16)
	buf[p+2] = byte(off >> 8)
	buf[p+3] = byte(off)
}

func appendFieldPayload(buf []byte, f *Field, v any) ([]byte, error) {
	switch f.Kind {
	case KindInt:
		n, ok := v.(int64)
		if !ok {
			return nil, validationErrf(f.Model.Name, f.Name, "expected integer, got %T", v)
		}
		return appendUint64(buf, uint64(n)), nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, validationErrf(f.Model.Name, f.Name, "expected string, got %T", v)
		}
		buf = appendUint32(buf, uint32(len(s)))
		return appendRaw(buf, []byte(s)), nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, validationErrf(f.Model.Name, f.Name, "expected boolean, got %T", v)
		}
		return appendSortKeyBool(buf, b), nil
	case KindDateTime:
		t, ok := v.(time.Time)
		if !ok {
			return nil, validationErrf(f.Model.Name, f.Name, "expected timestamp, got %T", v)
		}
		return appendUint64(buf, uint64(t.UnixMicro())), nil
	case KindDouble:
		d, ok := v.(float64)
		if !ok {
			return nil, validationErrf(f.Model.Name, f.Name, "expected number, got %T", v)
		}
		return appendUint64(buf, math.Float64bits(d)), nil
	case KindBytes:
		b, ok := v.([]byte)
		if !ok {
			return nil, validationErrf(f.Model.Name, f.Name, "expected bytes, got %T", v)
		}
		buf = appendUint32(buf, uint32(len(b)))
		return appendRaw(buf, b), nil
	case KindRef:
		id, ok := v.(EntityID)
		if !ok {
			return nil, validationErrf(f.Model.Name, f.Name, "expected entity id, got %T", v)
		}
		return appendUint64(buf, uint64(id)), nil
	default:
		return nil, validationErrf(f.Model.Name, f.Name, "cannot encode %v field", f.Kind)
	}
}

func decodeDocument(model *Model, data []byte) (Document, error) {
	count, err := checkDocumentHeader(model, data)
	if err != nil {
		return nil, err
	}
	doc := make(Document, count)
	for _, f := range model.Fields {
		if !f.Kind.stored() || f.Slot >= count {
			continue
		}
		v, err := decodeFieldAt(model, data, f)
		if err != nil {
			return nil, err
		}
		if v != nil {
			doc[f.Name] = v
		}
	}
	return doc, nil
}

func checkDocumentHeader(model *Model, data []byte) (int, error) {
	if len(data) < documentHeaderFixed {
		return 0, codecErrf(data, 0, "truncated document header")
	}
	if data[0] != documentVersion {
		return 0, codecErrf(data, 0, "unsupported document version %d", data[0])
	}
	count := int(data[1])<<8 | int(data[2])
	if len(data) < documentHeaderFixed+count*4 {
		return 0, codecErrf(data, documentHeaderFixed, "truncated offset table: %d fields", count)
	}
	if count > model.storedCount {
		return 0, codecErrf(data, 1, "document has %d fields, model %s has %d", count, model.Name, model.storedCount)
	}
	return count, nil
}

// decodeFieldAt extracts a single field without decoding the rest of
// the document. Returns nil for null. A document stored under a
// narrower schema has no cell for later slots; those fields read as
// null until the next update rewrites the document at full width.
func decodeFieldAt(model *Model, data []byte, f *Field) (any, error) {
	count, err := checkDocumentHeader(model, data)
	if err != nil {
		return nil, err
	}
	if f.Slot >= count {
		return nil, nil
	}
	off := offsetCell(data, f.Slot)
	if off == 0 {
		return nil, nil
	}
	if int(off) >= len(data) {
		return nil, codecErrf(data, f.offsetPos(), "field %s offset %d out of range", f.Name, off)
	}
	d := makeByteDecoder(data)
	ensure(mustSkip(&d, int(off)))
	switch f.Kind {
	case KindInt:
		n, err := d.Uint64()
		return int64(n), err
	case KindString:
		b, err := decodeLenPrefixed(&d)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case KindBool:
		b, err := d.Byte()
		return b != 0, err
	case KindDateTime:
		n, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		return time.UnixMicro(int64(n)).UTC(), nil
	case KindDouble:
		n, err := d.Uint64()
		return math.Float64frombits(n), err
	case KindBytes:
		b, err := decodeLenPrefixed(&d)
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	case KindRef:
		n, err := d.Uint64()
		return EntityID(n), err
	default:
		return nil, codecErrf(data, int(off), "field %s has non-stored kind %v", f.Name, f.Kind)
	}
}

func offsetCell(data []byte, slot int) uint32 {
	p := documentHeaderFixed + slot*4
	return uint32(data[p])<<24 | uint32(data[p+1])<<16 | uint32(data[p+2])<<8 | uint32(data[p+3])
}

func mustSkip(d *byteDecoder, n int) error {
	_, err := d.Raw(n)
	return err
}

func decodeLenPrefixed(d *byteDecoder) ([]byte, error) {
	n, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	return d.Raw(int(n))
}

// payloadLen returns the byte length of a field payload starting at off,
// used by the partial-update splice to carve out old payloads.
func payloadLen(f *Field, data []byte, off int) (int, error) {
	switch f.Kind {
	case KindInt, KindDateTime, KindDouble, KindRef:
		return 8, nil
	case KindBool:
		return 1, nil
	case KindString, KindBytes:
		if off+4 > len(data) {
			return 0, codecErrf(data, off, "truncated length prefix for %s", f.Name)
		}
		d := makeByteDecoder(data[off:])
		n := must(d.Uint32())
		return 4 + int(n), nil
	default:
		return 0, codecErrf(data, off, "field %s has non-stored kind %v", f.Name, f.Kind)
	}
}

// coerceValue converts a JSON-shaped input value into the typed form
// encodeDocument expects. JSON numbers arrive as float64.
func coerceValue(f *Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, validationErrf(f.Model.Name, f.Name, "expected integer, got %v", n)
			}
			return int64(n), nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindDateTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, validationErrf(f.Model.Name, f.Name, "bad timestamp: %v", err)
			}
			return parsed, nil
		case float64:
			return time.UnixMilli(int64(t)).UTC(), nil
		}
	case KindDouble:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		}
	case KindBytes:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	case KindRef:
		switch n := v.(type) {
		case EntityID:
			return n, nil
		case int64:
			return EntityID(n), nil
		case float64:
			return EntityID(n), nil
		case map[string]any:
			// {"id": N} connect form for single references.
			if id, ok := n["id"]; ok {
				return coerceValue(f, id)
			}
		}
	}
	return nil, validationErrf(f.Model.Name, f.Name, "cannot interpret %T as %v", v, f.Kind)
}
