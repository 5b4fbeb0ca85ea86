package marcidb

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func docTestModel(t testing.TB) *Model {
	t.Helper()
	s := NewSchema()
	m := must(s.AddModel("Event"))
	must(m.AddScalar("name", KindString, false))
	must(m.AddScalar("note", KindString, true))
	must(m.AddScalar("count", KindInt, true))
	must(m.AddScalar("score", KindDouble, true))
	must(m.AddScalar("active", KindBool, true))
	must(m.AddScalar("at", KindDateTime, true))
	must(m.AddScalar("blob", KindBytes, true))
	must(s.AddModel("Venue"))
	must(m.AddRef("venue", "Venue", true))
	ensure(s.Freeze())
	return m
}

func TestDocument_RoundTrip(t *testing.T) {
	m := docTestModel(t)
	at := time.Date(2024, 5, 17, 10, 30, 0, 123456000, time.UTC)
	doc := Document{
		"name":   "opening",
		"count":  int64(-42),
		"score":  3.25,
		"active": true,
		"at":     at,
		"blob":   []byte{0x00, 0xFF, 0x10},
		"venue":  EntityID(7),
	}
	data, err := encodeDocument(m, doc)
	if err != nil {
		t.Fatal(err)
	}
	if data[0] != documentVersion {
		t.Fatalf("version byte = %d", data[0])
	}

	got, err := decodeDocument(m, data)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, doc) {
		t.Errorf("round trip = %v, wanted %v", got, doc)
	}
	if _, ok := got["note"]; ok {
		t.Error("null field materialized in decode")
	}
}

func TestDocument_NullOffsetIsZero(t *testing.T) {
	m := docTestModel(t)
	data, err := encodeDocument(m, Document{"name": "x"})
	if err != nil {
		t.Fatal(err)
	}
	note := must(m.Field("note"))
	if off := offsetCell(data, note.Slot); off != 0 {
		t.Errorf("offset of null field = %d, wanted 0", off)
	}
	name := must(m.Field("name"))
	if off := offsetCell(data, name.Slot); off == 0 {
		t.Error("offset of present field is 0")
	}
}

func TestDocument_SingleFieldDecode(t *testing.T) {
	m := docTestModel(t)
	data := must(encodeDocument(m, Document{"name": "x", "count": int64(5)}))
	count := must(m.Field("count"))
	v, err := decodeFieldAt(m, data, count)
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, v, any(int64(5)))
}

func TestDocument_NarrowDocumentReadsNullForNewFields(t *testing.T) {
	narrow := NewSchema()
	n := must(narrow.AddModel("A"))
	must(n.AddScalar("x", KindString, false))
	ensure(narrow.Freeze())

	wide := NewSchema()
	w := must(wide.AddModel("A"))
	must(w.AddScalar("x", KindString, false))
	must(w.AddScalar("y", KindInt, true))
	ensure(wide.Freeze())

	// A record written before the model gained y has no offset cell for
	// it; the field must read as null, not as payload bytes.
	data := must(encodeDocument(n, Document{"x": "hello"}))

	v, err := decodeFieldAt(w, data, must(w.Field("y")))
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Errorf("new field decoded from old document: %v", v)
	}
	deepEqual(t, must(decodeDocument(w, data)), Document{"x": "hello"})
}

func TestDocument_Validation(t *testing.T) {
	m := docTestModel(t)
	var ve *ValidationError

	_, err := encodeDocument(m, Document{"name": "x", "bogus": 1})
	if !errors.As(err, &ve) {
		t.Errorf("unknown field: err = %v", err)
	}
	_, err = encodeDocument(m, Document{})
	if !errors.As(err, &ve) {
		t.Errorf("missing required field: err = %v", err)
	}
	_, err = encodeDocument(m, Document{"name": 42})
	if !errors.As(err, &ve) {
		t.Errorf("type mismatch: err = %v", err)
	}
}

func TestDocument_CorruptHeader(t *testing.T) {
	m := docTestModel(t)
	var ce *CodecError

	for _, data := range [][]byte{
		nil,
		{documentVersion},
		{99, 0, 0},
		{documentVersion, 0xFF, 0xFF},
	} {
		_, err := decodeDocument(m, data)
		if !errors.As(err, &ce) {
			t.Errorf("decode %x: err = %v, wanted CodecError", data, err)
		}
	}
}

func TestCoerceValue(t *testing.T) {
	m := docTestModel(t)
	count := must(m.Field("count"))
	venue := must(m.Field("venue"))
	at := must(m.Field("at"))

	deepEqual(t, any(int64(7)), must(coerceValue(count, float64(7))))
	deepEqual(t, any(EntityID(3)), must(coerceValue(venue, map[string]any{"id": float64(3)})))

	ts := must(coerceValue(at, "2024-05-17T10:30:00Z")).(time.Time)
	if !ts.Equal(time.Date(2024, 5, 17, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", ts)
	}

	if _, err := coerceValue(count, 1.5); err == nil {
		t.Error("fractional value accepted for integer field")
	}
	if _, err := coerceValue(count, "nope"); err == nil {
		t.Error("string accepted for integer field")
	}
}
