package marcidb

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestSplice_ChangeOneField(t *testing.T) {
	m := docTestModel(t)
	old := must(encodeDocument(m, Document{"name": "before", "count": int64(1), "active": true}))

	values, mask, err := changeSet(m, Document{"count": int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	updated, err := spliceDocument(m, old, values, mask)
	if err != nil {
		t.Fatal(err)
	}

	got := must(decodeDocument(m, updated))
	want := Document{"name": "before", "count": int64(2), "active": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("after splice = %v, wanted %v", got, want)
	}

	// The unchanged string payload is carried over byte-for-byte.
	name := must(m.Field("name"))
	oldOff, newOff := offsetCell(old, name.Slot), offsetCell(updated, name.Slot)
	oldLen := must(payloadLen(name, old, int(oldOff)))
	newLen := must(payloadLen(name, updated, int(newOff)))
	if oldLen != newLen || !bytes.Equal(old[oldOff:int(oldOff)+oldLen], updated[newOff:int(newOff)+newLen]) {
		t.Error("unchanged payload was rewritten")
	}
}

func TestSplice_SetNull(t *testing.T) {
	m := docTestModel(t)
	old := must(encodeDocument(m, Document{"name": "x", "note": "will go"}))

	values, mask, err := changeSet(m, Document{"note": nil})
	if err != nil {
		t.Fatal(err)
	}
	updated := must(spliceDocument(m, old, values, mask))

	note := must(m.Field("note"))
	if off := offsetCell(updated, note.Slot); off != 0 {
		t.Errorf("nulled field offset = %d, wanted 0", off)
	}
	got := must(decodeDocument(m, updated))
	deepEqual(t, got, Document{"name": "x"})
}

func TestSplice_GrowAndShrinkPayload(t *testing.T) {
	m := docTestModel(t)
	old := must(encodeDocument(m, Document{"name": "short", "note": "other"}))

	for _, next := range []string{"a considerably longer value than before", "s"} {
		values, mask, err := changeSet(m, Document{"name": next})
		if err != nil {
			t.Fatal(err)
		}
		updated := must(spliceDocument(m, old, values, mask))
		got := must(decodeDocument(m, updated))
		want := Document{"name": next, "note": "other"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("after splice = %v, wanted %v", got, want)
		}
		old = updated
	}
}

func TestChangeSet_Validation(t *testing.T) {
	m := docTestModel(t)
	var ve *ValidationError

	_, _, err := changeSet(m, Document{"bogus": 1})
	if !errors.As(err, &ve) {
		t.Errorf("unknown field: err = %v", err)
	}
	_, _, err = changeSet(m, Document{"name": nil})
	if !errors.As(err, &ve) {
		t.Errorf("nulling required field: err = %v", err)
	}
}
