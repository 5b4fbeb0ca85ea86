package marcidb

import (
	"errors"
	"testing"
)

func TestSchema_SlotLayout(t *testing.T) {
	s := NewSchema()
	m := must(s.AddModel("M"))
	must(m.AddScalar("a", KindString, false))
	nm := must(s.AddModel("N"))
	must(m.AddRef("n", "N", true))
	must(m.AddRefList("links", "N")) // not stored
	must(m.AddScalar("b", KindInt, true))
	must(nm.AddDerived("backrefs", "M", "n")) // not stored
	ensure(s.Freeze())

	a, n, b := must(m.Field("a")), must(m.Field("n")), must(m.Field("b"))
	deepEqual(t, []int{a.Slot, n.Slot, b.Slot}, []int{0, 1, 2})
	deepEqual(t, m.storedCount, 3)
	deepEqual(t, m.headerSize, documentHeaderFixed+3*4)
	deepEqual(t, a.offsetPos(), documentHeaderFixed)

	deepEqual(t, must(m.Field("links")).Slot, -1)
	deepEqual(t, must(nm.Field("backrefs")).Slot, -1)
}

func TestSchema_FrozenRejectsMutation(t *testing.T) {
	s := NewSchema()
	m := must(s.AddModel("M"))
	must(m.AddScalar("a", KindString, false))
	ensure(s.Freeze())

	if _, err := s.AddModel("Other"); err == nil {
		t.Error("AddModel after freeze did not fail")
	}
	if _, err := m.AddScalar("late", KindInt, true); err == nil {
		t.Error("AddScalar after freeze did not fail")
	}
}

func TestSchema_ReservedFieldName(t *testing.T) {
	s := NewSchema()
	m := must(s.AddModel("M"))
	if _, err := m.AddScalar("id", KindInt, false); err == nil {
		t.Error(`field named "id" was accepted`)
	}
}

func TestSchema_DerivedMustPointBack(t *testing.T) {
	s := NewSchema()
	a := must(s.AddModel("A"))
	b := must(s.AddModel("B"))
	c := must(s.AddModel("C"))
	must(b.AddRef("c", "C", false))
	must(a.AddDerived("items", "B", "c")) // B.c references C, not A
	must(c.AddScalar("x", KindString, false))
	must(a.AddScalar("y", KindString, false))
	must(b.AddScalar("z", KindString, false))

	err := s.Freeze()
	var se *SchemaError
	if !errors.As(err, &se) || se.Kind != SchemaInvalid {
		t.Errorf("err = %v, wanted SchemaError(invalid schema)", err)
	}
}
