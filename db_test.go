package marcidb

import (
	"reflect"
	"testing"
)

func setup(t testing.TB, schemaSrc string) *DB {
	t.Helper()
	s, err := ParseSchema(schemaSrc)
	if err != nil {
		t.Fatal(err)
	}
	return setupWithSchema(t, t.TempDir(), s)
}

func setupWithSchema(t testing.TB, dir string, s *Schema) *DB {
	t.Helper()
	db, err := Open(dir, s, Options{IsTesting: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func TestOpen_OrdinalStability(t *testing.T) {
	dir := t.TempDir()

	s1 := must(ParseSchema("model B {\n  x String\n}\nmodel A {\n  y String\n}"))
	db1 := setupWithSchema(t, dir, s1)
	aID := must(s1.Model("A")).ID
	bID := must(s1.Model("B")).ID
	db1.Close()

	// Reopen with B removed and a new model added: A keeps its ordinal,
	// the new model does not take B's.
	s2 := must(ParseSchema("model A {\n  y String\n}\nmodel C {\n  z String\n}"))
	db2 := setupWithSchema(t, dir, s2)
	defer db2.Close()

	if got := must(s2.Model("A")).ID; got != aID {
		t.Errorf("A ordinal changed across reopen: %d -> %d", aID, got)
	}
	cID := must(s2.Model("C")).ID
	if cID == bID || cID == aID {
		t.Errorf("C reused an existing ordinal %d", cID)
	}
}

func TestOpen_RelationOrdinalStability(t *testing.T) {
	dir := t.TempDir()
	src := `
model User {
    name String
}
model Post {
    title String @index
    author User
}
`
	s1 := must(ParseSchema(src))
	db1 := setupWithSchema(t, dir, s1)
	relID := must(must(s1.Model("Post")).Field("author")).Rel.ID
	idxID := must(must(s1.Model("Post")).Field("title")).Index.ID
	db1.Close()

	s2 := must(ParseSchema(src))
	db2 := setupWithSchema(t, dir, s2)
	defer db2.Close()

	if got := must(must(s2.Model("Post")).Field("author")).Rel.ID; got != relID {
		t.Errorf("relation ordinal changed: %d -> %d", relID, got)
	}
	if got := must(must(s2.Model("Post")).Field("title")).Index.ID; got != idxID {
		t.Errorf("field index ordinal changed: %d -> %d", idxID, got)
	}
}

func TestOpen_IDAllocatorSeededFromLastKey(t *testing.T) {
	dir := t.TempDir()
	src := "model A {\n  x String\n}"

	db1 := setupWithSchema(t, dir, must(ParseSchema(src)))
	id1 := must(db1.Insert("A", map[string]any{"x": "one"}))
	id2 := must(db1.Insert("A", map[string]any{"x": "two"}))
	if id1 != 1 || id2 != 2 {
		t.Fatalf("ids = %d, %d", id1, id2)
	}
	db1.Close()

	db2 := setupWithSchema(t, dir, must(ParseSchema(src)))
	defer db2.Close()
	id3 := must(db2.Insert("A", map[string]any{"x": "three"}))
	if id3 != 3 {
		t.Errorf("id after reopen = %d, wanted 3", id3)
	}
}

func TestOpen_SchemaWideningReadsNull(t *testing.T) {
	dir := t.TempDir()
	db1 := setupWithSchema(t, dir, must(ParseSchema("model A {\n  x String\n}")))
	id := must(db1.Insert("A", map[string]any{"x": "hello"}))
	db1.Close()

	db2 := setupWithSchema(t, dir, must(ParseSchema("model A {\n  x String\n  y Int?\n}")))
	doc := must(db2.FindByID("A", id, nil))
	deepEqual(t, doc, Document{"id": id, "x": "hello", "y": nil})

	// The first update rewrites the record at full width.
	ensure(db2.Update("A", id, map[string]any{"y": float64(9)}))
	doc = must(db2.FindByID("A", id, nil))
	deepEqual(t, doc, Document{"id": id, "x": "hello", "y": int64(9)})
}

func TestOpen_SecondOpenOfLockedDirFails(t *testing.T) {
	dir := t.TempDir()
	src := "model A {\n  x String\n}"
	db := setupWithSchema(t, dir, must(ParseSchema(src)))
	defer db.Close()

	if _, err := Open(dir, must(ParseSchema(src)), Options{IsTesting: true}); err == nil {
		t.Error("second open of a locked data directory did not fail")
	}
}
