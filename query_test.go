package marcidb

import (
	"errors"
	"reflect"
	"testing"

	"go.etcd.io/bbolt"
)

func TestInsert_AssignsSequentialIDs(t *testing.T) {
	db := blogDB(t)
	id := must(db.Insert("User", map[string]any{"name": "Alice", "surname": nil}))
	if id != 1 {
		t.Fatalf("first id = %d, wanted 1", id)
	}

	doc, err := db.FindByID("User", id, nil)
	if err != nil {
		t.Fatal(err)
	}
	deepEqual(t, doc, Document{"id": EntityID(1), "name": "Alice", "surname": nil})
}

func TestInsert_ExplicitID(t *testing.T) {
	db := blogDB(t)
	id := must(db.Insert("User", map[string]any{"id": float64(10), "name": "Alice"}))
	if id != 10 {
		t.Fatalf("id = %d, wanted 10", id)
	}
	next := must(db.Insert("User", map[string]any{"name": "Bob"}))
	if next != 11 {
		t.Errorf("allocator did not advance past explicit id: %d", next)
	}
	_, err := db.Insert("User", map[string]any{"id": float64(10), "name": "Eve"})
	if !IsConstraint(err) {
		t.Errorf("duplicate explicit id: err = %v", err)
	}
}

func TestInsert_MissingForeignKey(t *testing.T) {
	db := blogDB(t)
	_, err := db.Insert("Post", map[string]any{"title": "p", "author": float64(99)})
	if !IsConstraint(err) {
		t.Fatalf("err = %v, wanted ConstraintError", err)
	}
}

func TestFindMany_ResolvesAuthorThroughIndex(t *testing.T) {
	db := blogDB(t)
	userID := must(db.Insert("User", map[string]any{"name": "Alice"}))
	postID := must(db.Insert("Post", map[string]any{
		"title":  "Post first",
		"author": map[string]any{"id": float64(userID)},
	}))

	docs, err := db.FindMany("Post", mustProj(db, "Post", map[string]any{
		"id": true, "title": true, "author": true,
	}), nil)
	if err != nil {
		t.Fatal(err)
	}
	// The author sub-document carries every stored User field.
	want := []Document{{
		"id":     postID,
		"title":  "Post first",
		"author": Document{"id": userID, "name": "Alice", "surname": nil},
	}}
	if !reflect.DeepEqual(docs, want) {
		t.Errorf("findMany = %v, wanted %v", docs, want)
	}
}

func TestFindMany_DerivedPostsViaReverseScan(t *testing.T) {
	db := blogDB(t)
	userID := must(db.Insert("User", map[string]any{"name": "Alice"}))
	p1 := must(db.Insert("Post", map[string]any{"title": "one", "author": float64(userID)}))
	p2 := must(db.Insert("Post", map[string]any{"title": "two", "author": float64(userID)}))

	docs, err := db.FindMany("User", mustProj(db, "User", map[string]any{
		"id":    true,
		"posts": map[string]any{"id": true, "title": true},
	}), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []Document{{
		"id": userID,
		"posts": []Document{
			{"id": p1, "title": "one"},
			{"id": p2, "title": "two"},
		},
	}}
	if !reflect.DeepEqual(docs, want) {
		t.Errorf("findMany = %v, wanted %v", docs, want)
	}
}

func TestFindMany_DefaultOrderIsAscendingID(t *testing.T) {
	db := blogDB(t)
	for _, name := range []string{"c", "a", "b"} {
		must(db.Insert("User", map[string]any{"name": name}))
	}
	docs := mustFind(t, db, "User", map[string]any{"id": true, "name": true}, nil)
	var names []string
	for _, d := range docs {
		names = append(names, d["name"].(string))
	}
	deepEqual(t, names, []string{"c", "a", "b"})
}

func TestFindMany_WhereOnIndexedField(t *testing.T) {
	db := blogDB(t)
	user := must(db.Insert("User", map[string]any{"name": "a"}))
	must(db.Insert("Post", map[string]any{"title": "keep", "author": float64(user)}))
	keep2 := must(db.Insert("Post", map[string]any{"title": "keep", "author": float64(user)}))
	must(db.Insert("Post", map[string]any{"title": "drop", "author": float64(user)}))

	docs := mustFind(t, db, "Post", map[string]any{"id": true}, map[string]any{"title": "keep"})
	if len(docs) != 2 || docs[1]["id"] != keep2 {
		t.Errorf("where on indexed field = %v", docs)
	}
}

func TestFindMany_WhereOnPlainField(t *testing.T) {
	db := blogDB(t)
	must(db.Insert("User", map[string]any{"name": "x", "surname": "keep"}))
	must(db.Insert("User", map[string]any{"name": "y"}))

	docs := mustFind(t, db, "User", map[string]any{"name": true}, map[string]any{"surname": "keep"})
	deepEqual(t, len(docs), 1)
	deepEqual(t, docs[0]["name"].(string), "x")
}

func TestFindMany_WhereOnTwoIndexedFields(t *testing.T) {
	db := setup(t, `
model Item {
    kind String @index
    size Int @index
}
`)
	box1 := must(db.Insert("Item", map[string]any{"kind": "box", "size": float64(1)}))
	must(db.Insert("Item", map[string]any{"kind": "box", "size": float64(2)}))
	must(db.Insert("Item", map[string]any{"kind": "bag", "size": float64(1)}))

	docs := mustFind(t, db, "Item", map[string]any{"id": true},
		map[string]any{"kind": "box", "size": float64(1)})
	deepEqual(t, docs, []Document{{"id": box1}})
}

func TestFindMany_TakeBoundsFanOut(t *testing.T) {
	db := blogDB(t)
	user := must(db.Insert("User", map[string]any{"name": "a"}))
	for i := 0; i < 5; i++ {
		must(db.Insert("Post", map[string]any{"title": "p", "author": float64(user)}))
	}

	docs := mustFind(t, db, "User", map[string]any{
		"posts": map[string]any{"id": true, "take": float64(2)},
	}, nil)
	posts := docs[0]["posts"].([]Document)
	deepEqual(t, len(posts), 2)

	docs = mustFind(t, db, "Post", map[string]any{"id": true, "take": float64(3)}, nil)
	deepEqual(t, len(docs), 3)
}

func TestUpdate_PartialPatch(t *testing.T) {
	db := blogDB(t)
	id := must(db.Insert("User", map[string]any{"name": "Alice", "surname": "Smith"}))
	ensure(db.Update("User", id, map[string]any{"surname": "Jones"}))

	doc := must(db.FindByID("User", id, nil))
	deepEqual(t, doc, Document{"id": id, "name": "Alice", "surname": "Jones"})

	err := db.Update("User", 999, map[string]any{"name": "x"})
	if !IsNotFound(err) {
		t.Errorf("update of missing entity: err = %v", err)
	}
}

func TestDelete_ReferencedEntityRejected(t *testing.T) {
	db := blogDB(t)
	user := must(db.Insert("User", map[string]any{"name": "a"}))
	post := must(db.Insert("Post", map[string]any{"title": "p", "author": float64(user)}))

	err := db.Delete("User", user)
	if !IsConstraint(err) {
		t.Fatalf("delete of referenced user: err = %v", err)
	}

	ensure(db.Delete("Post", post))
	ensure(db.Delete("User", user))
	if _, err := db.FindByID("User", user, nil); !IsNotFound(err) {
		t.Errorf("user still present after delete: err = %v", err)
	}
}

func TestWrite_AbortLeavesNoKeys(t *testing.T) {
	db := blogDB(t)
	user := must(db.Insert("User", map[string]any{"name": "a"}))
	before := countKeys(t, db)

	boom := errors.New("boom")
	err := db.Write(func(tx *Tx) error {
		if _, err := tx.Insert("Post", map[string]any{"title": "p", "author": float64(user)}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	deepEqual(t, countKeys(t, db), before)
	docs := mustFind(t, db, "Post", map[string]any{"id": true}, nil)
	deepEqual(t, len(docs), 0)
}

func TestWrite_ConstraintAbortsWholeMutation(t *testing.T) {
	db := blogDB(t)
	user := must(db.Insert("User", map[string]any{"name": "a"}))
	tag := must(db.Insert("Tag", map[string]any{"name": "go"}))
	before := countKeys(t, db)

	// Third connect target does not exist; nothing of the insert may
	// survive.
	_, err := db.Insert("Post", map[string]any{
		"title":  "p",
		"author": float64(user),
		"tags":   map[string]any{"connect": []any{float64(tag), float64(tag), float64(99)}},
	})
	if !IsConstraint(err) {
		t.Fatalf("err = %v", err)
	}
	deepEqual(t, countKeys(t, db), before)
}

func TestOnChange_EmittedAfterCommit(t *testing.T) {
	db := blogDB(t)
	var got []Change
	db.OnChange(func(c Change) { got = append(got, c) })

	id := must(db.Insert("User", map[string]any{"name": "a"}))
	ensure(db.Update("User", id, map[string]any{"name": "b"}))
	ensure(db.Delete("User", id))

	want := []Change{
		{Model: "User", Op: OpInsert, ID: id},
		{Model: "User", Op: OpUpdate, ID: id},
		{Model: "User", Op: OpDelete, ID: id},
	}
	deepEqual(t, got, want)

	// A failed write emits nothing.
	n := len(got)
	if _, err := db.Insert("Post", map[string]any{"title": "p", "author": float64(99)}); !IsConstraint(err) {
		t.Fatal(err)
	}
	deepEqual(t, len(got), n)
}

func mustProj(db *DB, model string, sel map[string]any) *Projection {
	m := must(db.Schema().Model(model))
	return must(ParseProjection(m, sel))
}

func mustFind(t testing.TB, db *DB, model string, sel, where map[string]any) []Document {
	t.Helper()
	docs, err := db.FindMany(model, mustProj(db, model, sel), where)
	if err != nil {
		t.Fatal(err)
	}
	return docs
}

func countKeys(t testing.TB, db *DB) map[string]int {
	t.Helper()
	counts := make(map[string]int)
	err := db.bdb.View(func(btx *bbolt.Tx) error {
		for _, name := range []string{"data", "index"} {
			n := 0
			ensure(btx.Bucket([]byte(name)).ForEach(func(k, v []byte) error {
				n++
				return nil
			}))
			counts[name] = n
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return counts
}
