package marcidb

import (
	"bytes"
	"time"
)

// Query execution. Writes validate and stage every mutation inside the
// enclosing Tx; reads walk a projection tree depth-first, one point
// lookup per document and one prefix scan per relation node.

// splitInput separates a request body into the stored document (typed
// values) and the list-reference connect sets.
func splitInput(model *Model, fields map[string]any) (Document, map[string][]EntityID, error) {
	doc := make(Document, len(fields))
	var connects map[string][]EntityID
	for name, v := range fields {
		f := model.fieldsByName[name]
		if f == nil {
			return nil, nil, validationErrf(model.Name, name, "unknown field")
		}
		switch f.Kind {
		case KindDerived:
			return nil, nil, validationErrf(model.Name, name, "derived field is read-only")
		case KindRefList:
			ids, err := parseConnect(f, v)
			if err != nil {
				return nil, nil, err
			}
			if connects == nil {
				connects = make(map[string][]EntityID)
			}
			connects[name] = ids
		default:
			cv, err := coerceValue(f, v)
			if err != nil {
				return nil, nil, err
			}
			doc[name] = cv
		}
	}
	return doc, connects, nil
}

// parseConnect accepts {"connect": [1, 2, {"id": 3}]}.
func parseConnect(f *Field, v any) ([]EntityID, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, validationErrf(f.Model.Name, f.Name, `list field wants {"connect": [ids]}, got %T`, v)
	}
	raw, ok := m["connect"]
	if !ok {
		return nil, validationErrf(f.Model.Name, f.Name, `list field wants a "connect" key`)
	}
	items, ok := raw.([]any)
	if !ok {
		items = []any{raw}
	}
	ids := make([]EntityID, 0, len(items))
	for _, item := range items {
		switch n := item.(type) {
		case float64:
			ids = append(ids, EntityID(n))
		case int64:
			ids = append(ids, EntityID(n))
		case EntityID:
			ids = append(ids, n)
		case map[string]any:
			idv, ok := n["id"].(float64)
			if !ok {
				return nil, validationErrf(f.Model.Name, f.Name, "connect item wants an id")
			}
			ids = append(ids, EntityID(idv))
		default:
			return nil, validationErrf(f.Model.Name, f.Name, "connect item wants an id, got %T", item)
		}
	}
	return ids, nil
}

// checkRef verifies the referenced entity exists. Runs inside the
// write transaction, before any mutation is staged.
func (tx *Tx) checkRef(f *Field, target EntityID) error {
	if tx.data().Get(encodeEntityKey(nil, f.Target.ID, target)) == nil {
		return &ConstraintError{Model: f.Model.Name, Field: f.Name, ID: target}
	}
	return nil
}

func (tx *Tx) checkRefs(model *Model, doc Document, connects map[string][]EntityID) error {
	for _, f := range model.Fields {
		if f.Kind == KindRef {
			if target, ok := doc[f.Name].(EntityID); ok {
				if err := tx.checkRef(f, target); err != nil {
					return err
				}
			}
		}
	}
	for name, ids := range connects {
		f := model.fieldsByName[name]
		for _, target := range ids {
			if err := tx.checkRef(f, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// Insert validates, stores the document, and stages every index pair.
// An explicit "id" pins the entity id, allowing idempotent retries at
// the caller's responsibility; otherwise the next per-model id is
// allocated.
func (tx *Tx) Insert(modelName string, fields map[string]any) (EntityID, error) {
	model, err := tx.Schema().Model(modelName)
	if err != nil {
		return 0, err
	}

	var explicitID EntityID
	if raw, ok := fields["id"]; ok {
		n, ok := raw.(float64)
		if !ok || n < 1 {
			return 0, validationErrf(model.Name, "id", "explicit id wants a positive number, got %v", raw)
		}
		explicitID = EntityID(n)
		rest := make(map[string]any, len(fields)-1)
		for k, v := range fields {
			if k != "id" {
				rest[k] = v
			}
		}
		fields = rest
	}

	doc, connects, err := splitInput(model, fields)
	if err != nil {
		return 0, err
	}
	if err := tx.checkRefs(model, doc, connects); err != nil {
		return 0, err
	}
	data, err := encodeDocument(model, doc)
	if err != nil {
		return 0, err
	}

	var id EntityID
	if explicitID != 0 {
		id = explicitID
		key := encodeEntityKey(nil, model.ID, id)
		if tx.data().Get(key) != nil {
			return 0, &ConstraintError{Model: model.Name, ID: id, Msg: "id already exists"}
		}
		tx.db.noteID(model, id)
	} else {
		id = tx.db.nextID(model)
	}
	if err := tx.data().Put(encodeEntityKey(nil, model.ID, id), data); err != nil {
		return 0, err
	}
	if err := tx.indexInsert(model, id, doc, connects); err != nil {
		return 0, err
	}
	tx.addChange(Change{Model: model.Name, Op: OpInsert, ID: id})
	return id, nil
}

// Update applies a partial patch: unchanged payloads are spliced
// through, changed relations re-paired, changed indexed and sort
// fields re-keyed.
func (tx *Tx) Update(modelName string, id EntityID, fields map[string]any) error {
	model, err := tx.Schema().Model(modelName)
	if err != nil {
		return err
	}
	key := encodeEntityKey(nil, model.ID, id)
	old := tx.data().Get(key)
	if old == nil {
		return notFound(model.Name, id)
	}

	patch, connects, err := splitInput(model, fields)
	if err != nil {
		return err
	}
	if err := tx.checkRefs(model, patch, connects); err != nil {
		return err
	}
	oldDoc, err := decodeDocument(model, old)
	if err != nil {
		return err
	}
	values, mask, err := changeSet(model, patch)
	if err != nil {
		return err
	}
	updated, err := spliceDocument(model, old, values, mask)
	if err != nil {
		return err
	}
	if err := tx.data().Put(key, updated); err != nil {
		return err
	}
	changed := make(map[string]bool, len(patch))
	for name := range patch {
		changed[name] = true
	}
	newDoc, err := decodeDocument(model, updated)
	if err != nil {
		return err
	}
	if err := tx.indexUpdate(model, id, oldDoc, newDoc, changed, connects); err != nil {
		return err
	}
	tx.addChange(Change{Model: model.Name, Op: OpUpdate, ID: id})
	return nil
}

// Delete removes the entity and every index entry it owns. An entity
// still referenced by others is not deletable.
func (tx *Tx) Delete(modelName string, id EntityID) error {
	model, err := tx.Schema().Model(modelName)
	if err != nil {
		return err
	}
	key := encodeEntityKey(nil, model.ID, id)
	data := tx.data().Get(key)
	if data == nil {
		return notFound(model.Name, id)
	}
	if relName, yes := tx.isReferenced(model, id); yes {
		return &ConstraintError{Model: model.Name, ID: id, Msg: "still referenced via " + relName}
	}
	doc, err := decodeDocument(model, data)
	if err != nil {
		return err
	}
	if err := tx.indexDelete(model, id, doc); err != nil {
		return err
	}
	if err := tx.data().Delete(key); err != nil {
		return err
	}
	tx.addChange(Change{Model: model.Name, Op: OpDelete, ID: id})
	return nil
}

// FindMany scans the model's key range in ascending entity-id order
// and materializes each match. An equality filter on an indexed field
// turns the scan into an index lookup; other filters are applied
// during the scan.
func (tx *Tx) FindMany(modelName string, proj *Projection, where map[string]any) ([]Document, error) {
	model, err := tx.Schema().Model(modelName)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		proj = DefaultProjection(model)
	}

	filters := make(map[*Field]any)
	for name, v := range where {
		f, err := model.Field(name)
		if err != nil {
			return nil, validationErrf(model.Name, name, "unknown field in where")
		}
		cv, err := coerceValue(f, v)
		if err != nil {
			return nil, err
		}
		filters[f] = cv
	}

	// The first indexed field in declaration order drives the scan; the
	// rest filter during it.
	var indexed *FieldIndex
	var indexedVal any
	for _, f := range model.Fields {
		if f.Index == nil {
			continue
		}
		if cv, ok := filters[f]; ok {
			indexed, indexedVal = f.Index, cv
			delete(filters, f)
			break
		}
	}

	results := make([]Document, 0, 16)
	add := func(id EntityID, data []byte) (bool, error) {
		for f, want := range filters {
			got, err := decodeFieldAt(model, data, f)
			if err != nil {
				return false, err
			}
			if !valueEqual(got, want) {
				return true, nil
			}
		}
		doc, err := tx.materialize(model, id, data, proj)
		if err != nil {
			return false, err
		}
		results = append(results, doc)
		return len(results) < proj.Take, nil
	}

	if indexed != nil {
		err = tx.resolveIndexed(indexed, indexedVal, func(id EntityID) (bool, error) {
			data := tx.data().Get(encodeEntityKey(nil, model.ID, id))
			if data == nil {
				return false, codecErrf(nil, 0, "index entry for missing entity %s/%d", model.Name, id)
			}
			return add(id, data)
		})
	} else {
		prefix := entityKeyPrefix(nil, model.ID)
		err = scanPrefix(tx.data(), prefix, func(k, v []byte) (bool, error) {
			_, id, err := decodeEntityKey(k)
			if err != nil {
				return false, err
			}
			return add(id, v)
		})
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// FindByID materializes a single entity.
func (tx *Tx) FindByID(modelName string, id EntityID, proj *Projection) (Document, error) {
	model, err := tx.Schema().Model(modelName)
	if err != nil {
		return nil, err
	}
	if proj == nil {
		proj = DefaultProjection(model)
	}
	data := tx.data().Get(encodeEntityKey(nil, model.ID, id))
	if data == nil {
		return nil, notFound(model.Name, id)
	}
	return tx.materialize(model, id, data, proj)
}

// materialize builds the result tree for one entity, depth-first.
func (tx *Tx) materialize(model *Model, id EntityID, data []byte, proj *Projection) (Document, error) {
	if _, err := checkDocumentHeader(model, data); err != nil {
		return nil, err
	}
	out := make(Document, len(proj.Scalars)+len(proj.Includes)+1)
	if proj.ID {
		out["id"] = id
	}
	for _, f := range proj.Scalars {
		v, err := decodeFieldAt(model, data, f)
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	for _, inc := range proj.Includes {
		v, err := tx.materializeInclude(id, inc)
		if err != nil {
			return nil, err
		}
		out[inc.Field.Name] = v
	}
	return out, nil
}

func (tx *Tx) materializeInclude(id EntityID, inc *Include) (any, error) {
	f := inc.Field
	sub := inc.Proj

	materializeOne := func(memberID EntityID) (Document, error) {
		data := tx.data().Get(encodeEntityKey(nil, sub.Model.ID, memberID))
		if data == nil {
			return nil, codecErrf(nil, 0, "index entry for missing entity %s/%d", sub.Model.Name, memberID)
		}
		return tx.materialize(sub.Model, memberID, data, sub)
	}

	if f.Kind == KindRef {
		var doc Document
		err := tx.resolveForward(f.Rel, id, func(target EntityID) (bool, error) {
			d, err := materializeOne(target)
			if err != nil {
				return false, err
			}
			doc = d
			return false, nil
		})
		if err != nil {
			return nil, err
		}
		if doc == nil {
			return nil, nil
		}
		return doc, nil
	}

	docs := make([]Document, 0, 8)
	collect := func(memberID EntityID) (bool, error) {
		d, err := materializeOne(memberID)
		if err != nil {
			return false, err
		}
		docs = append(docs, d)
		return len(docs) < sub.Take, nil
	}
	var err error
	if f.Kind == KindRefList {
		err = tx.resolveForward(f.Rel, id, collect)
	} else {
		err = tx.resolveDerived(f.Rel, id, collect)
	}
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func valueEqual(a, b any) bool {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	default:
		return a == b
	}
}

// Database-level operations, each wrapped in one transaction.

func (db *DB) Insert(model string, fields map[string]any) (EntityID, error) {
	var id EntityID
	err := db.Write(func(tx *Tx) error {
		var err error
		id, err = tx.Insert(model, fields)
		return err
	})
	return id, err
}

func (db *DB) Update(model string, id EntityID, fields map[string]any) error {
	return db.Write(func(tx *Tx) error {
		return tx.Update(model, id, fields)
	})
}

func (db *DB) Delete(model string, id EntityID) error {
	return db.Write(func(tx *Tx) error {
		return tx.Delete(model, id)
	})
}

func (db *DB) FindMany(model string, proj *Projection, where map[string]any) ([]Document, error) {
	var docs []Document
	err := db.Read(func(tx *Tx) error {
		var err error
		docs, err = tx.FindMany(model, proj, where)
		return err
	})
	return docs, err
}

func (db *DB) FindByID(model string, id EntityID, proj *Projection) (Document, error) {
	var doc Document
	err := db.Read(func(tx *Tx) error {
		var err error
		doc, err = tx.FindByID(model, id, proj)
		return err
	})
	return doc, err
}
