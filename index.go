package marcidb

import (
	"bytes"
	"time"
)

// Index maintenance. Every relation write produces a matched pair: one
// direct entry and one reverse entry, staged in the same transaction.
// The ordered side's key carries the position bytes; the opposite
// side's entry stores those bytes as its value, so a pair can be
// removed without recomputing the position.

// appendFieldSortKey writes the order-preserving encoding of a field
// value. Nulls sort before every non-null value.
func appendFieldSortKey(buf []byte, f *Field, v any) ([]byte, error) {
	if v == nil {
		return appendByte(buf, 0x00), nil
	}
	buf = appendByte(buf, 0x01)
	switch f.Kind {
	case KindInt:
		n, ok := v.(int64)
		if !ok {
			return nil, validationErrf(f.Model.Name, f.Name, "expected integer, got %T", v)
		}
		return appendSortKeyInt64(buf, n), nil
	case KindString:
		s, ok := v.(string)
		if !ok {
			return nil, validationErrf(f.Model.Name, f.Name, "expected string, got %T", v)
		}
		return appendSortKeyString(buf, s), nil
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
		return appendSortKeyInt64(buf, t.UnixMicro()), nil
	case KindDouble:
		d, ok := v.(float64)
		if !ok {
			return nil, validationErrf(f.Model.Name, f.Name, "expected number, got %T", v)
		}
		return appendSortKeyFloat64(buf, d), nil
	default:
		return nil, validationErrf(f.Model.Name, f.Name, "%v field has no sort order", f.Kind)
	}
}

// relPos computes the position bytes for a new pair, nil for unordered
// relations. Sorted positions come from the member's stored document,
// which must already be written; append positions come from the
// per-collection counter colocated with the ordered side's prefix.
func (tx *Tx) relPos(rel *Relation, owner, target EntityID) ([]byte, error) {
	switch rel.Order {
	case OrderNone:
		return nil, nil
	case OrderAppend:
		group := owner
		if rel.OrderedMarker == markerReverse {
			group = target
		}
		return tx.nextAppendPos(rel, group)
	default:
		member := owner
		if rel.OrderedMarker == markerDirect {
			member = target
		}
		memberModel := rel.memberModel()
		data := tx.data().Get(encodeEntityKey(nil, memberModel.ID, member))
		if data == nil {
			return nil, notFound(memberModel.Name, member)
		}
		v, err := decodeFieldAt(memberModel, data, rel.SortField)
		if err != nil {
			return nil, err
		}
		return appendFieldSortKey(nil, rel.SortField, v)
	}
}

// nextAppendPos bumps the collection's sequence counter, stored as a
// u64 BE value under the bare group prefix key.
func (tx *Tx) nextAppendPos(rel *Relation, group EntityID) ([]byte, error) {
	key := groupPrefix(nil, rel.ID, rel.OrderedMarker, group)
	var n uint64
	if raw := tx.index().Get(key); raw != nil {
		d := makeByteDecoder(raw)
		v, err := d.Uint64()
		if err != nil {
			return nil, err
		}
		n = v
	}
	n++
	if err := tx.index().Put(key, appendUint64(nil, n)); err != nil {
		return nil, err
	}
	return appendUint64(nil, n), nil
}

func (rel *Relation) pairKeys(owner, target EntityID, pos []byte) (direct, reverse []byte) {
	var directPos, reversePos []byte
	if rel.OrderedMarker == markerDirect {
		directPos = pos
	} else {
		reversePos = pos
	}
	direct = encodeIndexKey(nil, rel.ID, markerDirect, owner, directPos, target)
	reverse = encodeIndexKey(nil, rel.ID, markerReverse, target, reversePos, owner)
	return direct, reverse
}

// addRelPair stages both entries of one relation pair. The unordered
// side's value is the ordered side's position bytes.
func (tx *Tx) addRelPair(rel *Relation, owner, target EntityID) error {
	pos, err := tx.relPos(rel, owner, target)
	if err != nil {
		return err
	}
	direct, reverse := rel.pairKeys(owner, target, pos)
	directVal, reverseVal := pos, []byte{}
	if rel.OrderedMarker == markerDirect {
		directVal, reverseVal = []byte{}, pos
	}
	if err := tx.index().Put(direct, directVal); err != nil {
		return err
	}
	return tx.index().Put(reverse, reverseVal)
}

// hasRelPair checks pair existence via the unordered side, whose key
// needs no position.
func (tx *Tx) hasRelPair(rel *Relation, owner, target EntityID) bool {
	_, unordered := rel.unorderedKey(owner, target)
	return tx.index().Get(unordered) != nil
}

// unorderedKey returns the marker and full key of the side whose key
// carries no position bytes.
func (rel *Relation) unorderedKey(owner, target EntityID) (byte, []byte) {
	if rel.OrderedMarker == markerDirect {
		return markerReverse, encodeIndexKey(nil, rel.ID, markerReverse, target, nil, owner)
	}
	return markerDirect, encodeIndexKey(nil, rel.ID, markerDirect, owner, nil, target)
}

// deleteRelPair removes both entries of one pair, recovering the
// ordered side's position from the unordered side's value.
func (tx *Tx) deleteRelPair(rel *Relation, owner, target EntityID) error {
	_, unordered := rel.unorderedKey(owner, target)
	var pos []byte
	if rel.Order != OrderNone {
		raw := tx.index().Get(unordered)
		if raw == nil {
			return nil // pair absent
		}
		pos = bytes.Clone(raw)
	}
	direct, reverse := rel.pairKeys(owner, target, pos)
	if err := tx.index().Delete(direct); err != nil {
		return err
	}
	return tx.index().Delete(reverse)
}

func (tx *Tx) putFieldIndex(x *FieldIndex, id EntityID, v any) error {
	sk, err := appendFieldSortKey(nil, x.Field, v)
	if err != nil {
		return err
	}
	return tx.index().Put(encodeFieldIndexKey(nil, x.ID, sk, id), []byte{})
}

func (tx *Tx) deleteFieldIndex(x *FieldIndex, id EntityID, v any) error {
	sk, err := appendFieldSortKey(nil, x.Field, v)
	if err != nil {
		return err
	}
	return tx.index().Delete(encodeFieldIndexKey(nil, x.ID, sk, id))
}

// indexInsert stages every index mutation for a freshly stored
// document: one pair per populated reference, one pair per connected
// list member, one field index entry per indexed field.
func (tx *Tx) indexInsert(model *Model, id EntityID, doc Document, connects map[string][]EntityID) error {
	for _, f := range model.Fields {
		switch f.Kind {
		case KindRef:
			if target, ok := doc[f.Name].(EntityID); ok {
				if err := tx.addRelPair(f.Rel, id, target); err != nil {
					return err
				}
			}
		case KindRefList:
			for _, target := range connects[f.Name] {
				if tx.hasRelPair(f.Rel, id, target) {
					continue
				}
				if err := tx.addRelPair(f.Rel, id, target); err != nil {
					return err
				}
			}
		}
		if f.Index != nil {
			if err := tx.putFieldIndex(f.Index, id, doc[f.Name]); err != nil {
				return err
			}
		}
	}
	return nil
}

// indexDelete removes every index entry owned by the entity: pairs for
// its references and list memberships, its field index entries, and
// any append counters scoped to it.
func (tx *Tx) indexDelete(model *Model, id EntityID, doc Document) error {
	for _, f := range model.Fields {
		switch f.Kind {
		case KindRef:
			if target, ok := doc[f.Name].(EntityID); ok {
				if err := tx.deleteRelPair(f.Rel, id, target); err != nil {
					return err
				}
			}
		case KindRefList:
			members, err := tx.relationMembers(f.Rel, markerDirect, id)
			if err != nil {
				return err
			}
			for _, target := range members {
				if err := tx.deleteRelPair(f.Rel, id, target); err != nil {
					return err
				}
			}
		}
		if f.Index != nil {
			if err := tx.deleteFieldIndex(f.Index, id, doc[f.Name]); err != nil {
				return err
			}
		}
	}

	// Append counters scoped to this entity as collection group.
	for _, rel := range tx.db.schema.Relations {
		if rel.Order != OrderAppend {
			continue
		}
		groupModel := rel.Owner
		if rel.OrderedMarker == markerReverse {
			groupModel = rel.Target
		}
		if groupModel != model {
			continue
		}
		if err := tx.index().Delete(groupPrefix(nil, rel.ID, rel.OrderedMarker, id)); err != nil {
			return err
		}
	}
	return nil
}

// indexUpdate reconciles index state after a partial update. Changed
// references are re-paired; a changed sort field re-keys every ordered
// collection the entity is a member of; changed indexed fields move
// their index entry. Updates never rewrite a key in place.
func (tx *Tx) indexUpdate(model *Model, id EntityID, oldDoc, newDoc Document, changed map[string]bool, connects map[string][]EntityID) error {
	for _, f := range model.Fields {
		switch f.Kind {
		case KindRef:
			if !changed[f.Name] {
				break
			}
			oldT, hadOld := oldDoc[f.Name].(EntityID)
			newT, hasNew := newDoc[f.Name].(EntityID)
			if hadOld && hasNew && oldT == newT {
				break
			}
			if hadOld {
				if err := tx.deleteRelPair(f.Rel, id, oldT); err != nil {
					return err
				}
			}
			if hasNew {
				if err := tx.addRelPair(f.Rel, id, newT); err != nil {
					return err
				}
			}
		case KindRefList:
			for _, target := range connects[f.Name] {
				if tx.hasRelPair(f.Rel, id, target) {
					continue
				}
				if err := tx.addRelPair(f.Rel, id, target); err != nil {
					return err
				}
			}
		}
		if f.Index != nil && changed[f.Name] {
			if err := tx.deleteFieldIndex(f.Index, id, oldDoc[f.Name]); err != nil {
				return err
			}
			if err := tx.putFieldIndex(f.Index, id, newDoc[f.Name]); err != nil {
				return err
			}
		}
	}
	return tx.rekeySorted(model, id, newDoc, changed)
}

// rekeySorted moves the entity within every sorted collection whose
// sort field just changed. The new document must already be stored.
func (tx *Tx) rekeySorted(model *Model, id EntityID, doc Document, changed map[string]bool) error {
	for _, rel := range tx.db.schema.Relations {
		if rel.Order != OrderSorted || rel.memberModel() != model || !changed[rel.SortField.Name] {
			continue
		}
		if rel.OrderedMarker == markerReverse {
			// Member owns the reference; if the reference itself changed,
			// the pair was already rebuilt with the new position.
			if changed[rel.OwnerField.Name] {
				continue
			}
			target, ok := doc[rel.OwnerField.Name].(EntityID)
			if !ok {
				continue
			}
			if err := tx.deleteRelPair(rel, id, target); err != nil {
				return err
			}
			if err := tx.addRelPair(rel, id, target); err != nil {
				return err
			}
			continue
		}
		// Member is the target of a list; find the owners via the
		// reverse index and rebuild each pair.
		owners, err := tx.relationMembers(rel, markerReverse, id)
		if err != nil {
			return err
		}
		for _, owner := range owners {
			if err := tx.deleteRelPair(rel, owner, id); err != nil {
				return err
			}
			if err := tx.addRelPair(rel, owner, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// relationMembers collects the member ids under one side's group
// prefix, in key order. The bare-prefix counter key is skipped by its
// length.
func (tx *Tx) relationMembers(rel *Relation, marker byte, group EntityID) ([]EntityID, error) {
	prefix := groupPrefix(nil, rel.ID, marker, group)
	var out []EntityID
	err := scanPrefix(tx.index(), prefix, func(k, v []byte) (bool, error) {
		if len(k) == groupKeyLen {
			return true, nil // append counter
		}
		ik, err := decodeIndexKey(k)
		if err != nil {
			return false, err
		}
		out = append(out, ik.Member)
		return true, nil
	})
	return out, err
}

// isReferenced reports whether any other entity still references this
// one, via any relation targeting its model.
func (tx *Tx) isReferenced(model *Model, id EntityID) (string, bool) {
	for _, rel := range tx.db.schema.Relations {
		if rel.Target != model {
			continue
		}
		prefix := groupPrefix(nil, rel.ID, markerReverse, id)
		found := false
		ensure(scanPrefix(tx.index(), prefix, func(k, v []byte) (bool, error) {
			if len(k) == groupKeyLen {
				return true, nil
			}
			found = true
			return false, nil
		}))
		if found {
			return rel.Name, true
		}
	}
	return "", false
}
