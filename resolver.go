package marcidb

// Relation resolution. Both directions produce a lazy sequence of
// member ids from a single prefix scan; documents are never touched
// here, so callers decide whether to materialize. Sequences are
// restartable: each call seeks the prefix fresh.

// resolveForward yields the targets of owner's relation, in key order:
// position order for an ordered direct side, ascending target id
// otherwise.
func (tx *Tx) resolveForward(rel *Relation, owner EntityID, yield func(EntityID) (bool, error)) error {
	return tx.scanRelationSide(rel, markerDirect, owner, yield)
}

// resolveDerived yields the owners referencing target, in key order:
// position order for an ordered reverse side, ascending owner id
// otherwise.
func (tx *Tx) resolveDerived(rel *Relation, target EntityID, yield func(EntityID) (bool, error)) error {
	return tx.scanRelationSide(rel, markerReverse, target, yield)
}

func (tx *Tx) scanRelationSide(rel *Relation, marker byte, group EntityID, yield func(EntityID) (bool, error)) error {
	prefix := groupPrefix(nil, rel.ID, marker, group)
	return scanPrefix(tx.index(), prefix, func(k, v []byte) (bool, error) {
		if len(k) == groupKeyLen {
			return true, nil // append counter
		}
		ik, err := decodeIndexKey(k)
		if err != nil {
			return false, err
		}
		return yield(ik.Member)
	})
}

// resolveIndexed yields the ids of entities whose indexed field equals
// v, ascending by id.
func (tx *Tx) resolveIndexed(x *FieldIndex, v any, yield func(EntityID) (bool, error)) error {
	sk, err := appendFieldSortKey(nil, x.Field, v)
	if err != nil {
		return err
	}
	prefix := fieldIndexPrefix(nil, x.ID, sk)
	return scanPrefix(tx.index(), prefix, func(k, _ []byte) (bool, error) {
		id, err := decodeFieldIndexEntity(k)
		if err != nil {
			return false, err
		}
		return yield(id)
	})
}
