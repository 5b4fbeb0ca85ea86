package marcidb

// spliceDocument applies a partial update to an encoded document
// without decoding unchanged payloads: changed slots are re-encoded
// from values, the rest are copied byte-for-byte from the old record.
// The rebuilt record always uses the model's current slot count, so a
// document written under a narrower schema widens on first update.
//
// values and mask are indexed by slot; mask[slot] true means the slot
// is replaced by values[slot] (nil = set to null).
func spliceDocument(model *Model, old []byte, values []any, mask []bool) ([]byte, error) {
	oldCount, err := checkDocumentHeader(model, old)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(old)+32)
	buf = appendByte(buf, documentVersion)
	buf = appendUint16(buf, uint16(model.storedCount))
	for i := 0; i < model.storedCount; i++ {
		buf = appendUint32(buf, 0)
	}

	for _, f := range model.Fields {
		if !f.Kind.stored() {
			continue
		}
		slot := f.Slot
		if mask[slot] {
			v := values[slot]
			if v == nil {
				if !f.Nullable {
					return nil, validationErrf(model.Name, f.Name, "required field is null")
				}
				continue
			}
			off := len(buf)
			buf, err = appendFieldPayload(buf, f, v)
			if err != nil {
				return nil, err
			}
			writeOffsetCell(buf, slot, uint32(off))
			continue
		}

		if slot >= oldCount {
			if !f.Nullable {
				return nil, validationErrf(model.Name, f.Name, "required field missing from stored document")
			}
			continue
		}
		oldOff := offsetCell(old, slot)
		if oldOff == 0 {
			continue
		}
		n, err := payloadLen(f, old, int(oldOff))
		if err != nil {
			return nil, err
		}
		if int(oldOff)+n > len(old) {
			return nil, codecErrf(old, int(oldOff), "truncated payload for %s", f.Name)
		}
		off := len(buf)
		buf = appendRaw(buf, old[oldOff:int(oldOff)+n])
		writeOffsetCell(buf, slot, uint32(off))
	}
	return buf, nil
}

// changeSet turns a patch document into the slot-indexed form
// spliceDocument takes. Only stored fields may appear; reference fields
// are included so the caller can diff relation targets.
func changeSet(model *Model, patch Document) ([]any, []bool, error) {
	values := make([]any, model.storedCount)
	mask := make([]bool, model.storedCount)
	for name, v := range patch {
		f := model.fieldsByName[name]
		if f == nil {
			return nil, nil, validationErrf(model.Name, name, "unknown field")
		}
		if !f.Kind.stored() {
			return nil, nil, validationErrf(model.Name, name, "%v field cannot be assigned directly", f.Kind)
		}
		if v == nil && !f.Nullable {
			return nil, nil, validationErrf(model.Name, name, "required field is null")
		}
		mask[f.Slot] = true
		values[f.Slot] = v
	}
	return values, mask, nil
}
