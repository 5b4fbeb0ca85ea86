package marcidb

import (
	"bytes"

	"go.etcd.io/bbolt"
)

// scanPrefix walks every key that starts with prefix in ascending byte
// order. The callback returns false to stop early. Keys and values are
// only valid for the duration of the callback.
func scanPrefix(b *bbolt.Bucket, prefix []byte, f func(k, v []byte) (bool, error)) error {
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		more, err := f(k, v)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

// lastWithPrefix returns the greatest key starting with prefix, or nil.
func lastWithPrefix(b *bbolt.Bucket, prefix []byte) ([]byte, []byte) {
	c := b.Cursor()
	var k, v []byte
	if succ := prefixSuccessor(prefix); succ != nil {
		c.Seek(succ)
		k, v = c.Prev()
	} else {
		k, v = c.Last()
	}
	if k == nil || !bytes.HasPrefix(k, prefix) {
		return nil, nil
	}
	return k, v
}
