package marcidb

import (
	"errors"
	"fmt"
	"runtime/debug"

	"go.etcd.io/bbolt"
)

// Tx wraps one underlying bolt transaction. Every logical operation
// (insert, update, delete, findMany) runs to completion inside exactly
// one Tx, so a matched pair of index entries is never observable half
// applied.
type Tx struct {
	db  *DB
	btx *bbolt.Tx

	changes []Change
}

func (db *DB) newTx(btx *bbolt.Tx) *Tx {
	return &Tx{db: db, btx: btx}
}

func (tx *Tx) DB() *DB         { return tx.db }
func (tx *Tx) Schema() *Schema { return tx.db.schema }

func (tx *Tx) data() *bbolt.Bucket  { return tx.btx.Bucket(dataBucket) }
func (tx *Tx) index() *bbolt.Bucket { return tx.btx.Bucket(indexBucket) }

func (tx *Tx) addChange(c Change) {
	tx.changes = append(tx.changes, c)
}

// Read runs f inside a read-only transaction. The snapshot is
// consistent for the duration of f.
func (db *DB) Read(f func(tx *Tx) error) error {
	return db.bdb.View(func(btx *bbolt.Tx) error {
		tx := db.newTx(btx)
		return safelyCall(f, tx)
	})
}

// Write runs f inside one writable transaction. If f returns an error
// or panics, every staged mutation is discarded; on commit, collected
// change events are delivered to OnChange observers.
func (db *DB) Write(f func(tx *Tx) error) error {
	var changes []Change
	err := db.bdb.Update(func(btx *bbolt.Tx) error {
		tx := db.newTx(btx)
		if err := safelyCall(f, tx); err != nil {
			return err
		}
		changes = tx.changes
		return nil
	})
	if err != nil {
		return err
	}
	db.notify(changes)
	return nil
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok {
				var ce *CodecError
				if errors.As(e, &ce) {
					err = e
					return
				}
			}
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}
