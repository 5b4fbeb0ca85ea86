package marcidb

import "sync"

type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change describes one committed mutation. Events are delivered after
// the transaction commits, in mutation order, from the committing
// goroutine.
type Change struct {
	Model string   `json:"model"`
	Op    ChangeOp `json:"op"`
	ID    EntityID `json:"id"`
}

type changeObservers struct {
	lock     sync.Mutex
	handlers []func(Change)
}

func (o *changeObservers) add(f func(Change)) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.handlers = append(o.handlers, f)
}

func (o *changeObservers) emit(changes []Change) {
	o.lock.Lock()
	handlers := o.handlers
	o.lock.Unlock()
	for _, c := range changes {
		for _, h := range handlers {
			h(c)
		}
	}
}

// OnChange registers f to run after every committed write, once per
// mutated entity. Handlers must not call back into the database from
// the same goroutine if they can block; slow consumers should hand off
// to a channel.
func (db *DB) OnChange(f func(Change)) {
	db.observers.add(f)
}

func (db *DB) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	db.observers.emit(changes)
}
