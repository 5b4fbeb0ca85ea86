package marcidb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	dataBucket  = []byte("data")
	indexBucket = []byte("index")
	metaBucket  = []byte("meta")
)

type Options struct {
	// Logger receives operational events; nil means no logging.
	Logger *zap.Logger

	// IsTesting trades durability for speed (NoSync, small mmap).
	IsTesting bool

	// NoLock skips the data-directory lock file. Only for callers that
	// serialize access themselves.
	NoLock bool
}

// DB is an open database: a frozen schema bound to a data directory.
// Safe for concurrent use.
type DB struct {
	bdb    *bbolt.DB
	schema *Schema
	logger *zap.Logger
	flk    *flock.Flock

	observers changeObservers

	// Per-model id allocators, seeded from the last entity key at open.
	// Index is the model's position in schema.Models, not its ordinal.
	lastIDs []atomic.Uint64
}

// Open locks the data directory, opens the underlying store, creates
// buckets, and reconciles the schema's ordinals against the persisted
// registry state.
func Open(dir string, schema *Schema, opt Options) (*DB, error) {
	if err := schema.Freeze(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	var flk *flock.Flock
	if !opt.NoLock {
		flk = flock.New(filepath.Join(dir, "lock"))
		ok, err := flk.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock data directory: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("data directory %s is locked by another process", dir)
		}
	}

	bopt := &bbolt.Options{Timeout: 10 * time.Second}
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.InitialMmapSize = 1024 * 1024
	} else {
		bopt.InitialMmapSize = 64 * 1024 * 1024
	}
	bdb, err := bbolt.Open(filepath.Join(dir, "data.db"), 0o644, bopt)
	if err != nil {
		if flk != nil {
			flk.Unlock()
		}
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}

	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	db := &DB{
		bdb:     bdb,
		schema:  schema,
		logger:  logger,
		flk:     flk,
		lastIDs: make([]atomic.Uint64, len(schema.Models)),
	}
	if err := db.prepare(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) prepare() error {
	return db.bdb.Update(func(btx *bbolt.Tx) error {
		for _, name := range [][]byte{dataBucket, indexBucket, metaBucket} {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		meta := btx.Bucket(metaBucket)
		state, err := loadRegistryState(meta.Get(registryStateKey))
		if err != nil {
			return err
		}
		if state.reconcile(db.schema) {
			data, err := state.save()
			if err != nil {
				return err
			}
			if err := meta.Put(registryStateKey, data); err != nil {
				return err
			}
		}

		data := btx.Bucket(dataBucket)
		for i, m := range db.schema.Models {
			prefix := entityKeyPrefix(nil, m.ID)
			if k, _ := lastWithPrefix(data, prefix); k != nil {
				_, id, err := decodeEntityKey(k)
				if err != nil {
					return err
				}
				db.lastIDs[i].Store(uint64(id))
			}
			db.logger.Debug("model ready",
				zap.String("model", m.Name),
				zap.Uint32("ordinal", uint32(m.ID)),
				zap.Uint64("last_id", db.lastIDs[i].Load()))
		}
		return nil
	})
}

func (db *DB) Schema() *Schema { return db.schema }

// nextID allocates the next entity id for a model. Monotonic per model
// for the life of the data directory.
func (db *DB) nextID(model *Model) EntityID {
	return EntityID(db.lastIDs[model.pos].Add(1))
}

// noteID raises the model's allocator past an explicitly supplied id.
func (db *DB) noteID(model *Model, id EntityID) {
	a := &db.lastIDs[model.pos]
	for {
		cur := a.Load()
		if cur >= uint64(id) || a.CompareAndSwap(cur, uint64(id)) {
			return
		}
	}
}

func (db *DB) Close() error {
	err := db.bdb.Close()
	if db.flk != nil {
		if uerr := db.flk.Unlock(); err == nil {
			err = uerr
		}
	}
	return err
}
