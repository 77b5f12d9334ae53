package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	bolt "go.etcd.io/bbolt"
)

// Batch collects writes that a Batcher applies all-or-nothing.
type Batch struct {
	ops []batchOp
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), delete: true})
}

// Len returns the number of queued writes.
func (b *Batch) Len() int { return len(b.ops) }

// Batcher is implemented by databases that can apply a Batch atomically.
type Batcher interface {
	Write(b *Batch) error
}

func (db *MemDB) Write(b *Batch) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			delete(db.data, string(op.key))
			continue
		}
		db.data[string(op.key)] = append([]byte(nil), op.value...)
	}
	return nil
}

// Write applies b through a single leveldb batch.
func (ldb *LevelDB) Write(b *Batch) error {
	batch := new(leveldb.Batch)
	for _, op := range b.ops {
		if op.delete {
			batch.Delete(op.key)
		} else {
			batch.Put(op.key, op.value)
		}
	}
	return ldb.db.Write(batch, nil)
}

// Write applies b inside one bbolt read-write transaction.
func (b *BoltDB) Write(batch *Batch) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(boltBucket)
		for _, op := range batch.ops {
			var err error
			if op.delete {
				err = bucket.Delete(op.key)
			} else {
				err = bucket.Put(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

var (
	ErrStageOpen   = errors.New("storage: stage already open")
	ErrStageClosed = errors.New("storage: no open stage")
)

type stagedWrite struct {
	value   []byte
	deleted bool
}

// Staged buffers writes made between Begin and Commit and applies them to the
// wrapped database as one batch, so a crash never leaves half a step on disk.
// Reads see the buffered writes. Outside a stage writes pass straight through.
type Staged struct {
	mu      sync.RWMutex
	db      Database
	batcher Batcher
	pending map[string]stagedWrite
}

// NewStaged wraps db, which must implement Batcher.
func NewStaged(db Database) (*Staged, error) {
	batcher, ok := db.(Batcher)
	if !ok {
		return nil, fmt.Errorf("storage: %T cannot apply batches", db)
	}
	return &Staged{db: db, batcher: batcher}, nil
}

// Begin opens a stage. Stages do not nest.
func (s *Staged) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return ErrStageOpen
	}
	s.pending = make(map[string]stagedWrite)
	return nil
}

// Commit writes the open stage as one batch and closes it. On failure the
// stage stays open and nothing is applied; call Rollback to discard it.
func (s *Staged) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ErrStageClosed
	}
	batch := new(Batch)
	for key, w := range s.pending {
		if w.deleted {
			batch.Delete([]byte(key))
		} else {
			batch.Put([]byte(key), w.value)
		}
	}
	if batch.Len() > 0 {
		if err := s.batcher.Write(batch); err != nil {
			return fmt.Errorf("storage: commit: %w", err)
		}
	}
	s.pending = nil
	return nil
}

// Rollback discards the open stage, if any.
func (s *Staged) Rollback() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

func (s *Staged) Put(key []byte, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return s.db.Put(key, value)
	}
	s.pending[string(key)] = stagedWrite{value: append([]byte(nil), value...)}
	return nil
}

func (s *Staged) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.pending[string(key)]; ok {
		if w.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), w.value...), nil
	}
	return s.db.Get(key)
}

func (s *Staged) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return s.db.Delete(key)
	}
	s.pending[string(key)] = stagedWrite{deleted: true}
	return nil
}

// Close closes the wrapped database. An open stage is discarded.
func (s *Staged) Close() {
	s.Rollback()
	s.db.Close()
}
