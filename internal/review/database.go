package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "batches"

// ErrBatchNotFound is returned when no batch has the requested ID
var ErrBatchNotFound = errors.New("batch not found")

// DB defines the interface for session storage of batches
type DB interface {
	// SaveBatch inserts or replaces a batch
	SaveBatch(batch *Batch) error

	// GetBatch retrieves a batch by ID
	GetBatch(id string) (*Batch, error)

	// ListBatches returns all batches
	ListBatches() ([]*Batch, error)

	// DeleteBatch removes a batch
	DeleteBatch(id string) error

	// Close releases the storage
	Close() error
}

// MemoryDB keeps batches in process memory
type MemoryDB struct {
	mu      sync.RWMutex
	batches map[string]*Batch
}

// NewMemoryDB creates an empty MemoryDB
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{batches: make(map[string]*Batch)}
}

func (m *MemoryDB) SaveBatch(batch *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[batch.ID] = batch.clone()
	return nil
}

func (m *MemoryDB) GetBatch(id string) (*Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	batch, ok := m.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return batch.clone(), nil
}

func (m *MemoryDB) ListBatches() ([]*Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	batches := make([]*Batch, 0, len(m.batches))
	for _, b := range m.batches {
		batches = append(batches, b.clone())
	}
	return batches, nil
}

func (m *MemoryDB) DeleteBatch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[id]; !ok {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	delete(m.batches, id)
	return nil
}

func (m *MemoryDB) Close() error {
	return nil
}

// BoltDB keeps batches in a bbolt scratch file so large batches do not
// have to stay in memory. Batches never outlive the process: the bucket is
// emptied when the file is opened.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens the scratch file at path and clears any previous session
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(bucketName)) != nil {
			if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) SaveBatch(batch *Batch) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(batch)
		if err != nil {
			return fmt.Errorf("marshaling batch: %w", err)
		}
		return bucket.Put([]byte(batch.ID), data)
	})
}

func (b *BoltDB) GetBatch(id string) (*Batch, error) {
	var batch *Batch
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
		}
		return json.Unmarshal(data, &batch)
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (b *BoltDB) ListBatches() ([]*Batch, error) {
	batches := make([]*Batch, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var batch Batch
			if err := json.Unmarshal(v, &batch); err != nil {
				return fmt.Errorf("unmarshaling batch: %w", err)
			}
			batches = append(batches, &batch)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return batches, nil
}

func (b *BoltDB) DeleteBatch(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database file
func (b *BoltDB) Close() error {
	return b.db.Close()
}
