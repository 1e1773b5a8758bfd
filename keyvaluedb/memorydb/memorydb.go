package memorydb

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/fbas-tools/analyzer/keyvaluedb"
)

// MemoryDB keeps CBOR encoded values in a map, for tests and for running
// without a database file.
type MemoryDB struct {
	db    map[string][]byte
	limit int
	lock  sync.RWMutex
}

func New() *MemoryDB {
	return &MemoryDB{db: make(map[string][]byte)}
}

// NewWithLimiter can be used to test disk full scenarios
func NewWithLimiter(limit int) *MemoryDB {
	return &MemoryDB{db: make(map[string][]byte), limit: limit}
}

func (db *MemoryDB) Read(key []byte, value any) (bool, error) {
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return false, err
	}
	db.lock.RLock()
	defer db.lock.RUnlock()
	if data, ok := db.db[string(key)]; ok {
		return true, cbor.Unmarshal(data, value)
	}
	return false, nil
}

func (db *MemoryDB) Write(key []byte, value any) error {
	if err := keyvaluedb.CheckKeyAndValue(key, value); err != nil {
		return err
	}
	b, err := cbor.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding value: %w", err)
	}
	db.lock.Lock()
	defer db.lock.Unlock()
	if _, ok := db.db[string(key)]; !ok && db.limit > 0 && len(db.db) >= db.limit {
		return fmt.Errorf("write failed, disk is full")
	}
	db.db[string(key)] = b
	return nil
}

func (db *MemoryDB) Delete(key []byte) error {
	if err := keyvaluedb.CheckKey(key); err != nil {
		return err
	}
	db.lock.Lock()
	defer db.lock.Unlock()
	delete(db.db, string(key))
	return nil
}

// First returns an iterator over a snapshot of the DB in key order.
func (db *MemoryDB) First() keyvaluedb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()
	keys := maps.Keys(db.db)
	slices.Sort(keys)
	it := &Itr{keys: make([][]byte, len(keys)), values: make([][]byte, len(keys))}
	for i, k := range keys {
		it.keys[i] = []byte(k)
		it.values[i] = db.db[k]
	}
	return it
}

func (db *MemoryDB) Close() error {
	return nil
}

type Itr struct {
	keys   [][]byte
	values [][]byte
	index  int
}

func (it *Itr) Next() {
	if it.Valid() {
		it.index++
	}
}

func (it *Itr) Valid() bool {
	return it.index < len(it.keys)
}

func (it *Itr) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return bytes.Clone(it.keys[it.index])
}

func (it *Itr) Value(v any) error {
	if !it.Valid() {
		return fmt.Errorf("iterator invalid")
	}
	return cbor.Unmarshal(it.values[it.index], v)
}

func (it *Itr) Close() error {
	return nil
}
