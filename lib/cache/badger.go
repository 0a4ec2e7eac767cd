package cache

import (
	"bytes"
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// Badger persists cache entries in a badger database so cached payloads
// survive restarts.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a badger database in dir, an empty dir keeps
// the database in memory.
func OpenBadger(dir string) (Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return Badger{}, err
	}
	return Badger{db: db}, nil
}

func (b Badger) Close() error {
	return b.db.Close()
}

func (b Badger) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b Badger) Set(key string, value []byte) error {
	return b.db.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(key), value)
	})
}

func (b Badger) Delete(key string) error {
	return b.db.Update(func(tx *badger.Txn) error {
		return tx.Delete([]byte(key))
	})
}

var errValueChanged = errors.New("value changed")

// CompareAndDelete reads and deletes in one transaction, a write committed
// after the read aborts it with a conflict.
func (b Badger) CompareAndDelete(key string, expected []byte) (bool, error) {
	err := b.db.Update(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(key))
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(current, expected) {
			return errValueChanged
		}
		return tx.Delete([]byte(key))
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound),
		errors.Is(err, errValueChanged),
		errors.Is(err, badger.ErrConflict):
		return false, nil
	}
	return false, err
}

func (b Badger) Keys() ([]string, error) {
	var keys []string
	err := b.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := tx.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

func (b Badger) Clear() error {
	return b.db.DropAll()
}
