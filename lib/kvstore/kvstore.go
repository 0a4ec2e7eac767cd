package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// Store is opaque string key-value persistence. It holds no logic of its own.
// GetMany and SetMany see or write every key at once, a reader never observes
// half of a SetMany and a failed SetMany leaves nothing behind.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	SetMany(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, keys ...string) error
}

type Memory struct {
	mutex  sync.RWMutex
	values map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	value, ok := m.values[key]
	return value, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.values[key] = value
	return nil
}

// GetMany omits keys that are not set.
func (m *Memory) GetMany(_ context.Context, keys ...string) (map[string]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if value, ok := m.values[k]; ok {
			out[k] = value
		}
	}
	return out, nil
}

func (m *Memory) SetMany(_ context.Context, values map[string]string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

const Schema = `
create table if not exists kv (
	key text primary key,
	value text not null
);
`

// SQL stores pairs in a sqlite/libsql table created from Schema.
type SQL struct {
	db *sql.DB
}

func NewSQL(db *sql.DB) SQL {
	return SQL{db: db}
}

func (s SQL) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "select value from kv where key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

const upsertQuery = "insert into kv (key, value) values (?, ?) on conflict(key) do update set value = excluded.value"

func (s SQL) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, upsertQuery, key, value)
	return err
}

// GetMany reads every key inside one transaction and omits keys that are not
// set.
func (s SQL) GetMany(ctx context.Context, keys ...string) (map[string]string, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		var value string
		err := tx.QueryRowContext(ctx, "select value from kv where key = ?", k).Scan(&value)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = value
	}
	return out, tx.Commit()
}

func (s SQL) SetMany(ctx context.Context, values map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for k, v := range values {
		_, err := tx.ExecContext(ctx, upsertQuery, k, v)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s SQL) Delete(ctx context.Context, keys ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, k := range keys {
		_, err := tx.ExecContext(ctx, "delete from kv where key = ?", k)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
