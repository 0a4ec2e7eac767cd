package kvstore

import (
	"context"
	"testing"

	"skyassist-backend/lib/sqliteutil"

	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "dwd")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "dwd", "a"))
	require.NoError(t, store.Set(ctx, "encses", "b"))
	require.NoError(t, store.Set(ctx, "dwd", "c"))

	value, ok, err := store.Get(ctx, "dwd")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c", value)

	require.NoError(t, store.Delete(ctx, "dwd", "encses", "missing"))
	_, ok, err = store.Get(ctx, "encses")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SetMany(ctx, map[string]string{"dwd": "d", "wfaacl": "w"}))
	values, err := store.GetMany(ctx, "dwd", "wfaacl", "missing")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"dwd": "d", "wfaacl": "w"}, values)
}

func TestSQLSetManyRollsBack(t *testing.T) {
	ctx := context.Background()
	db, err := sqliteutil.OpenDB(Schema, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	store := NewSQL(db)

	require.NoError(t, store.SetMany(ctx, map[string]string{"dwd": "old", "encses": "old"}))
	// the trigger rejects one row, the whole batch must be dropped with it
	_, err = db.Exec(`create trigger reject_encses before update on kv when new.key = 'encses'
		begin select raise(abort, 'rejected'); end;`)
	require.NoError(t, err)

	err = store.SetMany(ctx, map[string]string{"dwd": "new", "encses": "new"})
	require.Error(t, err)

	values, err := store.GetMany(ctx, "dwd", "encses")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"dwd": "old", "encses": "old"}, values)
}

func TestMemory(t *testing.T) {
	testStore(t, NewMemory())
}

func TestSQL(t *testing.T) {
	db, err := sqliteutil.OpenDB(Schema, ":memory:")
	require.NoError(t, err)
	defer db.Close()
	testStore(t, NewSQL(db))
}
