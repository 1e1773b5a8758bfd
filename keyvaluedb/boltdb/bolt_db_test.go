package boltdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fbas-tools/analyzer/keyvaluedb"
)

type record struct {
	Name  string
	Value uint64
}

func initBoltDB(t *testing.T) *BoltDB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestBoltDB_ReadWriteDelete(t *testing.T) {
	db := initBoltDB(t)
	var r record
	found, err := db.Read([]byte("a"), &r)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, db.Write([]byte("a"), &record{Name: "a", Value: 42}))
	found, err = db.Read([]byte("a"), &r)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, record{Name: "a", Value: 42}, r)

	require.NoError(t, db.Delete([]byte("a")))
	found, err = db.Read([]byte("a"), &r)
	require.NoError(t, err)
	require.False(t, found)
}

func TestBoltDB_InvalidInput(t *testing.T) {
	db := initBoltDB(t)
	require.ErrorIs(t, db.Write(nil, &record{}), keyvaluedb.ErrInvalidKey)
	require.ErrorIs(t, db.Write([]byte("a"), nil), keyvaluedb.ErrValueIsNil)
	_, err := db.Read([]byte{}, &record{})
	require.ErrorIs(t, err, keyvaluedb.ErrInvalidKey)

	require.NoError(t, db.Write([]byte("a"), &record{Name: "a"}))
	var s string
	found, err := db.Read([]byte("a"), &s)
	require.ErrorContains(t, err, "bolt db read failed")
	require.True(t, found)
}

func TestBoltDB_Iterator(t *testing.T) {
	db := initBoltDB(t)
	n, err := keyvaluedb.Count(db)
	require.NoError(t, err)
	require.Zero(t, n)

	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, db.Write([]byte(k), &record{Name: k}))
	}
	it := db.First()
	var keys []string
	for ; it.Valid(); it.Next() {
		var r record
		require.NoError(t, it.Value(&r))
		require.Equal(t, string(it.Key()), r.Name)
		keys = append(keys, r.Name)
	}
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	require.Equal(t, []string{"a", "b", "c"}, keys)

	// iterator released the read transaction, writes do not block
	require.NoError(t, db.Write([]byte("d"), &record{Name: "d"}))
	n, err = keyvaluedb.Count(db)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestBoltDB_Reopen(t *testing.T) {
	file := filepath.Join(t.TempDir(), "test.db")
	db, err := New(file)
	require.NoError(t, err)
	require.Equal(t, file, db.Path())
	require.NoError(t, db.Write([]byte("a"), &record{Value: 7}))
	require.NoError(t, db.Close())

	db, err = New(file)
	require.NoError(t, err)
	defer db.Close()
	var r record
	found, err := db.Read([]byte("a"), &r)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 7, r.Value)
}
