package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	require.NoError(t, db.Put([]byte("ledger"), []byte("v1")))
	value, err := db.Get([]byte("ledger"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), value)

	ok, err := db.Has([]byte("ledger"))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, db.Delete([]byte("ledger")))
	_, err = db.Get([]byte("ledger"))
	require.ErrorIs(t, err, ErrNotFound)
	ok, err = db.Has([]byte("ledger"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	value := []byte("original")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'X'

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("original"), stored)
}

func TestLevelDBRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treasury-db")
	db, err := NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put([]byte("position/abc"), []byte("payload")))
	value, err := db.Get([]byte("position/abc"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), value)

	_, err = db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Delete([]byte("position/abc")))
	ok, err := db.Has([]byte("position/abc"))
	require.NoError(t, err)
	require.False(t, ok)
}
