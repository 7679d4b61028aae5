package bbolt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/project-tsurugi/sqlengine/pkg/kv"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetCommit(t *testing.T) {
	s := openTestStore(t)

	tx, st := s.OpenTransaction(kv.ReadWrite, kv.TransactionOptions{})
	require.Equal(t, kv.StatusOK, st)
	require.Equal(t, kv.StatusOK, tx.Put("t1", []byte("a"), []byte("1"), kv.KindInsert))
	require.Equal(t, kv.StatusOK, tx.Commit(nil))

	tx2, _ := s.OpenTransaction(kv.ReadOnly, kv.TransactionOptions{})
	v, st := tx2.Get("t1", []byte("a"))
	require.Equal(t, kv.StatusOK, st)
	require.Equal(t, "1", string(v))
	require.Equal(t, kv.StatusOK, tx2.Abort())
}

func TestInsertAlreadyExists(t *testing.T) {
	s := openTestStore(t)
	tx, _ := s.OpenTransaction(kv.ReadWrite, kv.TransactionOptions{})
	require.Equal(t, kv.StatusOK, tx.Put("t1", []byte("a"), []byte("1"), kv.KindInsert))
	require.Equal(t, kv.StatusAlreadyExists, tx.Put("t1", []byte("a"), []byte("2"), kv.KindInsert))
	require.Equal(t, kv.StatusOK, tx.Commit(nil))
}

func TestUpdateNotFound(t *testing.T) {
	s := openTestStore(t)
	tx, _ := s.OpenTransaction(kv.ReadWrite, kv.TransactionOptions{})
	require.Equal(t, kv.StatusNotFound, tx.Put("t1", []byte("a"), []byte("1"), kv.KindUpdate))
	require.Equal(t, kv.StatusOK, tx.Abort())
}

func TestReadOnlyRejectsWrite(t *testing.T) {
	s := openTestStore(t)
	tx, _ := s.OpenTransaction(kv.ReadOnly, kv.TransactionOptions{})
	require.Equal(t, kv.StatusErrWriteOperationByRTX, tx.Put("t1", []byte("a"), []byte("1"), kv.KindUpsert))
	require.Equal(t, kv.StatusOK, tx.Abort())
}

func TestGetMissingStorageIsNotFound(t *testing.T) {
	s := openTestStore(t)
	tx, _ := s.OpenTransaction(kv.ReadOnly, kv.TransactionOptions{})
	_, st := tx.Get("nonexistent", []byte("a"))
	require.Equal(t, kv.StatusNotFound, st)
}

func TestDeleteThenGet(t *testing.T) {
	s := openTestStore(t)
	tx, _ := s.OpenTransaction(kv.ReadWrite, kv.TransactionOptions{})
	require.Equal(t, kv.StatusOK, tx.Put("t1", []byte("a"), []byte("1"), kv.KindUpsert))
	require.Equal(t, kv.StatusOK, tx.Put("t1", []byte("a"), nil, kv.KindDelete))
	_, st := tx.Get("t1", []byte("a"))
	require.Equal(t, kv.StatusNotFound, st)
	require.Equal(t, kv.StatusOK, tx.Commit(nil))
}

func seedScanStore(t *testing.T, s *Store) {
	t.Helper()
	tx, _ := s.OpenTransaction(kv.ReadWrite, kv.TransactionOptions{})
	keys := []string{"a", "ab", "ac", "b", "c"}
	for _, k := range keys {
		require.Equal(t, kv.StatusOK, tx.Put("scan", []byte(k), []byte(k), kv.KindUpsert))
	}
	require.Equal(t, kv.StatusOK, tx.Commit(nil))
}

func collect(it kv.Iterator) []string {
	var out []string
	for it.Next() {
		out = append(out, string(it.Key()))
	}
	it.Close()
	return out
}

func TestScanInclusiveRange(t *testing.T) {
	s := openTestStore(t)
	seedScanStore(t, s)

	tx, _ := s.OpenTransaction(kv.ReadOnly, kv.TransactionOptions{})
	it, st := tx.Scan("scan", []byte("ab"), kv.Inclusive, []byte("b"), kv.Inclusive)
	require.Equal(t, kv.StatusOK, st)
	require.Equal(t, []string{"ab", "ac", "b"}, collect(it))
}

func TestScanExclusiveRange(t *testing.T) {
	s := openTestStore(t)
	seedScanStore(t, s)

	tx, _ := s.OpenTransaction(kv.ReadOnly, kv.TransactionOptions{})
	it, st := tx.Scan("scan", []byte("a"), kv.Exclusive, []byte("c"), kv.Exclusive)
	require.Equal(t, kv.StatusOK, st)
	require.Equal(t, []string{"ab", "ac", "b"}, collect(it))
}

func TestScanPrefixed(t *testing.T) {
	s := openTestStore(t)
	seedScanStore(t, s)

	tx, _ := s.OpenTransaction(kv.ReadOnly, kv.TransactionOptions{})
	it, st := tx.Scan("scan", []byte("a"), kv.PrefixedInclusive, []byte("a"), kv.PrefixedInclusive)
	require.Equal(t, kv.StatusOK, st)
	require.Equal(t, []string{"a", "ab", "ac"}, collect(it))
}

func TestScanUnbound(t *testing.T) {
	s := openTestStore(t)
	seedScanStore(t, s)

	tx, _ := s.OpenTransaction(kv.ReadOnly, kv.TransactionOptions{})
	it, st := tx.Scan("scan", nil, kv.Unbound, nil, kv.Unbound)
	require.Equal(t, kv.StatusOK, st)
	require.Equal(t, []string{"a", "ab", "ac", "b", "c"}, collect(it))
}

func TestScanEmptyStorage(t *testing.T) {
	s := openTestStore(t)
	tx, _ := s.OpenTransaction(kv.ReadOnly, kv.TransactionOptions{})
	it, st := tx.Scan("nonexistent", nil, kv.Unbound, nil, kv.Unbound)
	require.Equal(t, kv.StatusOK, st)
	require.Empty(t, collect(it))
}

func TestAbortDoesNotPersist(t *testing.T) {
	s := openTestStore(t)
	tx, _ := s.OpenTransaction(kv.ReadWrite, kv.TransactionOptions{})
	require.Equal(t, kv.StatusOK, tx.Put("t1", []byte("a"), []byte("1"), kv.KindUpsert))
	require.Equal(t, kv.StatusOK, tx.Abort())

	tx2, _ := s.OpenTransaction(kv.ReadOnly, kv.TransactionOptions{})
	_, st := tx2.Get("t1", []byte("a"))
	require.Equal(t, kv.StatusNotFound, st)
}

func TestInvalidKeyLength(t *testing.T) {
	s := openTestStore(t)
	tx, _ := s.OpenTransaction(kv.ReadWrite, kv.TransactionOptions{})
	require.Equal(t, kv.StatusErrInvalidKeyLength, tx.Put("t1", nil, []byte("1"), kv.KindUpsert))
	require.Equal(t, kv.StatusOK, tx.Abort())
}
