package txn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/project-tsurugi/sqlengine/pkg/errs"
	"github.com/project-tsurugi/sqlengine/pkg/kv"
	"github.com/project-tsurugi/sqlengine/pkg/lob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext() *Context {
	return New(NewSurrogateID(), nil, OCC, kv.TransactionOptions{})
}

func TestTerminationIncrementAndDecrement(t *testing.T) {
	c := newTestContext()
	require.True(t, c.TryIncrementTaskUseCount())
	require.True(t, c.TryIncrementTaskUseCount())
	assert.Equal(t, uint64(2), c.TaskUseCount())
	c.DecrementTaskUseCount()
	assert.Equal(t, uint64(1), c.TaskUseCount())
	c.DecrementTaskUseCount()
	assert.Equal(t, uint64(0), c.TaskUseCount())
}

func TestTryGoingToCommitSucceedsWhenIdle(t *testing.T) {
	c := newTestContext()
	ok := c.TryGoingToCommit()
	assert.True(t, ok)
	assert.True(t, c.Committing())
	assert.False(t, c.Aborting())
}

func TestTryGoingToCommitTurnsIntoAbortWithInFlightTasks(t *testing.T) {
	c := newTestContext()
	require.True(t, c.TryIncrementTaskUseCount())
	ok := c.TryGoingToCommit()
	assert.False(t, ok, "commit should not be reported as successful once in-flight tasks force an abort")
	assert.True(t, c.Aborting())
}

func TestTryGoingToAbortWinsOverPendingCommit(t *testing.T) {
	c := newTestContext()
	require.True(t, c.TryGoingToCommit())
	require.True(t, c.TryGoingToAbort())
	assert.True(t, c.Aborting())
}

func TestTryIncrementFailsAfterTermination(t *testing.T) {
	c := newTestContext()
	require.True(t, c.TryGoingToAbort())
	assert.False(t, c.TryIncrementTaskUseCount())
}

func TestWorkerBindingFirstTaskWins(t *testing.T) {
	c := newTestContext()
	idx := c.BindWorker(3)
	assert.Equal(t, 3, idx)
	idx2 := c.BindWorker(7)
	assert.Equal(t, 3, idx2, "second task must stick to the first task's worker")

	_, held := c.WorkerID()
	assert.True(t, held)

	c.ReleaseWorker()
	_, held = c.WorkerID()
	assert.True(t, held, "use count is still 1")
	c.ReleaseWorker()
	_, held = c.WorkerID()
	assert.False(t, held, "worker slot released once use count reaches zero")
}

func TestErrorSlotFirstWriterWins(t *testing.T) {
	c := newTestContext()
	set1 := c.SetError(errs.New(errs.OCCReadException, "first"))
	set2 := c.SetError(errs.New(errs.UniqueConstraintViolationException, "second"))
	assert.True(t, set1)
	assert.False(t, set2)
	assert.Equal(t, errs.OCCReadException, c.Error().Code)
}

func TestWaitlistUpdateCurrentMarkerCompletesInOrder(t *testing.T) {
	wl := NewWaitlist()
	var done []int64
	for _, m := range []int64{5, 1, 3} {
		m := m
		tx := newTestContext()
		wl.Wait(m, tx, nil, func(kv.StatusCode) { done = append(done, m) })
	}
	wl.UpdateCurrentMarker(3)
	assert.ElementsMatch(t, []int64{1, 3}, done)
	assert.Equal(t, 1, wl.Len())
	assert.Equal(t, int64(3), wl.CurrentMarker())

	wl.UpdateCurrentMarker(10)
	assert.ElementsMatch(t, []int64{1, 3, 5}, done)
	assert.Equal(t, 0, wl.Len())
}

func TestWaitlistInstantUpdateFastPath(t *testing.T) {
	wl := NewWaitlist()
	ok := wl.InstantUpdateIfWaitlistEmpty(9)
	assert.True(t, ok)
	assert.Equal(t, int64(9), wl.CurrentMarker())

	tx := newTestContext()
	wl.Wait(20, tx, nil, func(kv.StatusCode) {})
	ok = wl.InstantUpdateIfWaitlistEmpty(15)
	assert.False(t, ok, "non-empty waitlist must not take the fast path")
}

// fakeHandle is a minimal kv.Transaction stub for exercising Context.Commit
// without pulling in pkg/kv/bbolt.
type fakeHandle struct {
	commitStatus kv.StatusCode
	aborted      bool
}

func (f *fakeHandle) Put(string, []byte, []byte, kv.PutKind) kv.StatusCode { return kv.StatusOK }
func (f *fakeHandle) Get(string, []byte) ([]byte, kv.StatusCode)           { return nil, kv.StatusNotFound }
func (f *fakeHandle) Scan(string, []byte, kv.EndpointKind, []byte, kv.EndpointKind) (kv.Iterator, kv.StatusCode) {
	return nil, kv.StatusOK
}
func (f *fakeHandle) Commit(callback func(kv.StatusCode)) kv.StatusCode {
	if callback != nil {
		callback(f.commitStatus)
	}
	return f.commitStatus
}
func (f *fakeHandle) Abort() kv.StatusCode {
	f.aborted = true
	return kv.StatusOK
}

func TestCommitReleasesLOBSessionOnSuccess(t *testing.T) {
	c := newTestContext()
	signer, err := lob.NewRandomSigner()
	require.NoError(t, err)
	root := t.TempDir()

	sess, err := c.OpenLOBSession(root, signer)
	require.NoError(t, err)
	_, _, err = sess.Put([]byte("payload"))
	require.NoError(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "spool directory should exist while the session is open")

	c.Handle = &fakeHandle{commitStatus: kv.StatusOK}
	cerr := c.Commit(nil, 0, nil)
	assert.Nil(t, cerr)
	assert.True(t, c.Committing())

	entries, err = os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "spool directory must be removed once the transaction commits")
}

func TestCommitConvertsToAbortWithInFlightTasks(t *testing.T) {
	c := newTestContext()
	c.Handle = &fakeHandle{commitStatus: kv.StatusOK}
	require.True(t, c.TryIncrementTaskUseCount())

	cerr := c.Commit(nil, 0, nil)
	require.NotNil(t, cerr)
	assert.True(t, c.Aborting())
	assert.True(t, c.Handle.(*fakeHandle).aborted)
}

func TestCommitEnqueuesOnWaitlistWhenDurabilityPending(t *testing.T) {
	c := newTestContext()
	c.Handle = &fakeHandle{commitStatus: kv.StatusOK}
	wl := NewWaitlist()

	cerr := c.Commit(wl, 42, nil)
	assert.Nil(t, cerr)
	assert.Equal(t, 1, wl.Len())

	wl.UpdateCurrentMarker(42)
	assert.Equal(t, 0, wl.Len())
}

func TestOpenLOBSessionIsIdempotentPerTransaction(t *testing.T) {
	c := newTestContext()
	signer, err := lob.NewRandomSigner()
	require.NoError(t, err)
	root := t.TempDir()

	s1, err := c.OpenLOBSession(root, signer)
	require.NoError(t, err)
	s2, err := c.OpenLOBSession(root, signer)
	require.NoError(t, err)
	assert.Same(t, s1, s2)

	dirs, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, filepath.Join(root, dirs[0].Name()), s1.Dir())
}

type alwaysCancel struct{}

func (alwaysCancel) CheckCancel() bool { return true }

func TestWaitlistCheckCancelCompletesWithCancellation(t *testing.T) {
	wl := NewWaitlist()
	tx := newTestContext()
	var status kv.StatusCode
	wl.Wait(1, tx, alwaysCancel{}, func(s kv.StatusCode) { status = s })
	wl.CheckCancel()
	assert.Equal(t, kv.StatusErrInactiveTransaction, status)
	assert.Equal(t, 0, wl.Len())
	require.NotNil(t, tx.Error())
	assert.Equal(t, errs.SQLRequestTimedOutException, tx.Error().Code)
}
