package channel

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/project-tsurugi/sqlengine/pkg/operator"
)

// fakeDataWriter is a transport data writer stand-in: it buffers whatever
// it receives and records whether Commit was called.
type fakeDataWriter struct {
	buf        bytes.Buffer
	committed  bool
	writeCalls int
}

func (f *fakeDataWriter) Write(data []byte) error {
	f.writeCalls++
	_, err := f.buf.Write(data)
	return err
}

func (f *fakeDataWriter) Commit() error {
	f.committed = true
	return nil
}

// marker encodes a single int64 as a fake "row" for test purposes; real
// rows go through record.Encoder, but the channel package is agnostic to
// row shape as long as encode returns bytes.
func marker(n int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(n))
	return b[:]
}

func encodeMarker(n int64) RowEncoder {
	return func(*operator.VariableTable) []byte { return marker(n) }
}

func TestRecordChannelOrderedAcquireIsExclusive(t *testing.T) {
	dw := &fakeDataWriter{}
	ch := New(func() (DataWriter, error) { return dw, nil }, encodeMarker(1), 0)

	_, errInfo := ch.Acquire(true)
	require.Nil(t, errInfo)

	_, errInfo = ch.Acquire(true)
	require.NotNil(t, errInfo, "a second ordered writer must be rejected")
}

func TestRecordChannelUnorderedAcquireIsUnlimited(t *testing.T) {
	dw := &fakeDataWriter{}
	ch := New(func() (DataWriter, error) { return dw, nil }, encodeMarker(1), 0)

	for i := 0; i < 5; i++ {
		_, errInfo := ch.Acquire(false)
		require.Nil(t, errInfo)
	}
}

func TestWriterFlushesAtThreshold(t *testing.T) {
	dw := &fakeDataWriter{}
	ch := New(func() (DataWriter, error) { return dw, nil }, encodeMarker(7), 2)

	w, errInfo := ch.Acquire(false)
	require.Nil(t, errInfo)

	require.Nil(t, w.Write(nil))
	assert.Equal(t, 0, dw.writeCalls, "below threshold: no flush yet")
	require.Nil(t, w.Write(nil))
	assert.Equal(t, 1, dw.writeCalls, "at threshold: one flush")
	assert.False(t, dw.committed)
}

func TestWriterCloseFlushesAndCommits(t *testing.T) {
	dw := &fakeDataWriter{}
	ch := New(func() (DataWriter, error) { return dw, nil }, encodeMarker(3), 0)

	w, errInfo := ch.Acquire(false)
	require.Nil(t, errInfo)
	require.Nil(t, w.Write(nil))

	require.Nil(t, w.Close())
	assert.True(t, dw.committed)
	assert.Equal(t, marker(3), dw.buf.Bytes())
}

func TestDumpChannelRotatesAtMaxRecordsAndReportsFilenames(t *testing.T) {
	dir := t.TempDir()
	parentDW := &fakeDataWriter{}
	parent := New(func() (DataWriter, error) { return parentDW, nil }, nil, 0)

	filenameRow := func(name string) []byte { return []byte(name + "\n") }
	dc := NewDumpChannel(dir, 2, parent, encodeMarker(9), filenameRow)

	w, errInfo := dc.Acquire(false)
	require.Nil(t, errInfo)

	for i := 0; i < 5; i++ {
		require.Nil(t, w.Write(nil))
	}
	require.Nil(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, len(entries), "5 rows at max 2/file rotate into 3 files")

	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		assert.True(t, len(data) == 8 || len(data) == 16)
	}

	assert.True(t, parentDW.committed)
	assert.Contains(t, parentDW.buf.String(), "part-000001.rows")
	assert.Contains(t, parentDW.buf.String(), "part-000003.rows")
}
