package lob

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(make([]byte, 32))
	require.NoError(t, err)
	return s
}

func TestSignerRejectsWrongKeyLength(t *testing.T) {
	_, err := NewSigner(make([]byte, 16))
	assert.Error(t, err)
}

func TestSignerVerifyRoundTrip(t *testing.T) {
	s := testSigner(t)
	tag := s.Sign(42, 7)
	assert.True(t, s.Verify(42, 7, tag))
}

func TestSignerVerifyRejectsForgedOrCrossTransactionTags(t *testing.T) {
	s := testSigner(t)
	tag := s.Sign(42, 7)
	assert.False(t, s.Verify(43, 7, tag), "tag must not verify for a different transaction")
	assert.False(t, s.Verify(42, 8, tag), "tag must not verify for a different object id")

	forged := append([]byte(nil), tag...)
	forged[0] ^= 0xFF
	assert.False(t, s.Verify(42, 7, forged))
}

func TestSessionPutGetRoundTrip(t *testing.T) {
	signer := testSigner(t)
	sess, err := NewSession(t.TempDir(), 100, signer)
	require.NoError(t, err)
	defer sess.Close()

	ref, tag, err := sess.Put([]byte("hello large object"))
	require.NoError(t, err)
	assert.Equal(t, LocalProvider, ref.Provider)

	got, err := sess.Get(ref, tag)
	require.NoError(t, err)
	assert.Equal(t, "hello large object", string(got))
}

func TestSessionGetRejectsForgedTag(t *testing.T) {
	signer := testSigner(t)
	sess, err := NewSession(t.TempDir(), 100, signer)
	require.NoError(t, err)
	defer sess.Close()

	ref, tag, err := sess.Put([]byte("data"))
	require.NoError(t, err)
	tag[0] ^= 0xFF

	_, err = sess.Get(ref, tag)
	assert.Error(t, err)
}

func TestSessionCloseRemovesSpoolDir(t *testing.T) {
	signer := testSigner(t)
	root := t.TempDir()
	sess, err := NewSession(root, 1, signer)
	require.NoError(t, err)
	ref, _, err := sess.Put([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, sess.Close())

	_, err = os.Stat(sess.objectPath(ref.ID))
	assert.True(t, os.IsNotExist(err))
}
