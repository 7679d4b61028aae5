package lob

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/project-tsurugi/sqlengine/pkg/record"
)

// LocalProvider is the lob_ref provider tag for large objects spooled to
// this process's own LOBSessionRoot (spec §6 config "lob_session_root").
// A deployment backed by an external object store would use a different
// provider value; this package only implements the local one, the only
// one a single-process reference engine needs.
const LocalProvider uint8 = 1

// Session spools large-object payloads for one transaction under a
// dedicated subdirectory of the configured session root, minting a fresh
// object id (and reference tag) per Put (spec §6, §3 "blob_ref, clob_ref:
// large objects are referenced by (id, provider) pairs and never
// materialized in records").
type Session struct {
	root        string
	txSurrogate uint64
	signer      *Signer
	nextID      atomic.Uint64
}

// NewSession creates (if needed) a per-transaction spool directory under
// root and returns a Session bound to txSurrogateID.
func NewSession(root string, txSurrogateID uint64, signer *Signer) (*Session, error) {
	dir := filepath.Join(root, fmt.Sprintf("tx-%d", txSurrogateID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lob: create session spool dir: %w", err)
	}
	return &Session{root: dir, txSurrogate: txSurrogateID, signer: signer}, nil
}

// Dir returns this session's spool directory, chiefly useful for tests
// asserting that Close actually removed it.
func (s *Session) Dir() string { return s.root }

// Put spools data to a new file in this session and returns the resulting
// LOBRef plus the reference tag the caller should carry alongside it on
// the wire (spec §4.B blob/clob tag tuple).
func (s *Session) Put(data []byte) (record.LOBRef, []byte, error) {
	id := s.nextID.Add(1)
	ref := record.LOBRef{Provider: LocalProvider, ID: id}
	path := s.objectPath(id)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return record.LOBRef{}, nil, fmt.Errorf("lob: spool object %d: %w", id, err)
	}
	return ref, s.signer.Sign(s.txSurrogate, id), nil
}

// Get resolves a previously spooled LOBRef back to its payload, first
// verifying the reference tag against this session's transaction so a
// forged or cross-transaction reference is rejected before touching disk.
func (s *Session) Get(ref record.LOBRef, referenceTag []byte) ([]byte, error) {
	if ref.Provider != LocalProvider {
		return nil, fmt.Errorf("lob: unknown provider %d", ref.Provider)
	}
	if !s.signer.Verify(s.txSurrogate, ref.ID, referenceTag) {
		return nil, fmt.Errorf("lob: reference tag does not match object %d", ref.ID)
	}
	return os.ReadFile(s.objectPath(ref.ID))
}

func (s *Session) objectPath(id uint64) string {
	return filepath.Join(s.root, fmt.Sprintf("%d.bin", id))
}

// Close removes this session's spool directory and everything under it -
// called once the owning transaction commits or aborts, so spooled LOBs
// never outlive their transaction.
func (s *Session) Close() error {
	return os.RemoveAll(s.root)
}
