package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ocistore/registry/digest"
	driver "github.com/ocistore/registry/registry/storage/driver"
)

// UploadState is the resumable-upload session FSM named in spec.md §4.5
// (C5): Open -> Receiving -> Committed | Cancelled, with Expired reached
// by the TTL reaper independent of client action.
type UploadState string

const (
	UploadOpen       UploadState = "open"
	UploadReceiving  UploadState = "receiving"
	UploadCommitted  UploadState = "committed"
	UploadCancelled  UploadState = "cancelled"
	UploadExpired    UploadState = "expired"
)

// Errors returned by the upload session methods.
var (
	ErrUploadUnknown       = errors.New("upload session unknown")
	ErrUploadClosed        = errors.New("upload session is no longer open")
	ErrUploadOffsetMismatch = errors.New("upload offset does not match session size")
	ErrUploadDigestMismatch = errors.New("uploaded content does not match declared digest")
)

// UploadDescriptor is the externally visible shape of an upload session,
// returned to handlers for Location/Range header construction.
type UploadDescriptor struct {
	ID        string
	Repo      string
	Offset    int64
	State     UploadState
	StartedAt time.Time
}

// uploadRecord is the on-disk representation at uploads/<id>/state.json.
// Persisting the running hash (rather than re-hashing from byte zero on
// every PATCH) is what makes chunked upload resumable without buffering
// the whole blob, per spec.md §4.5 "Resumability".
type uploadRecord struct {
	ID            string      `json:"id"`
	Repo          string      `json:"repo"`
	Offset        int64       `json:"offset"`
	State         UploadState `json:"state"`
	StartedAt     time.Time   `json:"startedAt"`
	VerifierState []byte      `json:"verifierState"`
}

// uploadManager mediates all upload session state. A per-session mutex
// (keyed by upload ID) serializes concurrent PATCH requests against the
// same session, matching spec.md invariant I3 "a session accepts writes
// from one writer at a time".
type uploadManager struct {
	driver driver.StorageDriver
	blobs  *blobStore

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

func newUploadManager(d driver.StorageDriver, blobs *blobStore) *uploadManager {
	return &uploadManager{driver: d, blobs: blobs, sessions: map[string]*sync.Mutex{}}
}

func (um *uploadManager) lockFor(id string) *sync.Mutex {
	um.mu.Lock()
	defer um.mu.Unlock()
	l, ok := um.sessions[id]
	if !ok {
		l = &sync.Mutex{}
		um.sessions[id] = l
	}
	return l
}

func (um *uploadManager) forget(id string) {
	um.mu.Lock()
	delete(um.sessions, id)
	um.mu.Unlock()
}

// Start opens a new upload session for repo, returning its ID (spec.md
// §4.5 "start_upload").
func (um *uploadManager) Start(ctx context.Context, repo string) (*UploadDescriptor, error) {
	id := uuid.New().String()
	rec := uploadRecord{
		ID:        id,
		Repo:      repo,
		Offset:    0,
		State:     UploadOpen,
		StartedAt: time.Now().UTC(),
	}
	v := digest.NewVerifier()
	vs, err := v.MarshalBinary()
	if err != nil {
		return nil, err
	}
	rec.VerifierState = vs

	if err := um.save(ctx, rec); err != nil {
		return nil, err
	}
	return toDescriptor(rec), nil
}

// Status returns the session's current offset and state (spec.md §4.5
// "get_upload_status").
func (um *uploadManager) Status(ctx context.Context, repo, id string) (*UploadDescriptor, error) {
	rec, err := um.load(ctx, repo, id)
	if err != nil {
		return nil, err
	}
	return toDescriptor(*rec), nil
}

// WriteChunk appends chunk's bytes at the session's current offset,
// rejecting any Content-Range that doesn't start exactly where the
// session left off (spec.md §4.5 "patch_upload", invariant I4). Returns
// the new offset.
func (um *uploadManager) WriteChunk(ctx context.Context, repo, id string, atOffset int64, chunk []byte) (int64, error) {
	lock := um.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := um.load(ctx, repo, id)
	if err != nil {
		return 0, err
	}
	if rec.State != UploadOpen && rec.State != UploadReceiving {
		return 0, ErrUploadClosed
	}
	if atOffset >= 0 && atOffset != rec.Offset {
		return 0, ErrUploadOffsetMismatch
	}

	v := digest.NewVerifier()
	if len(rec.VerifierState) > 0 {
		if err := v.UnmarshalBinary(rec.VerifierState); err != nil {
			return 0, err
		}
	}

	w, err := um.driver.Writer(ctx, uploadDataPath(id), rec.Offset > 0)
	if err != nil {
		return 0, err
	}
	if _, err := w.Write(chunk); err != nil {
		w.Cancel(ctx)
		return 0, err
	}
	if err := w.Commit(ctx); err != nil {
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, err
	}

	if _, err := v.Write(chunk); err != nil {
		return 0, err
	}
	vs, err := v.MarshalBinary()
	if err != nil {
		return 0, err
	}

	rec.Offset += int64(len(chunk))
	rec.State = UploadReceiving
	rec.VerifierState = vs
	if err := um.save(ctx, *rec); err != nil {
		return 0, err
	}
	return rec.Offset, nil
}

// Commit finalizes the session: the accumulated bytes must hash to
// expected (spec.md §4.5 "complete_upload", invariant I4), after which
// the staged data is moved into blob storage and the session's staging
// directory and state record are deleted.
func (um *uploadManager) Commit(ctx context.Context, repo, id string, expected digest.Digest, trailing []byte) (digest.Digest, error) {
	lock := um.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := um.load(ctx, repo, id)
	if err != nil {
		return "", err
	}
	if rec.State == UploadCommitted {
		return expected, nil
	}
	if rec.State != UploadOpen && rec.State != UploadReceiving {
		return "", ErrUploadClosed
	}

	v := digest.NewVerifier()
	if len(rec.VerifierState) > 0 {
		if err := v.UnmarshalBinary(rec.VerifierState); err != nil {
			return "", err
		}
	}

	if len(trailing) > 0 {
		w, err := um.driver.Writer(ctx, uploadDataPath(id), rec.Offset > 0)
		if err != nil {
			return "", err
		}
		if _, err := w.Write(trailing); err != nil {
			w.Cancel(ctx)
			return "", err
		}
		if err := w.Commit(ctx); err != nil {
			return "", err
		}
		if err := w.Close(); err != nil {
			return "", err
		}
		if _, err := v.Write(trailing); err != nil {
			return "", err
		}
		rec.Offset += int64(len(trailing))
		vs, err := v.MarshalBinary()
		if err != nil {
			return "", err
		}
		rec.VerifierState = vs
		rec.State = UploadReceiving
		if err := um.save(ctx, *rec); err != nil {
			return "", err
		}
	}

	if !v.Matches(expected) {
		return "", ErrUploadDigestMismatch
	}

	if err := um.blobs.PutFromStaging(ctx, expected, uploadDataPath(id)); err != nil {
		return "", err
	}

	rec.State = UploadCommitted
	if err := um.driver.Delete(ctx, uploadDirPath(id)); err != nil && !isNotFound(err) {
		return "", err
	}
	um.forget(id)
	return expected, nil
}

// Cancel discards a session's staged bytes (spec.md §4.5
// "cancel_upload").
func (um *uploadManager) Cancel(ctx context.Context, repo, id string) error {
	lock := um.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := um.load(ctx, repo, id); err != nil {
		return err
	}
	if err := um.driver.Delete(ctx, uploadDirPath(id)); err != nil && !isNotFound(err) {
		return err
	}
	um.forget(id)
	return nil
}

// ReapExpired sweeps all upload sessions whose StartedAt is older than
// ttl, deleting their staged data (spec.md §4.5 "Session TTL"). Returns the count reaped.
func (um *uploadManager) ReapExpired(ctx context.Context, ttl time.Duration) (int, error) {
	entries, err := um.driver.List(ctx, "/uploads")
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}

	reaped := 0
	cutoff := time.Now().Add(-ttl)
	for _, entry := range entries {
		id := lastPathComponent(entry)
		raw, err := um.driver.GetContent(ctx, uploadStatePath(id))
		if err != nil {
			continue
		}
		var rec uploadRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.StartedAt.After(cutoff) {
			continue
		}
		if rec.State == UploadCommitted {
			continue
		}
		if err := um.driver.Delete(ctx, uploadDirPath(id)); err != nil && !isNotFound(err) {
			return reaped, err
		}
		um.forget(id)
		reaped++
	}
	return reaped, nil
}

func (um *uploadManager) save(ctx context.Context, rec uploadRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return um.driver.PutContent(ctx, uploadStatePath(rec.ID), buf)
}

func (um *uploadManager) load(ctx context.Context, repo, id string) (*uploadRecord, error) {
	raw, err := um.driver.GetContent(ctx, uploadStatePath(id))
	if err != nil {
		if isNotFound(err) {
			return nil, ErrUploadUnknown
		}
		return nil, err
	}
	var rec uploadRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	if rec.Repo != repo {
		return nil, ErrUploadUnknown
	}
	return &rec, nil
}

func toDescriptor(rec uploadRecord) *UploadDescriptor {
	return &UploadDescriptor{
		ID:        rec.ID,
		Repo:      rec.Repo,
		Offset:    rec.Offset,
		State:     rec.State,
		StartedAt: rec.StartedAt,
	}
}

func lastPathComponent(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
