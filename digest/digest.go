// Package digest provides the content-addressing primitive used
// throughout the registry: validation and parsing of canonical
// "sha256:<hex>" digest strings.
package digest

import (
	"crypto/sha256"
	"encoding"
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"regexp"

	godigest "github.com/opencontainers/go-digest"
)

// Algorithm is the only digest algorithm this registry accepts. The spec
// fixes this at sha256; a multi-algorithm Digest type (as go-digest
// supports) is more generality than the data model calls for.
const Algorithm = "sha256"

var hexPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Errors returned by Parse and Validate. A string without the "sha256:"
// prefix, including one naming another algorithm, yields
// ErrDigestInvalidFormat; Parse does not return ErrDigestUnsupportedAlgo.
var (
	ErrDigestInvalidFormat    = errors.New("invalid digest format")
	ErrDigestUnsupportedAlgo = errors.New("unsupported digest algorithm")
	ErrDigestInvalidLength    = errors.New("invalid digest length")
)

// Digest is a validated sha256 content digest, serialized as
// "sha256:<64 lowercase hex chars>".
type Digest godigest.Digest

// FromBytes computes the canonical digest of p.
func FromBytes(p []byte) Digest {
	return Digest(godigest.FromBytes(p))
}

// FromReader consumes r to EOF and returns its digest.
func FromReader(r io.Reader) (Digest, error) {
	d, err := godigest.FromReader(r)
	if err != nil {
		return "", err
	}
	return Digest(d), nil
}

// Parse validates s as a canonical digest string and returns it typed.
// It never allocates beyond the regexp match itself.
func Parse(s string) (Digest, error) {
	const prefix = Algorithm + ":"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return "", ErrDigestInvalidFormat
	}
	hexPart := s[len(prefix):]
	if len(hexPart) != 64 {
		return "", ErrDigestInvalidLength
	}
	if !hexPattern.MatchString(hexPart) {
		return "", ErrDigestInvalidFormat
	}
	return Digest(s), nil
}

// Validate reports whether s is a well-formed sha256 digest string.
func Validate(s string) error {
	_, err := Parse(s)
	return err
}

// String returns the canonical form, e.g. "sha256:abcd...".
func (d Digest) String() string {
	return string(d)
}

// Hex returns the hex-encoded hash portion, without the algorithm prefix.
func (d Digest) Hex() string {
	const prefix = Algorithm + ":"
	if len(d) <= len(prefix) {
		return ""
	}
	return string(d)[len(prefix):]
}

// Equal reports canonical equality: same algorithm, same hex, compared as
// strings (lowercase hex makes this safe without normalization).
func (d Digest) Equal(other Digest) bool {
	return d == other
}

// Verify reports whether p hashes to d.
func (d Digest) Verify(p []byte) bool {
	return FromBytes(p) == d
}

// Verifier accumulates bytes and checks the final digest incrementally,
// used by the upload session FSM (C5) so large blobs are hashed without
// buffering in memory.
type Verifier struct {
	h hash.Hash
}

// NewVerifier returns a running sha256 verifier.
func NewVerifier() *Verifier {
	return &Verifier{h: sha256.New()}
}

// Write feeds bytes into the running hash. It never returns an error.
func (v *Verifier) Write(p []byte) (int, error) {
	return v.h.Write(p)
}

// Digest returns the digest of all bytes written so far.
func (v *Verifier) Digest() Digest {
	return Digest(Algorithm + ":" + hex.EncodeToString(v.h.Sum(nil)))
}

// Matches reports whether the running hash equals expected.
func (v *Verifier) Matches(expected Digest) bool {
	return v.Digest() == expected
}

// MarshalBinary serializes the running hash state so it can be persisted
// between PATCH requests that land on different upload-session lookups.
// crypto/sha256's Hash implementation supports this natively; no external
// resumable-hash library is required.
func (v *Verifier) MarshalBinary() ([]byte, error) {
	m, ok := v.h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, errors.New("digest: hash state is not resumable")
	}
	return m.MarshalBinary()
}

// UnmarshalBinary restores a running hash previously saved with
// MarshalBinary.
func (v *Verifier) UnmarshalBinary(state []byte) error {
	u, ok := v.h.(encoding.BinaryUnmarshaler)
	if !ok {
		return errors.New("digest: hash state is not resumable")
	}
	return u.UnmarshalBinary(state)
}
