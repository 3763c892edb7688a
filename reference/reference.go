// Package reference validates and parses repository names and the two
// shapes a manifest reference can take: a mutable tag or an immutable
// digest. Grammar follows spec.md §3 exactly; this is a deliberately
// narrower grammar than distribution's own reference package (no
// registry-domain component, no alternate digest algorithms) because the
// data model here has no remote-registry concept.
package reference

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ocistore/registry/digest"
)

// Errors returned by the parse/validate functions, mapped to wire error
// codes by the handlers package.
var (
	ErrNameInvalid      = errors.New("invalid repository name")
	ErrTagInvalid       = errors.New("invalid tag")
	ErrReferenceInvalid = errors.New("invalid reference")
)

const (
	nameComponentPat = `[a-z0-9]+(?:[._-][a-z0-9]+)*`
	tagPat           = `[A-Za-z0-9_][A-Za-z0-9._-]{0,127}`
)

var (
	componentRegexp = regexp.MustCompile(`^` + nameComponentPat + `$`)
	nameRegexp       = regexp.MustCompile(`^` + nameComponentPat + `(?:/` + nameComponentPat + `)*$`)
	tagRegexp        = regexp.MustCompile(`^` + tagPat + `$`)
)

const maxNameLength = 255

// ValidateName checks a repository name against spec.md §3's grammar:
// slash-separated lowercase components, 1-255 characters overall.
func ValidateName(name string) error {
	if len(name) == 0 || len(name) > maxNameLength {
		return ErrNameInvalid
	}
	if !nameRegexp.MatchString(name) {
		return ErrNameInvalid
	}
	return nil
}

// ValidateTag checks a tag name against spec.md §3's grammar.
func ValidateTag(tag string) error {
	if !tagRegexp.MatchString(tag) {
		return ErrTagInvalid
	}
	return nil
}

// Reference is either a tag or a digest, as addressed in a manifest URL
// path segment.
type Reference struct {
	raw      string
	isDigest bool
	digest   digest.Digest
}

// Parse classifies s as a tag or digest reference. A string is treated as
// a digest reference iff it parses as one; spec.md's tag grammar and
// digest grammar are disjoint (tags can't contain ':'), so this
// classification is unambiguous.
func Parse(s string) (Reference, error) {
	if strings.Contains(s, ":") {
		d, err := digest.Parse(s)
		if err != nil {
			return Reference{}, ErrReferenceInvalid
		}
		return Reference{raw: s, isDigest: true, digest: d}, nil
	}
	if err := ValidateTag(s); err != nil {
		return Reference{}, err
	}
	return Reference{raw: s}, nil
}

// IsDigest reports whether the reference is a digest (immutable) rather
// than a tag (mutable).
func (r Reference) IsDigest() bool { return r.isDigest }

// Digest returns the parsed digest. Only valid when IsDigest is true.
func (r Reference) Digest() digest.Digest { return r.digest }

// Tag returns the raw tag string. Only meaningful when IsDigest is false.
func (r Reference) Tag() string { return r.raw }

// String returns the original, unmodified reference text.
func (r Reference) String() string { return r.raw }
