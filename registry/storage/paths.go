package storage

import (
	"path"

	"github.com/ocistore/registry/digest"
)

// Path layout, per spec.md §6 "Persisted state layout":
//
//	blobs/<first-2-hex>/sha256:<hex>
//	manifests/<repo>/<tag-or-digest>   (a digest's ":" is stored as "@")
//	uploads/<uuid>/data
//	uploads/<uuid>/state.json
//
// This is deliberately flatter than distribution's own repositories/
// _manifests/_layers/_uploads tree (spec.md's data model has no link
// layer between a repository and the blob store — a manifest tag file
// directly names a digest).

func blobPath(d digest.Digest) string {
	hex := d.Hex()
	return path.Join("/blobs", hex[:2], string(d))
}

func manifestPath(repo, reference string) string {
	return path.Join("/manifests", repo, escapeReference(reference))
}

func manifestDirPath(repo string) string {
	return path.Join("/manifests", repo)
}

func uploadDataPath(uploadID string) string {
	return path.Join("/uploads", uploadID, "data")
}

func uploadStatePath(uploadID string) string {
	return path.Join("/uploads", uploadID, "state.json")
}

func uploadDirPath(uploadID string) string {
	return path.Join("/uploads", uploadID)
}

// escapeReference makes a digest's ':' filesystem/object-store safe
// without losing reversibility; tags contain no ':' (reference/reference.go's
// tag grammar excludes it), so this only ever fires for digest references.
func escapeReference(reference string) string {
	out := make([]byte, 0, len(reference))
	for i := 0; i < len(reference); i++ {
		if reference[i] == ':' {
			out = append(out, '@')
			continue
		}
		out = append(out, reference[i])
	}
	return string(out)
}

func unescapeReference(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '@' {
			out = append(out, ':')
			continue
		}
		out = append(out, name[i])
	}
	return string(out)
}
