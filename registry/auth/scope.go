package auth

import (
	"net/http"
	"strings"
)

// RequiredScope derives the scope a request must present, from its
// method and URL path (spec.md §4.9 "Scope derivation from path"). The
// second return value is false for paths that carry no scope
// requirement (the public endpoints listed in spec.md §4.9).
func RequiredScope(method, path string) (Scope, bool) {
	switch {
	case path == "/v2/" || path == "/v2":
		return Scope{}, false

	case path == "/v2/_catalog":
		return Scope{Resource: "registry", Name: "catalog", Action: "*"}, true

	case strings.HasPrefix(path, "/admin/"):
		return Scope{Resource: "registry", Name: "admin", Action: "*"}, true

	default:
		repo, rest, ok := splitV2Path(path)
		if !ok {
			// "/v2/<name>" with no trailing segment: repository
			// deletion (the only method routed there).
			if name := strings.TrimPrefix(path, "/v2/"); name != "" && method == http.MethodDelete {
				return Scope{Resource: "repository", Name: name, Action: "delete"}, true
			}
			return Scope{}, false
		}
		if strings.HasPrefix(rest, "blobs/uploads") {
			return Scope{Resource: "repository", Name: repo, Action: "push"}, true
		}
		if strings.HasPrefix(rest, "blobs/") || strings.HasPrefix(rest, "manifests/") {
			return Scope{Resource: "repository", Name: repo, Action: actionForMethod(method)}, true
		}
		if rest == "tags/list" {
			return Scope{Resource: "repository", Name: repo, Action: "pull"}, true
		}
		return Scope{Resource: "repository", Name: repo, Action: actionForMethod(method)}, true
	}
}

func actionForMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "pull"
	case http.MethodPut, http.MethodPost, http.MethodPatch:
		return "push"
	case http.MethodDelete:
		return "delete"
	default:
		return "pull"
	}
}

// splitV2Path pulls the repository name and the remainder of the path
// out of a "/v2/<name>/<rest...>" URL, where name itself may contain
// slashes (spec.md §3 "Repository name").
func splitV2Path(path string) (repo, rest string, ok bool) {
	const prefix = "/v2/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	trimmed := strings.TrimPrefix(path, prefix)

	for _, marker := range []string{"/blobs/uploads/", "/blobs/uploads", "/blobs/", "/manifests/", "/tags/list"} {
		if idx := strings.Index(trimmed, marker); idx >= 0 {
			repo = trimmed[:idx]
			rest = strings.TrimPrefix(marker, "/") + trimmed[idx+len(marker):]
			return repo, rest, repo != ""
		}
	}
	return "", "", false
}

// PublicPaths are endpoints that never require authorization (spec.md
// §4.9 "Public endpoints").
var PublicPaths = map[string]bool{
	"/health":  true,
	"/readyz":  true,
	"/metrics": true,
}

// IsPublic reports whether method+path requires no authorization at
// all — either a statically public path, or GET/HEAD /v2/ (the API
// probe).
func IsPublic(method, path string) bool {
	if PublicPaths[path] {
		return true
	}
	if (path == "/v2/" || path == "/v2") && (method == http.MethodGet || method == http.MethodHead) {
		return true
	}
	return false
}
