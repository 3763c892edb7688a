// Package v2 defines the OCI Distribution endpoint shape (C8, spec.md
// §4.8): route names, URL patterns, and the router that wires them,
// independent of the handler implementations in registry/handlers.
package v2

import (
	"github.com/gorilla/mux"
)

// Route names, used both to build the router and to reverse-generate
// URLs (Location headers, pagination Link headers) via mux's named
// routes.
const (
	RouteNameBase             = "base"
	RouteNameManifest         = "manifest"
	RouteNameTags             = "tags"
	RouteNameBlob             = "blob"
	RouteNameBlobUpload       = "blob-upload"
	RouteNameBlobUploadChunk  = "blob-upload-chunk"
	RouteNameCatalog          = "catalog"
	RouteNameRepository       = "repository"
	RouteNameAdminGC          = "admin-gc"
	RouteNameAdminGCStatus    = "admin-gc-status"
)

// nameRegexp matches spec.md §3 "Repository name": slash-separated path
// components, each starting/ending alphanumeric, joined by ".", "_",
// "__", or a run of "-".
const nameRegexp = `[a-z0-9]+(?:(?:[._]|__|[-]+)[a-z0-9]+)*(?:/[a-z0-9]+(?:(?:[._]|__|[-]+)[a-z0-9]+)*)*`

// referenceRegexp matches either a tag or a digest (spec.md §3
// "Reference"): tag chars, or an algorithm name, ":" and hex of either
// case. The digest form is validated further by the handlers.
const referenceRegexp = `[A-Za-z0-9_][A-Za-z0-9._-]{0,127}|[A-Za-z0-9_+.-]+:[A-Fa-f0-9]+`

// Router builds the mux.Router serving every C8 endpoint. Handlers are
// registered separately by name via router.Get(name).Handler(...); this
// function only fixes the path shape, methods, and route names.
func Router() *mux.Router {
	r := mux.NewRouter()

	r.Path("/v2/").Name(RouteNameBase).Methods("GET")
	r.Path("/v2/_catalog").Name(RouteNameCatalog).Methods("GET")

	r.Path("/v2/{name:" + nameRegexp + "}/tags/list").
		Name(RouteNameTags).Methods("GET")

	r.Path("/v2/{name:" + nameRegexp + "}/manifests/{reference:" + referenceRegexp + "}").
		Name(RouteNameManifest).Methods("GET", "HEAD", "PUT", "DELETE")

	r.Path("/v2/{name:" + nameRegexp + "}/blobs/{digest:[A-Za-z0-9_+.-]+:[A-Fa-f0-9]+}").
		Name(RouteNameBlob).Methods("GET", "HEAD", "DELETE")

	r.Path("/v2/{name:" + nameRegexp + "}/blobs/uploads/").
		Name(RouteNameBlobUpload).Methods("POST")

	r.Path("/v2/{name:" + nameRegexp + "}/blobs/uploads/{uuid}").
		Name(RouteNameBlobUploadChunk).Methods("GET", "PATCH", "PUT", "DELETE")

	// Registered after every more specific /v2 route so that tags/,
	// manifests/, and blobs/ segments never match as a repository name.
	r.Path("/v2/{name:" + nameRegexp + "}").
		Name(RouteNameRepository).Methods("DELETE")

	r.Path("/admin/gc").Name(RouteNameAdminGC).Methods("POST")
	r.Path("/admin/gc/status").Name(RouteNameAdminGCStatus).Methods("GET")

	return r
}
