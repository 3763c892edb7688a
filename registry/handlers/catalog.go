package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ocistore/registry/internal/dcontext"
	"github.com/ocistore/registry/reference"
	"github.com/ocistore/registry/registry/api/errcode"
)

// defaultPageSize caps catalog and tags-list responses when the client
// sends no "n" parameter (spec.md §4.8 "Pagination": default 100).
const defaultPageSize = 100

// catalogDispatcher serves GET /v2/_catalog: the paginated repository
// list.
func catalogDispatcher(ctx *Context, r *http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limit, last := paginationParams(r)

		repos, truncated, err := ctx.App.registry.ListRepositories(ctx.Context, last, limit)
		if err != nil {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeUnknown)
			dcontext.GetLogger(ctx.Context).WithError(err).Error("catalog listing failed")
			return
		}
		if repos == nil {
			repos = []string{}
		}

		if truncated {
			w.Header().Set("Link", nextPageLink(ctx.urlBuilder.BuildCatalogURL(), limit, repos[len(repos)-1]))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"repositories": repos})
	})
}

// tagsDispatcher serves GET /v2/<name>/tags/list: the paginated tag
// list for one repository.
func tagsDispatcher(ctx *Context, r *http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		repo := ctx.GetName()
		if err := reference.ValidateName(repo); err != nil {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeNameInvalid.WithDetail(repo))
			return
		}
		limit, last := paginationParams(r)

		tags, truncated, err := ctx.App.registry.ListTags(ctx.Context, repo, last, limit)
		if err != nil {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeUnknown)
			dcontext.GetLogger(ctx.Context).WithError(err).Error("tag listing failed")
			return
		}
		if tags == nil {
			tags = []string{}
		}

		if truncated {
			w.Header().Set("Link", nextPageLink(ctx.urlBuilder.BuildTagsURL(repo), limit, tags[len(tags)-1]))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"name": repo, "tags": tags})
	})
}

// repositoryDispatcher serves DELETE /v2/<name>: bulk removal of every
// tag and manifest under a repository (SPEC_FULL.md §4.14 "repository
// deletion"). Blobs are left for the garbage collector.
func repositoryDispatcher(ctx *Context, r *http.Request) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		repo := ctx.GetName()
		if err := reference.ValidateName(repo); err != nil {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeNameInvalid.WithDetail(repo))
			return
		}

		digests, err := ctx.App.registry.ListManifestDigests(ctx.Context, repo)
		if err != nil {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeUnknown)
			return
		}
		tags, _, err := ctx.App.registry.ListTags(ctx.Context, repo, "", 0)
		if err != nil {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeUnknown)
			return
		}
		if len(digests) == 0 && len(tags) == 0 {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeNameUnknown.WithDetail(repo))
			return
		}

		if err := ctx.App.registry.DeleteRepository(ctx.Context, repo); err != nil {
			ctx.Errors = append(ctx.Errors, errcode.ErrorCodeUnknown)
			dcontext.GetLogger(ctx.Context).WithError(err).Error("repository delete failed")
			return
		}
		ctx.App.manifestCache.InvalidateRepo(repo)

		w.WriteHeader(http.StatusAccepted)
	})
}

func paginationParams(r *http.Request) (limit int, last string) {
	limit = defaultPageSize
	if nStr := r.URL.Query().Get("n"); nStr != "" {
		if n, err := strconv.Atoi(nStr); err == nil && n > 0 {
			limit = n
		}
	}
	return limit, r.URL.Query().Get("last")
}

// nextPageLink renders the RFC 5988 Link header for a truncated listing
// (spec.md §4.8: 'Link: <…>; rel="next"').
func nextPageLink(base string, limit int, last string) string {
	values := url.Values{}
	values.Set("n", strconv.Itoa(limit))
	values.Set("last", last)
	return fmt.Sprintf("<%s?%s>; rel=\"next\"", base, values.Encode())
}
