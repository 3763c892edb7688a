package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ocistore/registry/digest"
	"github.com/ocistore/registry/internal/dcontext"
	"github.com/ocistore/registry/internal/metrics"
	"github.com/ocistore/registry/registry/api/errcode"
)

// blobDispatcher builds the handler for GET/HEAD/DELETE
// /v2/<name>/blobs/<digest> (C7, spec.md §4.7).
func blobDispatcher(ctx *Context, r *http.Request) http.Handler {
	blobHandler := &blobHandler{Context: ctx}

	return handlerForMethods(map[string]http.HandlerFunc{
		http.MethodGet:    blobHandler.GetBlob,
		http.MethodHead:   blobHandler.GetBlob,
		http.MethodDelete: blobHandler.DeleteBlob,
	})
}

type blobHandler struct {
	*Context
}

// GetBlob serves blob content with digest headers, honoring a single
// "bytes=a-b" range when present. Blob reads are global; the repository
// in the URL only scopes authorization (spec.md §4.7).
func (bh *blobHandler) GetBlob(w http.ResponseWriter, r *http.Request) {
	dgst, err := digest.Parse(bh.GetDigest())
	if err != nil {
		bh.Errors = append(bh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(bh.GetDigest()))
		return
	}

	meta, err := bh.App.registry.Blobs().Metadata(bh.Context, dgst)
	if err != nil {
		if isStorageNotFound(err) {
			bh.Errors = append(bh.Errors, errcode.ErrorCodeBlobUnknown.WithDetail(dgst.String()))
			return
		}
		bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown)
		dcontext.GetLogger(bh.Context).WithError(err).Error("blob stat failed")
		return
	}

	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Accept-Ranges", "bytes")

	if start, end, ok, valid := parseRangeHeader(r.Header.Get("Range"), meta.Size); ok {
		if !valid {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", meta.Size))
			bh.Errors = append(bh.Errors, errcode.ErrorCodeRangeInvalid)
			return
		}
		bh.serveRange(w, r, dgst, start, end, meta.Size)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	reader, err := bh.App.registry.Blobs().Reader(bh.Context, dgst, 0)
	if err != nil {
		bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown)
		dcontext.GetLogger(bh.Context).WithError(err).Error("blob read failed")
		return
	}
	defer reader.Close()

	n, err := io.Copy(w, reader)
	metrics.BytesOut.Add(float64(n))
	if err != nil {
		dcontext.GetLogger(bh.Context).WithError(err).Warn("blob response interrupted")
	}
}

func (bh *blobHandler) serveRange(w http.ResponseWriter, r *http.Request, dgst digest.Digest, start, end, size int64) {
	length := end - start + 1
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return
	}

	reader, err := bh.App.registry.Blobs().Reader(bh.Context, dgst, start)
	if err != nil {
		dcontext.GetLogger(bh.Context).WithError(err).Error("blob range read failed")
		return
	}
	defer reader.Close()

	n, err := io.Copy(w, io.LimitReader(reader, length))
	metrics.BytesOut.Add(float64(n))
	if err != nil {
		dcontext.GetLogger(bh.Context).WithError(err).Warn("blob range response interrupted")
	}
}

// DeleteBlob removes the blob synchronously (DESIGN.md Open Question
// decision) and responds 202 Accepted per spec.md §4.7.
func (bh *blobHandler) DeleteBlob(w http.ResponseWriter, r *http.Request) {
	dgst, err := digest.Parse(bh.GetDigest())
	if err != nil {
		bh.Errors = append(bh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(bh.GetDigest()))
		return
	}

	exists, err := bh.App.registry.Blobs().Exists(bh.Context, dgst)
	if err != nil {
		bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown)
		return
	}
	if !exists {
		bh.Errors = append(bh.Errors, errcode.ErrorCodeBlobUnknown.WithDetail(dgst.String()))
		return
	}

	if err := bh.App.registry.Blobs().Delete(bh.Context, dgst); err != nil {
		bh.Errors = append(bh.Errors, errcode.ErrorCodeUnknown)
		dcontext.GetLogger(bh.Context).WithError(err).Error("blob delete failed")
		return
	}

	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.WriteHeader(http.StatusAccepted)
}

// parseRangeHeader parses a single "bytes=a-b" request range. ok
// reports whether a range was requested at all; valid whether it is
// satisfiable against size.
func parseRangeHeader(header string, size int64) (start, end int64, ok, valid bool) {
	if header == "" {
		return 0, 0, false, false
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, true, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		// Multi-range requests are not supported; serve as invalid so
		// the client falls back to a full read.
		return 0, 0, true, false
	}
	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, true, false
	}
	startStr, endStr := spec[:dash], spec[dash+1:]
	if startStr == "" {
		// Suffix range "bytes=-n": last n bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, true, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true, size > 0
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, true, false
	}
	if endStr == "" {
		end = size - 1
	} else {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil {
			return 0, 0, true, false
		}
	}
	if start > end || start >= size {
		return 0, 0, true, false
	}
	if end >= size {
		end = size - 1
	}
	return start, end, true, true
}

// handlerForMethods routes by method, responding 405 for anything the
// route accepts but the handler set does not.
func handlerForMethods(byMethod map[string]http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := byMethod[r.Method]; ok {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}
