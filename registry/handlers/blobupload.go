package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ocistore/registry/digest"
	"github.com/ocistore/registry/internal/dcontext"
	"github.com/ocistore/registry/internal/metrics"
	"github.com/ocistore/registry/registry/api/errcode"
	"github.com/ocistore/registry/registry/storage"
)

// blobUploadDispatcher builds the handler for the resumable upload
// endpoints (C5, spec.md §4.5): POST to start (or start+commit), PATCH
// for chunks, PUT to finalize, GET for status, DELETE to cancel.
func blobUploadDispatcher(ctx *Context, r *http.Request) http.Handler {
	uploadHandler := &blobUploadHandler{Context: ctx}

	return handlerForMethods(map[string]http.HandlerFunc{
		http.MethodPost:   uploadHandler.StartBlobUpload,
		http.MethodPatch:  uploadHandler.PatchBlobData,
		http.MethodPut:    uploadHandler.PutBlobUploadComplete,
		http.MethodGet:    uploadHandler.GetUploadStatus,
		http.MethodDelete: uploadHandler.CancelBlobUpload,
	})
}

type blobUploadHandler struct {
	*Context
}

func (buh *blobUploadHandler) maxBytes() int64 {
	return buh.App.Config.Registry.MaxUploadSizeMB * mebibyte
}

// StartBlobUpload opens a new session, or — when ?digest= is present —
// performs the single-request fast path: create, upload, and commit in
// one POST (spec.md §4.5 "Chunked upload (single-request fast path)").
func (buh *blobUploadHandler) StartBlobUpload(w http.ResponseWriter, r *http.Request) {
	release, ok := buh.App.acquireUploadBytes(r.ContentLength)
	if !ok {
		serveTooBusy(w)
		return
	}
	defer release()

	if dgstStr := r.URL.Query().Get("digest"); dgstStr != "" {
		buh.monolithicUpload(w, r, dgstStr)
		return
	}

	desc, err := buh.App.registry.Uploads().Start(buh.Context, buh.GetName())
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown)
		dcontext.GetLogger(buh.Context).WithError(err).Error("upload start failed")
		return
	}
	metrics.UploadsStarted.Inc()

	w.Header().Set("Location", buh.urlBuilder.BuildBlobUploadChunkURL(buh.GetName(), desc.ID))
	w.Header().Set("Docker-Upload-UUID", desc.ID)
	w.Header().Set("Range", "0-0")
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusAccepted)
}

func (buh *blobUploadHandler) monolithicUpload(w http.ResponseWriter, r *http.Request, dgstStr string) {
	expected, err := digest.Parse(dgstStr)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(dgstStr))
		return
	}

	body, err := readLimitedBody(r, buh.maxBytes())
	if err != nil {
		buh.appendBodyError(err)
		return
	}

	if !expected.Verify(body) {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(expected.String()))
		return
	}

	if err := buh.App.registry.Blobs().Put(buh.Context, expected, body); err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown)
		dcontext.GetLogger(buh.Context).WithError(err).Error("monolithic upload commit failed")
		return
	}
	metrics.UploadsCompleted.Inc()

	buh.writeCommitted(w, expected)
}

// PatchBlobData appends one chunk. A Content-Range start that does not
// equal the session's current offset is rejected with RANGE_INVALID and
// the offset is left unchanged (spec.md §4.5, §8 "Boundaries").
func (buh *blobUploadHandler) PatchBlobData(w http.ResponseWriter, r *http.Request) {
	release, ok := buh.App.acquireUploadBytes(r.ContentLength)
	if !ok {
		serveTooBusy(w)
		return
	}
	defer release()

	atOffset := int64(-1)
	rangeEnd := int64(-1)
	if header := r.Header.Get("Content-Range"); header != "" {
		start, end, _, err := parseContentRange(header)
		if err != nil {
			buh.Errors = append(buh.Errors, errcode.ErrorCodeRangeInvalid.WithDetail(header))
			return
		}
		atOffset, rangeEnd = start, end
	}

	chunk, err := readLimitedBody(r, buh.maxBytes())
	if err != nil {
		buh.appendBodyError(err)
		return
	}

	// A declared range must agree with the bytes actually sent; a
	// mismatch means the client's chunk accounting is off.
	if rangeEnd >= 0 && rangeEnd != atOffset+int64(len(chunk))-1 {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeRangeInvalid.WithDetail(
			fmt.Sprintf("range %d-%d does not match body length %d", atOffset, rangeEnd, len(chunk))))
		return
	}

	offset, err := buh.App.registry.Uploads().WriteChunk(buh.Context, buh.GetName(), buh.GetUploadID(), atOffset, chunk)
	if err != nil {
		buh.appendUploadError(err)
		return
	}

	buh.writeUploadStatus(w, offset, http.StatusAccepted)
}

// PutBlobUploadComplete finalizes a session: any trailing body is
// accepted as the last chunk, then the accumulated digest must match
// ?digest= or the commit fails with DIGEST_INVALID and the session
// stays open for retry (spec.md §4.5 "PUT finalizer").
func (buh *blobUploadHandler) PutBlobUploadComplete(w http.ResponseWriter, r *http.Request) {
	release, ok := buh.App.acquireUploadBytes(r.ContentLength)
	if !ok {
		serveTooBusy(w)
		return
	}
	defer release()

	dgstStr := r.URL.Query().Get("digest")
	if dgstStr == "" {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail("digest parameter required"))
		return
	}
	expected, err := digest.Parse(dgstStr)
	if err != nil {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid.WithDetail(dgstStr))
		return
	}

	trailing, err := readLimitedBody(r, buh.maxBytes())
	if err != nil {
		buh.appendBodyError(err)
		return
	}

	committed, err := buh.App.registry.Uploads().Commit(buh.Context, buh.GetName(), buh.GetUploadID(), expected, trailing)
	if err != nil {
		buh.appendUploadError(err)
		return
	}
	metrics.UploadsCompleted.Inc()

	buh.writeCommitted(w, committed)
}

// GetUploadStatus reports the session's current offset (spec.md §4.5
// "GET → status").
func (buh *blobUploadHandler) GetUploadStatus(w http.ResponseWriter, r *http.Request) {
	desc, err := buh.App.registry.Uploads().Status(buh.Context, buh.GetName(), buh.GetUploadID())
	if err != nil {
		buh.appendUploadError(err)
		return
	}
	buh.writeUploadStatus(w, desc.Offset, http.StatusNoContent)
}

// CancelBlobUpload discards the session. Cancelling an already-gone
// session still responds 204, making cancel idempotent (spec.md §8).
func (buh *blobUploadHandler) CancelBlobUpload(w http.ResponseWriter, r *http.Request) {
	err := buh.App.registry.Uploads().Cancel(buh.Context, buh.GetName(), buh.GetUploadID())
	if err != nil && !errors.Is(err, storage.ErrUploadUnknown) {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown)
		dcontext.GetLogger(buh.Context).WithError(err).Error("upload cancel failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (buh *blobUploadHandler) writeUploadStatus(w http.ResponseWriter, offset int64, status int) {
	end := offset - 1
	if end < 0 {
		end = 0
	}
	w.Header().Set("Location", buh.urlBuilder.BuildBlobUploadChunkURL(buh.GetName(), buh.GetUploadID()))
	w.Header().Set("Docker-Upload-UUID", buh.GetUploadID())
	w.Header().Set("Range", fmt.Sprintf("0-%d", end))
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(status)
}

func (buh *blobUploadHandler) writeCommitted(w http.ResponseWriter, dgst digest.Digest) {
	w.Header().Set("Location", buh.urlBuilder.BuildBlobURL(buh.GetName(), dgst.String()))
	w.Header().Set("Docker-Content-Digest", dgst.String())
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusCreated)
}

func (buh *blobUploadHandler) appendBodyError(err error) {
	if errors.Is(err, errBodyTooLarge) {
		buh.Errors = append(buh.Errors, errcode.ErrorCodeSizeInvalid)
		return
	}
	buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadInvalid.WithDetail(err.Error()))
}

func (buh *blobUploadHandler) appendUploadError(err error) {
	switch {
	case errors.Is(err, storage.ErrUploadUnknown):
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadUnknown)
	case errors.Is(err, storage.ErrUploadClosed):
		buh.Errors = append(buh.Errors, errcode.ErrorCodeBlobUploadInvalid.WithDetail("session is no longer open"))
	case errors.Is(err, storage.ErrUploadOffsetMismatch):
		buh.Errors = append(buh.Errors, errcode.ErrorCodeRangeInvalid)
	case errors.Is(err, storage.ErrUploadDigestMismatch):
		buh.Errors = append(buh.Errors, errcode.ErrorCodeDigestInvalid)
	default:
		buh.Errors = append(buh.Errors, errcode.ErrorCodeUnknown)
		dcontext.GetLogger(buh.Context).WithError(err).Error("upload operation failed")
	}
}
