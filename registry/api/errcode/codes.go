package errcode

import "net/http"

// Error codes, per spec.md §7. HTTP mapping follows the same section:
// *_UNKNOWN -> 404, UNAUTHORIZED -> 401, DENIED -> 403,
// UNSUPPORTED|*_INVALID -> 400, SIZE_INVALID -> 413, RANGE_INVALID -> 416,
// UNKNOWN -> 500. Backpressure uses 503 directly, not a registered code.
var (
	ErrorCodeUnknown = register(ErrorDescriptor{
		Value:          "UNKNOWN",
		Message:        "unknown error",
		Description:    "Generic error returned when no situation-specific error applies.",
		HTTPStatusCode: http.StatusInternalServerError,
	})

	ErrorCodeBlobUnknown = register(ErrorDescriptor{
		Value:          "BLOB_UNKNOWN",
		Message:        "blob unknown to registry",
		Description:    "This error is returned when a blob is unknown to the registry in a specified repository.",
		HTTPStatusCode: http.StatusNotFound,
	})

	ErrorCodeBlobUploadUnknown = register(ErrorDescriptor{
		Value:          "BLOB_UPLOAD_UNKNOWN",
		Message:        "blob upload unknown to registry",
		Description:    "If a blob upload has been cancelled or was never started, this error code may be returned.",
		HTTPStatusCode: http.StatusNotFound,
	})

	ErrorCodeBlobUploadInvalid = register(ErrorDescriptor{
		Value:          "BLOB_UPLOAD_INVALID",
		Message:        "blob upload invalid",
		Description:    "The blob upload encountered an error and can no longer proceed.",
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeDigestInvalid = register(ErrorDescriptor{
		Value:          "DIGEST_INVALID",
		Message:        "provided digest did not match uploaded content",
		Description:    "When a blob is uploaded, the registry will check that the content matches the digest provided.",
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeManifestUnknown = register(ErrorDescriptor{
		Value:          "MANIFEST_UNKNOWN",
		Message:        "manifest unknown",
		Description:    "This error is returned when the manifest, identified by name and tag, is unknown to the repository.",
		HTTPStatusCode: http.StatusNotFound,
	})

	ErrorCodeManifestInvalid = register(ErrorDescriptor{
		Value:          "MANIFEST_INVALID",
		Message:        "manifest invalid",
		Description:    "This error is returned when the manifest is malformed in some way, including an empty body or an unsupported media type.",
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeManifestUnverified = register(ErrorDescriptor{
		Value:          "MANIFEST_UNVERIFIED",
		Message:        "manifest failed signature verification",
		Description:    "The provided manifest's digest did not match the manifest body.",
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeNameUnknown = register(ErrorDescriptor{
		Value:          "NAME_UNKNOWN",
		Message:        "repository name not known to registry",
		Description:    "This error is returned if the name used during an operation is unknown to the registry.",
		HTTPStatusCode: http.StatusNotFound,
	})

	ErrorCodeNameInvalid = register(ErrorDescriptor{
		Value:          "NAME_INVALID",
		Message:        "invalid repository name",
		Description:    "Invalid repository name encountered either during manifest validation or in a request.",
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeTagInvalid = register(ErrorDescriptor{
		Value:          "TAG_INVALID",
		Message:        "manifest tag did not match URI",
		Description:    "The tag used in the URI does not match spec.md's tag grammar.",
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeUnauthorized = register(ErrorDescriptor{
		Value:          "UNAUTHORIZED",
		Message:        "authentication required",
		Description:    "The access controller was unable to authenticate the client. Often accompanied by a WWW-Authenticate header.",
		HTTPStatusCode: http.StatusUnauthorized,
	})

	ErrorCodeDenied = register(ErrorDescriptor{
		Value:          "DENIED",
		Message:        "requested access to the resource is denied",
		Description:    "The access controller denied access for the operation on a resource.",
		HTTPStatusCode: http.StatusForbidden,
	})

	ErrorCodeUnsupported = register(ErrorDescriptor{
		Value:          "UNSUPPORTED",
		Message:        "the operation is unsupported",
		Description:    "The operation was unsupported due to a missing implementation or invalid set of parameters.",
		HTTPStatusCode: http.StatusBadRequest,
	})

	ErrorCodeSizeInvalid = register(ErrorDescriptor{
		Value:          "SIZE_INVALID",
		Message:        "provided length did not match content length",
		Description:    "Request body exceeded the configured max_upload_size_mb.",
		HTTPStatusCode: http.StatusRequestEntityTooLarge,
	})

	ErrorCodeRangeInvalid = register(ErrorDescriptor{
		Value:          "RANGE_INVALID",
		Message:        "invalid content range",
		Description:    "The Content-Range header did not match the upload session's current offset.",
		HTTPStatusCode: http.StatusRequestedRangeNotSatisfiable,
	})
)
