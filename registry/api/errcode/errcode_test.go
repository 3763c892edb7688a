package errcode

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrorCodeBlobUnknown, http.StatusNotFound},
		{ErrorCodeBlobUploadUnknown, http.StatusNotFound},
		{ErrorCodeManifestUnknown, http.StatusNotFound},
		{ErrorCodeNameUnknown, http.StatusNotFound},
		{ErrorCodeUnauthorized, http.StatusUnauthorized},
		{ErrorCodeDenied, http.StatusForbidden},
		{ErrorCodeDigestInvalid, http.StatusBadRequest},
		{ErrorCodeManifestInvalid, http.StatusBadRequest},
		{ErrorCodeUnsupported, http.StatusBadRequest},
		{ErrorCodeSizeInvalid, http.StatusRequestEntityTooLarge},
		{ErrorCodeRangeInvalid, http.StatusRequestedRangeNotSatisfiable},
		{ErrorCodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.status, tc.code.Descriptor().HTTPStatusCode, tc.code.String())
	}
}

func TestParseErrorCode(t *testing.T) {
	assert.Equal(t, ErrorCodeDigestInvalid, ParseErrorCode("DIGEST_INVALID"))
	assert.Equal(t, ErrorCodeUnknown, ParseErrorCode("NO_SUCH_CODE"))
}

func TestServeJSONEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	err := ServeJSON(rec, ErrorCodeBlobUnknown.WithDetail("sha256:abcd"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Errors []struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Detail  any    `json:"detail"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Errors, 1)
	assert.Equal(t, "BLOB_UNKNOWN", body.Errors[0].Code)
	assert.Equal(t, "sha256:abcd", body.Errors[0].Detail)
	assert.NotEmpty(t, body.Errors[0].Message)
}

func TestErrorsRoundTrip(t *testing.T) {
	in := Errors{ErrorCodeManifestInvalid.WithMessage("bad body")}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out Errors
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Len(t, out, 1)
	coder, ok := out[0].(ErrorCoder)
	require.True(t, ok)
	assert.Equal(t, ErrorCodeManifestInvalid, coder.ErrorCode())
}
