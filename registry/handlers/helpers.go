package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ocistore/registry/internal/metrics"
	driver "github.com/ocistore/registry/registry/storage/driver"
)

func isStorageNotFound(err error) bool {
	var pnf driver.PathNotFoundError
	return errors.As(err, &pnf)
}

// errBodyTooLarge distinguishes the size cap from transport errors when
// draining a request body.
var errBodyTooLarge = errors.New("request body exceeds configured maximum")

// readLimitedBody drains r's body up to maxBytes, returning
// errBodyTooLarge once a single byte past the cap arrives (spec.md §8
// "Boundaries": exactly at the limit is accepted, one byte over is not).
func readLimitedBody(r *http.Request, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, errBodyTooLarge
	}
	metrics.BytesIn.Add(float64(len(body)))
	return body, nil
}

// parseContentRange parses "bytes start-end/total", "start-end/total",
// or the bare "start-end" form clients commonly send on PATCH. total is
// -1 when absent or "*" (permitted per DESIGN.md's Open Question
// decision).
func parseContentRange(header string) (start, end, total int64, err error) {
	spec := strings.TrimSpace(strings.TrimPrefix(header, "bytes"))
	spec = strings.TrimSpace(spec)

	total = -1
	if slash := strings.Index(spec, "/"); slash >= 0 {
		totalStr := spec[slash+1:]
		spec = spec[:slash]
		if totalStr != "" && totalStr != "*" {
			total, err = strconv.ParseInt(totalStr, 10, 64)
			if err != nil {
				return 0, 0, 0, err
			}
		}
	}

	dash := strings.Index(spec, "-")
	if dash < 0 {
		return 0, 0, 0, errors.New("malformed content range")
	}
	start, err = strconv.ParseInt(spec[:dash], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	end, err = strconv.ParseInt(spec[dash+1:], 10, 64)
	if err != nil {
		return 0, 0, 0, err
	}
	if start < 0 || end < start {
		return 0, 0, 0, errors.New("malformed content range")
	}
	return start, end, total, nil
}
