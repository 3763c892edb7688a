package handlers

import (
	"context"
	"net/http"

	"github.com/ocistore/registry/internal/dcontext"
	"github.com/ocistore/registry/registry/api/errcode"
	v2 "github.com/ocistore/registry/registry/api/v2"
)

// Context carries per-request state: the parent App, the request's
// context.Context (logger, request id), any errors accumulated by a
// handler for the automatic JSON error response, and the resolved
// repository name.
type Context struct {
	context.Context

	App    *App
	Errors errcode.Errors

	urlBuilder *v2.URLBuilder
	vars       map[string]string
}

// GetName returns the {name} route variable, the repository this
// request is scoped to ("" for routes without one, e.g. /v2/ and
// /v2/_catalog).
func (c *Context) GetName() string { return c.vars["name"] }

// GetReference returns the {reference} route variable (tag or digest).
func (c *Context) GetReference() string { return c.vars["reference"] }

// GetDigest returns the {digest} route variable.
func (c *Context) GetDigest() string { return c.vars["digest"] }

// GetUploadID returns the {uuid} route variable.
func (c *Context) GetUploadID() string { return c.vars["uuid"] }

func serveJSON(w http.ResponseWriter, err error) {
	if jsonErr := errcode.ServeJSON(w, err); jsonErr != nil {
		dcontext.GetLogger(context.Background()).Errorf("error serving error response: %v", jsonErr)
	}
}
