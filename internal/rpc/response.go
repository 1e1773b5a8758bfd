package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/fbas-tools/analyzer/internal/analysis"
	"github.com/fbas-tools/analyzer/internal/fbas"
	"github.com/fbas-tools/analyzer/internal/grouping"
	"github.com/fbas-tools/analyzer/internal/logger"
	"github.com/fbas-tools/analyzer/internal/pipeline"
)

const (
	ContentType     = "Content-Type"
	Accept          = "Accept"
	ApplicationJson = "application/json"
	ApplicationCbor = "application/cbor"
)

type (
	ErrorResponse struct {
		Message string `json:"message" cbor:"message"`
	}

	// ResponseWriter encodes bodies in the format the request accepts, JSON
	// unless CBOR is asked for. Log may be nil.
	ResponseWriter struct {
		Log logger.Logger
	}

	bodyEncoding struct {
		contentType string
		encode      func(w io.Writer, v any) error
	}
)

var (
	jsonBody = bodyEncoding{
		contentType: ApplicationJson,
		encode:      func(w io.Writer, v any) error { return json.NewEncoder(w).Encode(v) },
	}
	cborBody = bodyEncoding{
		contentType: ApplicationCbor,
		encode:      func(w io.Writer, v any) error { return cbor.NewEncoder(w).Encode(v) },
	}
)

func negotiate(r *http.Request) bodyEncoding {
	if r != nil && strings.Contains(r.Header.Get(Accept), ApplicationCbor) {
		return cborBody
	}
	return jsonBody
}

// Write sends data with status 200.
func (rw *ResponseWriter) Write(w http.ResponseWriter, r *http.Request, data any) {
	rw.send(w, r, http.StatusOK, data)
}

// Fail reports err with a status derived from its kind. Rejected input is a
// client error, anything else is logged and reported as 500.
func (rw *ResponseWriter) Fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError && rw.Log != nil {
		rw.Log.Error("%s %s: %v", r.Method, r.URL.Path, err)
	}
	rw.Status(w, r, code, err)
}

func (rw *ResponseWriter) InvalidParam(w http.ResponseWriter, r *http.Request, name string, err error) {
	rw.Status(w, r, http.StatusBadRequest, fmt.Errorf("invalid parameter %q: %w", name, err))
}

// Status sends err as the message of an error body with the given code.
func (rw *ResponseWriter) Status(w http.ResponseWriter, r *http.Request, code int, err error) {
	rw.send(w, r, code, ErrorResponse{Message: err.Error()})
}

func (rw *ResponseWriter) send(w http.ResponseWriter, r *http.Request, code int, v any) {
	enc := negotiate(r)
	w.Header().Set(ContentType, enc.contentType)
	w.WriteHeader(code)
	if err := enc.encode(w, v); err != nil && rw.Log != nil {
		// headers are out, the client sees a truncated body
		rw.Log.Warning("encoding %s response: %v", enc.contentType, err)
	}
}

func statusOf(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pipeline.ErrParse),
		errors.Is(err, fbas.ErrInvalidFbas),
		errors.Is(err, grouping.ErrInvalidDescription),
		errors.Is(err, analysis.ErrTooManyNodes):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
