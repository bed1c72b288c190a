package httputil

import (
	"context"
	"net/http"

	"github.com/riftwatch/easm/internal/platform/apierr"
	"github.com/riftwatch/easm/pkg/logger"
)

// handleError logs the error and writes the appropriate HTTP status. Errors
// produced by domain/storage code are apierr.Error values; anything else maps
// to a 500 so a forgotten error type never leaks internal detail.
func handleError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	HandleError(w, r, log, err)
}

// HandleError is the exported form of handleError, for callers that build
// their own response (non-200 success statuses) and only need the shared
// error-mapping path.
func HandleError(w http.ResponseWriter, r *http.Request, log *logger.Logger, err error) {
	if log != nil {
		log.WithField("path", r.URL.Path).WithError(err).Error("handler failed")
	}

	if apiErr, ok := err.(*apierr.Error); ok {
		WriteErrorResponse(w, r, apierr.HTTPStatus(apiErr), string(apiErr.Kind), apiErr.Message, nil)
		return
	}
	InternalError(w, "internal server error")
}

// HandleJSON decodes a JSON request body into Req, calls fn, and writes the
// result as a JSON response. It eliminates the repeated
// decode → execute → respond boilerplate.
func HandleJSON[Req any, Resp any](
	log *logger.Logger,
	fn func(ctx context.Context, req *Req) (Resp, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if !DecodeJSON(w, r, &req) {
			return
		}
		resp, err := fn(r.Context(), &req)
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleNoBody handles requests that carry no JSON body (typically GET).
// It calls fn and writes the result as JSON.
func HandleNoBody[Resp any](
	log *logger.Logger,
	fn func(ctx context.Context) (Resp, error),
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := fn(r.Context())
		if err != nil {
			handleError(w, r, log, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// DecodeAndValidate decodes JSON and runs a validation function.
func DecodeAndValidate(w http.ResponseWriter, r *http.Request, req interface{}, validate func() error) bool {
	if !DecodeJSON(w, r, req) {
		return false
	}
	if err := validate(); err != nil {
		BadRequest(w, err.Error())
		return false
	}
	return true
}

// RespondCreated writes a 201 Created response with the given data.
func RespondCreated(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusCreated, data)
}

// RespondNoContent writes a 204 No Content response.
func RespondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// RequireJSONContentType checks that the request has application/json content type.
func RequireJSONContentType(w http.ResponseWriter, r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		BadRequest(w, "Content-Type must be application/json")
		return false
	}
	return true
}
