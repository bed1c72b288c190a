package httputil

import (
	"encoding/json"
	"net/http"
)

// errorBody is the wire shape of every non-2xx JSON response.
type errorBody struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON encodes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes a structured JSON error body. r is accepted for
// symmetry with handlers that want to log the request but is otherwise unused
// here; request-scoped logging happens in the calling middleware.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	WriteJSON(w, status, errorBody{Error: code, Message: message, Details: details})
}

// DecodeJSON decodes the request body into dst, writing a 400 response and
// returning false on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		BadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func NotFound(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusNotFound, "not_found", message, nil)
}

func BadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusBadRequest, "bad_request", message, nil)
}

func Unauthorized(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusUnauthorized, "unauthorized", message, nil)
}

func Conflict(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusConflict, "conflict", message, nil)
}

func ServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusServiceUnavailable, "service_unavailable", message, nil)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusInternalServerError, "internal", message, nil)
}
