package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error types carried in the envelope's "type" field.
const (
	errInvalidRequest = "invalid_request_error"
	errNotFound       = "not_found_error"
	errAuthentication = "authentication_error"
	errPermission     = "permission_error"
	errInternal       = "api_error"
)

// errorEnvelope is the body of every non-2xx JSON response:
// {"error":{"message":"...","type":"..."}}.
type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, errorEnvelope{Error: errorBody{
		Message: fmt.Sprintf(format, args...),
		Type:    errType,
	}})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
