package relay

import (
	"encoding/json"
	"errors"
	"net/http"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
)

// StatusError carries the HTTP status a handler failure maps to. Any other
// error is reported as 500.
type StatusError struct {
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return e.Message
}

const (
	msgRateLimited   = "Too many requests. Please slow down."
	msgBodyTooLarge  = "Request body too large."
	msgUnauthorized  = "Invalid or missing access token."
	msgUnconfigured  = "No upstream provider configured. Set PARLEY_PROVIDERS_OPENAI_API_KEY."
	msgUpstreamError = "The model provider failed to respond. Please try again."
	msgInternal      = "Internal server error."
)

// writeError writes err as a JSON {error} body, the shape the chat client parses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := msgInternal

	var se *StatusError
	if errors.As(err, &se) {
		status = se.StatusCode
		message = se.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ports.ErrorBody{Error: message})
}
