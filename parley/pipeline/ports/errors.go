package pipelineports

import "fmt"

// BackendRequestError reports a non-2xx backend response received before
// streaming began. Message is the server-reported error when one was sent.
type BackendRequestError struct {
	StatusCode int
	Message    string
}

func (e *BackendRequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend request failed with status %d", e.StatusCode)
	}
	return e.Message
}

// StreamInterruptedError reports a transport failure after streaming began.
type StreamInterruptedError struct {
	Err error
}

func (e *StreamInterruptedError) Error() string {
	if e.Err == nil {
		return "stream interrupted"
	}
	return fmt.Sprintf("stream interrupted: %v", e.Err)
}

func (e *StreamInterruptedError) Unwrap() error { return e.Err }
