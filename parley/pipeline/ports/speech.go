package pipelineports

import "context"

// TranscriptEvent is one recognition update. Transcript holds the full text
// recognized so far in the session, interim or final.
type TranscriptEvent struct {
	Transcript string
	Final      bool
	Err        error
}

// Recognizer is a host speech-recognition engine.
type Recognizer interface {
	// Start begins a recognition session. The channel is closed when the
	// session ends, after Stop, or when ctx is cancelled.
	Start(ctx context.Context) (<-chan TranscriptEvent, error)
	Stop() error
}
