package pipeline

import (
	"errors"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
)

const (
	textSpeechUnsupported = "Speech recognition is not supported on this system."
	textSpeechFailed      = "Failed to recognize speech. Please try again."
	textFileTooLarge      = "Please select a file smaller than 10MB."
	textFileUnsupported   = "Please select an image, PDF, DOC, DOCX or TXT file."
	textAttachmentFailed  = "Failed to process file"
	textInterrupted       = "The response was interrupted."
	textBackendFailed     = "Failed to get a response. Please try again."
	textUnexpected        = "Something went wrong while handling the response."
)

// noticeFor converts a turn failure into the notice shown to the user.
func noticeFor(err error) ports.Notice {
	var (
		readErr    *AttachmentReadError
		backendErr *BackendRequestError
		streamErr  *StreamInterruptedError
	)

	switch {
	case errors.As(err, &readErr):
		return ports.Notice{Level: ports.NoticeError, Title: "Error", Text: textAttachmentFailed}
	case errors.As(err, &backendErr):
		text := backendErr.Message
		if text == "" {
			text = textBackendFailed
		}
		return ports.Notice{Level: ports.NoticeError, Title: "Error", Text: text}
	case errors.As(err, &streamErr):
		return ports.Notice{Level: ports.NoticeError, Title: "Interrupted", Text: textInterrupted}
	default:
		return ports.Notice{Level: ports.NoticeError, Title: "Error", Text: textUnexpected}
	}
}
