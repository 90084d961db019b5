package pipelineports

import (
	"context"
	"encoding/json"
	"fmt"
)

// Roles carried on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Content part types.
const (
	PartText  = "text"
	PartImage = "image"
)

// ContentPart is one element of a structured message body.
type ContentPart struct {
	Type  string `json:"type"`            // "text" | "image"
	Text  string `json:"text,omitempty"`  // set for text parts
	Image string `json:"image,omitempty"` // data URL, set for image parts
}

// MessageContent is either plain text or an ordered list of parts.
// It marshals to a JSON string when Parts is empty and to an array otherwise.
type MessageContent struct {
	Text  string
	Parts []ContentPart
}

// TextContent wraps plain text.
func TextContent(text string) MessageContent {
	return MessageContent{Text: text}
}

// PartsContent wraps a structured body.
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{Parts: parts}
}

// IsStructured reports whether the content is a part list.
func (c MessageContent) IsStructured() bool {
	return len(c.Parts) > 0
}

// PlainText flattens the content to its text parts joined by newlines.
func (c MessageContent) PlainText() string {
	if !c.IsStructured() {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type != PartText || p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.IsStructured() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("decode content parts: %w", err)
		}
		*c = MessageContent{Parts: parts}
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("decode content text: %w", err)
	}
	*c = MessageContent{Text: text}
	return nil
}

// OutgoingMessage is the backend-facing message shape.
type OutgoingMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// Request is the body of one backend call.
type Request struct {
	Messages []OutgoingMessage `json:"messages"`
}

// ErrorBody is the JSON body returned with non-2xx statuses.
type ErrorBody struct {
	Error string `json:"error"`
}

// Delta is one decoded text fragment of a streaming response. A delta with a
// non-nil Err is always the last value on its channel.
type Delta struct {
	Text string
	Err  error
}

// Backend opens exactly one streaming call per request. The returned channel
// is closed by the producer when the stream ends or ctx is cancelled.
type Backend interface {
	Open(ctx context.Context, req Request) (<-chan Delta, error)
}
