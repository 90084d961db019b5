package pipeline

import (
	"fmt"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
)

// Composer builds the outgoing message list for a send. It holds no state
// and never touches the store.
type Composer struct{}

// Compose projects history to plain {role, content} entries and appends the
// new user turn, carrying att when present. Attachments on earlier turns are
// never re-sent.
func (Composer) Compose(history []Message, text string, att *EncodedAttachment) []ports.OutgoingMessage {
	out := make([]ports.OutgoingMessage, 0, len(history)+1)
	for _, m := range history {
		out = append(out, ports.OutgoingMessage{
			Role:    string(m.Role),
			Content: ports.TextContent(m.Content),
		})
	}

	return append(out, ports.OutgoingMessage{
		Role:    ports.RoleUser,
		Content: newestContent(text, att),
	})
}

func newestContent(text string, att *EncodedAttachment) ports.MessageContent {
	switch {
	case att == nil:
		return ports.TextContent(text)
	case att.Ref.MediaKind == MediaImage:
		return ports.PartsContent(
			ports.ContentPart{Type: ports.PartText, Text: text},
			ports.ContentPart{Type: ports.PartImage, Image: att.DataURL},
		)
	case att.HasText:
		name := att.Ref.DisplayName
		return ports.TextContent(fmt.Sprintf("%s\n\n--- Content of %s ---\n%s\n--- End of %s ---", text, name, att.Text, name))
	default:
		return ports.TextContent(fmt.Sprintf("%s\n[File attached: %s]", text, att.Ref.DisplayName))
	}
}
