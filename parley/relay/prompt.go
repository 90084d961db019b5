package relay

import (
	"strings"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
)

// PromptBuilder assembles provider input from the system prompt and the client's messages.
type PromptBuilder struct {
	system string
}

func NewPromptBuilder(system string) *PromptBuilder { return &PromptBuilder{system: system} }

// Build normalizes newlines and whitespace in every text segment. Image parts
// pass through untouched. The input slice is not modified.
func (b *PromptBuilder) Build(messages []ports.OutgoingMessage, meta map[string]string) ports.PromptInput {
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }

	out := make([]ports.OutgoingMessage, len(messages))
	for i, m := range messages {
		content := m.Content
		if content.IsStructured() {
			parts := make([]ports.ContentPart, len(content.Parts))
			for j, p := range content.Parts {
				if p.Type == ports.PartText {
					p.Text = norm(p.Text)
				}
				parts[j] = p
			}
			content = ports.PartsContent(parts...)
		} else {
			content = ports.TextContent(norm(content.Text))
		}
		out[i] = ports.OutgoingMessage{Role: m.Role, Content: content}
	}

	return ports.PromptInput{
		System:   norm(b.system),
		Messages: out,
		Meta:     meta,
	}
}
