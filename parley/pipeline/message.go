package pipeline

import ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = ports.RoleUser
	RoleAssistant Role = ports.RoleAssistant
)

// MediaKind classifies an attachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
)

// AttachmentRef is the display-side record of a file attached to a message.
type AttachmentRef struct {
	DisplayName    string
	MediaKind      MediaKind
	PreviewLocator string
}

// Message is one entry in the conversation. ID never changes once assigned.
type Message struct {
	ID         string
	Role       Role
	Content    string
	Attachment *AttachmentRef
}

func (m Message) clone() Message {
	if m.Attachment != nil {
		ref := *m.Attachment
		m.Attachment = &ref
	}
	return m
}
