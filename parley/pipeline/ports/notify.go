package pipelineports

// NoticeLevel classifies a user-visible notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeError
)

func (l NoticeLevel) String() string {
	if l == NoticeError {
		return "error"
	}
	return "info"
}

// Notice is a transient user-visible message.
type Notice struct {
	Level NoticeLevel
	Title string
	Text  string
}

// Notifier delivers notices to whatever surface the user is looking at.
type Notifier interface {
	Notify(n Notice)
}
