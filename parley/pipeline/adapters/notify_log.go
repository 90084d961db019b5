package adapters

import (
	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
	"github.com/rs/zerolog"
)

// LogNotifier writes notices to a logger. It backs headless runs where no
// view is attached.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(notice ports.Notice) {
	event := n.logger.Info()
	if notice.Level == ports.NoticeError {
		event = n.logger.Warn()
	}
	event.Str("title", notice.Title).Msg(notice.Text)
}

var _ ports.Notifier = (*LogNotifier)(nil)
