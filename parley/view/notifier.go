package view

import (
	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
)

// Notifier prints notices inline, between rendered messages.
type Notifier struct {
	out *console
}

func (n *Notifier) Notify(notice ports.Notice) {
	title := infoTitleStyle.Render(notice.Title)
	if notice.Level == ports.NoticeError {
		title = errorTitleStyle.Render(notice.Title)
	}
	n.out.printf("\n%s %s\n", title, notice.Text)
}

func noticeText(title, text string) ports.Notice {
	return ports.Notice{Level: ports.NoticeError, Title: title, Text: text}
}

var _ ports.Notifier = (*Notifier)(nil)
