package view

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/parley/parley/pipeline"
)

// console serializes writes from the input loop, the renderer and notices.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

// Renderer prints conversation snapshots to a line-oriented terminal. Content
// only ever grows, so each call writes just the part not printed before.
type Renderer struct {
	mu      sync.Mutex
	out     *console
	lookup  func(locator string) (pipeline.Preview, bool)
	printed map[string]int
	last    string // id of the message whose content is still open
}

func newRenderer(out *console, lookup func(string) (pipeline.Preview, bool)) *Renderer {
	return &Renderer{out: out, lookup: lookup, printed: make(map[string]int)}
}

// Render writes whatever is new in snapshot.
func (r *Renderer) Render(snapshot []pipeline.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, m := range snapshot {
		done, seen := r.printed[m.ID]
		if !seen {
			if r.last != "" {
				b.WriteString("\n")
			}
			b.WriteString(r.header(m))
			b.WriteString("\n")
			r.last = m.ID
		}
		if len(m.Content) > done {
			b.WriteString(m.Content[done:])
		}
		r.printed[m.ID] = len(m.Content)
	}
	if b.Len() > 0 {
		r.out.printf("%s", b.String())
	}
}

// Finish closes the open message line so the prompt starts on a fresh line.
func (r *Renderer) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == "" {
		return
	}
	r.out.printf("\n")
	r.last = ""
}

func (r *Renderer) header(m pipeline.Message) string {
	label := assistantLabelStyle.Render("Assistant")
	if m.Role == pipeline.RoleUser {
		label = userLabelStyle.Render("You")
	}
	if m.Attachment == nil {
		return label
	}
	return label + " " + attachmentStyle.Render(r.describe(*m.Attachment))
}

func (r *Renderer) describe(ref pipeline.AttachmentRef) string {
	desc := fmt.Sprintf("[%s: %s]", ref.MediaKind, ref.DisplayName)
	if r.lookup == nil || ref.PreviewLocator == "" {
		return desc
	}
	p, ok := r.lookup(ref.PreviewLocator)
	if !ok {
		return desc
	}
	return desc + " " + previewDetails(p)
}

func previewDetails(p pipeline.Preview) string {
	details := []string{humanSize(p.Size)}
	if p.Width > 0 && p.Height > 0 {
		details = append(details, fmt.Sprintf("%dx%d", p.Width, p.Height))
	}
	if p.Camera != "" {
		details = append(details, p.Camera)
	}
	if !p.CapturedAt.IsZero() {
		details = append(details, p.CapturedAt.Format("2006-01-02"))
	}
	return "(" + strings.Join(details, ", ") + ")"
}

func humanSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
