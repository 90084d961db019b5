package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rwcarlsen/goexif/exif"
	ignore "github.com/sabhiram/go-gitignore"
)

// AttachmentFile is a file-like object selected by the user.
type AttachmentFile interface {
	Name() string
	Size() int64
	MediaType() string
	Open() (io.ReadCloser, error)
}

// LocalFile is an AttachmentFile backed by a path on disk.
type LocalFile struct {
	path      string
	name      string
	size      int64
	mediaType string
}

// OpenLocalFile stats path and detects its media type from the extension,
// falling back to content sniffing.
func OpenLocalFile(path string) (*LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	f := &LocalFile{
		path: path,
		name: filepath.Base(path),
		size: info.Size(),
	}

	f.mediaType = mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if f.mediaType == "" {
		f.mediaType = sniffMediaType(path)
	}
	return f, nil
}

func sniffMediaType(path string) string {
	fh, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer fh.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(fh, head)
	return http.DetectContentType(head[:n])
}

func (f *LocalFile) Name() string                 { return f.name }
func (f *LocalFile) Size() int64                  { return f.size }
func (f *LocalFile) MediaType() string            { return f.mediaType }
func (f *LocalFile) Open() (io.ReadCloser, error) { return os.Open(f.path) }

// AcceptPolicy decides at selection time whether a file may be attached.
type AcceptPolicy struct {
	maxBytes int64
	docs     *ignore.GitIgnore
}

// NewAcceptPolicy accepts any image plus documents matching the given
// gitignore-style patterns (e.g. "*.pdf"), up to maxBytes.
func NewAcceptPolicy(maxBytes int64, patterns []string) *AcceptPolicy {
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		lowered = append(lowered, strings.ToLower(p))
	}
	return &AcceptPolicy{
		maxBytes: maxBytes,
		docs:     ignore.CompileIgnoreLines(lowered...),
	}
}

// Check returns a *ValidationError when f must not reach the encoder.
func (p *AcceptPolicy) Check(f AttachmentFile) error {
	if f.Size() > p.maxBytes {
		return &ValidationError{Reason: ReasonFileTooLarge}
	}
	if isImage(f.MediaType()) {
		return nil
	}
	if p.docs.MatchesPath(strings.ToLower(f.Name())) {
		return nil
	}
	return &ValidationError{Reason: ReasonUnsupportedFile}
}

// MaxBytes returns the configured size ceiling.
func (p *AcceptPolicy) MaxBytes() int64 {
	return p.maxBytes
}

func isImage(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}

func isText(mediaType string) bool {
	mt, _, _ := mime.ParseMediaType(mediaType)
	return strings.HasPrefix(mt, "text/")
}

// Preview is display metadata for an attachment. It is never sent to the backend.
type Preview struct {
	Locator    string
	Name       string
	Kind       MediaKind
	MediaType  string
	Size       int64
	Width      int
	Height     int
	CapturedAt time.Time
	Camera     string
}

// PreviewRegistry owns preview locators for the lifetime of the view.
// Every Allocate must be paired with a Release.
type PreviewRegistry struct {
	mu      sync.Mutex
	entries map[string]Preview
	ids     IDGenerator
}

// NewPreviewRegistry creates an empty registry.
func NewPreviewRegistry(ids IDGenerator) *PreviewRegistry {
	return &PreviewRegistry{
		entries: make(map[string]Preview),
		ids:     ids,
	}
}

// Allocate stores p under a fresh locator and returns it.
func (r *PreviewRegistry) Allocate(p Preview) string {
	p.Locator = "preview:" + r.ids.NewID()

	r.mu.Lock()
	r.entries[p.Locator] = p
	r.mu.Unlock()

	return p.Locator
}

// Lookup returns the preview for a locator.
func (r *PreviewRegistry) Lookup(locator string) (Preview, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[locator]
	return p, ok
}

// Release frees a locator. Releasing an unknown locator is a no-op.
func (r *PreviewRegistry) Release(locator string) {
	r.mu.Lock()
	delete(r.entries, locator)
	r.mu.Unlock()
}

// Outstanding returns the number of unreleased locators.
func (r *PreviewRegistry) Outstanding() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// EncodedAttachment is an attachment materialized for one request.
type EncodedAttachment struct {
	Ref       AttachmentRef
	MediaType string
	DataURL   string // images only
	Text      string // decoded document text
	HasText   bool
}

// AttachmentEncoder turns selected files into request-ready attachments.
type AttachmentEncoder struct {
	previews *PreviewRegistry
	logger   zerolog.Logger
}

// NewAttachmentEncoder creates an encoder allocating previews from previews.
func NewAttachmentEncoder(previews *PreviewRegistry, logger zerolog.Logger) *AttachmentEncoder {
	return &AttachmentEncoder{
		previews: previews,
		logger:   logger,
	}
}

// Encode reads f fully. Images become a base64 data URL, text documents are
// decoded, other documents are carried by name only. Size is not checked here.
func (e *AttachmentEncoder) Encode(ctx context.Context, f AttachmentFile) (*EncodedAttachment, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, &AttachmentReadError{Name: f.Name(), Err: err}
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &AttachmentReadError{Name: f.Name(), Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mediaType := f.MediaType()
	preview := Preview{
		Name:      f.Name(),
		MediaType: mediaType,
		Size:      int64(len(data)),
	}
	out := &EncodedAttachment{MediaType: mediaType}

	switch {
	case isImage(mediaType):
		preview.Kind = MediaImage
		e.describeImage(&preview, data)
		out.DataURL = "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
	case isText(mediaType):
		preview.Kind = MediaDocument
		out.Text = strings.ToValidUTF8(string(data), "\uFFFD")
		out.HasText = true
	default:
		preview.Kind = MediaDocument
	}

	out.Ref = AttachmentRef{
		DisplayName:    f.Name(),
		MediaKind:      preview.Kind,
		PreviewLocator: e.previews.Allocate(preview),
	}

	e.logger.Debug().
		Str("name", f.Name()).
		Str("media_type", mediaType).
		Int("bytes", len(data)).
		Str("kind", string(preview.Kind)).
		Msg("Encoded attachment")

	return out, nil
}

// describeImage fills in dimensions and, for photos, EXIF capture details.
// Both are best effort.
func (e *AttachmentEncoder) describeImage(p *Preview, data []byte) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		p.Width, p.Height = cfg.Width, cfg.Height
	}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return
	}
	if t, err := x.DateTime(); err == nil {
		p.CapturedAt = t
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if model, err := tag.StringVal(); err == nil {
			p.Camera = strings.TrimSpace(model)
		}
	}
}
