// Package upstream adapts hosted and local model APIs to the streaming
// Provider port used by the relay.
package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"
)

// emitter wraps the producer side of a chunk channel.
type emitter struct {
	ctx context.Context
	out chan<- ports.CompletionChunk
}

func (e emitter) text(s string) bool {
	if s == "" {
		return true
	}
	select {
	case e.out <- ports.CompletionChunk{DeltaText: s}:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// finish sends the terminal chunk. Nothing is sent once ctx is cancelled.
func (e emitter) finish(err error) {
	if e.ctx.Err() != nil {
		return
	}
	chunk := ports.CompletionChunk{Done: true}
	if err != nil {
		chunk = ports.CompletionChunk{Err: err}
	}
	select {
	case e.out <- chunk:
	case <-e.ctx.Done():
	}
}

// dataURL is a decoded "data:<media type>;base64,<payload>" image reference.
type dataURL struct {
	MediaType string
	Base64    string
}

func parseDataURL(s string) (dataURL, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return dataURL{}, fmt.Errorf("not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return dataURL{}, fmt.Errorf("data URL has no payload")
	}
	mediaType, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" {
		return dataURL{}, fmt.Errorf("data URL is not base64 encoded")
	}
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return dataURL{MediaType: mediaType, Base64: payload}, nil
}

func (d dataURL) bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(d.Base64)
}
