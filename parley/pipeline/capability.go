package pipeline

import ports "github.com/ZanzyTHEbar/parley/parley/pipeline/ports"

// SpeechCapability is resolved once at startup: either a recognizer handle
// is available or it is not.
type SpeechCapability struct {
	handle ports.Recognizer
}

// Available wraps a present recognizer.
func Available(r ports.Recognizer) SpeechCapability {
	return SpeechCapability{handle: r}
}

// Unavailable reports that the host has no speech recognition.
func Unavailable() SpeechCapability {
	return SpeechCapability{}
}

// Resolve returns the recognizer and whether it exists.
func (c SpeechCapability) Resolve() (ports.Recognizer, bool) {
	return c.handle, c.handle != nil
}
