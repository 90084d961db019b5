// Package parley holds application-wide defaults shared by the config,
// session, relay and view packages.
package parley

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName = "parley"

	// MaxAttachmentBytes is the selection-time ceiling for a single attachment (10 MiB).
	MaxAttachmentBytes int64 = 10 << 20

	DefaultBackendURL  = "http://127.0.0.1:8787/api/chat"
	DefaultRelayAddr   = ":8787"
	DefaultRelayModel  = "gpt-4o"
	DefaultSpeechLang  = "en-US"
	DefaultLoginEmail  = "test@example.com"
	DefaultLoginSecret = "password123"
	DefaultDisplayName = "Test User"

	DefaultSystemPrompt = "You are a helpful assistant that can analyze images and answer questions about them."

	// DefaultAttachmentText is used as the user text when a file is sent with an empty draft.
	DefaultAttachmentText = "Attached file"
)

var (
	DefaultConfigPath  = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDataDir     = filepath.Join(userDataDir(), DefaultAppName)
	DefaultDatabaseDSN = "file:" + filepath.Join(DefaultDataDir, "profiles.db")
	DefaultHistoryFile = filepath.Join(DefaultDataDir, "readline.history")
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return os.TempDir()
}

func userDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share")
	}
	return os.TempDir()
}
