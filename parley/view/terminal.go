// Package view is the terminal surface of the chat client: a login prompt and
// a line-based chat loop that renders the conversation as it streams.
package view

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/parley/parley/config"
	"github.com/ZanzyTHEbar/parley/parley/session"
	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
)

// ErrLoggedOut is returned by Chat when the user ends the session.
var ErrLoggedOut = errors.New("logged out")

// LineReader is the subset of *readline.Instance the view drives.
type LineReader interface {
	Readline() (string, error)
	ReadPassword(prompt string) ([]byte, error)
	SetPrompt(prompt string)
}

// Authenticator signs a user in.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (session.User, error)
}

// Terminal owns the input and output streams shared by the login and chat screens.
type Terminal struct {
	in       LineReader
	out      *console
	notifier *Notifier
	logger   zerolog.Logger
}

func NewTerminal(in LineReader, out io.Writer, logger zerolog.Logger) *Terminal {
	c := &console{w: out}
	return &Terminal{
		in:       in,
		out:      c,
		notifier: &Notifier{out: c},
		logger:   logger,
	}
}

// NewReadline opens an interactive line editor with history and slash-command completion.
func NewReadline(cfg config.ViewConfig) (*readline.Instance, error) {
	if cfg.HistoryFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.HistoryFile), 0o755); err != nil {
			return nil, err
		}
	}

	var items []readline.PrefixCompleterInterface
	for _, name := range defaultCommands().Names() {
		items = append(items, readline.PcItem(name))
	}

	return readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       cfg.HistoryFile,
		AutoComplete:      readline.NewPrefixCompleter(items...),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
}

// Notifier returns the notice sink that prints into this terminal.
func (t *Terminal) Notifier() *Notifier {
	return t.notifier
}

// Login prompts for credentials until a login succeeds. It returns io.EOF
// when the input ends first.
func (t *Terminal) Login(ctx context.Context, auth Authenticator) (session.User, error) {
	t.out.printf("%s\n", titleStyle.Render("Sign in to parley"))

	for {
		if err := ctx.Err(); err != nil {
			return session.User{}, err
		}

		t.in.SetPrompt("Email: ")
		email, err := t.in.Readline()
		if err != nil {
			return session.User{}, inputErr(err)
		}
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}

		password, err := t.in.ReadPassword("Password: ")
		if err != nil {
			return session.User{}, inputErr(err)
		}

		user, err := auth.Login(ctx, email, string(password))
		if errors.Is(err, session.ErrInvalidCredentials) {
			t.out.printf("%s %s\n", errorTitleStyle.Render("Login failed"), "Invalid email or password.")
			continue
		}
		if err != nil {
			return session.User{}, err
		}
		return user, nil
	}
}

// inputErr maps an interrupted prompt to the same outcome as end of input.
func inputErr(err error) error {
	if errors.Is(err, readline.ErrInterrupt) {
		return io.EOF
	}
	return err
}
