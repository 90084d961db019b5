package view

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/armon/go-radix"
)

var (
	// ErrUnknownCommand is returned for a slash command no entry matches.
	ErrUnknownCommand = errors.New("unknown command")

	errQuit   = errors.New("quit")
	errLogout = errors.New("logout")
)

// AmbiguousCommandError reports a prefix shared by several commands.
type AmbiguousCommandError struct {
	Prefix     string
	Candidates []string
}

func (e *AmbiguousCommandError) Error() string {
	return fmt.Sprintf("%q is ambiguous: %s", e.Prefix, strings.Join(e.Candidates, ", "))
}

// Command is one slash command of the chat view.
type Command struct {
	Name  string
	Usage string
	Run   func(ctx context.Context, c *Chat, args []string) error
}

// CommandTable resolves slash commands by exact name or unique prefix.
type CommandTable struct {
	tree *radix.Tree
}

func NewCommandTable(cmds ...Command) *CommandTable {
	t := &CommandTable{tree: radix.New()}
	for _, cmd := range cmds {
		t.tree.Insert(cmd.Name, cmd)
	}
	return t
}

// Resolve splits a "/name args..." line and finds its command.
func (t *CommandTable) Resolve(line string) (Command, []string, error) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return Command{}, nil, ErrUnknownCommand
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	if v, ok := t.tree.Get(name); ok {
		return v.(Command), args, nil
	}

	var matches []Command
	t.tree.WalkPrefix(name, func(_ string, v interface{}) bool {
		matches = append(matches, v.(Command))
		return false
	})

	switch len(matches) {
	case 0:
		return Command{}, nil, fmt.Errorf("%w: /%s", ErrUnknownCommand, name)
	case 1:
		return matches[0], args, nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = "/" + m.Name
		}
		return Command{}, nil, &AmbiguousCommandError{Prefix: "/" + name, Candidates: names}
	}
}

// Commands returns every entry sorted by name.
func (t *CommandTable) Commands() []Command {
	var out []Command
	t.tree.Walk(func(_ string, v interface{}) bool {
		out = append(out, v.(Command))
		return false
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the "/name" form of every entry, for completion.
func (t *CommandTable) Names() []string {
	cmds := t.Commands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = "/" + c.Name
	}
	return names
}

func method(fn func(*Chat, context.Context, []string) error) func(context.Context, *Chat, []string) error {
	return func(ctx context.Context, c *Chat, args []string) error { return fn(c, ctx, args) }
}

func defaultCommands() *CommandTable {
	return NewCommandTable(
		Command{Name: "attach", Usage: "/attach <path>  attach a file to the next message", Run: method((*Chat).cmdAttach)},
		Command{Name: "detach", Usage: "/detach  drop the pending attachment", Run: method((*Chat).cmdDetach)},
		Command{Name: "dictate", Usage: "/dictate  start dictating into the draft", Run: method((*Chat).cmdDictate)},
		Command{Name: "stop", Usage: "/stop  stop dictation and show the draft", Run: method((*Chat).cmdStop)},
		Command{Name: "profile", Usage: "/profile [name <name> | picture <url|random>]  show or edit your profile", Run: method((*Chat).cmdProfile)},
		Command{Name: "logout", Usage: "/logout  end the session", Run: func(context.Context, *Chat, []string) error { return errLogout }},
		Command{Name: "quit", Usage: "/quit  leave parley", Run: func(context.Context, *Chat, []string) error { return errQuit }},
		Command{Name: "help", Usage: "/help  list commands", Run: method((*Chat).cmdHelp)},
	)
}
