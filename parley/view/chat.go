package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/parley/parley/pipeline"
	"github.com/ZanzyTHEbar/parley/parley/session"
	"github.com/chzyer/readline"
	"github.com/rs/zerolog"
)

// Profile is the signed-in session as the chat screen sees it.
type Profile interface {
	CurrentUser() (session.User, bool)
	UpdateProfile(ctx context.Context, update session.ProfileUpdate) (session.User, error)
	Logout(ctx context.Context) error
}

// Chat is one run of the chat screen over a single conversation view.
type Chat struct {
	term     *Terminal
	orch     *pipeline.Orchestrator
	profile  Profile
	render   *Renderer
	commands *CommandTable
	logger   zerolog.Logger
}

// Chat runs the chat loop until the user quits (nil), logs out (ErrLoggedOut)
// or ctx ends. Store changes are rendered as they happen, so a streaming reply
// appears incrementally.
func (t *Terminal) Chat(ctx context.Context, orch *pipeline.Orchestrator, profile Profile) error {
	c := &Chat{
		term:     t,
		orch:     orch,
		profile:  profile,
		render:   newRenderer(t.out, orch.Previews().Lookup),
		commands: defaultCommands(),
		logger:   t.logger.With().Str("component", "view").Logger(),
	}

	changes, unsubscribe := orch.Store().Subscribe()
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for range changes {
			c.render.Render(orch.Store().Snapshot())
		}
	}()
	defer func() {
		unsubscribe()
		<-rendered
	}()

	if u, ok := profile.CurrentUser(); ok {
		t.out.printf("%s %s\n", titleStyle.Render("parley"), dimStyle.Render("signed in as "+u.Name+"  /help for commands"))
	}
	t.in.SetPrompt("> ")

	for {
		line, err := t.in.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if strings.TrimSpace(line) == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		err = c.handle(ctx, line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return nil
		case errors.Is(err, errLogout):
			if err := profile.Logout(ctx); err != nil && !errors.Is(err, session.ErrNoSession) {
				return err
			}
			return ErrLoggedOut
		case errors.Is(err, pipeline.ErrClosed):
			return ErrLoggedOut
		case err != nil:
			return err
		}
	}
}

func (c *Chat) handle(ctx context.Context, line string) error {
	if strings.HasPrefix(strings.TrimSpace(line), "/") {
		cmd, args, err := c.commands.Resolve(line)
		var ambiguous *AmbiguousCommandError
		switch {
		case errors.As(err, &ambiguous):
			c.hint(ambiguous.Error())
			return nil
		case err != nil:
			c.hint(err.Error() + ", try /help")
			return nil
		}
		return cmd.Run(ctx, c, args)
	}
	return c.send(ctx, line)
}

// send replaces the draft with line, or keeps the current draft when line is
// empty, and waits for the resulting turn to settle.
func (c *Chat) send(ctx context.Context, line string) error {
	if strings.TrimSpace(line) != "" {
		c.orch.StopDictation()
		c.orch.SetDraft(line)
	}

	turn, err := c.orch.Send()
	var verr *pipeline.ValidationError
	if errors.As(err, &verr) {
		if verr.Reason == pipeline.ReasonTurnInFlight {
			c.hint("A response is still streaming.")
		}
		return nil
	}
	if err != nil {
		return err
	}

	select {
	case <-turn.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	c.render.Render(c.orch.Store().Snapshot())
	c.render.Finish()
	c.logger.Debug().Str("turn_id", turn.ID).Str("state", turn.State().String()).Msg("Turn finished")
	return nil
}

func (c *Chat) cmdAttach(_ context.Context, args []string) error {
	if len(args) == 0 {
		c.hint(fmt.Sprintf("usage: /attach <path>  (images, PDF, DOC, DOCX or TXT up to %s)", humanSize(c.orch.MaxAttachmentBytes())))
		return nil
	}
	path := strings.Join(args, " ")

	f, err := pipeline.OpenLocalFile(path)
	if err != nil {
		c.term.notifier.Notify(noticeText("Error", fmt.Sprintf("Cannot open %s: %v", path, err)))
		return nil
	}
	if err := c.orch.SelectFile(f); err != nil {
		var verr *pipeline.ValidationError
		if errors.As(err, &verr) {
			return nil
		}
		return err
	}
	c.hint(fmt.Sprintf("Attached %s (%s). It will be sent with your next message.", f.Name(), humanSize(f.Size())))
	return nil
}

func (c *Chat) cmdDetach(context.Context, []string) error {
	if c.orch.Pending().File == nil {
		c.hint("No file attached.")
		return nil
	}
	c.orch.ClearFile()
	c.hint("Attachment removed.")
	return nil
}

func (c *Chat) cmdDictate(context.Context, []string) error {
	if err := c.orch.StartDictation(); err != nil {
		// Unsupported and failed starts have already been reported as notices.
		if errors.Is(err, pipeline.ErrClosed) {
			return err
		}
		return nil
	}
	c.hint("Listening. /stop to finish, then press enter to send.")
	return nil
}

func (c *Chat) cmdStop(context.Context, []string) error {
	c.orch.StopDictation()
	draft := c.orch.Pending().Draft
	if draft == "" {
		c.hint("Draft is empty.")
		return nil
	}
	c.hint("Draft: " + draft)
	return nil
}

func (c *Chat) cmdProfile(ctx context.Context, args []string) error {
	if len(args) == 0 {
		u, ok := c.profile.CurrentUser()
		if !ok {
			return pipeline.ErrClosed
		}
		c.term.out.printf("%s <%s>\n%s\n", u.Name, u.Email, dimStyle.Render(u.ProfilePicture))
		return nil
	}

	var update session.ProfileUpdate
	value := strings.TrimSpace(strings.Join(args[1:], " "))
	switch strings.ToLower(args[0]) {
	case "name":
		update.Name = &value
	case "picture":
		if value == "random" {
			value = session.RandomAvatarURL()
		}
		update.ProfilePicture = &value
	default:
		c.hint("usage: /profile [name <name> | picture <url|random>]")
		return nil
	}

	u, err := c.profile.UpdateProfile(ctx, update)
	if err != nil {
		c.term.notifier.Notify(noticeText("Error", "Failed to update profile: "+err.Error()))
		return nil
	}
	c.hint("Profile updated: " + u.Name)
	return nil
}

func (c *Chat) cmdHelp(context.Context, []string) error {
	var b strings.Builder
	for _, cmd := range c.commands.Commands() {
		b.WriteString("  " + cmd.Usage + "\n")
	}
	b.WriteString(dimStyle.Render("  A plain line sends it. An empty line sends the dictated draft.") + "\n")
	if !c.orch.Dictation().Supported() {
		b.WriteString(dimStyle.Render("  Dictation is unavailable: no speech endpoint is configured.") + "\n")
	}
	c.term.out.printf("%s", b.String())
	return nil
}

func (c *Chat) hint(text string) {
	c.term.out.printf("%s\n", dimStyle.Render(text))
}
