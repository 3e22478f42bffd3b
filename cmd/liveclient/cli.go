package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/Rrens/classroom-live/internal/apiclient"
	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/Rrens/classroom-live/internal/live"
	"github.com/Rrens/classroom-live/internal/reaction"
	"github.com/Rrens/classroom-live/internal/room"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type cli struct {
	classroom *live.Classroom
	api       *apiclient.Client
	flags     *pflag.FlagSet
	out       io.Writer
	in        io.Reader
}

func (c *cli) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "sessions":
		return c.sessions(ctx)
	case "create":
		return c.create(ctx)
	case "start":
		return c.transition(ctx, args, domain.StatusLive)
	case "end":
		return c.transition(ctx, args, domain.StatusEnded)
	case "delete":
		return c.delete(ctx, args)
	case "sync":
		return c.sync(ctx)
	case "watch":
		return c.watch(ctx)
	case "join":
		return c.join(ctx, args)
	}
	return fmt.Errorf("unknown command %q", command)
}

func (c *cli) sessions(ctx context.Context) error {
	sessions, err := c.classroom.Registry().List(ctx)
	if err != nil {
		return err
	}
	c.printSessions(sessions)
	return nil
}

func (c *cli) printSessions(sessions []domain.LiveSession) {
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTS\tTITLE")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Status, s.StartsAt.Local().Format(time.RFC822), s.Title)
	}
	w.Flush()
}

func (c *cli) create(ctx context.Context) error {
	title, _ := c.flags.GetString("title")
	description, _ := c.flags.GetString("description")
	input := domain.SessionCreate{Title: title, Description: description}

	startsAt, err := c.timeFlag("starts-at")
	if err != nil {
		return err
	}
	input.StartsAt = startsAt
	if input.EndsAt, err = c.timeFlag("ends-at"); err != nil {
		return err
	}

	session, err := c.classroom.Registry().Create(ctx, input)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "created %s (%s)\n", session.ID, session.Status)
	return nil
}

func (c *cli) timeFlag(name string) (*time.Time, error) {
	raw, _ := c.flags.GetString(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, domain.NewValidationError(name, "must be an RFC3339 timestamp")
	}
	return &t, nil
}

func (c *cli) transition(ctx context.Context, args []string, status domain.SessionStatus) error {
	id, err := parseSessionID(args)
	if err != nil {
		return err
	}
	session, err := c.classroom.Registry().Update(ctx, id, domain.StatusUpdate(status))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s is now %s\n", session.ID, session.Status)
	return nil
}

func (c *cli) delete(ctx context.Context, args []string) error {
	id, err := parseSessionID(args)
	if err != nil {
		return err
	}
	if err := c.classroom.Registry().Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%w (end the session first, or pass --privileged)", err)
		}
		return err
	}
	fmt.Fprintf(c.out, "deleted %s\n", id)
	return nil
}

func (c *cli) sync(ctx context.Context) error {
	result, err := c.api.SyncSessions(ctx, c.classroom.Registry().Slug())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "activated %d, ended %d\n", result.Activated, result.Ended)
	return c.classroom.Registry().Refresh(ctx)
}

func (c *cli) watch(ctx context.Context) error {
	if err := c.classroom.Start(ctx); err != nil {
		return err
	}
	log.Info().Str("classroom", c.classroom.Registry().Slug()).Msg("Watching sessions, press Ctrl+C to stop")

	last := time.Time{}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if fetched := c.classroom.Registry().FetchedAt(); fetched.After(last) {
				last = fetched
				c.printSessions(c.classroom.Registry().Snapshot())
			}
		}
	}
}

// join runs an interactive session. Plain lines are sent as chat messages;
// lines starting with a slash are commands.
func (c *cli) join(ctx context.Context, args []string) error {
	id, err := parseSessionID(args)
	if err != nil {
		return err
	}
	if err := c.classroom.Start(ctx); err != nil {
		return err
	}

	session, err := c.classroom.Join(ctx, id)
	if err != nil && session == nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("cannot join, session not found: %w", err)
		}
		return err
	}
	if err != nil {
		fmt.Fprintf(c.out, "! %v (type /reconnect to retry)\n", err)
	}

	p := &printer{out: c.out, seen: make(map[string]bool), reacted: make(map[string]bool)}
	session.Room().Subscribe(p.roomEvent)
	session.Chat().OnChange(func() { p.transcript(session.Chat().Transcript()) })
	session.Reactions().OnChange(func() { p.reactions(session.Reactions().Active()) })
	p.transcript(session.Chat().Transcript())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errLeave
				}
				if err := c.handleLine(gctx, session, line); err != nil {
					if errors.Is(err, errLeave) {
						return err
					}
					fmt.Fprintf(c.out, "! %v\n", err)
				}
			}
		}
	})
	g.Go(func() error {
		// a room closed by the host ends the interactive session
		closed := make(chan struct{})
		var once sync.Once
		unsubscribe := session.Room().Subscribe(func(ev room.Event) {
			if ev.Type == room.EventStateChanged && ev.State == room.StateDisconnected {
				once.Do(func() { close(closed) })
			}
		})
		defer unsubscribe()

		select {
		case <-gctx.Done():
			return nil
		case <-closed:
			return errLeave
		}
	})

	err = g.Wait()
	c.classroom.Leave()
	if errors.Is(err, errLeave) {
		return nil
	}
	return err
}

var errLeave = errors.New("leave")

func (c *cli) handleLine(ctx context.Context, session *live.Session, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		_, err := session.Chat().Send(ctx, line, nil)
		return err
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/leave", "/quit":
		return errLeave
	case "/end":
		if err := c.classroom.EndForAll(ctx); err != nil {
			return err
		}
		return errLeave
	case "/react":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /react %s", joinTypes())
		}
		_, err := session.Reactions().Emit(ctx, reaction.Type(fields[1]))
		return err
	case "/kick":
		if len(fields) < 2 {
			return errors.New("usage: /kick <identity>")
		}
		return session.Room().RemoveParticipant(ctx, fields[1])
	case "/mic", "/cam":
		if len(fields) < 2 {
			return fmt.Errorf("usage: %s on|off", fields[0])
		}
		local := session.Room().Participants()
		if len(local) == 0 {
			return fmt.Errorf("%w: not connected", domain.ErrConflict)
		}
		mic, cam := local[0].MicrophoneEnabled, local[0].CameraEnabled
		on := fields[1] == "on"
		if fields[0] == "/mic" {
			mic = on
		} else {
			cam = on
		}
		return session.Room().SetMedia(ctx, mic, cam)
	case "/who":
		for _, p := range session.Room().Participants() {
			fmt.Fprintf(c.out, "  %s (%s) mic=%t cam=%t\n", p.Name, p.Role, p.MicrophoneEnabled, p.CameraEnabled)
		}
		return nil
	case "/retry":
		for _, msg := range session.Chat().Transcript() {
			if msg.Failed {
				if _, err := session.Chat().Retry(ctx, msg.ID); err != nil {
					return err
				}
			}
		}
		return nil
	case "/reconnect":
		return session.Room().Reconnect(ctx)
	}
	return fmt.Errorf("unknown command %s", fields[0])
}

func joinTypes() string {
	names := make([]string, 0, len(reaction.Types()))
	for _, t := range reaction.Types() {
		names = append(names, string(t))
	}
	return strings.Join(names, "|")
}

// printer writes room and chat activity to the terminal
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	seen    map[string]bool
	reacted map[string]bool
}

func (p *printer) roomEvent(ev room.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Type {
	case room.EventStateChanged:
		if ev.Reason != "" {
			fmt.Fprintf(p.out, "* room %s (%s)\n", ev.State, ev.Reason)
			return
		}
		fmt.Fprintf(p.out, "* room %s\n", ev.State)
	case room.EventParticipantJoined:
		fmt.Fprintf(p.out, "* %s joined\n", ev.Participant.Name)
	case room.EventParticipantLeft:
		fmt.Fprintf(p.out, "* %s left\n", ev.Identity)
	case room.EventError:
		fmt.Fprintf(p.out, "! %v\n", ev.Err)
	}
}

func (p *printer) transcript(messages []domain.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, msg := range messages {
		key := msg.ID
		if msg.Failed {
			key += "#failed"
		}
		if p.seen[key] || (msg.IsTemporary() && !msg.Failed) {
			continue
		}
		p.seen[key] = true

		line := fmt.Sprintf("[%s] %s: %s", msg.Timestamp.Local().Format("15:04"), msg.SenderName, msg.Content)
		if msg.Attachment != nil {
			line += fmt.Sprintf(" [file: %s]", msg.Attachment.FileName)
		}
		if msg.Failed {
			line += " (failed, /retry to resend)"
		}
		fmt.Fprintln(p.out, line)
	}
}

func (p *printer) reactions(active []reaction.Reaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, r := range active {
		if p.reacted[r.ID] {
			continue
		}
		p.reacted[r.ID] = true

		from := r.From
		if r.Local {
			from = "you"
		}
		fmt.Fprintf(p.out, "  %s from %s\n", r.Type.Emoji(), from)
	}
}
