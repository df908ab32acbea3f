package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"chat-core/internal/channel"
	"chat-core/internal/chat"
	"chat-core/internal/models"
	"chat-core/internal/notify"
)

const helpText = `Commands:
  /users                  list users
  /convs                  list conversations
  /rooms                  list rooms
  /dm <user>              open the conversation with a user (id, name or email)
  /open <conversation>    open a conversation by id
  /room <room>            open a room (id or name)
  /join <room>            join a room
  /leave <room>           leave a room
  /create <name> [desc]   create a room
  /retry <tempId>         resend a failed message
  /discard <tempId>       drop a failed message
  /goto                   open the chat of the latest notification
  /sound on|off           toggle the notification sound
  /notify on|off          toggle desktop notifications
  /status                 show connection status
  /reconnect              reconnect now
  /quit                   sign out
Anything else is sent to the open chat.`

type repl struct {
	client   *chat.Client
	terminal *notify.TerminalNotifier
	view     *view
	out      io.Writer
	restore  string // text of a send that never left, offered at the next prompt
}

func (r *repl) prompt() string {
	current := r.client.Store().Current()
	if current == nil {
		return "> "
	}
	return chatTitle(current, r.client.Identity().ID) + " > "
}

// handle runs one input line. It reports false when the session should end.
func (r *repl) handle(ctx context.Context, input string) bool {
	if !strings.HasPrefix(input, "/") {
		if _, err := r.client.Send(input); err != nil {
			r.sendFailed(err)
		}
		return true
	}

	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]
	arg := strings.TrimSpace(strings.TrimPrefix(input, cmd))

	switch cmd {
	case "/quit", "/exit":
		return false
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/users":
		presence := r.client.Presence()
		for _, u := range r.client.Users(ctx) {
			marker := " "
			if presence.IsUserOnline(u.ID) {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %s <%s> %s\n", marker, u.DisplayName, u.Email, u.ID)
		}
	case "/convs":
		if err := r.client.RefreshConversations(ctx); err != nil {
			r.fail(err)
		}
		self := r.client.Identity().ID
		for _, c := range r.client.Store().Conversations() {
			peer, _ := c.Peer(self)
			line := fmt.Sprintf("  @%s %s", peer.DisplayName, c.ID)
			if c.UnreadCount > 0 {
				line += fmt.Sprintf(" (%d unread)", c.UnreadCount)
			}
			fmt.Fprintln(r.out, line)
		}
	case "/rooms":
		if err := r.client.RefreshRooms(ctx); err != nil {
			r.fail(err)
		}
		self := r.client.Identity().ID
		for _, room := range r.client.Store().Rooms() {
			marker := " "
			if room.HasParticipant(self) {
				marker = "+"
			}
			fmt.Fprintf(r.out, "%s #%s %s (%d members)\n", marker, room.Name, room.ID, len(room.Participants))
		}
	case "/dm":
		user, ok := r.findUser(ctx, arg)
		if !ok {
			fmt.Fprintf(r.out, "! no user %q\n", arg)
			break
		}
		r.check(r.client.OpenConversationWith(ctx, user.ID))
	case "/open":
		r.check(r.client.OpenConversation(ctx, arg))
	case "/room":
		r.check(r.client.OpenRoom(ctx, r.roomID(arg)))
	case "/join":
		r.check(r.client.JoinRoom(ctx, r.roomID(arg)))
	case "/leave":
		r.check(r.client.LeaveRoom(ctx, r.roomID(arg)))
	case "/create":
		if len(args) == 0 {
			fmt.Fprintln(r.out, "usage: /create <name> [description]")
			break
		}
		room, err := r.client.CreateRoom(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			r.fail(err)
			break
		}
		fmt.Fprintf(r.out, "created #%s\n", room.Name)
	case "/retry":
		r.check(r.client.Retry(arg))
	case "/discard":
		if !r.client.Discard(arg) {
			fmt.Fprintf(r.out, "! nothing to discard for %q\n", arg)
		}
	case "/goto":
		if !r.terminal.ClickLatest() {
			fmt.Fprintln(r.out, "no notification to open")
		}
	case "/sound":
		bridge := r.client.Notifications()
		on, ok := parseSwitch(arg)
		if !ok {
			fmt.Fprintf(r.out, "sound is %s\n", switchText(bridge.Preferences().SoundEnabled))
			break
		}
		bridge.SetSoundEnabled(on)
	case "/notify":
		bridge := r.client.Notifications()
		on, ok := parseSwitch(arg)
		if !ok {
			fmt.Fprintf(r.out, "notifications are %s\n", switchText(bridge.Preferences().NotificationsEnabled))
			break
		}
		r.check(bridge.SetNotificationsEnabled(ctx, on))
	case "/status":
		s := r.client.Connection().Status()
		fmt.Fprintf(r.out, "%s (attempt %d) %s\n", s.State, s.Attempt, s.LastError)
	case "/reconnect":
		r.client.Connection().Reconnect()
	default:
		fmt.Fprintf(r.out, "unknown command %s, try /help\n", cmd)
	}
	return true
}

func (r *repl) findUser(ctx context.Context, query string) (models.Identity, bool) {
	for _, u := range r.client.Users(ctx) {
		if u.ID == query || strings.EqualFold(u.DisplayName, query) || strings.EqualFold(u.Email, query) {
			return u, true
		}
	}
	return models.Identity{}, false
}

// roomID resolves a room name from the loaded list, falling back to the raw id.
func (r *repl) roomID(query string) string {
	name := strings.TrimPrefix(query, "#")
	for _, room := range r.client.Store().Rooms() {
		if room.ID == query || strings.EqualFold(room.Name, name) {
			return room.ID
		}
	}
	return query
}

func (r *repl) check(err error) {
	if err != nil {
		r.fail(err)
	}
}

func (r *repl) sendFailed(err error) {
	var sendErr *channel.SendError
	if errors.As(err, &sendErr) {
		r.restore = sendErr.Content
	}
	r.fail(err)
}

// takeRestore returns the pending input to restore, once.
func (r *repl) takeRestore() string {
	text := r.restore
	r.restore = ""
	return text
}

func (r *repl) fail(err error) {
	fmt.Fprintf(r.out, "! %v\n", err)
}

func parseSwitch(s string) (on, ok bool) {
	switch strings.ToLower(s) {
	case "on", "true", "1":
		return true, true
	case "off", "false", "0":
		return false, true
	}
	return false, false
}

func switchText(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
