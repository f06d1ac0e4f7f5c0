// Package chat connects to Twitch IRC and routes prefix-delimited viewer
// commands to overlay broadcasts, queue mutations, and chat replies.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/TheDanniCraft/clipify-sub000/db"
	"github.com/TheDanniCraft/clipify-sub000/overlay"
	"github.com/TheDanniCraft/clipify-sub000/telemetry"
	"github.com/TheDanniCraft/clipify-sub000/twitchapi"
)

// Broadcaster pushes typed events to subscribed overlay connections.
// Satisfied by *overlay.Hub.
type Broadcaster interface {
	Broadcast(eventType string, data any, broadcasterID string)
}

// ClipResolver looks up a clip by slug. Satisfied by *twitchapi.HelixClient.
type ClipResolver interface {
	GetClip(ctx context.Context, clipID string) (*twitchapi.Clip, error)
}

// QueueStore is the clip queue surface commands mutate.
type QueueStore interface {
	EnqueueClip(ctx context.Context, c *db.QueuedClip) (int64, error)
	ListQueue(ctx context.Context, broadcasterID, status string, limit int) ([]db.QueuedClip, error)
	ClearQueue(ctx context.Context, broadcasterID string) (int64, error)
}

// PrefixLookup resolves the configured command prefix for a broadcaster.
// "" means commands are disabled for that channel.
type PrefixLookup interface {
	GetCommandPrefix(ctx context.Context, broadcasterID string) (string, error)
}

// Invocation carries one parsed command call.
type Invocation struct {
	BroadcasterID string // channel owner (IRC room id)
	Channel       string // channel login name, for replies
	User          string // invoking viewer's login name
	Prefix        string
	Args          []string
}

// Command is one entry in the static command table.
type Command struct {
	Name        string
	Usage       string
	Description string
	Execute     func(ctx context.Context, r *Router, inv *Invocation)
}

// commandPayload is the data shape of "command" broadcast events. Data is
// null for bare playback controls and carries the resolved clip for
// play-with-url.
type commandPayload struct {
	Command string `json:"command"`
	Data    any    `json:"data"`
}

// Router parses chat messages against a per-channel prefix and dispatches to
// the command table.
type Router struct {
	broadcaster Broadcaster
	clips       ClipResolver
	queue       QueueStore
	prefixes    PrefixLookup
	reply       func(channel, message string)

	commands map[string]*Command
}

// NewRouter builds a router with the static command table. reply sends a chat
// message to a channel (e.g. the IRC client's Say).
func NewRouter(b Broadcaster, clips ClipResolver, queue QueueStore, prefixes PrefixLookup, reply func(channel, message string)) *Router {
	r := &Router{
		broadcaster: b,
		clips:       clips,
		queue:       queue,
		prefixes:    prefixes,
		reply:       reply,
		commands:    make(map[string]*Command),
	}
	for _, cmd := range commandTable() {
		r.commands[cmd.Name] = cmd
	}
	return r
}

// commandTable is the fixed set of chat commands. help output is synthesized
// from this table, so adding a command here is the whole registration.
func commandTable() []*Command {
	return []*Command{
		{
			Name:        "play",
			Usage:       "play [clipUrl]",
			Description: "Resume playback, or play a specific clip",
			Execute:     execPlay,
		},
		{
			Name:        "pause",
			Usage:       "pause",
			Description: "Pause clip playback",
			Execute:     execSimple("pause"),
		},
		{
			Name:        "skip",
			Usage:       "skip",
			Description: "Skip the current clip",
			Execute:     execSimple("skip"),
		},
		{
			Name:        "hide",
			Usage:       "hide",
			Description: "Hide the overlay",
			Execute:     execSimple("hide"),
		},
		{
			Name:        "show",
			Usage:       "show",
			Description: "Show the overlay",
			Execute:     execSimple("show"),
		},
		{
			Name:        "queue",
			Usage:       "queue",
			Description: "Show how many clips are waiting",
			Execute:     execQueue,
		},
		{
			Name:        "addqueue",
			Usage:       "addqueue <clipUrl>",
			Description: "Add a clip to the queue",
			Execute:     execAddQueue,
		},
		{
			Name:        "clearqueue",
			Usage:       "clearqueue",
			Description: "Remove all waiting clips from the queue",
			Execute:     execClearQueue,
		},
		{
			Name:        "help",
			Usage:       "help",
			Description: "List available commands",
			Execute:     execHelp,
		},
	}
}

// IsCommand reports whether a message is a command for the broadcaster's
// channel and returns the resolved prefix. A channel without a configured
// prefix has commands disabled entirely.
func (r *Router) IsCommand(ctx context.Context, broadcasterID, text string) (string, bool) {
	prefix, err := r.prefixes.GetCommandPrefix(ctx, broadcasterID)
	if err != nil {
		slog.Warn("command prefix lookup failed", slog.String("broadcaster", broadcasterID), slog.Any("err", err))
		return "", false
	}
	if prefix == "" {
		return "", false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], prefix) {
		return "", false
	}
	return prefix, true
}

// HandleCommand parses and dispatches a command message. Unknown command
// names are logged and ignored; they are not an error the viewer sees.
func (r *Router) HandleCommand(ctx context.Context, broadcasterID, channel, user, text, prefix string) {
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), prefix))
	if rest == "" {
		return
	}
	fields := strings.Fields(rest)
	name := strings.ToLower(fields[0])
	cmd, ok := r.commands[name]
	if !ok {
		slog.Debug("unknown chat command", slog.String("command", name), slog.String("broadcaster", broadcasterID))
		return
	}

	telemetry.IncCommands()
	cmd.Execute(ctx, r, &Invocation{
		BroadcasterID: broadcasterID,
		Channel:       channel,
		User:          user,
		Prefix:        prefix,
		Args:          fields[1:],
	})
}

// execSimple broadcasts a bare playback control with a null payload.
func execSimple(action string) func(ctx context.Context, r *Router, inv *Invocation) {
	return func(_ context.Context, r *Router, inv *Invocation) {
		r.broadcaster.Broadcast(overlay.EventCommand, commandPayload{Command: action, Data: nil}, inv.BroadcasterID)
	}
}

func execPlay(ctx context.Context, r *Router, inv *Invocation) {
	if len(inv.Args) == 0 {
		// Bare play resumes; the payload carries no clip.
		r.broadcaster.Broadcast(overlay.EventCommand, commandPayload{Command: "play", Data: nil}, inv.BroadcasterID)
		return
	}

	clip, cerr := r.resolveClip(ctx, inv.BroadcasterID, inv.Args[0])
	if cerr != nil {
		r.reply(inv.Channel, "@"+inv.User+" "+cerr.Message())
		return
	}
	r.broadcaster.Broadcast(overlay.EventCommand, commandPayload{Command: "play", Data: clip}, inv.BroadcasterID)
}

func execQueue(ctx context.Context, r *Router, inv *Invocation) {
	pending, err := r.queue.ListQueue(ctx, inv.BroadcasterID, db.ClipPending, 100)
	if err != nil {
		slog.Error("queue list failed", slog.String("broadcaster", inv.BroadcasterID), slog.Any("err", err))
		r.reply(inv.Channel, "@"+inv.User+" Couldn't read the queue right now.")
		return
	}
	if len(pending) == 0 {
		r.reply(inv.Channel, "@"+inv.User+" The clip queue is empty.")
		return
	}
	titles := make([]string, 0, 3)
	for i, c := range pending {
		if i == 3 {
			break
		}
		titles = append(titles, c.Title)
	}
	r.reply(inv.Channel, fmt.Sprintf("@%s %d clip(s) waiting. Up next: %s", inv.User, len(pending), strings.Join(titles, ", ")))
}

func execAddQueue(ctx context.Context, r *Router, inv *Invocation) {
	if len(inv.Args) == 0 {
		r.reply(inv.Channel, "@"+inv.User+" Usage: "+inv.Prefix+"addqueue <clipUrl>")
		return
	}
	clip, cerr := r.resolveClip(ctx, inv.BroadcasterID, inv.Args[0])
	if cerr != nil {
		r.reply(inv.Channel, "@"+inv.User+" "+cerr.Message())
		return
	}
	_, err := r.queue.EnqueueClip(ctx, &db.QueuedClip{
		BroadcasterID: inv.BroadcasterID,
		ClipID:        clip.ID,
		ClipURL:       clip.URL,
		Title:         clip.Title,
		RequestedBy:   inv.User,
	})
	if err != nil {
		slog.Error("enqueue failed", slog.String("broadcaster", inv.BroadcasterID), slog.Any("err", err))
		r.reply(inv.Channel, "@"+inv.User+" Couldn't add that clip right now.")
		return
	}
	r.reply(inv.Channel, fmt.Sprintf("@%s Added %q to the queue.", inv.User, clip.Title))
}

func execClearQueue(ctx context.Context, r *Router, inv *Invocation) {
	n, err := r.queue.ClearQueue(ctx, inv.BroadcasterID)
	if err != nil {
		slog.Error("queue clear failed", slog.String("broadcaster", inv.BroadcasterID), slog.Any("err", err))
		r.reply(inv.Channel, "@"+inv.User+" Couldn't clear the queue right now.")
		return
	}
	r.reply(inv.Channel, fmt.Sprintf("@%s Cleared %d clip(s) from the queue.", inv.User, n))
}

func execHelp(_ context.Context, r *Router, inv *Invocation) {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		cmd := r.commands[name]
		parts = append(parts, inv.Prefix+cmd.Usage+" - "+cmd.Description)
	}
	r.reply(inv.Channel, "@"+inv.User+" Commands: "+strings.Join(parts, " | "))
}

// resolveClip parses a clip URL, fetches the clip, and checks channel
// ownership.
func (r *Router) resolveClip(ctx context.Context, broadcasterID, rawURL string) (*twitchapi.Clip, *ClipError) {
	slug, err := ParseClipSlug(rawURL)
	if err != nil {
		var ce *ClipError
		if errors.As(err, &ce) {
			return nil, ce
		}
		return nil, &ClipError{Code: ClipErrGeneric}
	}
	clip, err := r.clips.GetClip(ctx, slug)
	if err != nil {
		slog.Error("clip lookup failed", slog.String("slug", slug), slog.Any("err", err))
		return nil, &ClipError{Code: ClipErrGeneric}
	}
	if clip == nil {
		return nil, &ClipError{Code: ClipErrNotFound}
	}
	if clip.BroadcasterID != broadcasterID {
		return nil, &ClipError{Code: ClipErrNotOwned}
	}
	return clip, nil
}
