// Package notify turns incoming messages into an audible cue and a platform
// notification, honoring the user's persisted preferences.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"chat-core/internal/clock"
	"chat-core/internal/models"
	"chat-core/pkg/logger"
)

const (
	MaxBodyLength = 100
	AutoClose     = 5 * time.Second
	DeepLinkPath  = "/chat"
)

var (
	ErrPermissionDenied = errors.New("notification permission denied")
	ErrBadDeepLink      = errors.New("not a chat deep link")
)

type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Player plays the two-tone new message cue.
type Player interface {
	PlayCue() error
}

type Notifier interface {
	Permission() Permission
	RequestPermission(ctx context.Context) (Permission, error)
	Show(title, body, tag string) (Handle, error)
}

// Handle is one visible notification.
type Handle interface {
	OnClick(fn func())
	Close() error
}

type Navigator interface {
	Open(link string) error
}

// Notification is an unread message surfaced to the user. Seq orders arrivals.
type Notification struct {
	Seq     uint64
	Target  models.Target
	Message models.Message
	Read    bool
}

type Option func(*Bridge)

func WithClock(c clock.Clock) Option {
	return func(b *Bridge) { b.clock = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(b *Bridge) { b.log = l }
}

type Bridge struct {
	player    Player
	notifier  Notifier
	navigator Navigator
	store     PreferenceStore
	clock     clock.Clock
	log       *logger.Logger

	mu      sync.Mutex
	prefs   Preferences
	lastSeq uint64
	nextSeq uint64
}

func NewBridge(player Player, notifier Notifier, navigator Navigator, store PreferenceStore, opts ...Option) *Bridge {
	b := &Bridge{
		player:    player,
		notifier:  notifier,
		navigator: navigator,
		store:     store,
		clock:     clock.Real(),
		log:       logger.Named("notify"),
		prefs:     DefaultPreferences(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Start loads preferences and asks for notification permission the first
// time, when the platform has not decided yet.
func (b *Bridge) Start(ctx context.Context) {
	prefs, err := b.store.Load()
	if err != nil {
		b.log.Warn("Using default notification preferences: %v", err)
	}

	if !prefs.PermissionPrompted && b.notifier.Permission() == PermissionDefault {
		perm, err := b.notifier.RequestPermission(ctx)
		if err != nil {
			b.log.Warn("Notification permission request failed: %v", err)
		}
		prefs.PermissionPrompted = true
		prefs.NotificationsEnabled = perm == PermissionGranted
		b.save(prefs)
	}

	b.mu.Lock()
	b.prefs = prefs
	b.mu.Unlock()
}

func (b *Bridge) Preferences() Preferences {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prefs
}

func (b *Bridge) SetSoundEnabled(enabled bool) {
	b.mu.Lock()
	b.prefs.SoundEnabled = enabled
	prefs := b.prefs
	b.mu.Unlock()
	b.save(prefs)
}

// SetNotificationsEnabled turns notifications on or off. Turning them on asks
// for permission when needed; a refusal leaves them off.
func (b *Bridge) SetNotificationsEnabled(ctx context.Context, enabled bool) error {
	if enabled {
		perm := b.notifier.Permission()
		if perm == PermissionDefault {
			var err error
			perm, err = b.notifier.RequestPermission(ctx)
			if err != nil {
				b.log.Warn("Notification permission request failed: %v", err)
			}
		}
		if perm != PermissionGranted {
			enabled = false
		}
	}

	b.mu.Lock()
	b.prefs.NotificationsEnabled = enabled
	b.prefs.PermissionPrompted = true
	prefs := b.prefs
	b.mu.Unlock()
	b.save(prefs)

	if !enabled && b.notifier.Permission() == PermissionDenied {
		return ErrPermissionDenied
	}
	return nil
}

func (b *Bridge) save(p Preferences) {
	if err := b.store.Save(p); err != nil {
		b.log.Warn("Failed to save notification preferences: %v", err)
	}
}

// MessageArrived queues msg as the newest unread notification.
func (b *Bridge) MessageArrived(target models.Target, msg models.Message) {
	b.mu.Lock()
	b.nextSeq++
	n := Notification{Seq: b.nextSeq, Target: target, Message: msg}
	b.mu.Unlock()
	b.Observe(n)
}

// Observe surfaces the newest unread notification among items. Older or
// already surfaced entries are ignored.
func (b *Bridge) Observe(items ...Notification) {
	var newest *Notification
	for i := range items {
		if items[i].Read {
			continue
		}
		if newest == nil || items[i].Seq > newest.Seq {
			newest = &items[i]
		}
	}
	if newest == nil {
		return
	}

	b.mu.Lock()
	if newest.Seq <= b.lastSeq {
		b.mu.Unlock()
		return
	}
	b.lastSeq = newest.Seq
	if newest.Seq > b.nextSeq {
		b.nextSeq = newest.Seq
	}
	prefs := b.prefs
	b.mu.Unlock()

	if prefs.SoundEnabled {
		if err := b.player.PlayCue(); err != nil {
			b.log.Debug("Cue playback failed: %v", err)
		}
	}
	if prefs.NotificationsEnabled && b.notifier.Permission() == PermissionGranted {
		b.show(*newest)
	}
}

func (b *Bridge) show(n Notification) {
	title := n.Message.SenderName
	if title == "" {
		title = n.Message.Sender
	}
	handle, err := b.notifier.Show(title, Truncate(n.Message.Content, MaxBodyLength), n.Target.String())
	if err != nil {
		b.log.Warn("Failed to show notification: %v", err)
		return
	}

	link := DeepLink(n.Target)
	handle.OnClick(func() {
		if err := b.navigator.Open(link); err != nil {
			b.log.Warn("Failed to open %s: %v", link, err)
		}
		handle.Close()
	})
	b.clock.AfterFunc(AutoClose, func() { handle.Close() })
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-1]) + "…"
}

// DeepLink is the in-app location that opens target.
func DeepLink(target models.Target) string {
	q := url.Values{}
	q.Set(string(target.Kind), target.ID)
	return DeepLinkPath + "?" + q.Encode()
}

func ParseDeepLink(link string) (models.Target, error) {
	u, err := url.Parse(link)
	if err != nil {
		return models.Target{}, fmt.Errorf("%w: %v", ErrBadDeepLink, err)
	}
	if u.Path != DeepLinkPath {
		return models.Target{}, ErrBadDeepLink
	}
	q := u.Query()
	if id := q.Get(string(models.KindConversation)); id != "" {
		return models.ConversationTarget(id), nil
	}
	if id := q.Get(string(models.KindRoom)); id != "" {
		return models.RoomTarget(id), nil
	}
	return models.Target{}, ErrBadDeepLink
}
