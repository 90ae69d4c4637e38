// Package relay implements the forwarding pipeline: inbound items are gated
// on authentication, reformatted, and sent to the destination channel —
// either directly or through the media-group aggregator.
package relay

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"relaybot/internal/auth"
	"relaybot/internal/compose"
	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

// Reply strings are part of the bot's observable contract; keep them stable.
const (
	replyNoAccess      = "You do not have access to this bot."
	replyEnterLogin    = "Enter login:"
	replyEnterPassword = "Now enter password:"
	replyLoginOK       = "Successfully logged in! Now you can send messages."
	replyLoginFail     = "Incorrect login or password."
	replyCanceled      = "Authentication canceled."
	replyLoginFirst    = "First, log in via /start"
	replyUnsupported   = "Message type not supported (yet)."
)

// EventForward is published on the bus after every successful outbound send.
const EventForward = "relay.forward"

// ForwardEvent describes one successful relay to the channel.
type ForwardEvent struct {
	At        time.Time
	ActorID   int64
	ActorName string
	Kind      string // text/photo/.../album
	Items     int
	AlbumID   string
}

// Settings is the live, swappable part of the relay configuration.
type Settings struct {
	Allowed map[int64]struct{}
	Target  kit.ChatTarget
	Format  compose.Settings
	Quiet   time.Duration
}

// SettingsFromConfig resolves the relay section into runtime form.
// TargetChannel accepts a numeric chat id or a public @name.
func SettingsFromConfig(rc config.RelayConfig) Settings {
	allowed := make(map[int64]struct{}, len(rc.AllowedUsers))
	for _, id := range rc.AllowedUsers {
		allowed[id] = struct{}{}
	}

	var target kit.ChatTarget
	tc := strings.TrimSpace(rc.TargetChannel)
	if id, err := strconv.ParseInt(tc, 10, 64); err == nil {
		target.ChatID = id
	} else {
		target.Username = tc
	}

	quiet, err := config.ParseDurationOrDefault("relay.album_quiet", rc.AlbumQuiet, DefaultQuiet)
	if err != nil {
		quiet = DefaultQuiet
	}

	return Settings{
		Allowed: allowed,
		Target:  target,
		Format: compose.Settings{
			ChannelName: rc.ChannelName,
			ChannelLink: rc.ChannelLink,
			Separator:   rc.Separator,
			ButtonText:  rc.SubscribeButton,
			ShowAuthor:  rc.ShowAuthorEnabled(),
		},
		Quiet: quiet,
	}
}

// Service routes inbound updates: login dialog, album buffering, single sends.
type Service struct {
	log      logx.Logger
	adapter  kit.Adapter
	sessions *auth.Sessions
	flow     *auth.Flow
	agg      *Aggregator
	bus      eventbus.Bus

	// settings is swapped whole on config reload; reads take a snapshot.
	settingsMu sync.RWMutex
	settings   Settings
}

func New(adapter kit.Adapter, sessions *auth.Sessions, flow *auth.Flow, bus eventbus.Bus, st Settings, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:      log,
		adapter:  adapter,
		sessions: sessions,
		flow:     flow,
		bus:      bus,
		settings: st,
	}
	s.agg = NewAggregator(st.Quiet, s.flushAlbum)
	return s
}

// Aggregator exposes the album buffer for the maintenance sweep.
func (s *Service) Aggregator() *Aggregator { return s.agg }

// Apply swaps relay settings live (allow-list, formatting, quiet interval).
func (s *Service) Apply(st Settings, creds auth.Credentials) {
	s.settingsMu.Lock()
	s.settings = st
	s.settingsMu.Unlock()
	s.flow.Apply(creds)
	s.agg.Apply(st.Quiet)
}

func (s *Service) snapshot() Settings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

// DispatchLoop consumes inbound updates until ctx is canceled.
// One update is handled at a time; only album flushes run concurrently.
func (s *Service) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			s.HandleMessage(ctx, up.Message)
		}
	}
}

// HandleMessage processes one inbound item end to end.
func (s *Service) HandleMessage(ctx context.Context, m *kit.Message) {
	if m.Kind == kit.KindText {
		switch command(m.Text) {
		case "/start":
			s.handleStart(ctx, m)
			return
		case "/cancel":
			s.flow.Cancel(m.FromID)
			s.reply(ctx, m, replyCanceled)
			return
		}

		// Plain text during a pending login challenge belongs to the dialog.
		if s.flow.Stage(m.FromID) != auth.StageIdle {
			s.handleLoginText(ctx, m)
			return
		}
	}

	if !s.sessions.Authenticated(m.FromID) {
		s.reply(ctx, m, replyLoginFirst)
		return
	}

	if s.agg.Add(m) {
		// Buffered; the deferred flush owns it from here.
		return
	}

	s.forwardSingle(ctx, m)
}

func command(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "/") {
		return ""
	}
	if i := strings.IndexAny(t, " @"); i > 0 {
		t = t[:i]
	}
	return t
}

func (s *Service) handleStart(ctx context.Context, m *kit.Message) {
	st := s.snapshot()
	if _, ok := st.Allowed[m.FromID]; !ok {
		s.log.Debug("start rejected", logx.Int64("user", m.FromID))
		s.reply(ctx, m, replyNoAccess)
		return
	}
	s.flow.Begin(m.FromID)
	s.reply(ctx, m, replyEnterLogin)
}

func (s *Service) handleLoginText(ctx context.Context, m *kit.Message) {
	switch s.flow.Submit(m.FromID, m.Text) {
	case auth.ResultAskPassword:
		s.reply(ctx, m, replyEnterPassword)
	case auth.ResultSuccess:
		s.log.Info("user authenticated", logx.Int64("user", m.FromID), logx.String("username", m.FromUsername))
		s.reply(ctx, m, replyLoginOK)
	case auth.ResultFailure:
		s.log.Warn("failed login attempt", logx.Int64("user", m.FromID))
		s.reply(ctx, m, replyLoginFail)
	}
}

// forwardSingle relays one non-album item to the target channel.
func (s *Service) forwardSingle(ctx context.Context, m *kit.Message) {
	st := s.snapshot()
	text := compose.Compose(m.Body(), m.FromName, st.Format)
	opt := &kit.SendOptions{ParseMode: "HTML"}

	var err error
	switch m.Kind {
	case kit.KindText:
		_, err = s.adapter.SendText(ctx, st.Target, text, opt)
	case kit.KindPhoto, kit.KindVideo, kit.KindDocument, kit.KindAudio, kit.KindVoice, kit.KindAnimation:
		_, err = s.adapter.SendMedia(ctx, st.Target, kit.Media{Kind: m.Kind, FileID: m.FileID}, text, opt)
	default:
		s.reply(ctx, m, replyUnsupported)
		return
	}

	if err != nil {
		s.log.Error("single send failed", logx.String("kind", string(m.Kind)), logx.Int64("user", m.FromID), logx.Err(err))
		s.reply(ctx, m, "Error sending: "+err.Error())
		return
	}

	s.publishForward(ForwardEvent{
		At:        time.Now(),
		ActorID:   m.FromID,
		ActorName: m.FromName,
		Kind:      string(m.Kind),
		Items:     1,
	})
}

// flushAlbum is the aggregator's flush callback. It runs on a timer
// goroutine, after the submitting request already returned, so failures are
// logged and never surface to the sender.
func (s *Service) flushAlbum(albumID string, items []*kit.Message) {
	st := s.snapshot()

	out := make([]kit.AlbumItem, 0, len(items))
	for _, m := range items {
		if !m.Kind.AlbumMember() {
			// Telegram albums cannot carry text or voice; drop silently.
			s.log.Debug("dropping non-album item from media group", logx.String("kind", string(m.Kind)), logx.String("album", albumID))
			continue
		}
		out = append(out, kit.AlbumItem{Media: kit.Media{Kind: m.Kind, FileID: m.FileID}})
	}
	if len(out) == 0 {
		s.log.Debug("album empty after filtering; skipping send", logx.String("album", albumID))
		return
	}

	// Caption goes on the first descriptor only, composed from the first
	// buffered item's own caption and sender.
	out[0].Caption = compose.Compose(items[0].Body(), items[0].FromName, st.Format)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.adapter.SendAlbum(ctx, st.Target, out, &kit.SendOptions{ParseMode: "HTML"}); err != nil {
		s.log.Error("album send failed", logx.String("album", albumID), logx.Int("items", len(out)), logx.Err(err))
		return
	}

	s.log.Info("album forwarded", logx.String("album", albumID), logx.Int("items", len(out)))
	s.publishForward(ForwardEvent{
		At:        time.Now(),
		ActorID:   items[0].FromID,
		ActorName: items[0].FromName,
		Kind:      "album",
		Items:     len(out),
		AlbumID:   albumID,
	})
}

func (s *Service) publishForward(e ForwardEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: EventForward, Time: e.At, Data: e})
}

func (s *Service) reply(ctx context.Context, m *kit.Message, text string) {
	to := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	if _, err := s.adapter.SendText(ctx, to, text, nil); err != nil {
		s.log.Warn("reply failed", logx.Int64("chat", m.ChatID), logx.Err(err))
	}
}
