package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"relaybot/internal/auth"
	"relaybot/internal/compose"
	"relaybot/internal/config"
	kit "relaybot/internal/transport"
	logx "relaybot/pkg/logx"
)

type sentText struct {
	to   kit.ChatTarget
	text string
}

type sentMedia struct {
	to      kit.ChatTarget
	media   kit.Media
	caption string
}

type sentAlbum struct {
	to    kit.ChatTarget
	items []kit.AlbumItem
}

// fakeAdapter records outbound sends and can be told to fail. When failChat
// is non-zero only sends to that chat fail, which lets a test break the
// channel forward while keeping user replies working.
type fakeAdapter struct {
	mu       sync.Mutex
	texts    []sentText
	media    []sentMedia
	albums   []sentAlbum
	fail     error
	failChat int64
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) failFor(to kit.ChatTarget) error {
	if f.fail == nil {
		return nil
	}
	if f.failChat != 0 && to.ChatID != f.failChat {
		return nil
	}
	return f.fail
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor(to); err != nil {
		return kit.MessageRef{}, err
	}
	f.texts = append(f.texts, sentText{to: to, text: text})
	return kit.MessageRef{MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) SendMedia(_ context.Context, to kit.ChatTarget, m kit.Media, caption string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor(to); err != nil {
		return kit.MessageRef{}, err
	}
	f.media = append(f.media, sentMedia{to: to, media: m, caption: caption})
	return kit.MessageRef{MessageID: len(f.media)}, nil
}

func (f *fakeAdapter) SendAlbum(_ context.Context, to kit.ChatTarget, items []kit.AlbumItem, _ *kit.SendOptions) ([]kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor(to); err != nil {
		return nil, err
	}
	f.albums = append(f.albums, sentAlbum{to: to, items: items})
	return make([]kit.MessageRef, len(items)), nil
}

func (f *fakeAdapter) lastText(t *testing.T) sentText {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		t.Fatal("no text was sent")
	}
	return f.texts[len(f.texts)-1]
}

func testSettings() Settings {
	return Settings{
		Allowed: map[int64]struct{}{42: {}},
		Target:  kit.ChatTarget{ChatID: -100},
		Format: compose.Settings{
			ChannelName: "News",
			ChannelLink: "https://t.me/news",
			Separator:   " | ",
			ButtonText:  "Subscribe",
			ShowAuthor:  true,
		},
		Quiet: time.Hour, // tests flush explicitly
	}
}

func newTestService(ad *fakeAdapter) (*Service, *auth.Sessions) {
	sessions := auth.NewSessions()
	flow := auth.NewFlow(auth.Credentials{
		Login:        "admin",
		PasswordHash: auth.HashPassword("secret"),
	}, sessions)
	return New(ad, sessions, flow, nil, testSettings(), logx.Nop()), sessions
}

func textMsg(userID int64, text string) *kit.Message {
	return &kit.Message{ID: 1, ChatID: userID, FromID: userID, FromName: "Alice", Kind: kit.KindText, Text: text}
}

func TestStartRejectedForUnknownUser(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, _ := newTestService(ad)

	s.HandleMessage(context.Background(), textMsg(7, "/start"))

	got := ad.lastText(t)
	if got.text != replyNoAccess {
		t.Fatalf("reply = %q, want %q", got.text, replyNoAccess)
	}
	if got.to.ChatID != 7 {
		t.Fatalf("reply chat = %d, want 7", got.to.ChatID)
	}
}

func TestLoginDialogSuccess(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, sessions := newTestService(ad)
	ctx := context.Background()

	s.HandleMessage(ctx, textMsg(42, "/start"))
	if got := ad.lastText(t).text; got != replyEnterLogin {
		t.Fatalf("after /start reply = %q, want %q", got, replyEnterLogin)
	}

	s.HandleMessage(ctx, textMsg(42, "admin"))
	if got := ad.lastText(t).text; got != replyEnterPassword {
		t.Fatalf("after login reply = %q, want %q", got, replyEnterPassword)
	}

	s.HandleMessage(ctx, textMsg(42, "secret"))
	if got := ad.lastText(t).text; got != replyLoginOK {
		t.Fatalf("after password reply = %q, want %q", got, replyLoginOK)
	}
	if !sessions.Authenticated(42) {
		t.Fatal("user should be authenticated after successful dialog")
	}
}

func TestLoginDialogWrongPassword(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, sessions := newTestService(ad)
	ctx := context.Background()

	s.HandleMessage(ctx, textMsg(42, "/start"))
	s.HandleMessage(ctx, textMsg(42, "admin"))
	s.HandleMessage(ctx, textMsg(42, "wrong"))

	if got := ad.lastText(t).text; got != replyLoginFail {
		t.Fatalf("reply = %q, want %q", got, replyLoginFail)
	}
	if sessions.Authenticated(42) {
		t.Fatal("user must not be authenticated after a failed attempt")
	}

	// The attempt is cleared: the next text hits the auth gate, not the dialog.
	s.HandleMessage(ctx, textMsg(42, "hello"))
	if got := ad.lastText(t).text; got != replyLoginFirst {
		t.Fatalf("reply = %q, want %q", got, replyLoginFirst)
	}
}

func TestCancelDuringDialog(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, _ := newTestService(ad)
	ctx := context.Background()

	s.HandleMessage(ctx, textMsg(42, "/start"))
	s.HandleMessage(ctx, textMsg(42, "/cancel"))
	if got := ad.lastText(t).text; got != replyCanceled {
		t.Fatalf("reply = %q, want %q", got, replyCanceled)
	}

	s.HandleMessage(ctx, textMsg(42, "admin"))
	if got := ad.lastText(t).text; got != replyLoginFirst {
		t.Fatalf("text after cancel should hit the auth gate, got %q", got)
	}
}

func TestUnauthenticatedMediaRejected(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, _ := newTestService(ad)

	s.HandleMessage(context.Background(), &kit.Message{ChatID: 42, FromID: 42, Kind: kit.KindPhoto, FileID: "p1"})
	if got := ad.lastText(t).text; got != replyLoginFirst {
		t.Fatalf("reply = %q, want %q", got, replyLoginFirst)
	}
	if len(ad.media) != 0 {
		t.Fatal("nothing should reach the channel before login")
	}
}

func TestForwardTextComposed(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, sessions := newTestService(ad)
	sessions.Add(42)

	s.HandleMessage(context.Background(), textMsg(42, "breaking <news>"))

	got := ad.lastText(t)
	if got.to.ChatID != -100 {
		t.Fatalf("forward chat = %d, want -100", got.to.ChatID)
	}
	want := compose.Compose("breaking <news>", "Alice", testSettings().Format)
	if got.text != want {
		t.Fatalf("forward text = %q, want %q", got.text, want)
	}
	if !strings.Contains(got.text, "&lt;news&gt;") {
		t.Fatalf("user text must be HTML-escaped, got %q", got.text)
	}
}

func TestForwardSingleMedia(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, sessions := newTestService(ad)
	sessions.Add(42)

	s.HandleMessage(context.Background(), &kit.Message{
		ChatID: 42, FromID: 42, FromName: "Alice",
		Kind: kit.KindPhoto, FileID: "p1", Caption: "look",
	})

	if len(ad.media) != 1 {
		t.Fatalf("media sends = %d, want 1", len(ad.media))
	}
	sent := ad.media[0]
	if sent.media.Kind != kit.KindPhoto || sent.media.FileID != "p1" {
		t.Fatalf("sent media = %+v", sent.media)
	}
	want := compose.Compose("look", "Alice", testSettings().Format)
	if sent.caption != want {
		t.Fatalf("caption = %q, want %q", sent.caption, want)
	}
}

func TestUnsupportedKindReplies(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, sessions := newTestService(ad)
	sessions.Add(42)

	s.HandleMessage(context.Background(), &kit.Message{ChatID: 42, FromID: 42, Kind: kit.MediaKind("sticker")})
	if got := ad.lastText(t).text; got != replyUnsupported {
		t.Fatalf("reply = %q, want %q", got, replyUnsupported)
	}
}

func TestSendErrorReportedToSender(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{fail: errors.New("chat not found"), failChat: -100}
	s, sessions := newTestService(ad)
	sessions.Add(42)

	s.HandleMessage(context.Background(), textMsg(42, "hello"))

	got := ad.lastText(t)
	if got.to.ChatID != 42 {
		t.Fatalf("error reply chat = %d, want 42", got.to.ChatID)
	}
	if want := "Error sending: chat not found"; got.text != want {
		t.Fatalf("error reply = %q, want %q", got.text, want)
	}
}

func TestAlbumFlushCaptionOnFirstOnly(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, sessions := newTestService(ad)
	sessions.Add(42)
	ctx := context.Background()

	msgs := []*kit.Message{
		{ChatID: 42, FromID: 42, FromName: "Alice", Kind: kit.KindPhoto, FileID: "a", AlbumID: "g1", Caption: "trip"},
		{ChatID: 42, FromID: 42, FromName: "Alice", Kind: kit.KindVideo, FileID: "b", AlbumID: "g1"},
		{ChatID: 42, FromID: 42, FromName: "Alice", Kind: kit.KindPhoto, FileID: "c", AlbumID: "g1"},
	}
	for _, m := range msgs {
		s.HandleMessage(ctx, m)
	}
	if len(ad.albums) != 0 {
		t.Fatal("album must not be sent before the flush")
	}

	s.Aggregator().Flush("g1")

	if len(ad.albums) != 1 {
		t.Fatalf("album sends = %d, want 1", len(ad.albums))
	}
	items := ad.albums[0].items
	if len(items) != 3 {
		t.Fatalf("album items = %d, want 3", len(items))
	}
	wantOrder := []string{"a", "b", "c"}
	for i, it := range items {
		if it.Media.FileID != wantOrder[i] {
			t.Fatalf("items[%d].FileID = %q, want %q", i, it.Media.FileID, wantOrder[i])
		}
	}
	wantCaption := compose.Compose("trip", "Alice", testSettings().Format)
	if items[0].Caption != wantCaption {
		t.Fatalf("first caption = %q, want %q", items[0].Caption, wantCaption)
	}
	for i := 1; i < len(items); i++ {
		if items[i].Caption != "" {
			t.Fatalf("items[%d] carries a caption: %q", i, items[i].Caption)
		}
	}
}

func TestAlbumDropsNonMemberKinds(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, sessions := newTestService(ad)
	sessions.Add(42)
	ctx := context.Background()

	s.HandleMessage(ctx, &kit.Message{ChatID: 42, FromID: 42, Kind: kit.KindVoice, FileID: "v", AlbumID: "g2"})
	s.HandleMessage(ctx, &kit.Message{ChatID: 42, FromID: 42, Kind: kit.KindPhoto, FileID: "p", AlbumID: "g2"})
	s.Aggregator().Flush("g2")

	if len(ad.albums) != 1 {
		t.Fatalf("album sends = %d, want 1", len(ad.albums))
	}
	items := ad.albums[0].items
	if len(items) != 1 || items[0].Media.FileID != "p" {
		t.Fatalf("album items = %+v, want only the photo", items)
	}
}

func TestAlbumEmptyAfterFilterSkipsSend(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, sessions := newTestService(ad)
	sessions.Add(42)

	s.HandleMessage(context.Background(), &kit.Message{ChatID: 42, FromID: 42, Kind: kit.KindVoice, FileID: "v", AlbumID: "g3"})
	s.Aggregator().Flush("g3")

	if len(ad.albums) != 0 {
		t.Fatal("an all-voice burst must not produce an album send")
	}
}

func TestApplySwapsAllowList(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	s, _ := newTestService(ad)
	ctx := context.Background()

	st := testSettings()
	st.Allowed = map[int64]struct{}{7: {}}
	s.Apply(st, auth.Credentials{Login: "admin", PasswordHash: auth.HashPassword("secret")})

	s.HandleMessage(ctx, textMsg(42, "/start"))
	if got := ad.lastText(t).text; got != replyNoAccess {
		t.Fatalf("old user reply = %q, want %q", got, replyNoAccess)
	}
	s.HandleMessage(ctx, textMsg(7, "/start"))
	if got := ad.lastText(t).text; got != replyEnterLogin {
		t.Fatalf("new user reply = %q, want %q", got, replyEnterLogin)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		rc     config.RelayConfig
		chatID int64
		user   string
		quiet  time.Duration
	}{
		{
			name:   "numeric target",
			rc:     config.RelayConfig{TargetChannel: "-1001234", AlbumQuiet: "2s"},
			chatID: -1001234,
			quiet:  2 * time.Second,
		},
		{
			name:  "public name target, default quiet",
			rc:    config.RelayConfig{TargetChannel: "@news"},
			user:  "@news",
			quiet: DefaultQuiet,
		},
		{
			name:  "bad quiet falls back to default",
			rc:    config.RelayConfig{TargetChannel: "@news", AlbumQuiet: "soon"},
			user:  "@news",
			quiet: DefaultQuiet,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			st := SettingsFromConfig(tt.rc)
			if st.Target.ChatID != tt.chatID || st.Target.Username != tt.user {
				t.Fatalf("target = %+v", st.Target)
			}
			if st.Quiet != tt.quiet {
				t.Fatalf("quiet = %v, want %v", st.Quiet, tt.quiet)
			}
		})
	}
}

func TestCommandParsing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"/start", "/start"},
		{"/start@relay_bot", "/start"},
		{"  /cancel  ", "/cancel"},
		{"hello", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := command(tt.in); got != tt.want {
			t.Fatalf("command(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
