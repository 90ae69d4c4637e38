package transport

import "context"

// MediaKind identifies the payload type of an inbound or outbound item.
type MediaKind string

const (
	KindText      MediaKind = "text"
	KindPhoto     MediaKind = "photo"
	KindVideo     MediaKind = "video"
	KindDocument  MediaKind = "document"
	KindAudio     MediaKind = "audio"
	KindVoice     MediaKind = "voice"
	KindAnimation MediaKind = "animation"
)

// AlbumMember reports whether this kind may appear inside a media group.
// Telegram rejects text and voice as album members.
func (k MediaKind) AlbumMember() bool {
	switch k {
	case KindPhoto, KindVideo, KindDocument, KindAudio, KindAnimation:
		return true
	}
	return false
}

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// Message is one transport-neutral inbound item.
//
// Text carries the body for KindText; Caption carries the optional caption
// for media kinds. AlbumID is non-empty when the item belongs to a media
// group burst.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	FromName     string
	Kind         MediaKind
	Text         string
	Caption      string
	FileID       string
	AlbumID      string
}

// Body returns the user-authored text regardless of kind.
func (m *Message) Body() string {
	if m.Kind == KindText {
		return m.Text
	}
	return m.Caption
}

type ChatTarget struct {
	ChatID int64
	// Username addresses a public chat/channel by @name when ChatID is 0.
	Username string
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Media is a reference to an already-uploaded file of a given kind.
type Media struct {
	Kind   MediaKind
	FileID string
}

// AlbumItem is one member of an outbound media group.
// Only the first item of an album is expected to carry a caption.
type AlbumItem struct {
	Media   Media
	Caption string
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, m Media, caption string, opt *SendOptions) (MessageRef, error)
	SendAlbum(ctx context.Context, to ChatTarget, items []AlbumItem, opt *SendOptions) ([]MessageRef, error)
}
