package config

// Config is the full on-disk configuration.
//
// The file is JSON or YAML (strict: unknown keys are rejected). Secrets and
// relay settings can also come from environment variables, which always win
// over file values (see env.go).
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Relay       RelayConfig       `json:"relay"`
	Logging     LoggingConfig     `json:"logging"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// GroupLog is the chat id used as the Telegram log sink target.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

// RelayConfig holds everything the relay path needs: who may log in, the
// credentials they must present, and how the outbound post is decorated.
type RelayConfig struct {
	AllowedUsers []int64 `json:"allowed_users"`
	Login        string  `json:"login"`
	// PasswordHash is the hex sha-256 of the accepted plaintext password.
	PasswordHash string `json:"password_hash"`
	// TargetChannel is a numeric chat id or a public @name.
	TargetChannel string `json:"target_channel"`
	ChannelLink   string `json:"channel_link"`
	ChannelName   string `json:"channel_name"`
	Separator     string `json:"separator"`
	// ShowAuthor defaults to true when omitted.
	ShowAuthor      *bool  `json:"show_author,omitempty"`
	SubscribeButton string `json:"subscribe_button_text"`

	// AlbumQuiet is the quiet interval after the first item of a media-group
	// burst before the album is flushed. Go duration string; default 1.5s.
	AlbumQuiet string `json:"album_quiet,omitempty"`
	// AlbumMaxAge bounds how long a buffered album may wait before the
	// maintenance sweep force-flushes it. Default 30s.
	AlbumMaxAge string `json:"album_max_age,omitempty"`
}

// ShowAuthorEnabled resolves the tri-state flag.
func (r RelayConfig) ShowAuthorEnabled() bool {
	return r.ShowAuthor == nil || *r.ShowAuthor
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the optional forward-history persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./relaybot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig controls background upkeep jobs.
//
// SweepSpec and DigestSpec are robfig/cron specs ("@every 30s", "0 9 * * *").
// An empty DigestSpec disables the digest.
type MaintenanceConfig struct {
	SweepSpec  string `json:"sweep_spec,omitempty"`
	DigestSpec string `json:"digest_spec,omitempty"`
	// DigestChat is the chat id that receives the daily forward digest.
	DigestChat string `json:"digest_chat,omitempty"`
}
