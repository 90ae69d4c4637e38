package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overlays environment variables onto cfg. Env always wins over
// file values so the bot can run from a plain .env with no config file at
// all. Variable names match the historical deployment.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if v, ok := lookup("API_TOKEN"); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := lookup("ALLOWED_USERS"); ok {
		ids, err := parseUserList(v)
		if err != nil {
			return fmt.Errorf("ALLOWED_USERS: %w", err)
		}
		cfg.Relay.AllowedUsers = ids
	}
	if v, ok := lookup("LOGIN"); ok {
		cfg.Relay.Login = v
	}
	if v, ok := lookup("PASSWORD_HASH"); ok {
		cfg.Relay.PasswordHash = v
	}
	if v, ok := lookup("TARGET_CHANNEL"); ok {
		cfg.Relay.TargetChannel = v
	}
	if v, ok := lookup("CHANNEL_LINK"); ok {
		cfg.Relay.ChannelLink = v
	}
	if v, ok := lookup("CHANNEL_NAME"); ok {
		cfg.Relay.ChannelName = v
	}
	if v, ok := lookup("SEPARATOR"); ok {
		cfg.Relay.Separator = v
	}
	if v, ok := lookup("SHOW_AUTHOR"); ok {
		b := strings.EqualFold(strings.TrimSpace(v), "true")
		cfg.Relay.ShowAuthor = &b
	}
	if v, ok := lookup("SUBSCRIBE_BUTTON_TEXT"); ok {
		cfg.Relay.SubscribeButton = v
	}
	return nil
}

// ApplyDefaults fills settings the file/env left empty.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Relay.Separator) == "" {
		cfg.Relay.Separator = " | "
	}
	if strings.TrimSpace(cfg.Relay.SubscribeButton) == "" {
		cfg.Relay.SubscribeButton = "Subscribe"
	}
	if strings.TrimSpace(cfg.Relay.AlbumQuiet) == "" {
		cfg.Relay.AlbumQuiet = "1500ms"
	}
	if strings.TrimSpace(cfg.Relay.AlbumMaxAge) == "" {
		cfg.Relay.AlbumMaxAge = "30s"
	}
	if strings.TrimSpace(cfg.Maintenance.SweepSpec) == "" {
		cfg.Maintenance.SweepSpec = "@every 15s"
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func parseUserList(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
