package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ForwardEntry records one successful relay to the channel.
// Keep it compact and schema-stable.
type ForwardEntry struct {
	At        time.Time
	ActorID   int64
	ActorName string
	Kind      string // text/photo/.../album
	Items     int
	AlbumID   string
}

// ForwardStats summarizes history over a window.
type ForwardStats struct {
	Total  int
	Albums int
	Items  int
}
