package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "relaybot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.forwards.jsonl (append-only JSON Lines)
//
// Stats queries scan the file; history volume is a handful of posts per day,
// so a linear scan is fine.
type fileStore struct {
	log logx.Logger

	mu   sync.Mutex
	path string
	f    *os.File
}

type forwardRecord struct {
	At        int64  `json:"at"` // unix milli
	ActorID   int64  `json:"actor_id"`
	ActorName string `json:"actor_name,omitempty"`
	Kind      string `json:"kind"`
	Items     int    `json:"items"`
	AlbumID   string `json:"album_id,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(filepath.Base(path)))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fwdPath := prefix + ".forwards.jsonl"
	f, err := os.OpenFile(fwdPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{log: log, path: fwdPath, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendForward(ctx context.Context, e ForwardEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("forward log closed")
	}
	rec := forwardRecord{
		At:        e.At.UnixMilli(),
		ActorID:   e.ActorID,
		ActorName: e.ActorName,
		Kind:      e.Kind,
		Items:     e.Items,
		AlbumID:   e.AlbumID,
	}
	return json.NewEncoder(s.f).Encode(rec)
}

func (s *fileStore) StatsSince(ctx context.Context, since time.Time) (ForwardStats, error) {
	_ = ctx
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ForwardStats{}, nil
		}
		return ForwardStats{}, err
	}
	defer f.Close()

	cutoff := since.UnixMilli()
	var st ForwardStats
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec forwardRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			// Tolerate a torn last line from a crash.
			continue
		}
		if rec.At < cutoff {
			continue
		}
		st.Total++
		st.Items += rec.Items
		if rec.Kind == "album" {
			st.Albums++
		}
	}
	return st, sc.Err()
}
