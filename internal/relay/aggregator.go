package relay

import (
	"sync"
	"time"

	kit "relaybot/internal/transport"
)

// Aggregator reassembles media-group bursts.
//
// Telegram splits one user "album" action into several physical messages
// sharing an AlbumID, delivered within a short window. The aggregator
// buffers them per AlbumID and schedules exactly one deferred flush per
// burst: only the insert that creates a buffer arms the timer, measured
// from that first item's arrival.
//
// The buffer map is shared between the dispatch loop (Add) and timer
// goroutines (flush), so every map access happens under mu.
type Aggregator struct {
	mu      sync.Mutex
	buffers map[string]*albumBuffer
	quiet   time.Duration

	// flush receives ownership of a complete burst, in arrival order.
	flush func(albumID string, items []*kit.Message)
}

type albumBuffer struct {
	items   []*kit.Message
	created time.Time
}

const DefaultQuiet = 1500 * time.Millisecond

func NewAggregator(quiet time.Duration, flush func(albumID string, items []*kit.Message)) *Aggregator {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Aggregator{
		buffers: map[string]*albumBuffer{},
		quiet:   quiet,
		flush:   flush,
	}
}

// Apply updates the quiet interval (config hot reload). Already-armed
// timers keep their original deadline.
func (g *Aggregator) Apply(quiet time.Duration) {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	g.mu.Lock()
	g.quiet = quiet
	g.mu.Unlock()
}

// Add buffers an item belonging to a media group. It reports false when the
// item carries no album id, in which case the caller owns routing it down
// the single-item path.
func (g *Aggregator) Add(m *kit.Message) bool {
	if m == nil || m.AlbumID == "" {
		return false
	}

	g.mu.Lock()
	buf := g.buffers[m.AlbumID]
	first := buf == nil
	if first {
		buf = &albumBuffer{created: time.Now()}
		g.buffers[m.AlbumID] = buf
	}
	buf.items = append(buf.items, m)
	quiet := g.quiet
	g.mu.Unlock()

	if first {
		albumID := m.AlbumID
		time.AfterFunc(quiet, func() { g.Flush(albumID) })
	}
	return true
}

// Flush removes the buffer for albumID and hands its items to the flush
// callback. A missing or already-consumed buffer is a no-op, which makes a
// double flush harmless. Items arriving after removal start a fresh
// buffer/timer cycle.
func (g *Aggregator) Flush(albumID string) {
	g.mu.Lock()
	buf := g.buffers[albumID]
	delete(g.buffers, albumID)
	g.mu.Unlock()

	if buf == nil || len(buf.items) == 0 {
		return
	}
	if g.flush != nil {
		g.flush(albumID, buf.items)
	}
}

// SweepStale force-flushes buffers older than maxAge. This is a safety
// valve for the (never observed) case of a lost flush timer; under normal
// operation it finds nothing. Returns the number of buffers flushed.
func (g *Aggregator) SweepStale(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	now := time.Now()

	g.mu.Lock()
	var stale []string
	for id, buf := range g.buffers {
		if now.Sub(buf.created) > maxAge {
			stale = append(stale, id)
		}
	}
	g.mu.Unlock()

	for _, id := range stale {
		g.Flush(id)
	}
	return len(stale)
}

// Pending reports the number of buffered albums (observability only).
func (g *Aggregator) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buffers)
}
