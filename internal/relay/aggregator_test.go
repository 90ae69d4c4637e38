package relay

import (
	"sync"
	"testing"
	"time"

	kit "relaybot/internal/transport"
)

type flushRecorder struct {
	mu     sync.Mutex
	albums map[string][][]*kit.Message
}

func newFlushRecorder() *flushRecorder {
	return &flushRecorder{albums: map[string][][]*kit.Message{}}
}

func (r *flushRecorder) flush(albumID string, items []*kit.Message) {
	r.mu.Lock()
	r.albums[albumID] = append(r.albums[albumID], items)
	r.mu.Unlock()
}

func (r *flushRecorder) bursts(albumID string) [][]*kit.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.albums[albumID]
}

func albumMsg(id int, albumID string) *kit.Message {
	return &kit.Message{ID: id, Kind: kit.KindPhoto, FileID: "f", AlbumID: albumID}
}

func TestAddWithoutAlbumID(t *testing.T) {
	t.Parallel()
	g := NewAggregator(time.Hour, nil)
	if g.Add(&kit.Message{ID: 1, Kind: kit.KindText, Text: "hi"}) {
		t.Fatal("Add should report false for an item without album id")
	}
	if g.Add(nil) {
		t.Fatal("Add(nil) should report false")
	}
	if got := g.Pending(); got != 0 {
		t.Fatalf("Pending = %d, want 0", got)
	}
}

func TestFlushPreservesArrivalOrder(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	g := NewAggregator(time.Hour, rec.flush)

	for i := 1; i <= 3; i++ {
		if !g.Add(albumMsg(i, "alb")) {
			t.Fatalf("Add #%d should report true", i)
		}
	}
	g.Flush("alb")

	bursts := rec.bursts("alb")
	if len(bursts) != 1 {
		t.Fatalf("got %d bursts, want 1", len(bursts))
	}
	items := bursts[0]
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3", len(items))
	}
	for i, m := range items {
		if m.ID != i+1 {
			t.Fatalf("items[%d].ID = %d, want %d", i, m.ID, i+1)
		}
	}
}

func TestDoubleFlushIsHarmless(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	g := NewAggregator(time.Hour, rec.flush)

	g.Add(albumMsg(1, "alb"))
	g.Flush("alb")
	g.Flush("alb")
	g.Flush("never-seen")

	if got := len(rec.bursts("alb")); got != 1 {
		t.Fatalf("flush callback ran %d times, want 1", got)
	}
}

func TestReuseAfterFlushStartsFreshBurst(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	g := NewAggregator(time.Hour, rec.flush)

	g.Add(albumMsg(1, "alb"))
	g.Flush("alb")
	g.Add(albumMsg(2, "alb"))
	g.Flush("alb")

	bursts := rec.bursts("alb")
	if len(bursts) != 2 {
		t.Fatalf("got %d bursts, want 2", len(bursts))
	}
	if len(bursts[0]) != 1 || bursts[0][0].ID != 1 {
		t.Fatalf("first burst = %+v, want single item 1", bursts[0])
	}
	if len(bursts[1]) != 1 || bursts[1][0].ID != 2 {
		t.Fatalf("second burst = %+v, want single item 2", bursts[1])
	}
}

func TestDeferredFlushCollectsWholeBurst(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	g := NewAggregator(50*time.Millisecond, rec.flush)

	// Items trickle in well inside the quiet interval.
	g.Add(albumMsg(1, "alb"))
	time.Sleep(10 * time.Millisecond)
	g.Add(albumMsg(2, "alb"))
	g.Add(albumMsg(3, "alb"))

	deadline := time.Now().Add(2 * time.Second)
	for {
		if bursts := rec.bursts("alb"); len(bursts) == 1 {
			if len(bursts[0]) != 3 {
				t.Fatalf("got %d items, want 3", len(bursts[0]))
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timer flush never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := g.Pending(); got != 0 {
		t.Fatalf("Pending = %d after flush, want 0", got)
	}
}

func TestInterleavedAlbumsStaySeparate(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	g := NewAggregator(time.Hour, rec.flush)

	g.Add(albumMsg(1, "a"))
	g.Add(albumMsg(2, "b"))
	g.Add(albumMsg(3, "a"))
	g.Add(albumMsg(4, "b"))

	g.Flush("a")
	g.Flush("b")

	a := rec.bursts("a")
	b := rec.bursts("b")
	if len(a) != 1 || len(a[0]) != 2 || a[0][0].ID != 1 || a[0][1].ID != 3 {
		t.Fatalf("album a = %+v, want items 1,3", a)
	}
	if len(b) != 1 || len(b[0]) != 2 || b[0][0].ID != 2 || b[0][1].ID != 4 {
		t.Fatalf("album b = %+v, want items 2,4", b)
	}
}

func TestSweepStale(t *testing.T) {
	t.Parallel()
	rec := newFlushRecorder()
	g := NewAggregator(time.Hour, rec.flush)

	g.Add(albumMsg(1, "old"))
	g.mu.Lock()
	g.buffers["old"].created = time.Now().Add(-time.Minute)
	g.mu.Unlock()
	g.Add(albumMsg(2, "fresh"))

	if n := g.SweepStale(30 * time.Second); n != 1 {
		t.Fatalf("SweepStale = %d, want 1", n)
	}
	if got := len(rec.bursts("old")); got != 1 {
		t.Fatalf("stale album flushed %d times, want 1", got)
	}
	if got := len(rec.bursts("fresh")); got != 0 {
		t.Fatalf("fresh album flushed %d times, want 0", got)
	}
	if n := g.SweepStale(0); n != 0 {
		t.Fatalf("SweepStale(0) = %d, want 0", n)
	}
}
