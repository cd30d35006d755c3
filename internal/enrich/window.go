package enrich

import (
	"sort"
	"sync"
	"time"
)

// Aggregation is the count of events of one type in one window.
type Aggregation struct {
	EventType   string    `json:"event_type"`
	Count       int64     `json:"count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
}

// WindowAggregator counts events per event type in tumbling processing-time
// windows aligned to the window size.
type WindowAggregator struct {
	mu     sync.Mutex
	size   time.Duration
	start  time.Time
	counts map[string]int64
}

func NewWindowAggregator(size time.Duration) *WindowAggregator {
	if size <= 0 {
		size = time.Minute
	}
	return &WindowAggregator{size: size, counts: make(map[string]int64)}
}

// Add counts one event seen at `at`. If `at` falls in a later window, the
// current window is closed and returned.
func (w *WindowAggregator) Add(eventType string, at time.Time) []Aggregation {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := at.Truncate(w.size)
	var flushed []Aggregation
	switch {
	case w.start.IsZero():
		w.start = start
	case start.After(w.start):
		flushed = w.drainLocked()
		w.start = start
	}
	w.counts[eventType]++
	return flushed
}

// Flush closes the current window if `now` is past its end.
func (w *WindowAggregator) Flush(now time.Time) []Aggregation {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.start.IsZero() || now.Before(w.start.Add(w.size)) {
		return nil
	}
	out := w.drainLocked()
	w.start = time.Time{}
	return out
}

// FlushAll closes the current window regardless of time.
func (w *WindowAggregator) FlushAll() []Aggregation {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.drainLocked()
	w.start = time.Time{}
	return out
}

func (w *WindowAggregator) drainLocked() []Aggregation {
	if len(w.counts) == 0 {
		return nil
	}
	end := w.start.Add(w.size)
	out := make([]Aggregation, 0, len(w.counts))
	for et, n := range w.counts {
		out = append(out, Aggregation{EventType: et, Count: n, WindowStart: w.start, WindowEnd: end})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	w.counts = make(map[string]int64)
	return out
}
