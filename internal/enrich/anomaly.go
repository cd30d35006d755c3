package enrich

import (
	"math"
	"sync"
	"time"
)

// minEvents is the number of events per key before a score is produced.
const minEvents = 3

type keyStats struct {
	count   int64
	last    time.Time
	meanGap float64 // milliseconds
}

// AnomalyDetector flags bursts: an event that arrives far sooner than the
// running mean inter-arrival time for its event_type:user_id key.
type AnomalyDetector struct {
	mu    sync.Mutex
	stats map[string]*keyStats
	now   func() time.Time
}

func NewAnomalyDetector(now func() time.Time) *AnomalyDetector {
	if now == nil {
		now = time.Now
	}
	return &AnomalyDetector{stats: make(map[string]*keyStats), now: now}
}

// Score records one event for doc's key and writes is_anomaly and
// anomaly_score into doc. It reports false when doc lacks event_type or
// user_id.
func (d *AnomalyDetector) Score(doc map[string]any) bool {
	eventType, ok := doc["event_type"].(string)
	if !ok {
		return false
	}
	userID, ok := doc["user_id"].(string)
	if !ok {
		return false
	}

	score := d.observe(eventType+":"+userID, d.now())
	doc["is_anomaly"] = score >= 0.9
	doc["anomaly_score"] = score
	return true
}

func (d *AnomalyDetector) observe(key string, at time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.stats[key]
	if !ok {
		d.stats[key] = &keyStats{count: 1, last: at}
		return 0
	}

	gap := float64(at.Sub(st.last).Milliseconds())
	if gap < 0 {
		gap = 0
	}

	score := 0.0
	if st.count+1 >= minEvents {
		score = bandScore(ratio(gap, st.meanGap))
	}

	gaps := float64(st.count - 1)
	st.meanGap = (st.meanGap*gaps + gap) / (gaps + 1)
	st.count++
	st.last = at
	return score
}

func ratio(gap, mean float64) float64 {
	if mean <= 0 {
		if gap <= 0 {
			return 0
		}
		return math.Inf(1)
	}
	return gap / mean
}

func bandScore(r float64) float64 {
	switch {
	case r < 0.1:
		return 0.9
	case r < 0.3:
		return 0.7
	case r < 0.5:
		return 0.5
	default:
		return 0.1
	}
}

// Keys reports how many keys are being tracked.
func (d *AnomalyDetector) Keys() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.stats)
}
