// Package enrich turns raw audit stream messages into enriched events and
// per-window aggregates for downstream analytics.
package enrich

import (
	"strings"
	"time"
)

// Version is stamped on every enriched event.
const Version = "1.0"

const (
	CountryInternal = "Internal"
	CountryUnknown  = "Unknown"
)

var internalPrefixes = []string{"10.", "172.", "192.168."}

var baseRisk = map[string]float64{
	"USER_AUTHENTICATION": 0.3,
	"PAYMENT_TRANSACTION": 0.7,
	"DATA_ACCESS":         0.5,
}

const (
	defaultRisk  = 0.2
	externalRisk = 0.2
)

// Enricher adds processing metadata, a coarse geolocation and a risk score.
type Enricher struct {
	now func() time.Time
}

func NewEnricher(now func() time.Time) *Enricher {
	if now == nil {
		now = time.Now
	}
	return &Enricher{now: now}
}

// Enrich mutates doc in place. It reports false and leaves doc untouched when
// doc has no string event_type.
func (e *Enricher) Enrich(doc map[string]any) bool {
	eventType, ok := doc["event_type"].(string)
	if !ok {
		return false
	}

	doc["processed_timestamp"] = e.now().UnixMilli()
	doc["enrichment_version"] = Version

	var geo map[string]any
	if md, ok := doc["metadata"].(map[string]any); ok {
		if ip, ok := md["ip"].(string); ok {
			geo = map[string]any{
				"country": countryForIP(ip),
				"city":    CountryUnknown,
			}
			doc["geolocation"] = geo
		}
	}

	doc["risk_score"] = riskScore(eventType, geo)
	return true
}

func countryForIP(ip string) string {
	for _, p := range internalPrefixes {
		if strings.HasPrefix(ip, p) {
			return CountryInternal
		}
	}
	return CountryUnknown
}

func riskScore(eventType string, geo map[string]any) float64 {
	score, ok := baseRisk[eventType]
	if !ok {
		score = defaultRisk
	}
	if geo != nil && geo["country"] != CountryInternal {
		score += externalRisk
	}
	return min(score, 1.0)
}
