package audit

import "time"

const (
	// DefaultTopic is the stream topic records are published to.
	DefaultTopic = "audit-events"
	// DefaultIndex is the search index records are upserted into.
	DefaultIndex = "audit_records"
	// BroadcastTypeNewEvent tags live subscriber payloads.
	BroadcastTypeNewEvent = "new_event"
)

// SearchFields are the document fields full-text queries match against.
var SearchFields = []string{"event_type", "user_id", "action"}

// StreamMessage is the projection published to the stream bus.
type StreamMessage struct {
	ID         int64          `json:"id"`
	EventType  string         `json:"event_type"`
	UserID     string         `json:"user_id"`
	Action     string         `json:"action"`
	Timestamp  string         `json:"timestamp"`
	ArchiveRef *string        `json:"archive_ref"`
	Metadata   map[string]any `json:"metadata"`
}

// IndexDocument is the projection stored in the search index, and the partial
// record returned by searches.
type IndexDocument struct {
	ID         int64     `json:"id"`
	EventType  string    `json:"event_type"`
	UserID     string    `json:"user_id"`
	Action     string    `json:"action"`
	Timestamp  time.Time `json:"timestamp"`
	ArchiveRef *string   `json:"archive_ref"`
}

// BroadcastMessage is the envelope sent to live subscribers.
type BroadcastMessage struct {
	Type string        `json:"type"`
	Data BroadcastData `json:"data"`
}

// BroadcastData is the record subset live subscribers see.
type BroadcastData struct {
	ID        int64  `json:"id"`
	EventType string `json:"event_type"`
	UserID    string `json:"user_id"`
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
}

// SearchResult is a ranked page of index documents.
type SearchResult struct {
	Hits  []IndexDocument `json:"results"`
	Total int64           `json:"total"`
}

// ToStreamMessage projects a persisted record for the stream bus.
func ToStreamMessage(r Record) StreamMessage {
	return StreamMessage{
		ID:         r.ID,
		EventType:  r.EventType,
		UserID:     r.UserID,
		Action:     r.Action,
		Timestamp:  r.Timestamp.UTC().Format(time.RFC3339Nano),
		ArchiveRef: r.ArchiveRef,
		Metadata:   r.MetadataMap(),
	}
}

// ToIndexDocument projects a persisted record for the search index.
func ToIndexDocument(r Record) IndexDocument {
	return IndexDocument{
		ID:         r.ID,
		EventType:  r.EventType,
		UserID:     r.UserID,
		Action:     r.Action,
		Timestamp:  r.Timestamp.UTC(),
		ArchiveRef: r.ArchiveRef,
	}
}

// ToBroadcastMessage projects a persisted record for live subscribers.
func ToBroadcastMessage(r Record) BroadcastMessage {
	return BroadcastMessage{
		Type: BroadcastTypeNewEvent,
		Data: BroadcastData{
			ID:        r.ID,
			EventType: r.EventType,
			UserID:    r.UserID,
			Action:    r.Action,
			Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}
}
