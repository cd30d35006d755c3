package audit

import (
	"encoding/json"
	"strings"
	"time"

	dErrors "github.com/venkatesh-gg/streamchain-audit-pipeline/pkg/domain-errors"
)

// Event is the caller-supplied input. It is immutable once accepted: the
// pipeline copies it into a Record and never writes back.
type Event struct {
	EventType string         `json:"event_type"`
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata"`
}

// Validate checks the fields every record needs.
func (e Event) Validate() error {
	if strings.TrimSpace(e.EventType) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "event_type is required")
	}
	if strings.TrimSpace(e.UserID) == "" {
		return dErrors.New(dErrors.CodeBadRequest, "user_id is required")
	}
	return nil
}

// ArchivePayload is the structured document handed to the archive.
func (e Event) ArchivePayload() map[string]any {
	md := e.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return map[string]any{
		"event_type": e.EventType,
		"user_id":    e.UserID,
		"action":     e.Action,
		"metadata":   md,
	}
}

// Record is the system-of-record entity. ID and Timestamp are assigned by the
// record store and never change afterwards.
//
// Verified, ChainTxHash, ChainBlockNumber and GasUsed belong to an external
// verification workflow; the ingestion path always leaves them nil.
type Record struct {
	ID               int64     `json:"id"`
	EventType        string    `json:"event_type"`
	UserID           string    `json:"user_id"`
	Action           string    `json:"action"`
	Timestamp        time.Time `json:"timestamp"`
	ArchiveRef       *string   `json:"archive_ref"`
	Metadata         string    `json:"metadata"`
	Verified         *bool     `json:"verified"`
	ChainTxHash      *string   `json:"chain_tx_hash"`
	ChainBlockNumber *int64    `json:"chain_block_number"`
	GasUsed          *int64    `json:"gas_used"`
}

// NewRecord builds the unpersisted record for an accepted event. Metadata is
// serialized here so the stored copy cannot drift from what was accepted.
func NewRecord(e Event, archiveRef *string) (Record, error) {
	md := e.Metadata
	if md == nil {
		md = map[string]any{}
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "metadata is not serializable")
	}
	return Record{
		EventType:  e.EventType,
		UserID:     e.UserID,
		Action:     e.Action,
		ArchiveRef: archiveRef,
		Metadata:   string(raw),
	}, nil
}

// MetadataMap decodes the serialized metadata. Malformed content yields an
// empty map.
func (r Record) MetadataMap() map[string]any {
	md := map[string]any{}
	if r.Metadata == "" {
		return md
	}
	_ = json.Unmarshal([]byte(r.Metadata), &md)
	return md
}

// RecordQuery filters a store listing. Empty filters match everything;
// non-empty filters are combined with AND.
type RecordQuery struct {
	EventType string
	UserID    string
	Limit     int
}

// Matches applies the query filters to r.
func (q RecordQuery) Matches(r Record) bool {
	if q.EventType != "" && r.EventType != q.EventType {
		return false
	}
	if q.UserID != "" && r.UserID != q.UserID {
		return false
	}
	return true
}
