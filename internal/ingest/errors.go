package ingest

import "fmt"

// Sink names used in logs, metrics and breaker labels.
const (
	SinkArchive   = "archive"
	SinkStream    = "stream"
	SinkIndex     = "index"
	SinkBroadcast = "broadcast"
	SinkRelay     = "relay"
)

// SinkError is a best-effort step failure. It is logged, never returned to
// the submitter. RecordID is zero for archival, which runs before the record
// exists.
type SinkError struct {
	Sink     string
	RecordID int64
	Err      error
}

func (e *SinkError) Error() string {
	if e.RecordID == 0 {
		return fmt.Sprintf("%s sink failed: %v", e.Sink, e.Err)
	}
	return fmt.Sprintf("%s sink failed for record %d: %v", e.Sink, e.RecordID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }
