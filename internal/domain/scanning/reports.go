package scanning

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ScanReports is the bag of raw adapter outputs for one completed scan: at
// most one blob per adapter name plus free-form image metadata. The bag is
// immutable after write; re-recording an adapter's blob is an error.
type ScanReports struct {
	scanID   uuid.UUID
	raw      map[string]json.RawMessage
	metadata json.RawMessage
}

// NewScanReports creates an empty report bag for the given scan.
func NewScanReports(scanID uuid.UUID) *ScanReports {
	return &ScanReports{
		scanID: scanID,
		raw:    make(map[string]json.RawMessage),
	}
}

// ReconstructScanReports creates a report bag from stored blobs.
func ReconstructScanReports(scanID uuid.UUID, raw map[string]json.RawMessage, metadata json.RawMessage) *ScanReports {
	if raw == nil {
		raw = make(map[string]json.RawMessage)
	}
	return &ScanReports{scanID: scanID, raw: raw, metadata: metadata}
}

// ScanID returns the scan this bag belongs to.
func (r *ScanReports) ScanID() uuid.UUID { return r.scanID }

// Add records an adapter's raw output blob. Each adapter may be recorded once.
func (r *ScanReports) Add(adapter string, blob json.RawMessage) error {
	if _, ok := r.raw[adapter]; ok {
		return ErrReportExists
	}
	r.raw[adapter] = blob
	return nil
}

// Report returns the raw blob for the named adapter.
func (r *ScanReports) Report(adapter string) (json.RawMessage, bool) {
	blob, ok := r.raw[adapter]
	return blob, ok
}

// Adapters returns the names of all adapters with a recorded blob.
func (r *ScanReports) Adapters() []string {
	names := make([]string, 0, len(r.raw))
	for name := range r.raw {
		names = append(names, name)
	}
	return names
}

// Raw returns the full adapter-name to blob map.
func (r *ScanReports) Raw() map[string]json.RawMessage { return r.raw }

// Metadata returns the free-form image metadata blob.
func (r *ScanReports) Metadata() json.RawMessage { return r.metadata }

// SetMetadata records the image metadata blob.
func (r *ScanReports) SetMetadata(metadata json.RawMessage) { r.metadata = metadata }

// SentinelError is the error document an adapter writes to its output path
// when it fails to produce valid output. Downstream aggregation loads these
// like any other blob, so partial failure degrades gracefully instead of
// aborting the scan.
type SentinelError struct {
	Adapter   string    `json:"adapter"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSentinelError builds the sentinel document for a failed adapter run.
func NewSentinelError(adapter string, err error) SentinelError {
	return SentinelError{
		Adapter:   adapter,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	}
}

// IsSentinel reports whether a raw blob is an adapter failure sentinel.
func IsSentinel(blob json.RawMessage) bool {
	var s SentinelError
	if err := json.Unmarshal(blob, &s); err != nil {
		return false
	}
	return s.Adapter != "" && s.Error != ""
}
