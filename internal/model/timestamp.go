// Package model defines the REST entities exchanged with the control plane
// (Run, Job, RunLog, KillRequest, Worker) and the bus envelopes used for
// broadcast commands and published events. Sub-entity fields that the
// control plane represents as bare URIs (Run.Job, Run.RunLog,
// KillRequest.Run) are modeled as Ref[T] — a small lazy handle that fetches
// the referenced resource through a Fetcher on first access, instead of the
// dynamic __getattr__ lookup the original Python models used.
package model

import (
	"fmt"
	"time"
)

// timestampLayout matches the control plane's ISO-8601-with-space-separator
// convention: "2026-01-02 15:04:05+00:00". The worker always writes UTC.
const timestampLayout = "2006-01-02 15:04:05-07:00"

// Timestamp is a control-plane datetime. It marshals and parses the
// space-separated, timezone-suffixed format the control plane expects
// instead of Go's default RFC 3339 'T' separator.
type Timestamp struct {
	time.Time
}

// Now returns the current time as a UTC Timestamp, ready to PATCH.
func Now() Timestamp {
	return Timestamp{time.Now().UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return fmt.Appendf(nil, "%q", t.UTC().Format(timestampLayout)), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		t.Time = time.Time{}
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := time.Parse(timestampLayout, s)
	if err != nil {
		return fmt.Errorf("model: invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}
