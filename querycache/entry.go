package querycache

import (
	"encoding/json"
	"time"
)

// Entry is the stored record for one cached query result. It is
// serialized as JSON for cross-process readability.
type Entry struct {
	Key           string          `json:"key"`
	Value         json.RawMessage `json:"value"`
	CreatedAt     time.Time       `json:"created_at"`
	ExpiresAt     time.Time       `json:"expires_at"`
	QueryDuration float64         `json:"query_duration"` // seconds
	Tags          []string        `json:"tags,omitempty"`
	AccessCount   int             `json:"access_count"`
}

// lookupOutcome classifies a cache read. Misses are not exceptional;
// expired and corrupt entries are explicit variants rather than error
// values so the read path can branch without exception-style control
// flow.
type lookupOutcome int

const (
	lookupHit lookupOutcome = iota
	lookupMiss
	lookupExpired
	lookupCorrupt
	lookupError
)

func (o lookupOutcome) String() string {
	switch o {
	case lookupHit:
		return "hit"
	case lookupMiss:
		return "miss"
	case lookupExpired:
		return "expired"
	case lookupCorrupt:
		return "corrupt"
	default:
		return "error"
	}
}
