package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source identifies which producer discovered a signature.
type Source string

const (
	SourceHistory  Source = "history"
	SourceRealtime Source = "realtime"
)

// Priority is carried in headers for operator visibility; the broker
// does not reorder on it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// IngestMessage is the unit of work flowing from the producers to the
// enrichment worker. Attempt advances monotonically on each retry.
type IngestMessage struct {
	Signature  string    `json:"signature"`
	Slot       uint64    `json:"slot"`
	BlockTime  int64     `json:"blockTime,omitempty"`
	Source     Source    `json:"source"`
	ProgramID  string    `json:"programId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	Attempt    int       `json:"attempt"`
	Priority   Priority  `json:"priority"`
}

// Validate checks the message shape once at the boundary. Everything
// downstream operates on the typed struct.
func (m *IngestMessage) Validate() error {
	if m == nil {
		return fmt.Errorf("validation error: nil message")
	}
	if m.Signature == "" {
		return fmt.Errorf("validation error: missing signature")
	}
	if m.ProgramID == "" {
		return fmt.Errorf("validation error: missing programId")
	}
	switch m.Source {
	case SourceHistory, SourceRealtime:
	default:
		return fmt.Errorf("validation error: unknown source %q", m.Source)
	}
	if m.Attempt < 0 {
		return fmt.Errorf("validation error: negative attempt")
	}
	if m.Priority == "" {
		m.Priority = PriorityNormal
	}
	switch m.Priority {
	case PriorityLow, PriorityNormal, PriorityHigh:
	default:
		return fmt.Errorf("validation error: unknown priority %q", m.Priority)
	}
	return nil
}

func (m *IngestMessage) marshal() ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("validation error: marshal message: %w", err)
	}
	return body, nil
}

func unmarshalMessage(body []byte) (*IngestMessage, error) {
	var m IngestMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("validation error: unmarshal message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
