package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validMessage() *IngestMessage {
	return &IngestMessage{
		Signature:  "5sig",
		Slot:       1234,
		BlockTime:  1700000000,
		Source:     SourceHistory,
		ProgramID:  "Prog111",
		EnqueuedAt: time.Unix(1700000100, 0).UTC(),
		Attempt:    0,
		Priority:   PriorityNormal,
	}
}

func TestIngestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *IngestMessage)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(m *IngestMessage) {},
		},
		{
			name:    "missing signature",
			mutate:  func(m *IngestMessage) { m.Signature = "" },
			wantErr: "missing signature",
		},
		{
			name:    "missing program id",
			mutate:  func(m *IngestMessage) { m.ProgramID = "" },
			wantErr: "missing programId",
		},
		{
			name:    "unknown source",
			mutate:  func(m *IngestMessage) { m.Source = "scraper" },
			wantErr: "unknown source",
		},
		{
			name:    "negative attempt",
			mutate:  func(m *IngestMessage) { m.Attempt = -1 },
			wantErr: "negative attempt",
		},
		{
			name:    "unknown priority",
			mutate:  func(m *IngestMessage) { m.Priority = "urgent" },
			wantErr: "unknown priority",
		},
		{
			name:   "empty priority defaults to normal",
			mutate: func(m *IngestMessage) { m.Priority = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validMessage()
			tt.mutate(m)

			err := m.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "validation error")
		})
	}
}

func TestValidateNilMessage(t *testing.T) {
	var m *IngestMessage
	require.Error(t, m.Validate())
}

func TestValidateDefaultsPriority(t *testing.T) {
	m := validMessage()
	m.Priority = ""
	require.NoError(t, m.Validate())
	assert.Equal(t, PriorityNormal, m.Priority)
}

func TestMessageRoundTrip(t *testing.T) {
	m := validMessage()
	m.Source = SourceRealtime
	m.Priority = PriorityHigh
	m.Attempt = 2

	body, err := m.marshal()
	require.NoError(t, err)

	got, err := unmarshalMessage(body)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestUnmarshalRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{"not json", []byte("nope")},
		{"empty object", []byte(`{}`)},
		{"missing program id", []byte(`{"signature":"s","source":"history"}`)},
		{"bad source", []byte(`{"signature":"s","programId":"p","source":"other"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := unmarshalMessage(tt.body)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validation error")
		})
	}
}
