package worker

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not found", errors.New("rpc: transaction not found"), true},
		{"invalid signature", errors.New("Invalid Signature provided"), true},
		{"validation error", fmt.Errorf("fetch: %w", errors.New("validation error: missing signature")), true},
		{"parse error", errors.New("parse error: oracle response"), true},
		{"timeout is transient", errors.New("context deadline exceeded"), false},
		{"connection refused is transient", errors.New("dial tcp: connection refused"), false},
		{"rate limit is transient", errors.New("oracle status 429"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}
