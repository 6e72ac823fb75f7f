package main

import (
	"errors"
	"fmt"
	"testing"

	"marketplace-ledger/internal/cashback"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
		err  error
		want int
	}{
		{"success", true, nil, exitOK},
		{"partial failure", false, nil, exitFailed},
		{"error", false, errors.New("db down"), exitFailed},
		{"lock held elsewhere", false, cashback.ErrSweepInProgress, exitLocked},
		{"wrapped lock error", false, fmt.Errorf("run: %w", cashback.ErrSweepInProgress), exitLocked},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.ok, tt.err))
		})
	}
	assert.NotEqual(t, exitOK, exitLocked)
}
