package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionErrorFormatting(t *testing.T) {
	assert.Equal(t, "not_powered", ErrNotPowered.Error())

	err := &ConnectionError{State: ConnectionLost, Msg: "hci0 vanished"}
	assert.Equal(t, "connection_lost: hci0 vanished", err.Error())

	var nilErr *ConnectionError
	assert.Equal(t, "<nil>", nilErr.Error())
}

func TestConnectionErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &ConnectionError{State: ConnectionFailed, Msg: "no adapter"})
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.NotErrorIs(t, err, ErrConnectionLost)
	assert.True(t, IsConnectionState(err, ConnectionFailed))
	assert.False(t, IsConnectionState(err, NotPowered))
	assert.False(t, IsConnectionState(errors.New("other"), ConnectionFailed))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name     string
		input    error
		expected error
	}{
		{name: "nil passes through", input: nil, expected: nil},
		{name: "init failure", input: errors.New("can't init hci: no such device"), expected: ErrConnectionFailed},
		{name: "no device", input: errors.New("no device found"), expected: ErrConnectionFailed},
		{name: "powered off", input: errors.New("adapter Powered Off"), expected: ErrNotPowered},
		{name: "closed channel", input: errors.New("input channel closed"), expected: ErrConnectionLost},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.input)
			if tt.expected == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.expected)
		})
	}

	t.Run("unknown errors pass through untouched", func(t *testing.T) {
		err := errors.New("something else")
		assert.Equal(t, err, NormalizeError(err))
	})
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"cc:6f:70:ee:4c:ad", "CC:6F:70:EE:4C:AD"},
		{"CC-6F-70-EE-4C-AD", "CC:6F:70:EE:4C:AD"},
		{"CC_6F_70_EE_4C_AD", "CC:6F:70:EE:4C:AD"}, // BlueZ object path form
		{"  CC:6F:70:EE:4C:AD ", "CC:6F:70:EE:4C:AD"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, NormalizeAddress(tt.input))
	}
}

func TestValidAddress(t *testing.T) {
	valid := []string{"CC:6F:70:EE:4C:AD", "00:00:00:00:00:00", "ff:ff:ff:ff:ff:ff"}
	for _, addr := range valid {
		assert.True(t, ValidAddress(addr), addr)
	}

	invalid := []string{"", "CC:6F:70:EE:4C", "CC:6F:70:EE:4C:AD:01", "GG:6F:70:EE:4C:AD", "CC6F70EE4CAD", "CC:6F:70:EE:4C:A"}
	for _, addr := range invalid {
		assert.False(t, ValidAddress(addr), addr)
	}
}
