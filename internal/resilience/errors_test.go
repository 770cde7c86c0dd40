package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(NewTransientError(errors.New("boom"), 503)))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", NewTransientError(errors.New("boom"), 0))))
	assert.True(t, IsTransient(syscall.ECONNRESET))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.False(t, IsTransient(errors.New("boom")))
}

func TestPermissionNeverTransient(t *testing.T) {
	err := NewPermissionError(errors.New("forbidden"), 403)
	assert.True(t, IsPermission(err))
	assert.False(t, IsTransient(err))
	assert.False(t, IsTransient(fmt.Errorf("wrapped: %w", err)))
}

func TestMalformedInputNeverTransient(t *testing.T) {
	err := NewMalformedInputError("bad page %d", 9)
	assert.True(t, IsMalformedInput(err))
	assert.False(t, IsTransient(err))
}

func TestConfigurationNeverTransient(t *testing.T) {
	err := NewConfigurationError("credential %s not set", "API_KEY")
	assert.True(t, IsConfiguration(err))
	assert.False(t, IsTransient(err))
}

func TestHTTPStatusClassification(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 404} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
	assert.True(t, IsPermissionHTTPStatus(401))
	assert.True(t, IsPermissionHTTPStatus(403))
	assert.False(t, IsPermissionHTTPStatus(404))
}

func TestDataConflictErrorMessage(t *testing.T) {
	err := &DataConflictError{Field: "CLIMATE", Key: "2020", Column: "precip_mm", A: "100", B: "200"}
	assert.Contains(t, err.Error(), "CLIMATE")
	assert.Contains(t, err.Error(), "2020")
	assert.Contains(t, err.Error(), "precip_mm")
}
