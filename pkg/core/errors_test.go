package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/core"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "ErrInvalidInput", err: core.ErrInvalidInput, expected: "invalid input"},
		{name: "ErrNotFound", err: core.ErrNotFound, expected: "memory not found"},
		{name: "ErrStorageUnavailable", err: core.ErrStorageUnavailable, expected: "storage unavailable"},
		{name: "ErrInvalidConfig", err: core.ErrInvalidConfig, expected: "invalid configuration"},
		{name: "ErrLLMOperation", err: core.ErrLLMOperation, expected: "llm operation failed"},
		{name: "ErrClosed", err: core.ErrClosed, expected: "client closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestMemoryError(t *testing.T) {
	err := core.NewMemoryError("Store", core.ErrInvalidInput)

	assert.Equal(t, "mtmemory: Store: invalid input", err.Error())
	assert.True(t, errors.Is(err, core.ErrInvalidInput))

	var memErr *core.MemoryError
	assert.True(t, errors.As(err, &memErr))
	assert.Equal(t, "Store", memErr.Op)
}

func TestNewMemoryError_Nil(t *testing.T) {
	assert.NoError(t, core.NewMemoryError("Store", nil))
}

func TestIsValidationError(t *testing.T) {
	wrapped := core.NewMemoryError("Retrieve", fmt.Errorf("%w: query is empty", core.ErrInvalidInput))
	assert.True(t, core.IsValidationError(wrapped))
	assert.False(t, core.IsValidationError(core.NewMemoryError("Get", core.ErrNotFound)))
	assert.False(t, core.IsValidationError(nil))
}
