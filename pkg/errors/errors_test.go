package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	err := &Error{Type: ErrorTypeNotFound, Message: "post not found", Code: 404}
	assert.Equal(t, "not_found error (code 404): post not found", err.Error())
}

func TestTypeOf(t *testing.T) {
	wrapped := fmt.Errorf("resolve failed: %w", New(ErrorTypeAuth, "login required for %s", "abc"))

	assert.Equal(t, ErrorTypeAuth, TypeOf(wrapped))
	assert.True(t, Is(wrapped, ErrorTypeAuth))
	assert.False(t, Is(wrapped, ErrorTypeNetwork))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(fmt.Errorf("plain")))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(nil))
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		want      bool
	}{
		{ErrorTypeInvalidInput, true},
		{ErrorTypeNotFound, true},
		{ErrorTypeAuth, true},
		{ErrorTypeTooLarge, true},
		{ErrorTypeNetwork, false},
		{ErrorTypeServerError, false},
		{ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			assert.Equal(t, tt.want, IsUserFacing(tt.errorType))
		})
	}
}
