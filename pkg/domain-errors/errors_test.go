package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCodeThroughWrapping(t *testing.T) {
	base := Wrap(errors.New("connection refused"), CodePersistenceFailure, "persist audit record")
	wrapped := fmt.Errorf("submit: %w", base)

	assert.True(t, HasCode(wrapped, CodePersistenceFailure))
	assert.False(t, HasCode(wrapped, CodeBadRequest))
	assert.True(t, IsRetryable(wrapped))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "nothing"))
}

func TestRetryable(t *testing.T) {
	assert.False(t, IsRetryable(New(CodeBadRequest, "event_type is required")))
	assert.True(t, IsRetryable(New(CodeAdapterUnreachable, "record store not configured")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:         http.StatusBadRequest,
		CodePersistenceFailure: http.StatusServiceUnavailable,
		CodeSearchUnavailable:  http.StatusServiceUnavailable,
		CodeAdapterUnreachable: http.StatusServiceUnavailable,
		CodeInternal:           http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), string(code))
	}
}
