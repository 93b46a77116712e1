package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidArgumentf(t *testing.T) {
	err := InvalidArgumentf("scale must be positive, got %v", -1.5)

	assert.True(t, IsInvalidArgument(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, "INVALID_ARGUMENT: scale must be positive, got -1.5", err.Error())
}

func TestNotFoundf(t *testing.T) {
	err := NotFoundf("thread %q not found", "t:abc")

	assert.True(t, IsNotFound(err))
	assert.False(t, IsInvalidArgument(err))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := NotFoundf("message %q not found", "sms-1")
	wrapped := fmt.Errorf("mark read: %w", inner)

	assert.True(t, IsNotFound(wrapped))

	var fe *Error
	assert.True(t, errors.As(wrapped, &fe))
	assert.Equal(t, KindNotFound, fe.Kind)
}

func TestPredicatesRejectPlainErrors(t *testing.T) {
	err := errors.New("plain")

	assert.False(t, IsInvalidArgument(err))
	assert.False(t, IsNotFound(err))
}
