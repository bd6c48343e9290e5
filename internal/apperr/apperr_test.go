package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	base := errors.New("no such host")
	err := fmt.Errorf("start: %w", New(UnresolvableHost, "connect", base))

	assert.Equal(t, UnresolvableHost, KindOf(err))
	assert.True(t, IsKind(err, UnresolvableHost))
	assert.True(t, errors.Is(err, base))
	assert.True(t, errors.Is(err, &Error{Kind: UnresolvableHost}))
	assert.False(t, errors.Is(err, &Error{Kind: Timeout}))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("boom")))
	assert.Equal(t, Unknown, KindOf(nil))
	assert.False(t, IsFatal(errors.New("boom")))
}

func TestFatal(t *testing.T) {
	e := New(WriteError, "send", errors.New("broken pipe"))
	assert.False(t, IsFatal(e))
	e.Fatal = true
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", e)))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "start: invalid_config", New(InvalidConfig, "start", nil).Error())
	assert.Equal(t, "close: close_error: already closed", New(CloseError, "close", errors.New("already closed")).Error())
}
