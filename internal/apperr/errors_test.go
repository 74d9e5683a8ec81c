package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := Wrap(errors.New("disk full"), KindFileProcessing, CodeIOFailed, "write output").
		WithContext("user", 42).
		WithContext("path", "/tmp/x")

	assert.Equal(t, "[FileProcessing/io_failed] write output | context: path=/tmp/x, user=42 | cause: disk full", err.Error())
}

func TestInspectWrapped(t *testing.T) {
	base := New(KindBusy, CodeBusy, "user 1 is busy")
	wrapped := fmt.Errorf("prepare: %w", base)

	assert.Equal(t, KindBusy, KindOf(wrapped))
	assert.Equal(t, CodeBusy, CodeOf(wrapped))
	assert.True(t, IsKind(wrapped, KindBusy))
	assert.True(t, IsCode(wrapped, CodeBusy))
	assert.False(t, IsKind(wrapped, KindState))

	plain := errors.New("boom")
	assert.Equal(t, KindInternal, KindOf(plain))
	assert.Equal(t, CodeInternal, CodeOf(plain))
	assert.False(t, IsKind(plain, KindInternal))
}

func TestUserMessageHidesCause(t *testing.T) {
	err := Wrap(errors.New("secret api key sk-123 rejected"), KindTranslation, CodeTranslationFailed, "backend call")
	msg := UserMessage(err)
	assert.NotContains(t, msg, "sk-123")
	assert.Equal(t, "Translation failed. Please try again later.", msg)

	assert.Equal(t, "Invalid input: size must be positive", UserMessage(New(KindValidation, CodeInvalidSize, "size must be positive")))
	assert.Contains(t, UserMessage(New(KindTranslation, CodeRateLimited, "429")), "Too many requests")
	assert.Contains(t, UserMessage(errors.New("x")), "unexpected")
	assert.Empty(t, UserMessage(nil))
}

func TestAdvice(t *testing.T) {
	assert.Contains(t, Advice(New(KindTranslation, CodeTimeout, "slow")), "LLM")
	assert.Contains(t, Advice(errors.New("x")), "permissions")
}

func TestSafeExecute(t *testing.T) {
	err := SafeExecute(func() error { panic("kaboom") })
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Contains(t, err.Error(), "kaboom")

	require.NoError(t, SafeExecute(func() error { return nil }))
}
