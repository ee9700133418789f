package prompt

import (
	"fmt"
	"testing"

	"github.com/manifoldco/promptui"
	"github.com/stretchr/testify/assert"
)

func TestConfirmWithForceSkipsPrompt(t *testing.T) {
	ok, err := ConfirmWithForce("Erase everything", "erase", true)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(ErrAborted))
	assert.True(t, IsAborted(promptui.ErrInterrupt))
	assert.True(t, IsAborted(fmt.Errorf("format: %w", ErrAborted)))
	assert.False(t, IsAborted(promptui.ErrAbort))
	assert.False(t, IsAborted(nil))
}

func TestMatchWord(t *testing.T) {
	validate := matchWord("erase")
	assert.NoError(t, validate("erase"))
	assert.NoError(t, validate("  erase\n"))
	assert.Error(t, validate("Erase"))
	assert.Error(t, validate(""))
}
