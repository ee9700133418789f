// Package prompt asks the operator to confirm destructive commands.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the operator interrupts a prompt.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err came from an interrupted prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, ErrAborted)
}

// ConfirmWithForce asks the operator to type word before a destructive
// operation proceeds. force answers yes without prompting, for scripts.
func ConfirmWithForce(label, word string, force bool) (bool, error) {
	if force {
		return true, nil
	}

	p := promptui.Prompt{
		Label:    fmt.Sprintf("%s (type '%s' to confirm)", label, word),
		Validate: matchWord(word),
	}
	answer, err := p.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case err != nil:
		return false, err
	}
	return strings.TrimSpace(answer) == word, nil
}

// matchWord accepts only word, ignoring surrounding blanks.
func matchWord(word string) promptui.ValidateFunc {
	return func(input string) error {
		if strings.TrimSpace(input) != word {
			return fmt.Errorf("type '%s' to confirm", word)
		}
		return nil
	}
}
