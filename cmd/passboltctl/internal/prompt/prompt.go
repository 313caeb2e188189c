// Package prompt wraps the interactive terminal prompts used by passboltctl.
package prompt

import (
	"errors"
	"strings"

	"github.com/pterm/pterm"
)

// ErrEmptyInput is returned when a required answer is left blank.
var ErrEmptyInput = errors.New("no value entered")

// Prompter asks the operator questions. Menus depend on this interface so they
// can be driven by scripted answers in tests.
type Prompter interface {
	Select(label string, options []string) (string, error)
	Text(label, defaultValue string) (string, error)
	Secret(label string) (string, error)
	Confirm(label string, defaultValue bool) (bool, error)
}

// Terminal is the pterm-backed Prompter.
type Terminal struct{}

var _ Prompter = Terminal{}

func (Terminal) Select(label string, options []string) (string, error) {
	return pterm.DefaultInteractiveSelect.
		WithOptions(options).
		WithDefaultText(label).
		WithMaxHeight(10).
		Show()
}

func (Terminal) Text(label, defaultValue string) (string, error) {
	answer, err := pterm.DefaultInteractiveTextInput.
		WithDefaultValue(defaultValue).
		Show(label)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

func (Terminal) Secret(label string) (string, error) {
	return pterm.DefaultInteractiveTextInput.
		WithMask("*").
		Show(label)
}

func (Terminal) Confirm(label string, defaultValue bool) (bool, error) {
	return pterm.DefaultInteractiveConfirm.
		WithDefaultValue(defaultValue).
		Show(label)
}

// Required asks for text until a non-empty answer is given, at most attempts times.
func Required(p Prompter, label string, attempts int) (string, error) {
	for i := 0; i < attempts; i++ {
		answer, err := p.Text(label, "")
		if err != nil {
			return "", err
		}
		if answer != "" {
			return answer, nil
		}
		pterm.Warning.Println("A value is required.")
	}
	return "", ErrEmptyInput
}
