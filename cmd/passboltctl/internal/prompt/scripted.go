package prompt

import (
	"errors"
	"fmt"
)

// ErrScriptExhausted is returned by Scripted once every answer has been consumed.
var ErrScriptExhausted = errors.New("scripted prompter has no answers left")

// Scripted replays canned answers in order. It backs non-interactive runs such as
// tests; each answer is a string, and Confirm accepts "y"/"yes" or "n"/"no".
type Scripted struct {
	Answers []string
	// Asked records every label in the order it was asked.
	Asked []string
}

var _ Prompter = (*Scripted)(nil)

func (s *Scripted) next(label string) (string, error) {
	s.Asked = append(s.Asked, label)
	if len(s.Answers) == 0 {
		return "", fmt.Errorf("%w (asked %q)", ErrScriptExhausted, label)
	}
	answer := s.Answers[0]
	s.Answers = s.Answers[1:]
	return answer, nil
}

func (s *Scripted) Select(label string, options []string) (string, error) {
	answer, err := s.next(label)
	if err != nil {
		return "", err
	}
	for _, o := range options {
		if o == answer {
			return answer, nil
		}
	}
	return "", fmt.Errorf("answer %q is not one of %v", answer, options)
}

func (s *Scripted) Text(label, defaultValue string) (string, error) {
	answer, err := s.next(label)
	if err != nil {
		return "", err
	}
	if answer == "" {
		return defaultValue, nil
	}
	return answer, nil
}

func (s *Scripted) Secret(label string) (string, error) {
	return s.next(label)
}

func (s *Scripted) Confirm(label string, defaultValue bool) (bool, error) {
	answer, err := s.next(label)
	if err != nil {
		return false, err
	}
	switch answer {
	case "":
		return defaultValue, nil
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return false, fmt.Errorf("answer %q is not yes or no", answer)
	}
}
