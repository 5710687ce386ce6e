package repository

import (
	"context"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

type terminalPrompter struct{}

// NewTerminalPrompter returns a Prompter bound to the controlling terminal,
// or nil when stdin is not a terminal (automated runs).
func NewTerminalPrompter() Prompter {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return terminalPrompter{}
}

func (terminalPrompter) Confirm(ctx context.Context, question string) (bool, error) {
	var ok bool
	confirm := huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(&ok)
	if err := huh.NewForm(huh.NewGroup(confirm)).RunWithContext(ctx); err != nil {
		return false, err
	}
	return ok, nil
}
