package console

import (
	"context"
	"errors"
	"fmt"
)

// ExitCoder is implemented by errors that carry a process exit code.
type ExitCoder interface {
	ExitCode() int
}

type exitError struct {
	code    int
	message string
}

func (e *exitError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.message
}

func (e *exitError) ExitCode() int {
	return e.code
}

// Exit returns an error that ends the command with code and prints nothing.
// Commands use it after writing their own diagnostics.
func Exit(code int) error {
	return &exitError{code: code}
}

// Exitf ends the command with code and the formatted message as diagnostic.
func Exitf(code int, format string, args ...any) error {
	return &exitError{code: code, message: fmt.Sprintf(format, args...)}
}

// Silent reports whether err only carries an exit code and the command
// already printed its own diagnostics.
func Silent(err error) bool {
	var exit *exitError
	return errors.As(err, &exit) && exit.message == ""
}

type nonInteractiveKey struct{}

func WithNonInteractive(ctx context.Context) context.Context {
	return context.WithValue(ctx, nonInteractiveKey{}, true)
}

// Interactive reports whether the command may prompt the user.
func Interactive(ctx context.Context) bool {
	if ctx == nil {
		return true
	}
	nonInteractive, _ := ctx.Value(nonInteractiveKey{}).(bool)
	return !nonInteractive
}
