// Package input reads interactive answers from the terminal while honoring
// context cancellation.
package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrInputAborted signals that interactive input was interrupted (Ctrl+C or
// stdin closed).
var ErrInputAborted = errors.New("input aborted")

// ErrNotInteractive is returned when a prompt is needed but stdin is not a
// terminal.
var ErrNotInteractive = errors.New("stdin is not a terminal")

// IsAborted reports whether an operation was aborted by the user.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInputAborted) || errors.Is(err, context.Canceled)
}

// MapInputError normalizes common stdin errors (EOF/closed fd) into ErrInputAborted.
func MapInputError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return ErrInputAborted
	}
	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{"use of closed file", "bad file descriptor", "file already closed"} {
		if strings.Contains(errStr, marker) {
			return ErrInputAborted
		}
	}
	return err
}

// await runs read in a goroutine and returns its result unless ctx ends
// first. The reader goroutine is abandoned on cancellation.
func await[T any](ctx context.Context, read func() (T, error)) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := read()
		ch <- result{v: v, err: MapInputError(err)}
	}()
	select {
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, context.DeadlineExceeded
		}
		return zero, ErrInputAborted
	case res := <-ch:
		return res.v, res.err
	}
}

// ReadLineWithContext reads a single line. On ctx cancellation or stdin
// closure it returns ErrInputAborted; on deadline context.DeadlineExceeded.
func ReadLineWithContext(ctx context.Context, reader *bufio.Reader) (string, error) {
	return await(ctx, func() (string, error) { return reader.ReadString('\n') })
}

// ReadPasswordWithContext reads a password (no echo) using readPassword.
func ReadPasswordWithContext(ctx context.Context, readPassword func(int) ([]byte, error), fd int) ([]byte, error) {
	if readPassword == nil {
		return nil, errors.New("readPassword function is nil")
	}
	return await(ctx, func() ([]byte, error) { return readPassword(fd) })
}

// Confirm asks a yes/no question. An empty answer picks defaultYes.
func Confirm(ctx context.Context, reader *bufio.Reader, out io.Writer, question string, defaultYes bool) (bool, error) {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	for {
		fmt.Fprintf(out, "%s %s: ", question, hint)
		line, err := ReadLineWithContext(ctx, reader)
		if err != nil && !(errors.Is(err, ErrInputAborted) && line != "") {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			return defaultYes, nil
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(out, "Please answer yes or no.")
	}
}

// IsTerminal reports whether fd is an interactive terminal.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

// PromptPassphrase reads a passphrase from the terminal on fd without echo.
func PromptPassphrase(ctx context.Context, out io.Writer, prompt string, fd int) (string, error) {
	if !term.IsTerminal(fd) {
		return "", ErrNotInteractive
	}
	fmt.Fprint(out, prompt)
	b, err := ReadPasswordWithContext(ctx, term.ReadPassword, fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
