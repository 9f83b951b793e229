package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// confirmClean asks the operator to confirm wiping root. Replaceable in tests.
var confirmClean = func(root string) (bool, error) {
	prompt := fmt.Sprintf("Delete everything under %s? Press Y to confirm, any other key to skip: ", root)
	return confirmKeystroke(os.Stdin, os.Stdout, prompt)
}

// confirmKeystroke reads a single key from in. Only an upper-case Y confirms.
// On a terminal the key is read in raw mode so no Enter is needed.
func confirmKeystroke(in *os.File, out io.Writer, prompt string) (bool, error) {
	_, _ = fmt.Fprint(out, prompt)
	defer func() { _, _ = fmt.Fprintln(out) }()

	fd := int(in.Fd()) //nolint:gosec // file descriptors fit in int
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return false, fmt.Errorf("reading confirmation: %w", err)
		}
		defer func() { _ = term.Restore(fd, state) }()
	}

	return readKey(in)
}

func readKey(r io.Reader) (bool, error) {
	var buf [1]byte
	n, err := r.Read(buf[:])
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("reading confirmation: %w", err)
	}
	return buf[0] == 'Y', nil
}
