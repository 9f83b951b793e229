// Package main is the entry point for sql2fs.
package main

import (
	"errors"
	"os"

	"github.com/sql2fs/sql2fs/internal/models"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	os.Exit(exitCode(Execute(os.Args[1:])))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, models.ErrConfig):
		return exitConfig
	default:
		return exitFailed
	}
}
