package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sql2fs/sql2fs/internal/models"
)

// longShorthands are the multi-letter single-dash aliases pflag cannot
// register as shorthands.
var longShorthands = map[string]string{
	"-dir": "--directory",
	"-ni":  "--name-include",
	"-ne":  "--name-exclude",
	"-si":  "--schema-include",
	"-se":  "--schema-exclude",
}

// boolFlags accept their value as a separate argument (-p false).
var boolFlags = map[string]string{
	"-p":                         "--prune",
	"--prune":                    "--prune",
	"-e":                         "--ignore-encryption",
	"--ignore-encryption":        "--ignore-encryption",
	"-c":                         "--clean",
	"--clean":                    "--clean",
	"-y":                         "--yes",
	"--yes":                      "--yes",
	"--fail-fast":                "--fail-fast",
	"--trust-server-certificate": "--trust-server-certificate",
}

// normalizeArgs rewrites -dir, -ni, -ne, -si and -se (also in the -dir=value
// form) to their long names, and a boolean flag followed by true or false to
// --flag=value. Arguments after "--" are left alone.
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return append(out, args[i:]...)
		}

		if long, ok := boolFlags[arg]; ok && i+1 < len(args) && isBoolValue(args[i+1]) {
			out = append(out, long+"="+strings.ToLower(args[i+1]))
			i++
			continue
		}

		name, value, hasValue := strings.Cut(arg, "=")
		if long, ok := longShorthands[name]; ok {
			if hasValue {
				arg = long + "=" + value
			} else {
				arg = long
			}
		}
		out = append(out, arg)
	}
	return out
}

func isBoolValue(s string) bool {
	return strings.EqualFold(s, "true") || strings.EqualFold(s, "false")
}

// noArgs rejects positional arguments as a configuration error.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return fmt.Errorf("%w: %w", models.ErrConfig, err)
	}
	return nil
}
