package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sql2fs/sql2fs/internal/models"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate flags, environment and config file without connecting to the database.`,
	Args:  noArgs,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	printConfig(cmd, cfg)
	return nil
}

func printConfig(cmd *cobra.Command, cfg *models.ExportConfig) {
	w := cmd.OutOrStdout()
	p := func(format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

	p("Configuration is valid!\n\n")
	p("Connection:\n")
	p("  Driver: %s\n", cfg.Connection.Driver)
	p("  Server: %s\n", cfg.Connection.Server)
	if cfg.Connection.Port != 0 {
		p("  Port: %d\n", cfg.Connection.Port)
	}
	p("  Database: %s\n", cfg.Connection.Database)
	if cfg.Connection.User != "" {
		p("  User: %s\n", cfg.Connection.User)
		p("  Password: %s\n", configured(cfg.Connection.Password != ""))
	} else {
		p("  Authentication: integrated\n")
	}
	p("\nOutput:\n")
	p("  Directory: %s\n", cfg.Directory)
	folders := make([]string, 0, len(cfg.Types))
	for _, k := range cfg.Types {
		folders = append(folders, k.Folder())
	}
	p("  Types: %s\n", strings.Join(folders, ", "))
	p("  Encoding: %s\n", cfg.Script.Encoding)
	if cfg.Script.BatchTerminator != "" {
		p("  Batch terminator: %s\n", cfg.Script.BatchTerminator)
	}
	p("  Clean: %v\n", cfg.Clean)
	p("  Prune: %v\n", cfg.Prune)
	p("  Ignore encryption: %v\n", cfg.IgnoreEncryption)
	p("  Fail fast: %v\n", cfg.FailFast)

	f := cfg.Filter
	if len(f.NameInclude)+len(f.NameExclude)+len(f.SchemaInclude)+len(f.SchemaExclude) > 0 {
		p("\nFilters:\n")
		printList(p, "Name include", f.NameInclude)
		printList(p, "Name exclude", f.NameExclude)
		printList(p, "Schema include", f.SchemaInclude)
		printList(p, "Schema exclude", f.SchemaExclude)
	}
}

func printList(p func(string, ...any), label string, items []string) {
	if len(items) > 0 {
		p("  %s: %s\n", label, strings.Join(items, ", "))
	}
}

func configured(ok bool) string {
	if ok {
		return "(configured)"
	}
	return "(empty)"
}
