// Package models contains the data structures used throughout sql2fs.
package models

import "time"

// Supported catalog drivers.
const (
	DriverSQLServer = "sqlserver"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
	DriverOracle    = "oracle"
)

// Supported output encodings.
const (
	EncodingANSI = "ansi"
	EncodingUTF8 = "utf8"
)

// ExportConfig holds the complete configuration for an export run.
// It is built once at startup and passed by value afterwards.
type ExportConfig struct {
	Connection       ConnectionConfig
	Directory        string       // absolute export root
	Types            []ObjectKind // selected categories, in fixed export order
	Clean            bool
	CleanConfirmed   bool // set by the CLI after the operator confirmed --clean
	Prune            bool
	IgnoreEncryption bool
	FailFast         bool
	Filter           FilterConfig
	Script           ScriptOptions
}

// ConnectionConfig holds database connection settings.
type ConnectionConfig struct {
	Driver                 string
	Server                 string // host, host,port or host\instance
	Port                   int    // 0 means engine default
	Database               string
	User                   string // empty selects integrated auth where supported
	Password               string
	Encrypt                string // SQL Server "encrypt" setting, empty for driver default
	TrustServerCertificate bool
	AppName                string
	Timeout                time.Duration
}

// FilterConfig holds the name and schema prefix lists.
type FilterConfig struct {
	NameInclude   []string
	NameExclude   []string
	SchemaInclude []string
	SchemaExclude []string
}

// ScriptOptions controls how script text is written to disk.
type ScriptOptions struct {
	Encoding        string // "ansi" (Windows-1252) or "utf8"
	BatchTerminator string // line written after every script part, empty for none
}

// Selected reports whether kind is part of the configured types.
func (c ExportConfig) Selected(kind ObjectKind) bool {
	for _, k := range c.Types {
		if k == kind {
			return true
		}
	}
	return false
}
