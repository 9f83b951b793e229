// Package config builds the export configuration from flags, environment
// variables and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/sql2fs/sql2fs/internal/filter"
	"github.com/sql2fs/sql2fs/internal/models"
	"github.com/sql2fs/sql2fs/internal/services/catalog"
	"github.com/sql2fs/sql2fs/internal/services/exporter"
)

// EnvPrefix prefixes every environment variable, e.g. SQL2FS_CONNECTION_SERVER.
const EnvPrefix = "SQL2FS"

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"driver":                   "connection.driver",
	"server":                   "connection.server",
	"port":                     "connection.port",
	"database":                 "connection.database",
	"user":                     "connection.user",
	"password":                 "connection.password",
	"encrypt":                  "connection.encrypt",
	"trust-server-certificate": "connection.trust_server_certificate",
	"timeout":                  "connection.timeout",
	"directory":                "output.directory",
	"types":                    "output.types",
	"clean":                    "output.clean",
	"prune":                    "output.prune",
	"encoding":                 "output.encoding",
	"batch-terminator":         "output.batch_terminator",
	"name-include":             "filter.name_include",
	"name-exclude":             "filter.name_exclude",
	"schema-include":           "filter.schema_include",
	"schema-exclude":           "filter.schema_exclude",
	"ignore-encryption":        "export.ignore_encryption",
	"fail-fast":                "export.fail_fast",
}

// Parser handles configuration parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser with defaults applied and
// environment variables enabled.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("connection.driver", models.DriverSQLServer)
	v.SetDefault("connection.timeout", 30*time.Second)
	v.SetDefault("output.types", "all")
	v.SetDefault("output.prune", true)
	v.SetDefault("output.encoding", models.EncodingANSI)
	v.SetDefault("export.ignore_encryption", true)

	return &Parser{v: v}
}

// BindFlags binds the command-line flags present in fs. Flags set on the
// command line take precedence over the environment and the config file.
func (p *Parser) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := p.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag --%s: %w", name, err)
		}
	}
	return nil
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.ExportConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: reading config file: %w", models.ErrConfig, err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.ExportConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("%w: reading config: %w", models.ErrConfig, err)
	}

	return p.parse()
}

// Load builds the configuration from flags and environment only.
func (p *Parser) Load() (*models.ExportConfig, error) {
	return p.parse()
}

func (p *Parser) parse() (*models.ExportConfig, error) {
	cfg := &models.ExportConfig{}

	// Connection.
	driver := catalog.NormalizeDriver(p.v.GetString("connection.driver"))
	if driver == "" {
		return nil, fmt.Errorf("%w: connection.driver must be one of: %s",
			models.ErrConfig, strings.Join(catalog.Drivers(), ", "))
	}
	cfg.Connection = models.ConnectionConfig{
		Driver:                 driver,
		Server:                 strings.TrimSpace(p.v.GetString("connection.server")),
		Port:                   p.v.GetInt("connection.port"),
		Database:               strings.TrimSpace(p.v.GetString("connection.database")),
		User:                   p.v.GetString("connection.user"),
		Password:               os.ExpandEnv(p.v.GetString("connection.password")),
		Encrypt:                p.v.GetString("connection.encrypt"),
		TrustServerCertificate: p.v.GetBool("connection.trust_server_certificate"),
		AppName:                p.v.GetString("connection.app_name"),
		Timeout:                p.v.GetDuration("connection.timeout"),
	}
	if cfg.Connection.Port < 0 || cfg.Connection.Port > 65535 {
		return nil, fmt.Errorf("%w: connection.port %d is out of range", models.ErrConfig, cfg.Connection.Port)
	}

	// Output.
	dir, err := resolveDirectory(os.ExpandEnv(p.v.GetString("output.directory")))
	if err != nil {
		return nil, err
	}
	cfg.Directory = dir

	types, err := models.ParseKinds(p.v.GetString("output.types"))
	if err != nil {
		return nil, err
	}
	cfg.Types = types

	cfg.Clean = p.v.GetBool("output.clean")
	cfg.Prune = p.v.GetBool("output.prune")

	encoding := exporter.NormalizeEncoding(p.v.GetString("output.encoding"))
	if encoding == "" {
		return nil, fmt.Errorf("%w: output.encoding must be one of: %s",
			models.ErrConfig, strings.Join(exporter.Encodings(), ", "))
	}
	cfg.Script = models.ScriptOptions{
		Encoding:        encoding,
		BatchTerminator: strings.TrimSpace(p.v.GetString("output.batch_terminator")),
	}

	// Filters.
	cfg.Filter = models.FilterConfig{
		NameInclude:   p.getList("filter.name_include"),
		NameExclude:   p.getList("filter.name_exclude"),
		SchemaInclude: p.getList("filter.schema_include"),
		SchemaExclude: p.getList("filter.schema_exclude"),
	}

	// Export behaviour.
	cfg.IgnoreEncryption = p.v.GetBool("export.ignore_encryption")
	cfg.FailFast = p.v.GetBool("export.fail_fast")

	return cfg, nil
}

// getList reads a prefix list given either as a comma-separated string
// (flags, environment) or as a YAML sequence.
func (p *Parser) getList(key string) []string {
	switch val := p.v.Get(key).(type) {
	case nil:
		return nil
	case string:
		return filter.ParseList(val)
	case []string:
		return filter.ParseList(strings.Join(val, ","))
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
		return filter.ParseList(strings.Join(items, ","))
	default:
		return filter.ParseList(fmt.Sprint(val))
	}
}

func resolveDirectory(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("%w: determining working directory: %w", models.ErrConfig, err)
		}
		return wd, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: resolving directory %s: %w", models.ErrConfig, dir, err)
	}
	return abs, nil
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.ExportConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: configuration is nil", models.ErrConfig)
	}

	if cfg.Connection.Server == "" {
		return fmt.Errorf("%w: server is required (--server or connection.server)", models.ErrConfig)
	}

	if cfg.Connection.Database == "" {
		return fmt.Errorf("%w: database is required (--database or connection.database)", models.ErrConfig)
	}

	if len(cfg.Types) == 0 {
		return fmt.Errorf("%w: at least one object type must be selected", models.ErrConfig)
	}

	if cfg.Directory == "" {
		return fmt.Errorf("%w: directory is required", models.ErrConfig)
	}

	return nil
}
