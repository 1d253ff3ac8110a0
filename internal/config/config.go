package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/credstore/internal/errors"
	"github.com/systmms/credstore/internal/logging"
	"github.com/systmms/credstore/pkg/persistence"
)

// Supported backend names.
const (
	BackendPostgres = "postgres"
	BackendSqlite   = "sqlite"
)

// Config holds the runtime configuration
type Config struct {
	Path   string
	Logger *logging.Logger
	// AllowMissing treats an absent file as an empty definition, leaving
	// everything to environment overrides and defaults.
	AllowMissing bool
	Definition   *Definition
}

// Definition represents the credstore.yaml structure
type Definition struct {
	Version  int                           `yaml:"version"`
	Backend  string                        `yaml:"backend"`
	Table    string                        `yaml:"table,omitempty"`
	Postgres *persistence.ConnectionConfig `yaml:"postgres,omitempty"`
	Sqlite   *persistence.SqliteConfig     `yaml:"sqlite,omitempty"`
	Key      KeyConfig                     `yaml:"key,omitempty"`
}

// KeyConfig points at the OS keyring entry holding the hex encryption key.
type KeyConfig struct {
	Service string `yaml:"service,omitempty"`
	Account string `yaml:"account,omitempty"`
}

// EnvOverrides are read from the environment and win over file values.
// Empty variables are ignored.
type EnvOverrides struct {
	Backend        string `env:"CREDSTORE_BACKEND"`
	Table          string `env:"CREDSTORE_TABLE"`
	DBUser         string `env:"CREDSTORE_DB_USER"`
	DBPassword     string `env:"CREDSTORE_DB_PASSWORD"`
	DBServer       string `env:"CREDSTORE_DB_SERVER"`
	DBPort         string `env:"CREDSTORE_DB_PORT"`
	DBName         string `env:"CREDSTORE_DB_NAME"`
	DBURI          string `env:"CREDSTORE_DB_URI"`
	SqlitePath     string `env:"CREDSTORE_SQLITE_PATH"`
	KeyringService string `env:"CREDSTORE_KEYRING_SERVICE"`
	KeyringAccount string `env:"CREDSTORE_KEYRING_ACCOUNT"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads and parses the credstore.yaml file, then applies environment
// overrides and validates the result.
func (c *Config) Load() error {
	def, err := c.read()
	if err != nil {
		return err
	}

	var overrides EnvOverrides
	if err := ParseEnv(&overrides); err != nil {
		return dserrors.ConfigError{
			Message:    err.Error(),
			Suggestion: "Check the CREDSTORE_* environment variables",
		}
	}
	def.ApplyEnv(overrides)

	if err := def.Validate(); err != nil {
		return err
	}

	c.Definition = def
	if c.Logger != nil {
		c.Logger.Debug("Loaded %s backend configuration", def.Backend)
	}
	return nil
}

func (c *Config) read() (*Definition, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			if c.AllowMissing {
				return &Definition{}, nil
			}
			return nil, dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Create the file or pass --config with the right path",
			}
		}
		return nil, dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    "invalid YAML syntax in configuration file",
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Quote numeric ports",
		}
	}

	if def.Version != 0 {
		return nil, dserrors.ConfigError{
			Field:      "version",
			Value:      def.Version,
			Message:    "unsupported configuration version",
			Suggestion: "Set 'version: 0' at the top of your credstore.yaml file",
		}
	}
	return &def, nil
}

// ApplyEnv merges non-empty overrides into the definition.
func (d *Definition) ApplyEnv(o EnvOverrides) {
	if o.Backend != "" {
		d.Backend = o.Backend
	}
	if o.Table != "" {
		d.Table = o.Table
	}

	if o.DBUser != "" || o.DBPassword != "" || o.DBServer != "" || o.DBPort != "" || o.DBName != "" || o.DBURI != "" {
		if d.Postgres == nil {
			d.Postgres = &persistence.ConnectionConfig{}
		}
		setIf(&d.Postgres.User, o.DBUser)
		setIf(&d.Postgres.Server, o.DBServer)
		setIf(&d.Postgres.Port, o.DBPort)
		setIf(&d.Postgres.Database, o.DBName)
		if o.DBPassword != "" {
			d.Postgres.SetPassword([]byte(o.DBPassword))
		}
		if o.DBURI != "" {
			d.Postgres.SetURI(o.DBURI)
		}
	}

	if o.SqlitePath != "" {
		if d.Sqlite == nil {
			d.Sqlite = &persistence.SqliteConfig{}
		}
		d.Sqlite.Path = o.SqlitePath
	}

	if o.KeyringService != "" {
		d.Key.Service = o.KeyringService
	}
	if o.KeyringAccount != "" {
		d.Key.Account = o.KeyringAccount
	}
}

func setIf(dst **string, v string) {
	if v != "" {
		*dst = &v
	}
}

// Validate fills in the backend when it can be inferred and rejects
// unsupported values.
func (d *Definition) Validate() error {
	if d.Backend == "" {
		switch {
		case d.Sqlite != nil && d.Postgres == nil:
			d.Backend = BackendSqlite
		default:
			d.Backend = BackendPostgres
		}
	}

	switch d.Backend {
	case BackendPostgres, BackendSqlite:
	default:
		return dserrors.ConfigError{
			Field:      "backend",
			Value:      d.Backend,
			Message:    "unsupported backend",
			Suggestion: fmt.Sprintf("Use one of: %s", strings.Join([]string{BackendPostgres, BackendSqlite}, ", ")),
		}
	}

	if strings.TrimSpace(d.Table) == "" && d.Table != "" {
		return dserrors.ConfigError{
			Field:      "table",
			Value:      d.Table,
			Message:    "table name is blank",
			Suggestion: "Remove the 'table' field to use the default 'credentials' table",
		}
	}

	if (d.Key.Service == "") != (d.Key.Account == "") {
		return dserrors.ConfigError{
			Field:      "key",
			Message:    "keyring service and account must be set together",
			Suggestion: "Set both 'key.service' and 'key.account', or neither",
		}
	}
	return nil
}

// TableName returns the configured table or the default.
func (d *Definition) TableName() string {
	if d.Table == "" {
		return persistence.DefaultTable
	}
	return d.Table
}

// NewBackend returns the persistence backend selected by the definition.
// A missing block uses that backend's defaults.
func (d *Definition) NewBackend() (persistence.Backend, error) {
	switch d.Backend {
	case BackendSqlite:
		if d.Sqlite == nil {
			d.Sqlite = &persistence.SqliteConfig{}
		}
		return d.Sqlite, nil
	case BackendPostgres, "":
		if d.Postgres == nil {
			d.Postgres = &persistence.ConnectionConfig{}
		}
		return d.Postgres, nil
	default:
		return nil, dserrors.ConfigError{
			Field:      "backend",
			Value:      d.Backend,
			Message:    "unsupported backend",
			Suggestion: "Use 'postgres' or 'sqlite'",
		}
	}
}
