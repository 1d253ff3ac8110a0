package persistence

import (
	"fmt"
	"net/url"

	"github.com/lib/pq"
)

// Backend is a backing store a Session can connect to. It is implemented by
// *ConnectionConfig (Postgres) and *SqliteConfig (embedded).
type Backend interface {
	// Name labels the backend in logs and metrics.
	Name() string
	// DriverName is the database/sql driver to open.
	DriverName() string
	// DataSource returns the driver data source, resolving it if needed.
	DataSource() (string, error)
	// Redacted describes the data source without secrets.
	Redacted() string

	dialect() dialect
	// secrets lists values that must never appear in error text.
	secrets() []string
}

// Name implements Backend.
func (c *ConnectionConfig) Name() string { return "postgres" }

// DriverName implements Backend.
func (c *ConnectionConfig) DriverName() string { return "postgres" }

// DataSource implements Backend. A URI that is already set is used as is;
// otherwise it is resolved and memoized first.
func (c *ConnectionConfig) DataSource() (string, error) {
	if uri := c.URI(); uri != "" {
		return uri, nil
	}
	return c.ResolveURI()
}

func (c *ConnectionConfig) dialect() dialect { return postgresDialect }

// secrets returns the password in the forms a driver may echo back.
func (c *ConnectionConfig) secrets() []string {
	if !c.HasPassword() {
		return nil
	}
	pw := c.password.String()
	out := []string{pw}
	for _, esc := range []string{url.PathEscape(pw), url.QueryEscape(pw)} {
		if esc != pw {
			out = append(out, esc)
		}
	}
	return out
}

// DefaultTable is the relation credentials are written to.
const DefaultTable = "credentials"

// dialect holds the per-backend statement templates. Each takes the quoted
// table name.
type dialect struct {
	createTable string
	insert      string
	selectByKey string
}

var postgresDialect = dialect{
	createTable: `CREATE TABLE IF NOT EXISTS %s (credential jsonb NOT NULL)`,
	insert:      `INSERT INTO %s (credential) VALUES ($1::jsonb)`,
	selectByKey: `SELECT credential FROM %s WHERE credential->'metadata'->>'key_id' = $1`,
}

var sqliteDialect = dialect{
	createTable: `CREATE TABLE IF NOT EXISTS %s (credential TEXT NOT NULL CHECK (json_valid(credential)))`,
	insert:      `INSERT INTO %s (credential) VALUES (?)`,
	selectByKey: `SELECT credential FROM %s WHERE json_extract(credential, '$.metadata.key_id') = ? ORDER BY rowid`,
}

// statements renders the dialect for one table.
type statements struct {
	createTable string
	insert      string
	selectByKey string
}

func (d dialect) forTable(table string) statements {
	quoted := pq.QuoteIdentifier(table)
	return statements{
		createTable: fmt.Sprintf(d.createTable, quoted),
		insert:      fmt.Sprintf(d.insert, quoted),
		selectByKey: fmt.Sprintf(d.selectByKey, quoted),
	}
}
