package persistence

import (
	"fmt"
	"strings"

	// Embedded backing store
	_ "modernc.org/sqlite"

	dserrors "github.com/systmms/credstore/internal/errors"
)

// OpenFlags control how an embedded store is opened.
type OpenFlags uint16

const (
	// FlagReadOnly opens the store read only.
	FlagReadOnly OpenFlags = 0x0001
	// FlagReadWrite opens the store for reading and writing.
	FlagReadWrite OpenFlags = 0x0002
	// FlagCreate creates the file when it does not exist.
	FlagCreate OpenFlags = 0x0004
	// FlagUseURI treats a path starting with "file:" as a URI.
	FlagUseURI OpenFlags = 0x0008
	// FlagUseMemory keeps the store in memory.
	FlagUseMemory OpenFlags = 0x0010
	// FlagNoMutex and FlagFullMutex select the threading mode. The session
	// holds a single connection, so both are accepted and only checked for
	// conflicts.
	FlagNoMutex   OpenFlags = 0x0020
	FlagFullMutex OpenFlags = 0x0040
	// FlagSharedCache shares one cache between connections to the same store.
	FlagSharedCache OpenFlags = 0x0080
	// FlagPrivateCache gives each connection its own cache.
	FlagPrivateCache OpenFlags = 0x0100
)

// DefaultOpenFlags is used when SqliteConfig.Flags is zero.
const DefaultOpenFlags = FlagReadWrite | FlagCreate | FlagNoMutex | FlagUseURI

const (
	busyTimeoutPragma = "_pragma=busy_timeout(5000)"
	// Writers take the lock at BEGIN so concurrent sessions on one file wait
	// on the busy timeout instead of failing on lock upgrade.
	immediateTxLock = "_txlock=immediate"
)

// Has reports whether every bit in f2 is set.
func (f OpenFlags) Has(f2 OpenFlags) bool {
	return f&f2 == f2
}

func (f OpenFlags) String() string {
	names := []struct {
		flag OpenFlags
		name string
	}{
		{FlagReadOnly, "READ_ONLY"},
		{FlagReadWrite, "READ_WRITE"},
		{FlagCreate, "CREATE"},
		{FlagUseURI, "USE_URI"},
		{FlagUseMemory, "USE_MEMORY"},
		{FlagNoMutex, "NO_MUTEX"},
		{FlagFullMutex, "FULL_MUTEX"},
		{FlagSharedCache, "SHARED_CACHE"},
		{FlagPrivateCache, "PRIVATE_CACHE"},
	}
	var parts []string
	for _, n := range names {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, "|")
}

// SqliteConfig describes an embedded backing store. An empty Path opens an
// in-memory store.
type SqliteConfig struct {
	Path  string    `json:"path,omitempty" yaml:"path,omitempty"`
	Flags OpenFlags `json:"flags,omitempty" yaml:"flags,omitempty"`
}

func (c *SqliteConfig) flags() OpenFlags {
	if c.Flags == 0 {
		return DefaultOpenFlags
	}
	return c.Flags
}

// validate rejects flag combinations sqlite itself would refuse.
func (c *SqliteConfig) validate() error {
	f := c.flags()
	conflicts := []struct {
		a, b OpenFlags
	}{
		{FlagReadOnly, FlagReadWrite},
		{FlagReadOnly, FlagCreate},
		{FlagNoMutex, FlagFullMutex},
		{FlagSharedCache, FlagPrivateCache},
	}
	for _, cf := range conflicts {
		if f.Has(cf.a) && f.Has(cf.b) {
			return dserrors.New(dserrors.KindInvalidConfig, "sqlite flags",
				fmt.Sprintf("%s and %s are mutually exclusive", cf.a, cf.b))
		}
	}
	if c.inMemory() && f.Has(FlagReadOnly) {
		return dserrors.New(dserrors.KindInvalidConfig, "sqlite flags",
			"READ_ONLY cannot be used with an in-memory store")
	}
	if !c.inMemory() && !f.Has(FlagReadOnly) && !f.Has(FlagReadWrite) {
		return dserrors.New(dserrors.KindInvalidConfig, "sqlite flags",
			"one of READ_ONLY or READ_WRITE is required for a file-backed store")
	}
	return nil
}

func (c *SqliteConfig) inMemory() bool {
	return c.Path == "" || c.flags().Has(FlagUseMemory)
}

// DSN translates the config into a modernc.org/sqlite data source name.
func (c *SqliteConfig) DSN() (string, error) {
	if err := c.validate(); err != nil {
		return "", err
	}
	f := c.flags()

	var base string
	switch {
	case f.Has(FlagUseURI) && strings.HasPrefix(c.Path, "file:"):
		base = c.Path
	case c.Path == "":
		base = "file::memory:"
	default:
		base = "file:" + escapePath(c.Path)
	}

	var params []string
	switch {
	case c.inMemory():
		params = append(params, "mode=memory")
	case f.Has(FlagReadOnly):
		params = append(params, "mode=ro")
	case f.Has(FlagCreate):
		params = append(params, "mode=rwc")
	default:
		params = append(params, "mode=rw")
	}
	if f.Has(FlagSharedCache) {
		params = append(params, "cache=shared")
	}
	if f.Has(FlagPrivateCache) {
		params = append(params, "cache=private")
	}
	if !f.Has(FlagReadOnly) {
		params = append(params, immediateTxLock)
	}
	params = append(params, busyTimeoutPragma)

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + strings.Join(params, "&"), nil
}

var pathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

func escapePath(p string) string {
	return pathEscaper.Replace(p)
}

// Name implements Backend.
func (c *SqliteConfig) Name() string { return "sqlite" }

// DriverName implements Backend.
func (c *SqliteConfig) DriverName() string { return "sqlite" }

// DataSource implements Backend.
func (c *SqliteConfig) DataSource() (string, error) { return c.DSN() }

// Redacted implements Backend. Embedded stores carry no credentials.
func (c *SqliteConfig) Redacted() string {
	dsn, err := c.DSN()
	if err != nil {
		return c.Path
	}
	return dsn
}

func (c *SqliteConfig) dialect() dialect { return sqliteDialect }

func (c *SqliteConfig) secrets() []string { return nil }
