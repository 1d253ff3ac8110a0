package persistence

import (
	"bytes"
	"encoding/json"
	"net/url"

	"gopkg.in/yaml.v3"

	dserrors "github.com/systmms/credstore/internal/errors"
	"github.com/systmms/credstore/internal/secure"
)

const (
	uriScheme     = "postgresql://"
	defaultUser   = "postgres"
	defaultServer = "localhost"
	redactedMark  = "xxxxx"
)

// ConnectionConfig describes how to reach a Postgres backing store. Any part
// may be absent; ResolveURI fills in defaults. Once a URI has been resolved
// or supplied it is canonical and is never rebuilt implicitly.
//
// The password and the resolved URI are kept in wipeable buffers. Strings
// handed to the driver are copies and cannot be erased.
type ConnectionConfig struct {
	User     *string
	Server   *string
	Port     *string
	Database *string

	password *secure.Buffer
	uri      *secure.Buffer
}

// connectionConfigWire is the serialized form of ConnectionConfig.
type connectionConfigWire struct {
	User     *string `json:"user,omitempty" yaml:"user,omitempty"`
	Password *string `json:"password,omitempty" yaml:"password,omitempty"`
	Server   *string `json:"server,omitempty" yaml:"server,omitempty"`
	Port     *string `json:"port,omitempty" yaml:"port,omitempty"`
	Name     *string `json:"name,omitempty" yaml:"name,omitempty"`
	URI      *string `json:"uri,omitempty" yaml:"uri,omitempty"`
}

func (c *ConnectionConfig) fromWire(w connectionConfigWire) {
	c.User, c.Server, c.Port, c.Database = w.User, w.Server, w.Port, w.Name
	c.password, c.uri = nil, nil
	if w.Password != nil {
		c.password = secure.NewBufferString(*w.Password)
	}
	if w.URI != nil && *w.URI != "" {
		c.uri = secure.NewBufferString(*w.URI)
	}
}

func (c *ConnectionConfig) UnmarshalJSON(data []byte) error {
	var w connectionConfigWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	c.fromWire(w)
	return nil
}

func (c *ConnectionConfig) UnmarshalYAML(value *yaml.Node) error {
	var w connectionConfigWire
	if err := value.Decode(&w); err != nil {
		return err
	}
	c.fromWire(w)
	return nil
}

// SetPassword copies p into the config's password buffer.
func (c *ConnectionConfig) SetPassword(p []byte) {
	c.password.Wipe()
	c.password = secure.NewBuffer(p)
}

// HasPassword reports whether a password is present and not erased.
func (c *ConnectionConfig) HasPassword() bool {
	return c.password != nil && !c.password.Wiped()
}

// SetURI installs a pre-built URI, making it canonical.
func (c *ConnectionConfig) SetURI(uri string) {
	c.uri.Wipe()
	c.uri = nil
	if uri != "" {
		c.uri = secure.NewBufferString(uri)
	}
}

// URI returns the canonical URI, or "" when none has been resolved.
func (c *ConnectionConfig) URI() string {
	return c.uri.String()
}

// ResolveURI builds the connection URI from its parts and memoizes it:
//
//	postgresql://<user>[:<password>]@<server>[:<port>][/<name>]
//
// user defaults to "postgres" and server to "localhost"; absent password,
// port and name are omitted. It fails with an InvalidConfig error when a URI
// is already set.
func (c *ConnectionConfig) ResolveURI() (string, error) {
	if !c.uri.Empty() {
		return "", dserrors.New(dserrors.KindInvalidConfig, "resolve uri",
			"uri is already set and will not be rebuilt")
	}

	raw := c.buildURI()
	c.uri = secure.NewBuffer(raw)
	secure.Wipe(raw)
	return c.uri.String(), nil
}

// buildURI writes the URI into one exactly sized slice, so the only copy of
// the password it makes is the one the caller wipes.
func (c *ConnectionConfig) buildURI() []byte {
	user, server := valueOr(c.User, defaultUser), valueOr(c.Server, defaultServer)
	var pw []byte
	if c.HasPassword() {
		pw = c.password.Bytes()
	}

	n := len(uriScheme) + len(user) + 1 + len(server)
	if pw != nil {
		n += 1 + len(pw)
	}
	if c.Port != nil {
		n += 1 + len(*c.Port)
	}
	if c.Database != nil {
		n += 1 + len(*c.Database)
	}

	b := make([]byte, 0, n)
	b = append(b, uriScheme...)
	b = append(b, user...)
	if pw != nil {
		b = append(b, ':')
		b = append(b, pw...)
	}
	b = append(b, '@')
	b = append(b, server...)
	if c.Port != nil {
		b = append(b, ':')
		b = append(b, *c.Port...)
	}
	if c.Database != nil {
		b = append(b, '/')
		b = append(b, *c.Database...)
	}
	return b
}

// ErasePassword overwrites the password in memory. A memoized URI that
// embeds the password is erased too, so the next ResolveURI rebuilds it
// without one.
func (c *ConnectionConfig) ErasePassword() {
	if !c.HasPassword() {
		return
	}
	if pw := c.password.Bytes(); len(pw) > 0 && bytes.Contains(c.uri.Bytes(), pw) {
		c.uri.Wipe()
		c.uri = nil
	}
	c.password.Wipe()
}

// Redacted returns the canonical URI with any password replaced, or "" when
// no URI has been resolved.
func (c *ConnectionConfig) Redacted() string {
	uri := c.uri.Bytes()
	if len(uri) == 0 {
		return ""
	}
	if c.HasPassword() {
		needle := append(append([]byte{':'}, c.password.Bytes()...), '@')
		if bytes.Contains(uri, needle) {
			return string(bytes.Replace(uri, needle, []byte(":"+redactedMark+"@"), 1))
		}
	}
	u, err := url.Parse(string(uri))
	if err != nil {
		return "[REDACTED]"
	}
	return u.Redacted()
}

// String never prints the password.
func (c *ConnectionConfig) String() string {
	if r := c.Redacted(); r != "" {
		return r
	}
	return "postgres connection (unresolved)"
}

// GoString keeps %#v from dumping the password buffer.
func (c *ConnectionConfig) GoString() string {
	return c.String()
}

func valueOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}
