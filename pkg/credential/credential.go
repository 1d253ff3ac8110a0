package credential

import (
	"encoding/json"
	"fmt"
	"time"

	dserrors "github.com/systmms/credstore/internal/errors"
)

// Protection names a payload protection algorithm. The zero value is
// NoEncryption.
type Protection int

const (
	NoEncryption Protection = iota
	Aes128Gcm
	HmacSha256
)

var protectionNames = map[Protection]string{
	NoEncryption: "NoEncryption",
	Aes128Gcm:    "Aes128Gcm",
	HmacSha256:   "HmacSha256",
}

func (p Protection) String() string {
	if name, ok := protectionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Protection(%d)", int(p))
}

// ParseProtection maps a wire name back to a Protection.
func ParseProtection(s string) (Protection, error) {
	for p, name := range protectionNames {
		if name == s {
			return p, nil
		}
	}
	return NoEncryption, fmt.Errorf("unknown protection %q", s)
}

// Ptr returns a pointer to p, for Record.Encryption literals.
func (p Protection) Ptr() *Protection {
	return &p
}

func (p Protection) MarshalJSON() ([]byte, error) {
	name, ok := protectionNames[p]
	if !ok {
		return nil, fmt.Errorf("cannot marshal %s", p)
	}
	return json.Marshal(name)
}

func (p *Protection) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("protection must be a string: %w", err)
	}
	parsed, err := ParseProtection(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Metadata holds the policy tags persisted alongside a credential.
type Metadata struct {
	ValidUntil       *time.Time `json:"valid_until"`
	Exportable       bool       `json:"exportable"`
	IsModifiable     bool       `json:"is_modifiable"`
	CanDelete        bool       `json:"can_delete"`
	CryptoProtection Protection `json:"crypto_protection"`
	// KeyID identifies external key material. Empty means unset.
	KeyID string `json:"key_id"`
	// Extra is an ordered list of free-form tags. nil is the canonical empty
	// list: it encodes as [] and an empty list decodes as nil.
	Extra []string `json:"extra"`
}

// metadataJSON keeps the field order of Metadata without its methods.
type metadataJSON Metadata

func (m Metadata) MarshalJSON() ([]byte, error) {
	out := metadataJSON(m)
	if out.Extra == nil {
		out.Extra = []string{}
	}
	return json.Marshal(out)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var in metadataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if len(in.Extra) == 0 {
		in.Extra = nil
	}
	*m = Metadata(in)
	return nil
}

// Expired reports whether ValidUntil is set and not after now.
func (m Metadata) Expired(now time.Time) bool {
	return m.ValidUntil != nil && !m.ValidUntil.After(now)
}

// Record is one persisted credential.
type Record struct {
	Metadata Metadata `json:"metadata"`
	// Value is the payload. Empty means no payload.
	Value string `json:"value"`
	// Encryption is the algorithm applied to Value, nil when unknown.
	Encryption *Protection `json:"encryption"`
}

// Validate reports whether the record may be persisted. Both the key id and
// the payload must be non-empty.
func (r *Record) Validate() error {
	if r == nil {
		return dserrors.New(dserrors.KindValidation, "validate", "record is nil")
	}
	if r.Metadata.KeyID == "" {
		return dserrors.New(dserrors.KindValidation, "validate", "metadata.key_id is empty")
	}
	if r.Value == "" {
		return dserrors.New(dserrors.KindValidation, "validate", "value is empty")
	}
	return nil
}

// Encode serializes the record to its canonical JSON form.
func Encode(r *Record) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindSerializationFailed, "encode", "marshal credential record", err)
	}
	return data, nil
}

// Decode parses a canonical JSON record.
func Decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, dserrors.Wrap(dserrors.KindSerializationFailed, "decode", "unmarshal credential record", err)
	}
	return &r, nil
}
