package commands

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/systmms/credstore/internal/config"
	dserrors "github.com/systmms/credstore/internal/errors"
	"github.com/systmms/credstore/internal/secure"
	"github.com/systmms/credstore/pkg/aead"
)

// keyEnvVar holds a hex key when --key is not given.
const keyEnvVar = "CREDSTORE_KEY"

// keySource locates the raw AES key. The first non-empty source wins:
// the --key flag, then CREDSTORE_KEY, then the OS keyring entry.
type keySource struct {
	flagHex string
	keyring config.KeyConfig
}

func (k keySource) hex() (string, string, error) {
	if k.flagHex != "" {
		return k.flagHex, "--key", nil
	}
	if v := os.Getenv(keyEnvVar); v != "" {
		return v, keyEnvVar, nil
	}
	if k.keyring.Service != "" {
		secret, err := keyring.Get(k.keyring.Service, k.keyring.Account)
		if err != nil {
			if errors.Is(err, keyring.ErrNotFound) {
				return "", "", dserrors.UserError{
					Message:    fmt.Sprintf("No key found in keyring entry %s/%s", k.keyring.Service, k.keyring.Account),
					Suggestion: "Store a 32-character hex key under that service and account",
					Err:        err,
				}
			}
			return "", "", dserrors.Wrap(dserrors.KindIO, "keyring", "read key from keyring", err)
		}
		return secret, "keyring", nil
	}
	return "", "", dserrors.UserError{
		Message:    "Encryption key is required",
		Suggestion: fmt.Sprintf("Pass --key <hex>, set %s, or configure key.service and key.account", keyEnvVar),
	}
}

// load decodes the key and seals it. The decoded bytes are wiped.
func (k keySource) load() (*secure.Sealed, error) {
	encoded, from, err := k.hex()
	if err != nil {
		return nil, err
	}

	raw, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, dserrors.Wrap(dserrors.KindCrypto, "key", "decode hex key from "+from, err)
	}
	if len(raw) != aead.KeySize {
		secure.Wipe(raw)
		return nil, dserrors.Wrap(dserrors.KindCrypto, "key",
			"key from "+from, fmt.Errorf("invalid key size %d, want %d", len(raw), aead.KeySize))
	}
	return secure.NewSealed(raw)
}
