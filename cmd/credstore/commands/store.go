package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/credstore/internal/errors"
	"github.com/systmms/credstore/internal/logging"
	"github.com/systmms/credstore/pkg/aead"
	"github.com/systmms/credstore/pkg/credential"
)

func NewStoreCommand(app *App) *cobra.Command {
	var (
		keyID      string
		value      string
		valueFile  string
		validUntil string
		exportable bool
		modifiable bool
		deletable  bool
		protection string
		extra      []string
		encrypt    bool
		keyHex     string
	)

	cmd := &cobra.Command{
		Use:   "store",
		Short: "Append a credential record to the backing store",
		Long: `Build a credential record and append it to the configured backing store.
The table is created on first use. Storing the same key id again adds a new
row; earlier rows are kept.

Examples:
  # Store a plaintext value
  credstore store --key-id db-password --value s3cret

  # Read the value from stdin and seal it with AES-128-GCM
  printf 's3cret' | credstore store --key-id db-password --value-file - --encrypt

  # Expiring, exportable credential
  credstore store --key-id api-token --value tok --valid-until 2030-01-01T00:00:00Z --exportable`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if value != "" && valueFile != "" {
				return dserrors.UserError{
					Message:    "Both --value and --value-file were given",
					Suggestion: "Use only one of them",
				}
			}
			if valueFile != "" {
				data, err := readInput(cmd, valueFile)
				if err != nil {
					return fmt.Errorf("failed to read value: %w", err)
				}
				value = strings.TrimRight(string(data), "\r\n")
			}

			meta := credential.Metadata{
				KeyID:        keyID,
				Exportable:   exportable,
				IsModifiable: modifiable,
				CanDelete:    deletable,
				Extra:        extra,
			}
			if protection != "" {
				p, err := credential.ParseProtection(protection)
				if err != nil {
					return dserrors.UserError{
						Message:    err.Error(),
						Suggestion: "Use NoEncryption, Aes128Gcm or HmacSha256",
					}
				}
				meta.CryptoProtection = p
			}
			if validUntil != "" {
				t, err := time.Parse(time.RFC3339, validUntil)
				if err != nil {
					return dserrors.UserError{
						Message:    "Invalid --valid-until",
						Details:    err.Error(),
						Suggestion: "Use an RFC 3339 timestamp such as 2030-01-01T00:00:00Z",
					}
				}
				meta.ValidUntil = &t
			}

			rec := &credential.Record{Metadata: meta, Value: value}
			// Reject before touching the key or the store.
			if err := rec.Validate(); err != nil {
				return err
			}

			session, cleanup, err := app.session()
			if err != nil {
				return err
			}
			defer cleanup()

			logger := app.logger()
			if encrypt {
				sealed, err := keySource{flagHex: keyHex, keyring: app.Config.Definition.Key}.load()
				if err != nil {
					return err
				}
				defer sealed.Destroy()

				if err := sealed.Use(func(key []byte) error { return aead.Protect(rec, key) }); err != nil {
					return err
				}
				logger.Debug("Sealed value for %s: %s", keyID, logging.Secret(rec.Value))
			}

			if err := session.StoreValue(cmd.Context(), rec); err != nil {
				return err
			}

			logger.Info("Stored credential %s in %s (%s)", keyID, session.Table(), session.Backend().Name())
			return nil
		},
	}

	cmd.Flags().StringVar(&keyID, "key-id", "", "Credential key id (required)")
	cmd.Flags().StringVar(&value, "value", "", "Credential value")
	cmd.Flags().StringVar(&valueFile, "value-file", "", "Read the value from a file, or - for stdin")
	cmd.Flags().StringVar(&validUntil, "valid-until", "", "Expiry as an RFC 3339 timestamp")
	cmd.Flags().BoolVar(&exportable, "exportable", false, "Mark the credential exportable")
	cmd.Flags().BoolVar(&modifiable, "modifiable", false, "Mark the credential modifiable")
	cmd.Flags().BoolVar(&deletable, "deletable", false, "Mark the credential deletable")
	cmd.Flags().StringVar(&protection, "crypto-protection", "", "Metadata crypto_protection value")
	cmd.Flags().StringSliceVar(&extra, "extra", nil, "Extra metadata entries (repeatable)")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Seal the value with AES-128-GCM before storing")
	cmd.Flags().StringVar(&keyHex, "key", "", "Hex AES-128 key for --encrypt (default $CREDSTORE_KEY or keyring)")

	_ = cmd.MarkFlagRequired("key-id")

	return cmd
}
