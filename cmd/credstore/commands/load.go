package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/systmms/credstore/internal/secure"
	"github.com/systmms/credstore/pkg/aead"
	"github.com/systmms/credstore/pkg/credential"
)

func NewLoadCommand(app *App) *cobra.Command {
	var (
		keyID       string
		decrypt     bool
		keyHex      string
		skipExpired bool
	)

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Print every stored record for a key id",
		Long: `Print the stored records for a key id as a JSON array, oldest first.

Examples:
  # Show every version of a credential
  credstore load --key-id db-password

  # Decrypt sealed values and hide expired entries
  credstore load --key-id db-password --decrypt --skip-expired`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			session, cleanup, err := app.session()
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := session.Load(cmd.Context(), keyID)
			if err != nil {
				return err
			}

			if skipExpired {
				now := time.Now()
				kept := records[:0]
				for _, r := range records {
					if !r.Metadata.Expired(now) {
						kept = append(kept, r)
					}
				}
				records = kept
			}

			if decrypt {
				sealed, err := keySource{flagHex: keyHex, keyring: app.Config.Definition.Key}.load()
				if err != nil {
					return err
				}
				defer sealed.Destroy()
				if err := unprotectAll(sealed, records); err != nil {
					return err
				}
			}

			if records == nil {
				records = []*credential.Record{}
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(records); err != nil {
				return fmt.Errorf("failed to encode JSON: %w", err)
			}

			app.logger().Debug("Loaded %d record(s) for %s", len(records), keyID)
			return nil
		},
	}

	cmd.Flags().StringVar(&keyID, "key-id", "", "Credential key id (required)")
	cmd.Flags().BoolVar(&decrypt, "decrypt", false, "Decrypt AES-128-GCM sealed values")
	cmd.Flags().StringVar(&keyHex, "key", "", "Hex AES-128 key for --decrypt (default $CREDSTORE_KEY or keyring)")
	cmd.Flags().BoolVar(&skipExpired, "skip-expired", false, "Omit records whose valid_until has passed")

	_ = cmd.MarkFlagRequired("key-id")

	return cmd
}

func unprotectAll(sealed *secure.Sealed, records []*credential.Record) error {
	return sealed.Use(func(key []byte) error {
		for _, r := range records {
			if err := aead.Unprotect(r, key); err != nil {
				return fmt.Errorf("record %s: %w", r.Metadata.KeyID, err)
			}
		}
		return nil
	})
}
