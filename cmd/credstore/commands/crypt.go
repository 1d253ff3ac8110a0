package commands

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	dserrors "github.com/systmms/credstore/internal/errors"
	"github.com/systmms/credstore/internal/secure"
	"github.com/systmms/credstore/pkg/aead"
)

func NewEncryptCommand(app *App) *cobra.Command {
	var (
		input  string
		keyHex string
	)

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Seal a value with AES-128-GCM",
		Long: `Encrypt the input with AES-128-GCM and print it base64 encoded.
The output is the random 12-byte nonce, the ciphertext and the 16-byte tag.

Examples:
  printf 's3cret' | credstore encrypt --key 000102030405060708090a0b0c0d0e0f`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sealed, err := app.key(keyHex)
			if err != nil {
				return err
			}
			defer sealed.Destroy()

			plaintext, err := readInput(cmd, input)
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			defer secure.Wipe(plaintext)

			var out []byte
			err = sealed.Use(func(key []byte) error {
				out, err = aead.Encrypt(plaintext, key)
				return err
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "in", "-", "Input file, or - for stdin")
	cmd.Flags().StringVar(&keyHex, "key", "", "Hex AES-128 key (default $CREDSTORE_KEY or keyring)")

	return cmd
}

func NewDecryptCommand(app *App) *cobra.Command {
	var (
		input  string
		keyHex string
	)

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Open a base64 AES-128-GCM value",
		Long: `Decrypt base64 input produced by 'credstore encrypt' or a stored
Aes128Gcm value and print the plaintext.

Examples:
  credstore decrypt --key 000102030405060708090a0b0c0d0e0f --in sealed.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sealed, err := app.key(keyHex)
			if err != nil {
				return err
			}
			defer sealed.Destroy()

			encoded, err := readInput(cmd, input)
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
			if err != nil {
				return dserrors.UserError{
					Message:    "Input is not valid base64",
					Details:    err.Error(),
					Suggestion: "Pass the exact output of 'credstore encrypt'",
					Err:        err,
				}
			}

			var plaintext []byte
			err = sealed.Use(func(key []byte) error {
				plaintext, err = aead.Decrypt(ciphertext, key)
				return err
			})
			if err != nil {
				return err
			}
			defer secure.Wipe(plaintext)

			_, err = cmd.OutOrStdout().Write(plaintext)
			return err
		},
	}

	cmd.Flags().StringVar(&input, "in", "-", "Input file, or - for stdin")
	cmd.Flags().StringVar(&keyHex, "key", "", "Hex AES-128 key (default $CREDSTORE_KEY or keyring)")

	return cmd
}

// key loads the configuration for its keyring entry and seals the key.
func (a *App) key(flagHex string) (*secure.Sealed, error) {
	var src keySource
	src.flagHex = flagHex
	if flagHex == "" {
		if err := a.Config.Load(); err != nil {
			return nil, err
		}
		src.keyring = a.Config.Definition.Key
	}
	return src.load()
}
