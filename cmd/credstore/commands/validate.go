package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/credstore/pkg/credential"
)

func NewValidateCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check credential record files against the record schema",
		Long: `Check that each file holds one credential record in canonical JSON form
and that the record could be stored (non-empty key id and value).
Use - to read from stdin.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := app.logger()
			var failed int
			for _, path := range args {
				if err := validateFile(cmd, path); err != nil {
					logger.Error("%s: %v", path, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: valid\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed validation", failed, len(args))
			}
			return nil
		},
	}

	return cmd
}

func validateFile(cmd *cobra.Command, path string) error {
	data, err := readInput(cmd, path)
	if err != nil {
		return err
	}
	if err := credential.ValidateJSON(data); err != nil {
		return err
	}
	r, err := credential.Decode(data)
	if err != nil {
		return err
	}
	return r.Validate()
}
