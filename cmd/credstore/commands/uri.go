package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systmms/credstore/internal/config"
	dserrors "github.com/systmms/credstore/internal/errors"
)

func NewURICommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "uri",
		Short: "Print the resolved Postgres connection URI",
		Long: `Resolve the Postgres connection URI from the configured parts and print
it with the password replaced.

Examples:
  # Show where credstore will connect
  credstore uri

  # Check an environment override
  CREDSTORE_DB_SERVER=db.internal credstore uri`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Config.Load(); err != nil {
				return err
			}
			def := app.Config.Definition
			if def.Backend != config.BackendPostgres {
				return dserrors.ConfigError{
					Field:      "backend",
					Value:      def.Backend,
					Message:    "only the postgres backend has a connection URI",
					Suggestion: "Set 'backend: postgres' or CREDSTORE_BACKEND=postgres",
				}
			}

			backend, err := def.NewBackend()
			if err != nil {
				return err
			}
			if _, err := backend.DataSource(); err != nil {
				return err
			}
			defer def.Postgres.ErasePassword()

			fmt.Fprintln(cmd.OutOrStdout(), backend.Redacted())
			return nil
		},
	}

	return cmd
}
