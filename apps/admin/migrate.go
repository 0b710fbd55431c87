package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/quizbank/storage/database"
)

var migrateFunc = database.RunMigrations // mockable

func newMigrateCommand(cli *commandLine) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run the database migrations (up, down, status, version, redo, reset, up-to N, down-to N, create NAME [sql|go])",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				_ = cmd.Help()
				return errHelp
			}
			if err := cli.connectDB(cmd.Context()); err != nil {
				return err
			}
			return migrateFunc(cmd.Context(), cli.db, args[0], args[1:]...)
		},
	}
}
