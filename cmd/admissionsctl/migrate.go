package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/migrations"
)

func newMigrateCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	for _, sub := range []struct{ use, short string }{
		{"up", "Apply every pending migration"},
		{"down", "Roll back the latest migration"},
		{"status", "Print the state of each migration"},
	} {
		command := sub.use
		cmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: sub.short,
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				db, err := rt.openDB(c.Context())
				if err != nil {
					return err
				}
				defer db.Close()

				if err := migrations.Run(c.Context(), db.DB, command); err != nil {
					return err
				}
				rt.logger.Info("migration finished", zap.String("command", command))
				return nil
			},
		})
	}
	return cmd
}
