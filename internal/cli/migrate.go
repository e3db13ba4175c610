package cli

import (
	"github.com/spf13/cobra"

	"fundingcalc/internal/app"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

func migrateAction(action string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context(), app.MigrateOptions{Action: action, Version: forceVersion})
	}
}

var forceVersion int

func init() {
	upCmd := &cobra.Command{Use: "up", Short: "Apply pending migrations", RunE: migrateAction(app.MigrateUp)}
	downCmd := &cobra.Command{Use: "down", Short: "Roll back every migration", RunE: migrateAction(app.MigrateDown)}
	showCmd := &cobra.Command{Use: "version", Short: "Print the applied version", RunE: migrateAction(app.MigrateVersion)}
	forceCmd := &cobra.Command{
		Use:   "force",
		Short: "Record a version without running it (clears a dirty state)",
		RunE:  migrateAction(app.MigrateForce),
	}
	forceCmd.Flags().IntVar(&forceVersion, "version", -1, "Version to record")
	_ = forceCmd.MarkFlagRequired("version")

	migrateCmd.AddCommand(upCmd, downCmd, showCmd, forceCmd)
}
