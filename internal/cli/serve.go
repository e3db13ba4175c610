package cli

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols",
	Short: "List preset symbols and date shortcuts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Symbols()
	},
}
