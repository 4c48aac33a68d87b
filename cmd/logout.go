package cmd

import (
	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Drop the stored session credentials",

	RunE: func(cmd *cobra.Command, args []string) error {
		h := newHome()
		defer h.Close()

		h.Logout()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
