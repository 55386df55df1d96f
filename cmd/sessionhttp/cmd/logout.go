package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutNamespace string

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the credentials of a role session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := currentNamespace(logoutNamespace)
		if err != nil {
			return err
		}
		if err := client.Logout(cmd.Context(), ns); err != nil {
			return fmt.Errorf("failed to delete credentials: %w", err)
		}
		fmt.Printf("Logged out of %s\n", ns)
		return nil
	},
}

func init() {
	logoutCmd.Flags().StringVar(&logoutNamespace, "namespace", "", "Role namespace, resolved from --path when empty")
}
