package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginNamespace string
	loginAccess    string
	loginRefresh   string
	loginSession   bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the tokens of a role session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ns, err := currentNamespace(loginNamespace)
		if err != nil {
			return err
		}
		if err := client.Login(cmd.Context(), ns, loginAccess, loginRefresh, !loginSession); err != nil {
			return fmt.Errorf("failed to store credentials: %w", err)
		}
		fmt.Printf("Logged in to %s\n", ns)
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginNamespace, "namespace", "", "Role namespace, resolved from --path when empty")
	loginCmd.Flags().StringVar(&loginAccess, "access", "", "Access token")
	loginCmd.Flags().StringVar(&loginRefresh, "refresh", "", "Refresh token")
	loginCmd.Flags().BoolVar(&loginSession, "session", false, "Keep the tokens for this process only")
	_ = loginCmd.MarkFlagRequired("access")
}
