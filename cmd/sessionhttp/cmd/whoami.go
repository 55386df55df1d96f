package cmd

import (
	"fmt"

	"github.com/RassulYunussov/sessionhttp"
	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the namespace and role serving --path",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := sessionhttp.WithNavigationPath(cmd.Context(), navigationPath)
		role := client.Role(ctx)
		if role == "" {
			role = "anonymous"
		}
		fmt.Printf("namespace: %s\nrole: %s\n", sessionhttp.ResolveNamespace(navigationPath), role)
		return nil
	},
}
