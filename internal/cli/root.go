package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/authd-dev/authd/internal/cli/commands"
)

var version = "dev" // Will be set during build

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "authctl - administer an authd installation",
	Long: `authctl manages the users and sign-in methods of an authd server.

It talks to the configured database directly, so run it with the same
environment (or .env file) as the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Add version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("authctl version %s\n", version)
		},
	})

	// Add all subcommands
	rootCmd.AddCommand(commands.NewUserCmd())
	rootCmd.AddCommand(commands.NewProvidersCmd())
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// SetVersion sets the version string (called from main)
func SetVersion(v string) {
	version = v
}
