// Command fcpctl talks to a running enrollment API.
//
// Usage:
//
//	fcpctl status <workspace-id>         # show enrollment status
//	fcpctl confirm <workspace-id>        # run the post-payment confirmation
//	fcpctl notifications <workspace-id>  # list in-app notifications
//	fcpctl version
package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// set via -ldflags "-X main.version=..."
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:           "fcpctl",
	Short:         "Inspect and confirm Free Connector Program enrollments",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "fcpctl %s (%s)\n", version, commit)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("api", envOr("API_BASE", "http://localhost:8080"), "base URL of the enrollment API")
	pf.String("key", os.Getenv("FCP_API_KEY"), "API key sent as X-API-Key")
	pf.Duration("timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(versionCmd, statusCmd, confirmCmd, notificationsCmd)
}

var errNotConfirmed = errors.New("enrollment not confirmed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errNotConfirmed) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func clientFrom(cmd *cobra.Command) *apiClient {
	base, _ := cmd.Flags().GetString("api")
	key, _ := cmd.Flags().GetString("key")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return newAPIClient(base, key, timeout)
}
