package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <workspace-id>",
	Short: "Show the enrollment status of a workspace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := clientFrom(cmd).Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "workspace:          %s\n", args[0])
		fmt.Fprintf(w, "show enrollment UI: %t\n", st.ShowEnrollmentUI)
		fmt.Fprintf(w, "enrolled:           %t\n", st.IsEnrolled)
		fmt.Fprintf(w, "confirmed here:     %t\n", st.UserDidEnroll)
		return nil
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <workspace-id>",
	Short: "Confirm an enrollment after the payment redirect",
	Long: `Ask the API to confirm that a workspace finished enrolling.

The API polls the cloud backend until a saved payment account shows up or
its poll budget runs out. Exit code 0 means enrolled, 2 means the
confirmation timed out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := clientFrom(cmd).Confirm(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if res.Enrolled {
			fmt.Fprintf(w, "✔ %s enrolled\n", args[0])
			return nil
		}
		fmt.Fprintf(w, "✖ %s: enrollment not confirmed before timeout\n", args[0])
		if res.Notification != nil {
			fmt.Fprintf(w, "  %s\n", res.Notification.Text)
		}
		return errNotConfirmed
	},
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications <workspace-id>",
	Short: "List a workspace's in-app notifications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		list, err := clientFrom(cmd).Notifications(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTYPE\tCREATED\tTEXT")
		for _, n := range list {
			fmt.Fprintf(tw, "%s\t%s\t%s ago\t%s\n", n.ID, n.Severity, units.HumanDuration(time.Since(n.CreatedAt)), n.Text)
		}
		return tw.Flush()
	},
}
