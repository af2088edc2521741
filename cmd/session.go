package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/workspace/sdlc-console/internal/config"
	"github.com/workspace/sdlc-console/internal/session"
)

var projectID string

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or change stored workspace sessions",
}

var sessionEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Print the project's session id, creating one if needed",
	RunE: withApp(func(cmd *cobra.Command, a *app) error {
		id, err := a.sessions.EnsureSession(cmd.Context(), projectID)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	}),
}

var sessionCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Show the project's session state and remaining lifetime",
	RunE: withApp(func(cmd *cobra.Command, a *app) error {
		st := a.sessions.CheckExpiration(projectID)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "state:     %s\n", st.State)
		if st.State == session.Absent {
			return nil
		}
		fmt.Fprintf(out, "sessionId: %s\n", st.SessionID)
		if !st.CreatedAt.IsZero() {
			fmt.Fprintf(out, "createdAt: %s\n", st.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
			fmt.Fprintf(out, "expiresAt: %s\n", st.ExpiresAt(a.sessions.ExpiresAfter()).UTC().Format("2006-01-02T15:04:05Z"))
		}
		fmt.Fprintf(out, "remaining: %s\n", formatRemaining(st.Remaining))
		return nil
	}),
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Stop the project's sandbox and remove its session record",
	RunE: withApp(func(cmd *cobra.Command, a *app) error {
		id, ended := a.sessions.EndSession(cmd.Context(), projectID)
		if !ended {
			fmt.Fprintln(cmd.OutOrStdout(), "no session stored")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", id)
		return nil
	}),
}

// withApp loads configuration and wires the app around fn.
func withApp(fn func(cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		a := newApp(cfg)
		defer a.Close()
		return fn(cmd, a)
	}
}

func init() {
	sessionCmd.PersistentFlags().StringVar(&projectID, "project", "", "Project id (empty uses the global session key)")
	sessionCmd.AddCommand(sessionEnsureCmd, sessionCheckCmd, sessionClearCmd)
	rootCmd.AddCommand(sessionCmd)
}
