package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/jobscout/internal/config"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage chat sessions",
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionDeleteCmd())
	cmd.AddCommand(newSessionResetCmd())
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var configPath, user string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			list, err := a.engine.Sessions(context.Background(), user)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No sessions.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tUPDATED\tTITLE")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.SessionID, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.Title)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Jobscout config file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id (required)")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newSessionShowCmd() *cobra.Command {
	var configPath, user string
	var approvals bool

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			view, err := a.engine.History(context.Background(), args[0], user)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s", view.SessionID)
			if view.OwnerID != nil {
				fmt.Fprintf(out, " (owner %s)", *view.OwnerID)
			}
			fmt.Fprintln(out)
			if view.NeedsReset {
				fmt.Fprintln(out, "Needs reset: run `scout session reset` to continue.")
			}
			fmt.Fprintln(out)
			for _, t := range view.Turns {
				fmt.Fprintf(out, "[%d] %s (%s)\n", t.Sequence, t.Role, t.Kind)
				for _, line := range strings.Split(t.Content, "\n") {
					fmt.Fprintf(out, "    %s\n", line)
				}
			}
			if view.Pending != nil {
				fmt.Fprintf(out, "\nAwaiting approval since %s: %s\n",
					view.Pending.RequestedAt.Local().Format("2006-01-02 15:04"), view.Pending.Message)
			}
			if !approvals {
				return nil
			}
			list, err := a.broker.History(context.Background(), view.SessionID)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "\nApprovals:")
			if len(list) == 0 {
				fmt.Fprintln(out, "    none")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "    ID\tSTATUS\tREQUESTED\tACTION")
			for _, in := range list {
				fmt.Fprintf(w, "    %d\t%s\t%s\t%s\n", in.ID, in.Status, in.RequestedAt.Local().Format("2006-01-02 15:04"), in.Action)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Jobscout config file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id for owned sessions")
	cmd.Flags().BoolVar(&approvals, "approvals", false, "also list the session's approval requests")
	return cmd
}

func newSessionDeleteCmd() *cobra.Command {
	var configPath, user string

	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			if err := a.engine.DeleteSession(context.Background(), args[0], user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Jobscout config file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id for owned sessions")
	return cmd
}

func newSessionResetCmd() *cobra.Command {
	var configPath, user string

	cmd := &cobra.Command{
		Use:   "reset <session-id>",
		Short: "Discard a session's pending approval and clear its reset flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			if err := a.engine.ResetSession(context.Background(), args[0], user); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset session %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to Jobscout config file")
	cmd.Flags().StringVarP(&user, "user", "u", "", "user id for owned sessions")
	return cmd
}
