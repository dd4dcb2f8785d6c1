package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nadhif/lira/internal/config"
	"github.com/nadhif/lira/pkg/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored chat sessions",
	Long:  `List, inspect, repair, and delete the session logs stored under the data directory.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-key>",
	Short: "Print the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsRepairCmd = &cobra.Command{
	Use:   "repair <session-key>",
	Short: "Rewrite a session log, dropping corrupt entries",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsRepair,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-key>",
	Short: "Delete a session log",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsRepairCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openSessionManager() (*session.Manager, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return session.New(filepath.Join(cfg.DataDir, "sessions"))
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	sessions, err := openSessionManager()
	if err != nil {
		return err
	}
	defer sessions.Close()

	keys, err := sessions.List()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(keys) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions found.")
		return nil
	}

	for _, key := range keys {
		info, err := sessions.Info(key)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", key)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d messages\tlast %s\n",
			key, info["messageCount"], info["lastModified"].(time.Time).Format(time.RFC3339))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	sessions, err := openSessionManager()
	if err != nil {
		return err
	}
	defer sessions.Close()

	entries, err := sessions.Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Session is empty.")
		return nil
	}

	for _, entry := range entries {
		msg := entry.Message
		line := msg.Content
		if len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Name)
			}
			if line != "" {
				line += " "
			}
			line += fmt.Sprintf("(tools: %s)", strings.Join(names, ", "))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s\n",
			msg.Timestamp.Format("2006-01-02 15:04:05"), msg.Role, line)
	}
	return nil
}

func runSessionsRepair(cmd *cobra.Command, args []string) error {
	sessions, err := openSessionManager()
	if err != nil {
		return err
	}
	defer sessions.Close()

	if err := sessions.Repair(args[0]); err != nil {
		return fmt.Errorf("failed to repair session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Repaired session %q.\n", args[0])
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	sessions, err := openSessionManager()
	if err != nil {
		return err
	}
	defer sessions.Close()

	if err := sessions.Delete(args[0]); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %q.\n", args[0])
	return nil
}
