package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"netaccess/internal/storage"
	"netaccess/internal/storage/models"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded approve, revoke and failed status actions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		limit, _ := cmd.Flags().GetInt("limit")
		kindStr, _ := cmd.Flags().GetString("kind")
		failed, _ := cmd.Flags().GetBool("failed")
		runID, _ := cmd.Flags().GetString("run")
		since, _ := cmd.Flags().GetDuration("since")

		filter := storage.ActionFilter{Limit: limit, RunID: runID}
		if kindStr != "" {
			kind := models.ActionKind(kindStr)
			switch kind {
			case models.ActionStatus, models.ActionApprove, models.ActionRevoke:
			default:
				return fmt.Errorf("unknown kind %q (status, approve, revoke)", kindStr)
			}
			filter.Kind = &kind
		}
		if failed {
			result := models.ResultFailure
			filter.Result = &result
		}
		if since > 0 {
			t := time.Now().Add(-since)
			filter.Since = &t
		}

		actions, err := appInstance.Storage.ListActions(ctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list history: %w", err)
		}
		if len(actions) == 0 {
			fmt.Println("No actions recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tSOURCE\tACTION\tUSER\tIP\tTIER\tRESULT")
		fmt.Fprintln(w, "----\t------\t------\t----\t--\t----\t------")

		for _, a := range actions {
			result := strings.ToUpper(string(a.Result))
			if a.Failed() && a.ErrorMessage != "" {
				result += ": " + truncate(a.ErrorMessage, 60)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				a.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				a.Source, a.Kind, a.Username, orDash(a.IP), orDash(a.Tier), result)
		}
		w.Flush()

		fmt.Printf("\nShowing %d actions\n", len(actions))
		return nil
	},
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	historyCmd.Flags().IntP("limit", "n", storage.DefaultActionLimit, "maximum number of actions to show")
	historyCmd.Flags().String("kind", "", "only show one action kind (status, approve, revoke)")
	historyCmd.Flags().Bool("failed", false, "only show failures")
	historyCmd.Flags().String("run", "", "only show actions of one monitor run")
	historyCmd.Flags().Duration("since", 0, "only show actions newer than this (e.g. 24h)")

	historyCmd.RegisterFlagCompletionFunc("kind", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"status", "approve", "revoke"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(historyCmd)
}
