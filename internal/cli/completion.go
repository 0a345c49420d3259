package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"netaccess/internal/app"
	"netaccess/internal/storage"
	"netaccess/internal/storage/models"
)

// ensureApp lazily initializes appInstance for shell completion.
// Cobra may invoke ValidArgsFunction without running PersistentPreRunE.
func ensureApp(cmd *cobra.Command) error {
	if appInstance != nil {
		return nil
	}
	var err error
	appInstance, err = app.New(appOptions(cmd))
	return err
}

// completeDurationTiers provides shell completion for --duration.
func completeDurationTiers(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"hour", "day", "month"}, cobra.ShellCompDirectiveNoFileComp
}

// completeRecentIPs suggests addresses approved earlier, newest first.
func completeRecentIPs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if err := ensureApp(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	kind := models.ActionApprove
	result := models.ResultSuccess
	actions, err := appInstance.Storage.ListActions(context.Background(), storage.ActionFilter{
		Kind:   &kind,
		Result: &result,
	})
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	seen := make(map[string]bool)
	var completions []string
	for _, a := range actions {
		if a.IP == "" || seen[a.IP] {
			continue
		}
		seen[a.IP] = true
		if strings.HasPrefix(a.IP, toComplete) {
			completions = append(completions, a.IP)
		}
	}

	return completions, cobra.ShellCompDirectiveNoFileComp
}

// completeStoredUser suggests the last username used.
func completeStoredUser(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if err := ensureApp(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var completions []string
	if name := appInstance.Config.Username; name != "" {
		completions = append(completions, name)
	}
	last, err := appInstance.Storage.GetSetting(context.Background(), storage.SettingLastUsername)
	if err == nil && last != "" && last != appInstance.Config.Username {
		completions = append(completions, last)
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}
