package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"netaccess/internal/credentials"
	"netaccess/internal/storage"
	pkgerrors "netaccess/pkg/errors"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage portal credentials in the OS keyring",
	Long: fmt.Sprintf(`Add, update, show and delete portal passwords stored in the OS keyring
under the service %q.`, credentials.Service),
}

var userAddCmd = &cobra.Command{
	Use:               "add [username]",
	Short:             "Store the password for a user",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeStoredUser,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, password, err := promptCredentials(args)
		if err != nil {
			return err
		}
		if err := appInstance.Credentials.Add(name, password); err != nil {
			return fmt.Errorf("failed to store password: %w", err)
		}
		rememberUser(cmd.Context(), name)
		fmt.Printf("Stored password for %s\n", name)
		return nil
	},
}

var userUpdateCmd = &cobra.Command{
	Use:               "update [username]",
	Short:             "Replace the stored password for a user",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeStoredUser,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, password, err := promptCredentials(args)
		if err != nil {
			return err
		}
		if err := appInstance.Credentials.Update(name, password); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		fmt.Printf("Updated password for %s\n", name)
		return nil
	},
}

var userShowCmd = &cobra.Command{
	Use:               "show [username]",
	Short:             "Check whether a password is stored for a user",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeStoredUser,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := targetUser(args)
		if err != nil {
			return err
		}
		_, err = appInstance.Credentials.Get(name)
		switch {
		case errors.Is(err, pkgerrors.ErrUserNotFound):
			fmt.Printf("No password stored for %s\n", name)
			return nil
		case err != nil:
			return fmt.Errorf("failed to read keyring: %w", err)
		}
		fmt.Printf("Password stored for %s (service %s)\n", name, credentials.Service)
		return nil
	},
}

var userDeleteCmd = &cobra.Command{
	Use:               "delete [username]",
	Short:             "Remove the stored password for a user",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeStoredUser,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := targetUser(args)
		if err != nil {
			return err
		}

		force, _ := cmd.Flags().GetBool("force")
		if !force {
			fmt.Printf("Delete the stored password for %s? [y/N]: ", name)
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				fmt.Println("Cancelled")
				return nil
			}
		}

		if err := appInstance.Credentials.Delete(name); err != nil {
			return fmt.Errorf("failed to delete password: %w", err)
		}
		fmt.Printf("Deleted password for %s\n", name)
		return nil
	},
}

// targetUser picks the username from the argument, then the config.
func targetUser(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if appInstance.Config.Username != "" {
		return appInstance.Config.Username, nil
	}
	if p := appInstance.Resolver.Prompter; p != nil {
		name, err := p.Username()
		if err != nil {
			return "", err
		}
		if name != "" {
			return name, nil
		}
	}
	return "", pkgerrors.ErrNoUsername
}

// promptCredentials always asks for the password, never reusing a stored one.
func promptCredentials(args []string) (string, string, error) {
	name, err := targetUser(args)
	if err != nil {
		return "", "", err
	}
	p := appInstance.Resolver.Prompter
	if p == nil {
		if appInstance.Config.Password != "" {
			return name, appInstance.Config.Password, nil
		}
		return "", "", pkgerrors.ErrNoPassword
	}
	password, err := p.Password(name)
	if err != nil {
		return "", "", err
	}
	if password == "" {
		return "", "", pkgerrors.ErrNoPassword
	}
	return name, password, nil
}

func rememberUser(ctx context.Context, name string) {
	if err := appInstance.Storage.SetSetting(ctx, storage.SettingLastUsername, name); err != nil {
		appInstance.Logger.WithError(err).Warn("failed to remember username")
	}
}

func init() {
	userDeleteCmd.Flags().BoolP("force", "f", false, "skip confirmation")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userUpdateCmd)
	userCmd.AddCommand(userShowCmd)
	userCmd.AddCommand(userDeleteCmd)

	rootCmd.AddCommand(userCmd)
}
