package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"netaccess/internal/paths"
)

// shellCompletion generates one shell's script and names where the shell
// looks for per-user completions, relative to the home directory.
type shellCompletion struct {
	generate func(root *cobra.Command, w io.Writer) error
	userPath string
}

var shellCompletions = map[string]shellCompletion{
	"bash": {
		generate: func(root *cobra.Command, w io.Writer) error { return root.GenBashCompletionV2(w, true) },
		userPath: ".local/share/bash-completion/completions/netaccess",
	},
	"zsh": {
		generate: func(root *cobra.Command, w io.Writer) error { return root.GenZshCompletion(w) },
		userPath: ".zfunc/_netaccess",
	},
	"fish": {
		generate: func(root *cobra.Command, w io.Writer) error { return root.GenFishCompletion(w, true) },
		userPath: ".config/fish/completions/netaccess.fish",
	},
	"powershell": {
		generate: func(root *cobra.Command, w io.Writer) error { return root.GenPowerShellCompletionWithDesc(w) },
	},
}

func completionShells() []string {
	names := make([]string, 0, len(shellCompletions))
	for name := range shellCompletions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// installCompletion writes the script for shell below home and returns the
// file it wrote.
func installCompletion(root *cobra.Command, shell, home string) (string, error) {
	sc, ok := shellCompletions[shell]
	if !ok {
		return "", fmt.Errorf("unsupported shell %q", shell)
	}
	if sc.userPath == "" {
		return "", fmt.Errorf("%s has no per-user completion directory; add the script to your profile instead", shell)
	}

	target := filepath.Join(home, sc.userPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if err := sc.generate(root, f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	paths.ChownToRealUser(target)
	return target, nil
}

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Print or install the shell completion script",
	Long: `Print the completion script for bash, zsh, fish or powershell.

  source <(netaccess completion bash)
  netaccess completion fish | source
  netaccess completion powershell | Out-String | Invoke-Expression

With --install the script is written to the shell's per-user completion
directory instead (bash, zsh and fish). zsh additionally needs ~/.zfunc on
its fpath before compinit runs.`,
	DisableFlagsInUseLine: true,
	// Script generation needs no config or database.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	ValidArgs:         completionShells(),
	Args:              cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		shell := args[0]
		root := cmd.Root()

		install, _ := cmd.Flags().GetBool("install")
		if !install {
			return shellCompletions[shell].generate(root, cmd.OutOrStdout())
		}

		home, err := paths.HomeDir()
		if err != nil {
			return err
		}
		target, err := installCompletion(root, shell, home)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Installed %s completion to %s\n", shell, target)
		return nil
	},
}

func init() {
	completionCmd.Flags().Bool("install", false, "write the script to the shell's completion directory")

	rootCmd.AddCommand(completionCmd)
}
