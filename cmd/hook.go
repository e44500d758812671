package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracelink/internal/hook"
)

var hookForce bool

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Manage the prepare-commit-msg hook",
}

var hookInstallCmd = &cobra.Command{
	Use:   "install [repo]",
	Short: "Install the prepare-commit-msg hook into a repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := "."
		if len(args) > 0 {
			repo = args[0]
		}
		return hookInstallRun(repo)
	},
}

var hookRunCmd = &cobra.Command{
	Use:    "run <message-file> [source] [sha]",
	Short:  "Prefix the commit message with the branch's issue key (called by git)",
	Args:   cobra.RangeArgs(1, 3),
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		source := ""
		if len(args) > 1 {
			source = args[1]
		}
		return hookRunRun(args[0], source)
	},
}

func init() {
	hookInstallCmd.Flags().BoolVar(&hookForce, "force", false, "Replace an existing hook not written by tracelink")
	hookCmd.AddCommand(hookInstallCmd)
	hookCmd.AddCommand(hookRunCmd)
	rootCmd.AddCommand(hookCmd)
}

func hookInstallRun(repo string) error {
	dir, err := gitClient.HooksDir(repo)
	if err != nil {
		return fmt.Errorf("locate hooks directory: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would install %s into %s", hook.HookName, dir)
		return nil
	}

	path, err := hook.Install(dir, hookForce)
	if err != nil {
		return err
	}
	ui.Success("Installed %s", path)
	return nil
}

// hookRunRun never blocks a commit: problems are reported and swallowed.
func hookRunRun(path, source string) error {
	c, err := getConfig()
	if err != nil {
		ui.Warning("tracelink hook skipped: %v", err)
		return nil
	}

	branch, err := gitClient.CurrentBranch(".")
	if err != nil || branch == "HEAD" {
		return nil
	}

	changed, err := hook.RunFile(c.Grammar(), path, source, branch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracelink hook: %v\n", err)
		return nil
	}
	if changed {
		ui.VerboseLog("Prefixed commit message from branch %s", branch)
	}
	return nil
}
