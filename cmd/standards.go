package cmd

import (
	"github.com/spf13/cobra"

	"github.com/joescharf/tracelink/internal/standards"
)

var standardsJSON bool

var standardsCmd = &cobra.Command{
	Use:   "standards [repo]",
	Short: "Check a repository's traceability setup",
	Long: `Check that a repository has the prepare-commit-msg hook, a CI workflow
running tracelink, an issue key on the current branch and a reachable
Jira configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo := "."
		if len(args) > 0 {
			repo = args[0]
		}
		return standardsCheckRun(repo)
	},
}

func init() {
	standardsCmd.Flags().BoolVar(&standardsJSON, "json", false, "Print checks as JSON")
	rootCmd.AddCommand(standardsCmd)
}

func standardsCheckRun(repo string) error {
	c, err := getConfig()
	if err != nil {
		return err
	}

	checks := standards.NewChecker(gitClient, c).Run(repo)
	if standardsJSON {
		return ui.JSON(checks)
	}

	for _, ch := range checks {
		ui.Check(ch.Passed, ch.Name, ch.Detail)
	}
	ui.Score(standards.Passed(checks), len(checks))
	return nil
}
