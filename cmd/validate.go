package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracelink/internal/git"
	"github.com/joescharf/tracelink/internal/validate"
)

var (
	validateBase     string
	validateHead     string
	validateMessages []string
	validateFile     string
	validateRepo     string
	validateJSON     bool
)

// gitClient is replaceable in tests.
var gitClient git.Client = git.NewClient()

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check branches and commits for issue keys",
	Long: `Check that branch names reference an issue key and that commit
messages start with a bracketed key such as [SECO-123].

Exits non-zero listing every failing subject.`,
}

var validateBranchCmd = &cobra.Command{
	Use:   "branch [name]",
	Short: "Validate a branch name (default: current branch)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateRun(args, true, false)
	},
}

var validateCommitsCmd = &cobra.Command{
	Use:   "commits",
	Short: "Validate commit messages",
	Long: `Validate commit messages from --message, --file (messages separated by
lines of '---', or one per line) or the git range --base..--head.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateRun(nil, false, true)
	},
}

var validateAllCmd = &cobra.Command{
	Use:   "all [branch]",
	Short: "Validate the branch and its commits",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return validateRun(args, true, true)
	},
}

func init() {
	for _, c := range []*cobra.Command{validateCommitsCmd, validateAllCmd} {
		c.Flags().StringVar(&validateBase, "base", "origin/main", "Base ref for the commit range")
		c.Flags().StringVar(&validateHead, "head", "HEAD", "Head ref for the commit range")
		c.Flags().StringArrayVarP(&validateMessages, "message", "m", nil, "Commit message to check (repeatable)")
		c.Flags().StringVar(&validateFile, "file", "", "File of commit messages ('-' for stdin)")
	}
	validateCmd.PersistentFlags().StringVar(&validateRepo, "repo", ".", "Path to the git working copy")
	validateCmd.PersistentFlags().BoolVar(&validateJSON, "json", false, "Print verdicts as JSON")

	validateCmd.AddCommand(validateBranchCmd)
	validateCmd.AddCommand(validateCommitsCmd)
	validateCmd.AddCommand(validateAllCmd)
	rootCmd.AddCommand(validateCmd)
}

func validateRun(args []string, branch, commits bool) error {
	c, err := getConfig()
	if err != nil {
		return err
	}
	v := validate.New(c.Grammar())

	var report validate.Report
	if branch {
		name, err := branchName(args)
		if err != nil {
			return err
		}
		report.Add(v.ValidateBranch(name))
	}
	if commits {
		list, err := commitsToValidate()
		if err != nil {
			return err
		}
		if len(list) == 0 {
			ui.Warning("No commits to validate")
		}
		report.Add(v.ValidateCommitList(list)...)
	}

	if validateJSON {
		if err := ui.JSON(report); err != nil {
			return err
		}
	} else if ui.Verbose || !report.Passed() {
		if err := ui.Verdicts(report.Verdicts); err != nil {
			return err
		}
	}

	if err := report.Err(); err != nil {
		return err
	}
	if !validateJSON {
		ui.Success("All %d subject(s) reference an issue key", len(report.Verdicts))
	}
	return nil
}

func branchName(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if name := os.Getenv("GITHUB_HEAD_REF"); name != "" {
		return name, nil
	}
	name, err := gitClient.CurrentBranch(validateRepo)
	if err != nil {
		return "", fmt.Errorf("determine current branch: %w", err)
	}
	if name == "HEAD" {
		return "", errors.New("detached HEAD: pass the branch name explicitly")
	}
	return name, nil
}

func commitsToValidate() ([]validate.Commit, error) {
	var out []validate.Commit
	for _, m := range validateMessages {
		out = append(out, validate.Commit{Message: m})
	}
	if validateFile != "" {
		msgs, err := readMessagesFile(validateFile)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			out = append(out, validate.Commit{Message: m})
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	commits, err := gitClient.Commits(validateRepo, validateBase, validateHead)
	if err != nil {
		return nil, fmt.Errorf("list commits %s..%s: %w", validateBase, validateHead, err)
	}
	return fromGitCommits(commits), nil
}

func readMessagesFile(path string) ([]string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = readAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read commit messages: %w", err)
	}
	return validate.SplitMessages(string(data)), nil
}

func fromGitCommits(commits []git.Commit) []validate.Commit {
	out := make([]validate.Commit, 0, len(commits))
	for _, c := range commits {
		out = append(out, validate.Commit{SHA: c.SHA, Message: c.Message})
	}
	return out
}

func messagesOf(commits []validate.Commit) []string {
	out := make([]string, len(commits))
	for i, c := range commits {
		out[i] = c.Message
	}
	return out
}
