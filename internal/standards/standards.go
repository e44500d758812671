// Package standards checks that a repository is set up for traceability:
// the commit hook, a CI workflow running the gate, and a tracker to sync to.
package standards

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"

	"github.com/joescharf/tracelink/internal/config"
	"github.com/joescharf/tracelink/internal/git"
	"github.com/joescharf/tracelink/internal/hook"
	"github.com/joescharf/tracelink/internal/issuekey"
)

// Check represents a single standardization check.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Checker evaluates repository standardization.
type Checker struct {
	git     git.Client
	grammar *issuekey.Grammar
	jira    config.JiraConfig
}

// NewChecker returns a Checker using cfg's key grammar and Jira settings.
func NewChecker(gc git.Client, cfg config.Config) *Checker {
	return &Checker{git: gc, grammar: cfg.Grammar(), jira: cfg.Jira}
}

// defaultBranches are exempt from the branch key check.
var defaultBranches = []string{"main", "master", "develop", "HEAD"}

// Run evaluates all checks for the working copy at path. Checks that need
// a repository are reported as failed when path is not one.
func (c *Checker) Run(path string) []Check {
	root, err := c.git.RepoRoot(path)
	if err != nil {
		return []Check{
			{Name: "Git repository", Detail: "not a git repository"},
			c.checkJira(),
		}
	}

	return []Check{
		{Name: "Git repository", Passed: true, Detail: root},
		c.checkHook(root),
		checkWorkflow(root),
		c.checkBranch(root),
		c.checkJira(),
	}
}

// Passed counts the passing checks.
func Passed(checks []Check) int {
	n := 0
	for _, c := range checks {
		if c.Passed {
			n++
		}
	}
	return n
}

func (c *Checker) checkHook(root string) Check {
	dir, err := c.git.HooksDir(root)
	if err != nil {
		return Check{Name: "Commit hook", Detail: err.Error()}
	}
	if hook.Installed(dir) {
		return Check{Name: "Commit hook", Passed: true, Detail: hook.HookName + " installed"}
	}
	return Check{Name: "Commit hook", Detail: "run 'tracelink hook install'"}
}

// checkWorkflow looks for a GitHub Actions workflow that mentions tracelink.
func checkWorkflow(root string) Check {
	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		m, _ := filepath.Glob(filepath.Join(root, ".github", "workflows", pattern))
		files = append(files, m...)
	}
	if len(files) == 0 {
		return Check{Name: "CI workflow", Detail: ".github/workflows/ missing"}
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err == nil && bytes.Contains(data, []byte("tracelink")) {
			return Check{Name: "CI workflow", Passed: true, Detail: filepath.Base(f) + " runs tracelink"}
		}
	}
	return Check{Name: "CI workflow", Detail: "no workflow runs tracelink"}
}

func (c *Checker) checkBranch(root string) Check {
	branch, err := c.git.CurrentBranch(root)
	if err != nil {
		return Check{Name: "Branch key", Detail: err.Error()}
	}
	if slices.Contains(defaultBranches, branch) {
		return Check{Name: "Branch key", Passed: true, Detail: "on " + branch + ", not checked"}
	}
	if k, ok := c.grammar.First(branch); ok {
		return Check{Name: "Branch key", Passed: true, Detail: branch + " references " + k.String()}
	}
	return Check{Name: "Branch key", Detail: branch + " has no issue key"}
}

func (c *Checker) checkJira() Check {
	if c.jira.Configured() {
		return Check{Name: "Jira", Passed: true, Detail: c.jira.BaseURL}
	}
	return Check{Name: "Jira", Detail: "jira.base_url and jira.token not set"}
}
