package git

import (
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GitHubClient wraps the gh CLI for pull request metadata.
type GitHubClient interface {
	PullRequestCommits(repo, number string) ([]Commit, error)
}

// RealGitHubClient implements GitHubClient using the gh CLI.
type RealGitHubClient struct{}

// NewGitHubClient returns a new RealGitHubClient.
func NewGitHubClient() *RealGitHubClient {
	return &RealGitHubClient{}
}

func ghCmd(args ...string) (string, error) {
	out, err := exec.Command("gh", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// PullRequestCommits fetches commit messages for a pull request. repo may be
// empty to use the repository of the current directory.
func (c *RealGitHubClient) PullRequestCommits(repo, number string) ([]Commit, error) {
	if _, err := strconv.Atoi(number); err != nil {
		return nil, fmt.Errorf("invalid pull request number %q", number)
	}
	args := []string{"pr", "view", number, "--json", "commits"}
	if repo != "" {
		args = append(args, "--repo", repo)
	}
	out, err := ghCmd(args...)
	if err != nil {
		return nil, err
	}
	return ParsePRCommits([]byte(out))
}

type prCommitsRaw struct {
	Commits []struct {
		OID             string `json:"oid"`
		MessageHeadline string `json:"messageHeadline"`
		MessageBody     string `json:"messageBody"`
	} `json:"commits"`
}

// ParsePRCommits decodes `gh pr view --json commits` output.
func ParsePRCommits(data []byte) ([]Commit, error) {
	var raw prCommitsRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse PR commits: %w", err)
	}
	commits := make([]Commit, 0, len(raw.Commits))
	for _, rc := range raw.Commits {
		msg := rc.MessageHeadline
		if rc.MessageBody != "" {
			msg += "\n\n" + rc.MessageBody
		}
		commits = append(commits, Commit{SHA: rc.OID, Message: msg})
	}
	return commits, nil
}
