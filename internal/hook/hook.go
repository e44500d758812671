// Package hook implements the prepare-commit-msg shim that prefixes commit
// messages with the issue key found in the current branch name.
package hook

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joescharf/tracelink/internal/issuekey"
)

// HookName is the git hook tracelink installs.
const HookName = "prepare-commit-msg"

const marker = "# tracelink: prepare-commit-msg"

// ErrHookExists is returned by Install when a foreign hook is in the way.
var ErrHookExists = errors.New("a prepare-commit-msg hook already exists")

// script is the installed hook. git passes the message file, the source and
// optionally a SHA, which are forwarded unchanged.
const script = `#!/bin/sh
` + marker + `
command -v tracelink >/dev/null 2>&1 || exit 0
exec tracelink hook run "$@"
`

// skippedSources are git message sources left alone: merges, squashes and
// amended or reused commits already carry their own message.
var skippedSources = map[string]bool{
	"merge":  true,
	"squash": true,
	"commit": true,
}

// SkipSource reports whether a message of the given git source must not be
// rewritten.
func SkipSource(source string) bool {
	return skippedSources[source]
}

// PrepareMessage prefixes message with "[KEY] " using the first key of
// branch. It returns message unchanged when the branch has no key, the
// message is empty or only comments, the first line already leads with a
// bracketed key, or the message is a fixup!/squash!/amend! autosquash
// subject. Applying it twice gives the same result as applying it once.
func PrepareMessage(g *issuekey.Grammar, branch, message string) string {
	key, ok := g.First(branch)
	if !ok {
		return message
	}

	lines := strings.Split(message, "\n")
	idx := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "#") {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx = i
		break
	}
	if idx < 0 {
		return message
	}

	subject := strings.TrimSpace(lines[idx])
	if _, ok := g.LeadingBracketed(subject); ok {
		return message
	}
	for _, p := range []string{"fixup!", "squash!", "amend!"} {
		if strings.HasPrefix(subject, p) {
			return message
		}
	}

	lines[idx] = "[" + key.String() + "] " + strings.TrimLeft(lines[idx], " \t")
	return strings.Join(lines, "\n")
}

// RunFile rewrites the commit message file in place. It is what the
// installed hook executes.
func RunFile(g *issuekey.Grammar, path, source, branch string) (changed bool, err error) {
	if SkipSource(source) {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read commit message: %w", err)
	}
	msg := string(data)
	out := PrepareMessage(g, branch, msg)
	if out == msg {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		return false, fmt.Errorf("write commit message: %w", err)
	}
	return true, nil
}

// Install writes the hook into hooksDir. An existing tracelink hook is
// rewritten; any other hook is left alone unless force is set.
func Install(hooksDir string, force bool) (string, error) {
	path := filepath.Join(hooksDir, HookName)
	if existing, err := os.ReadFile(path); err == nil && !force && !isOurs(existing) {
		return path, fmt.Errorf("%w: %s (use --force to overwrite)", ErrHookExists, path)
	}
	if err := os.MkdirAll(hooksDir, 0755); err != nil {
		return path, fmt.Errorf("create hooks directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		return path, fmt.Errorf("write hook: %w", err)
	}
	return path, nil
}

// Installed reports whether the tracelink hook is present in hooksDir.
func Installed(hooksDir string) bool {
	data, err := os.ReadFile(filepath.Join(hooksDir, HookName))
	return err == nil && isOurs(data)
}

func isOurs(data []byte) bool {
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == marker {
			return true
		}
	}
	return false
}
