package hook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracelink/internal/issuekey"
)

func TestPrepareMessage(t *testing.T) {
	g := issuekey.MustGrammar("SECO", "OPS")

	tests := []struct {
		name   string
		branch string
		msg    string
		want   string
	}{
		{"prefixes subject", "feature/SECO-12-login", "add login\n", "[SECO-12] add login\n"},
		{"already keyed", "feature/SECO-12-login", "[SECO-12] add login", "[SECO-12] add login"},
		{"other key kept", "feature/SECO-12-login", "[OPS-3] infra", "[OPS-3] infra"},
		{"branch without key", "main", "add login", "add login"},
		{"empty message", "SECO-1", "", ""},
		{"only comments", "SECO-1", "# Please enter the commit message\n#\n", "# Please enter the commit message\n#\n"},
		{"leading comment then subject", "SECO-1", "# note\n\n  fix bug\n", "# note\n\n[SECO-1] fix bug\n"},
		{"key elsewhere still prefixed", "SECO-1", "fix SECO-1 bug", "[SECO-1] fix SECO-1 bug"},
		{"fixup untouched", "SECO-1", "fixup! add login", "fixup! add login"},
		{"first branch key wins", "SECO-1/OPS-2", "x", "[SECO-1] x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PrepareMessage(g, tt.branch, tt.msg)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, PrepareMessage(g, tt.branch, got), "must be idempotent")
		})
	}
}

func TestRunFile(t *testing.T) {
	g := issuekey.MustGrammar("SECO")
	path := filepath.Join(t.TempDir(), "COMMIT_EDITMSG")
	require.NoError(t, os.WriteFile(path, []byte("add login\n"), 0644))

	changed, err := RunFile(g, path, "message", "SECO-5-login")
	require.NoError(t, err)
	assert.True(t, changed)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "[SECO-5] add login\n", string(data))

	changed, err = RunFile(g, path, "message", "SECO-5-login")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRunFile_SkippedSources(t *testing.T) {
	g := issuekey.MustGrammar("SECO")
	path := filepath.Join(t.TempDir(), "MERGE_MSG")
	require.NoError(t, os.WriteFile(path, []byte("Merge branch 'main'\n"), 0644))

	for _, src := range []string{"merge", "squash", "commit"} {
		changed, err := RunFile(g, path, src, "SECO-5")
		require.NoError(t, err)
		assert.False(t, changed, src)
	}
	assert.False(t, SkipSource("message"))
	assert.False(t, SkipSource(""))
}

func TestRunFile_Missing(t *testing.T) {
	_, err := RunFile(issuekey.MustGrammar("SECO"), filepath.Join(t.TempDir(), "nope"), "", "SECO-1")
	assert.Error(t, err)
}

func TestInstall(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hooks")

	path, err := Install(dir, false)
	require.NoError(t, err)
	assert.True(t, Installed(dir))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0100, "hook must be executable")

	_, err = Install(dir, false)
	require.NoError(t, err, "reinstalling our own hook is allowed")
}

func TestInstall_ForeignHook(t *testing.T) {
	dir := t.TempDir()
	foreign := filepath.Join(dir, HookName)
	require.NoError(t, os.WriteFile(foreign, []byte("#!/bin/sh\necho hi\n"), 0755))

	_, err := Install(dir, false)
	require.ErrorIs(t, err, ErrHookExists)
	assert.False(t, Installed(dir))

	_, err = Install(dir, true)
	require.NoError(t, err)
	assert.True(t, Installed(dir))
}
