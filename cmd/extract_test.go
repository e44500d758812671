package cmd

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_Args(t *testing.T) {
	testEnv(t)
	setProjectKeys(t, "SECO,OPS")

	require.NoError(t, extractRun([]string{"feature/SECO-12 and OPS-7, SECO-12 again, ABC-1"}))
	assert.Equal(t, "SECO-12\nOPS-7\n", stdout())
}

func TestExtract_StdinJSON(t *testing.T) {
	testEnv(t)
	orig := readAll
	t.Cleanup(func() { readAll = orig })
	readAll = func(io.Reader) ([]byte, error) { return []byte("nothing to see"), nil }
	extractJSON = true

	require.NoError(t, extractRun(nil))
	var keys []string
	require.NoError(t, json.Unmarshal([]byte(stdout()), &keys))
	assert.NotNil(t, keys)
	assert.Empty(t, keys)
}
