package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tracelink/internal/issuekey"
	"github.com/joescharf/tracelink/internal/models"
	"github.com/joescharf/tracelink/internal/tracker"
)

func TestInit_DisabledIsNoop(t *testing.T) {
	require.NoError(t, Init(context.Background(), false, "tracelink", "test"))
	assert.False(t, Enabled())

	mem := tracker.NewMemory()
	assert.Same(t, tracker.Adapter(mem), WrapAdapter(mem))
}

func TestWrapAdapter_Enabled(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	require.NoError(t, InitWithWriter(ctx, true, "tracelink", "test", &buf))
	t.Cleanup(func() {
		Shutdown(context.Background())
		_ = Init(context.Background(), false, "tracelink", "test")
	})
	assert.True(t, Enabled())

	key := issuekey.Key{Prefix: "SECO", Number: 4}
	mem := tracker.NewMemory()
	mem.AddIssue(key, models.StateNone)

	a := WrapAdapter(mem)
	_, ok := a.(*InstrumentedAdapter)
	require.True(t, ok)

	res, err := a.CreateLink(ctx, key, models.PullRequestLink{PullRequestID: "9"})
	require.NoError(t, err)
	assert.Equal(t, tracker.Linked, res)

	_, err = a.GetLinkage(ctx, issuekey.Key{Prefix: "SECO", Number: 99}, models.PullRequestLink{PullRequestID: "9"})
	assert.ErrorIs(t, err, tracker.ErrNotFound)
	assert.Equal(t, 1, mem.Links(key))

	Shutdown(ctx)
	assert.Contains(t, buf.String(), "tracker.create_link")
}
