package collector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/crisiswatch/internal/model"
	"github.com/t77yq/crisiswatch/internal/testutil"
)

func startCollector(t *testing.T) *StreamCollector {
	t.Helper()
	srv := testutil.StartJetStream(t)
	c := NewStreamCollector(srv.JS, time.Hour, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, c.Start(ctx))
	return c
}

func waitFor(t *testing.T, c *StreamCollector, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Len() == n }, 5*time.Second, 20*time.Millisecond)
}

func TestStreamCollector_PublishAndScan(t *testing.T) {
	c := startCollector(t)
	ctx := context.Background()
	now := time.Now()

	mentions := []model.Mention{
		{ID: "m1", Content: "Jane Doe on HEALTHCARE", PublishedAt: now.Add(-5 * time.Minute)},
		{ID: "m2", Content: "unrelated", Keywords: []string{"Taxes"}, PublishedAt: now.Add(-4 * time.Minute)},
		{ID: "m3", Content: "weather", PublishedAt: now.Add(-3 * time.Minute)},
	}
	for _, m := range mentions {
		require.NoError(t, c.Publish(ctx, m))
	}
	waitFor(t, c, 3)

	since := now.Add(-time.Second)

	got, err := c.Scan(ctx, []string{"healthcare", "taxes"}, since)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "m2", got[1].ID)

	all, err := c.Scan(ctx, nil, since)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := c.Scan(ctx, nil, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStreamCollector_ScanUsesIngestTime(t *testing.T) {
	c := startCollector(t)
	ctx := context.Background()

	require.NoError(t, c.Publish(ctx, model.Mention{ID: "early", Content: "healthcare", PublishedAt: time.Now()}))
	waitFor(t, c, 1)

	time.Sleep(20 * time.Millisecond)
	watermark := time.Now()
	time.Sleep(20 * time.Millisecond)

	// published well before the watermark but only ingested after it
	late := model.Mention{ID: "late", Content: "healthcare", PublishedAt: watermark.Add(-2 * time.Hour)}
	require.NoError(t, c.Publish(ctx, late))
	waitFor(t, c, 2)

	got, err := c.Scan(ctx, []string{"healthcare"}, watermark)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "late", got[0].ID)
}

func TestStreamCollector_RebuildsBufferOnStart(t *testing.T) {
	srv := testutil.StartJetStream(t)
	ctx := context.Background()

	first := NewStreamCollector(srv.JS, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Publish(ctx, model.Mention{ID: "a", Content: "x", PublishedAt: time.Now()}))
	require.NoError(t, first.Publish(ctx, model.Mention{ID: "b", Content: "y", PublishedAt: time.Now()}))
	waitFor(t, first, 2)
	first.Stop()

	second := NewStreamCollector(srv.JS, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, second.Start(ctx))
	t.Cleanup(second.Stop)
	waitFor(t, second, 2)

	got, err := second.Scan(ctx, nil, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStreamCollector_DuplicatesIgnored(t *testing.T) {
	c := startCollector(t)
	ctx := context.Background()

	m := model.Mention{ID: "dup", Content: "x", PublishedAt: time.Now()}
	require.NoError(t, c.Publish(ctx, m))
	require.NoError(t, c.Publish(ctx, m))
	require.NoError(t, c.Publish(ctx, model.Mention{ID: "other", Content: "y", PublishedAt: time.Now()}))

	waitFor(t, c, 2)
}

func TestStreamCollector_FindSimilar(t *testing.T) {
	c := startCollector(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, c.Publish(ctx, model.Mention{ID: "a", Keywords: []string{"healthcare", "video"}, PublishedAt: now}))
	require.NoError(t, c.Publish(ctx, model.Mention{ID: "b", Keywords: []string{"Healthcare", "Video", "fake"}, PublishedAt: now}))
	require.NoError(t, c.Publish(ctx, model.Mention{ID: "c", Keywords: []string{"healthcare"}, PublishedAt: now}))
	waitFor(t, c, 3)

	similar, err := c.FindSimilar(ctx, model.Mention{ID: "a", Keywords: []string{"healthcare", "video"}})
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "b", similar[0].ID)
}

func TestStreamCollector_ScanBeforeStart(t *testing.T) {
	srv := testutil.StartJetStream(t)
	c := NewStreamCollector(srv.JS, time.Hour, zaptest.NewLogger(t))

	_, err := c.Scan(context.Background(), nil, time.Time{})
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mention model.Mention
		wantErr bool
	}{
		{"valid", model.Mention{ID: "a", SentimentScore: -1, ReachCount: 0}, false},
		{"missing id", model.Mention{}, true},
		{"sentiment too high", model.Mention{ID: "a", SentimentScore: 1.5}, true},
		{"negative reach", model.Mention{ID: "a", ReachCount: -1}, true},
		{"negative engagement", model.Mention{ID: "a", EngagementCount: -3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.mention)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMention)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
