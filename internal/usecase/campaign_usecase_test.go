package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/pkg/retry"
)

func testFacets() []entity.Facet {
	return []entity.Facet{
		{Name: "quoiqui", Values: []string{"plombier", "electricien"}},
		{Name: "ou", Values: []string{"paris", "lyon"}},
	}
}

func TestCampaign_RunSeedsFirstPages(t *testing.T) {
	queue := newMemQueue()
	lineages := newMemLineages()
	require.NoError(t, queue.Pause(context.Background()))
	c := NewCampaign(testFacets(), queue, lineages, newMemItems(), nil, nil, zaptest.NewLogger(t))

	summary, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Combos)
	assert.Equal(t, 4, summary.Enqueued)
	assert.Equal(t, []string{"plombier-paris", "plombier-lyon", "electricien-paris", "electricien-lyon"}, summary.Keys)

	jobs := queue.pending(entity.QueueCrawl)
	require.Len(t, jobs, 4)
	for _, job := range jobs {
		require.NotNil(t, job.Crawl)
		assert.Equal(t, 1, job.Crawl.PageNumber)
		assert.Zero(t, job.Crawl.MaxPages)
	}

	statuses, err := c.Lineages(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 4)
	for _, s := range statuses {
		assert.Equal(t, entity.LineagePending, s.State)
	}
}

func TestCampaign_StopPausesAndDrains(t *testing.T) {
	ctx := context.Background()
	queue := newMemQueue()
	launcher := &fakeLauncher{newPage: func() (repository.PageHandle, error) { return newFakePage(pageState{}), nil }}
	gateway := NewSessionGateway(launcher, retry.Fixed(1, 0), repository.NavigateOptions{}, 0, zaptest.NewLogger(t))
	require.NoError(t, gateway.WithSession(ctx, func(*Session) error { return nil }))

	c := NewCampaign(testFacets(), queue, newMemLineages(), newMemItems(), nil, gateway, zaptest.NewLogger(t))
	_, err := c.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(ctx, entity.QueueScrape, entity.NewScrapeEnvelope(entity.ScrapeJob{ItemRef: 1, ExternalID: "1"})))

	summary, err := c.Stop(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{entity.QueueCrawl: 4, entity.QueueScrape: 1}, summary.Drained)

	statuses, err := c.Lineages(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 4)
	for _, s := range statuses {
		assert.Equal(t, entity.LineageAborted, s.State, s.ComboKey)
		assert.Equal(t, "stopped", s.Reason)
	}

	paused, _ := queue.IsPaused(ctx)
	assert.True(t, paused)
	assert.ErrorIs(t, queue.Enqueue(ctx, entity.QueueCrawl, entity.Job{}), repository.ErrQueuePaused)
	assert.True(t, launcher.browsers[0].closed, "the shared browser is released on stop")
}

func TestCampaign_RunSkipsActiveLineages(t *testing.T) {
	ctx := context.Background()
	queue := newMemQueue()
	lineages := newMemLineages()
	c := NewCampaign(testFacets(), queue, lineages, newMemItems(), nil, nil, zaptest.NewLogger(t))

	_, err := c.Run(ctx)
	require.NoError(t, err)
	_, err = queue.Drain(ctx, entity.QueueCrawl)
	require.NoError(t, err)

	running := entity.LineageStatus{ComboKey: "plombier-paris", State: entity.LineageRunning, CurrentPage: 3, MaxPages: 10}
	require.NoError(t, lineages.Save(ctx, running))
	require.NoError(t, lineages.Save(ctx, entity.LineageStatus{ComboKey: "plombier-lyon", State: entity.LineageCompleted}))
	require.NoError(t, lineages.Save(ctx, entity.LineageStatus{ComboKey: "electricien-lyon", State: entity.LineageAborted}))

	summary, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Combos)
	assert.Equal(t, 2, summary.Enqueued)
	assert.Equal(t, []string{"plombier-lyon", "electricien-lyon"}, summary.Keys)
	assert.Equal(t, []string{"plombier-paris", "electricien-paris"}, summary.Skipped)

	for _, job := range queue.pending(entity.QueueCrawl) {
		require.NotNil(t, job.Crawl)
		assert.NotEqual(t, "plombier-paris", job.Crawl.Combo.Key(), "no second chain for a running combo")
	}
	assert.Len(t, queue.pending(entity.QueueCrawl), 2)

	status, err := lineages.Get(ctx, "plombier-paris")
	require.NoError(t, err)
	assert.Equal(t, running, status)
	status, err = lineages.Get(ctx, "plombier-lyon")
	require.NoError(t, err)
	assert.Equal(t, entity.LineagePending, status.State)
}

func TestCampaign_RunAfterDrainReseeds(t *testing.T) {
	ctx := context.Background()
	queue := newMemQueue()
	c := NewCampaign(testFacets(), queue, newMemLineages(), newMemItems(), nil, nil, zaptest.NewLogger(t))

	_, err := c.Run(ctx)
	require.NoError(t, err)
	_, err = c.Stop(ctx, true)
	require.NoError(t, err)

	summary, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Enqueued)
	assert.Empty(t, summary.Skipped)
	assert.Len(t, queue.pending(entity.QueueCrawl), 4)
}

func TestCampaign_NoFacets(t *testing.T) {
	c := NewCampaign(nil, newMemQueue(), newMemLineages(), newMemItems(), nil, nil, zaptest.NewLogger(t))
	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoCombos)
}

func TestCampaign_Lookups(t *testing.T) {
	ctx := context.Background()
	items := newMemItems()
	_, err := items.UpsertItemStub(ctx, "42")
	require.NoError(t, err)
	c := NewCampaign(testFacets(), newMemQueue(), newMemLineages(), items, nil, nil, zaptest.NewLogger(t))

	stub, err := c.Item(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, entity.ItemPending, stub.Status)

	_, err = c.Item(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = c.Lineage(ctx, "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
