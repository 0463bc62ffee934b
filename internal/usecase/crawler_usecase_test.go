package usecase

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/pkg/config"
	"github.com/user/listing-crawler/pkg/retry"
)

type crawlFixture struct {
	orchestrator *CrawlOrchestrator
	queue        *memQueue
	items        *memItems
	lineages     *memLineages
	launcher     *fakeLauncher

	mu    sync.Mutex
	pages []*fakePage
}

func (f *crawlFixture) allPagesClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.pages {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if !closed {
			return false
		}
	}
	return true
}

func newCrawlFixture(t *testing.T, site func(url string) (pageState, error)) *crawlFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &crawlFixture{queue: newMemQueue(), items: newMemItems(), lineages: newMemLineages()}
	f.launcher = &fakeLauncher{newPage: func() (repository.PageHandle, error) {
		p := newFakePage(pageState{})
		p.site = site
		f.mu.Lock()
		f.pages = append(f.pages, p)
		f.mu.Unlock()
		return p, nil
	}}

	gateway := NewSessionGateway(f.launcher, retry.Fixed(2, 0), repository.NavigateOptions{Wait: repository.WaitLoad}, 0, logger)
	f.orchestrator = NewCrawlOrchestrator(CrawlParams{
		Gateway:    gateway,
		Challenges: NewChallengeResolver(testChallengeConfig(), nil, logger),
		Pagination: NewPaginationResolver(testPaginationConfig(), "contexte", "page", logger),
		Items:      f.items,
		Queue:      f.queue,
		Lineages:   f.lineages,
		Crawl: config.CrawlConfig{
			BaseURL:   "https://www.pagesjaunes.fr/annuaire/chercherlespros",
			PageParam: "page",
			TokenKey:  "contexte",
		},
		Retry: config.RetryConfig{NavigationAttempts: 2, ExtractionAttempts: 2, PersistenceAttempts: 2},
		Extraction: config.ExtractionConfig{
			ResultsContainer:   "#listResults",
			ItemSelector:       "#listResults ul li",
			ItemIDAttribute:    "id",
			ItemIDPrefix:       "bi-",
			MaxResultsSelector: "#SEL-nbresultat",
			MaxPagesSelector:   "#SEL-compteur.pagination-compteur",
		},
		Logger: logger,
	})
	return f
}

func nextLink(target string) map[string]map[string]string {
	ref := base64.StdEncoding.EncodeToString([]byte(target))
	return map[string]map[string]string{"a.link_pagination.next": {"data-pjlb": `{"url":"` + ref + `"}`}}
}

// twoPageSite serves 5 items on page 1 and 3 items on page 2.
func twoPageSite(url string) (pageState, error) {
	if strings.Contains(url, "page=2") {
		return pageState{
			present: map[string]bool{"#listResults": true},
			html:    resultsHTML("b1", "b2", "b3"),
		}, nil
	}
	return pageState{
		present: map[string]bool{"#listResults": true, "a.link_pagination.next": true},
		texts: map[string]string{
			"#SEL-nbresultat":                   "8 résultats",
			"#SEL-compteur.pagination-compteur": "Page 1 / 2",
		},
		attrs: nextLink("/annuaire/chercherlespros?quoiqui=plombier&ou=paris&contexte=TOKEN1&page=2"),
		html:  resultsHTML("a1", "a2", "a3", "a4", "a5"),
	}, nil
}

func plombierParis() entity.ParameterCombo {
	return entity.ParameterCombo{Facets: []entity.FacetValue{{Name: "quoiqui", Value: "plombier"}, {Name: "ou", Value: "paris"}}}
}

func TestCrawlOrchestrator_TwoPageLineage(t *testing.T) {
	f := newCrawlFixture(t, twoPageSite)
	ctx := context.Background()

	first := f.orchestrator.ProcessCrawlJob(ctx, entity.CrawlJob{Combo: plombierParis(), PageNumber: 1})
	require.Equal(t, entity.JobSucceeded, first.Status, first.Reason())

	crawlJobs := f.queue.enqueued(entity.QueueCrawl)
	require.Len(t, crawlJobs, 1)
	second := crawlJobs[0].Crawl
	require.NotNil(t, second)
	assert.Equal(t, 2, second.PageNumber)
	assert.Equal(t, 2, second.MaxPages)
	assert.Equal(t, 8, second.MaxResults)
	assert.Equal(t, "TOKEN1", second.Context.Token)

	result := f.orchestrator.ProcessCrawlJob(ctx, *second)
	require.Equal(t, entity.JobSucceeded, result.Status, result.Reason())

	assert.Equal(t, 8, f.items.count())
	assert.Len(t, f.queue.enqueued(entity.QueueScrape), 8)
	crawlJobs = f.queue.enqueued(entity.QueueCrawl)
	assert.Len(t, crawlJobs, 1, "no job for page 3")

	status, err := f.lineages.Get(ctx, "plombier-paris")
	require.NoError(t, err)
	assert.Equal(t, entity.LineageCompleted, status.State)
	assert.Equal(t, 8, status.ItemsDiscovered)

	visited := f.pages[1].visited
	require.Len(t, visited, 1)
	assert.Equal(t, "https://www.pagesjaunes.fr/annuaire/chercherlespros?quoiqui=plombier&ou=paris&contexte=TOKEN1&page=2", visited[0])
	assert.Equal(t, 1, f.launcher.launches, "the browser is shared across pages")
}

func TestCrawlOrchestrator_NextPageEnqueuedAfterItemsCommitted(t *testing.T) {
	f := newCrawlFixture(t, twoPageSite)
	var order []string
	f.queue.enqueueCb = func(job entity.Job) {
		order = append(order, job.Queue)
		if job.Queue == entity.QueueCrawl {
			assert.True(t, f.allPagesClosed(), "session released before next page is enqueued")
		}
	}

	result := f.orchestrator.ProcessCrawlJob(context.Background(), entity.CrawlJob{Combo: plombierParis(), PageNumber: 1})
	require.Equal(t, entity.JobSucceeded, result.Status, result.Reason())
	assert.Equal(t, []string{"scrape", "scrape", "scrape", "scrape", "scrape", "crawl"}, order)
}

func TestCrawlOrchestrator_RerunIsIdempotentOnItems(t *testing.T) {
	f := newCrawlFixture(t, twoPageSite)
	job := entity.CrawlJob{Combo: plombierParis(), PageNumber: 1}

	for i := 0; i < 2; i++ {
		result := f.orchestrator.ProcessCrawlJob(context.Background(), job)
		require.Equal(t, entity.JobSucceeded, result.Status, result.Reason())
	}
	assert.Equal(t, 5, f.items.count())

	status, err := f.lineages.Get(context.Background(), "plombier-paris")
	require.NoError(t, err)
	assert.Equal(t, 5, status.ItemsDiscovered, "a re-run page replaces its count")
	assert.Equal(t, map[int]int{1: 5}, status.PageItems)
}

func TestCrawlOrchestrator_ItemFailureDoesNotAbortPage(t *testing.T) {
	f := newCrawlFixture(t, twoPageSite)
	f.items.failNext = 2 // both persistence attempts of the first item

	result := f.orchestrator.ProcessCrawlJob(context.Background(), entity.CrawlJob{Combo: plombierParis(), PageNumber: 1})
	require.Equal(t, entity.JobSucceeded, result.Status, result.Reason())
	assert.Equal(t, 4, f.items.count())
	assert.Len(t, f.queue.enqueued(entity.QueueScrape), 4)
	assert.Len(t, f.queue.enqueued(entity.QueueCrawl), 1)
}

func TestCrawlOrchestrator_VerificationFailureAbortsLineage(t *testing.T) {
	f := newCrawlFixture(t, func(string) (pageState, error) {
		return pageState{
			present: map[string]bool{"p.h2": true},
			texts:   map[string]string{"p.h2": "Verify you are human"},
		}, nil
	})
	ctx := context.Background()
	envelope := entity.NewCrawlEnvelope(entity.CrawlJob{Combo: plombierParis(), PageNumber: 1})

	result := f.orchestrator.Handle(ctx, envelope)
	assert.Equal(t, entity.JobFailed, result.Status)
	assert.False(t, result.Retryable)
	assert.ErrorIs(t, result.Err, repository.ErrVerificationFailed)
	assert.Empty(t, f.queue.enqueued(entity.QueueCrawl))
	assert.Empty(t, f.queue.enqueued(entity.QueueScrape))
	assert.True(t, f.allPagesClosed())

	f.orchestrator.Abandon(ctx, envelope, result)
	status, err := f.lineages.Get(ctx, "plombier-paris")
	require.NoError(t, err)
	assert.Equal(t, entity.LineageAborted, status.State)
	assert.Contains(t, status.Reason, "verification")
}

func TestCrawlOrchestrator_MissingCountersIsExtractionFailure(t *testing.T) {
	f := newCrawlFixture(t, func(string) (pageState, error) {
		return pageState{present: map[string]bool{"#listResults": true}, html: resultsHTML("a1")}, nil
	})

	result := f.orchestrator.ProcessCrawlJob(context.Background(), entity.CrawlJob{Combo: plombierParis(), PageNumber: 1})
	assert.Equal(t, entity.JobFailed, result.Status)
	assert.True(t, result.Retryable)
	assert.ErrorIs(t, result.Err, repository.ErrExtractionFailed)
	assert.Zero(t, f.items.count(), "no items are recorded from an unscouted page")
}

func TestCrawlOrchestrator_NavigationFailureIsRetryable(t *testing.T) {
	f := newCrawlFixture(t, func(string) (pageState, error) {
		return pageState{}, context.DeadlineExceeded
	})

	result := f.orchestrator.ProcessCrawlJob(context.Background(), entity.CrawlJob{Combo: plombierParis(), PageNumber: 1, MaxPages: 3})
	assert.Equal(t, entity.JobFailed, result.Status)
	assert.True(t, result.Retryable)
	assert.ErrorIs(t, result.Err, repository.ErrNavigationFailed)
	assert.Len(t, f.pages[0].visited, 2)
}

func TestCrawlOrchestrator_MaxPagesCap(t *testing.T) {
	f := newCrawlFixture(t, func(url string) (pageState, error) {
		state, _ := twoPageSite(url)
		state.texts = map[string]string{"#SEL-nbresultat": "500", "#SEL-compteur.pagination-compteur": "Page 1 / 25"}
		return state, nil
	})
	f.orchestrator.crawl.MaxPagesCap = 1

	result := f.orchestrator.ProcessCrawlJob(context.Background(), entity.CrawlJob{Combo: plombierParis(), PageNumber: 1})
	require.Equal(t, entity.JobSucceeded, result.Status, result.Reason())
	assert.Empty(t, f.queue.enqueued(entity.QueueCrawl))
}
