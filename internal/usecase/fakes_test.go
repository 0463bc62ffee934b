package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/listing-crawler/internal/entity"
	"github.com/user/listing-crawler/internal/repository"
	"github.com/user/listing-crawler/pkg/config"
)

// pageState is what a fake page shows after a navigation.
type pageState struct {
	present map[string]bool
	texts   map[string]string
	attrs   map[string]map[string]string
	html    string
}

type fakePage struct {
	mu       sync.Mutex
	site     func(url string) (pageState, error)
	state    pageState
	visited  []string
	clicks   []string
	removed  []string
	waits    map[string]int
	closed   bool
	navError error
}

func newFakePage(state pageState) *fakePage {
	if state.present == nil {
		state.present = map[string]bool{}
	}
	return &fakePage{state: state, waits: map[string]int{}}
}

func (p *fakePage) Navigate(_ context.Context, url string, _ repository.NavigateOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.visited = append(p.visited, url)
	if p.navError != nil {
		return p.navError
	}
	if p.site != nil {
		state, err := p.site(url)
		if err != nil {
			return err
		}
		if state.present == nil {
			state.present = map[string]bool{}
		}
		p.state = state
	}
	return nil
}

func (p *fakePage) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waits[selector]++
	for _, part := range strings.Split(selector, ",") {
		if p.state.present[strings.TrimSpace(part)] {
			return nil
		}
	}
	return repository.ErrElementNotFound
}

func (p *fakePage) EvaluateText(_ context.Context, selector string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, ok := p.state.texts[selector]
	return text, ok, nil
}

func (p *fakePage) Attribute(_ context.Context, selector, name string) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.state.attrs[selector][name]
	return v, ok, nil
}

func (p *fakePage) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, selector)
	return nil
}

func (p *fakePage) Remove(_ context.Context, selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.state.present[selector] {
		return 0, nil
	}
	delete(p.state.present, selector)
	p.removed = append(p.removed, selector)
	return 1, nil
}

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.html, nil
}

func (p *fakePage) Cookies(context.Context) ([]entity.Cookie, error) {
	return []entity.Cookie{{Name: "session", Value: "abc"}}, nil
}

func (p *fakePage) Screenshot(context.Context) ([]byte, error) { return []byte("png"), nil }

func (p *fakePage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type fakeBrowser struct {
	mu      sync.Mutex
	newPage func() (repository.PageHandle, error)
	pages   int
	closed  bool
}

func (b *fakeBrowser) NewPage(context.Context) (repository.PageHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pages++
	return b.newPage()
}

func (b *fakeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches int
	browsers []*fakeBrowser
	newPage  func() (repository.PageHandle, error)
}

func (l *fakeLauncher) Launch(context.Context) (repository.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	b := &fakeBrowser{newPage: l.newPage}
	l.browsers = append(l.browsers, b)
	return b, nil
}

// memQueue is an in-memory QueueRepository that records every enqueue.
type memQueue struct {
	mu        sync.Mutex
	queues    map[string][]entity.Job
	history   []entity.Job
	paused    bool
	failNext  map[string]int
	enqueueCb func(entity.Job)
}

func newMemQueue() *memQueue {
	return &memQueue{queues: map[string][]entity.Job{}, failNext: map[string]int{}}
}

func (q *memQueue) Enqueue(_ context.Context, queue string, job entity.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.paused {
		return repository.ErrQueuePaused
	}
	if q.failNext[queue] > 0 {
		q.failNext[queue]--
		return errors.New("broker unavailable")
	}
	job.Queue = queue
	q.queues[queue] = append(q.queues[queue], job)
	q.history = append(q.history, job)
	if q.enqueueCb != nil {
		q.enqueueCb(job)
	}
	return nil
}

func (q *memQueue) EnqueueBulk(ctx context.Context, queue string, jobs []entity.Job) error {
	for _, job := range jobs {
		if err := q.Enqueue(ctx, queue, job); err != nil {
			return err
		}
	}
	return nil
}

func (q *memQueue) Dequeue(ctx context.Context, queue string, timeout time.Duration) (entity.Job, error) {
	deadline := time.Now().Add(timeout)
	for {
		q.mu.Lock()
		if jobs := q.queues[queue]; len(jobs) > 0 {
			job := jobs[0]
			q.queues[queue] = jobs[1:]
			q.mu.Unlock()
			return job, nil
		}
		q.mu.Unlock()
		if time.Now().After(deadline) {
			return entity.Job{}, repository.ErrQueueEmpty
		}
		select {
		case <-ctx.Done():
			return entity.Job{}, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (q *memQueue) Size(_ context.Context, queue string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.queues[queue])), nil
}

func (q *memQueue) Drain(_ context.Context, queue string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := int64(len(q.queues[queue]))
	delete(q.queues, queue)
	return n, nil
}

func (q *memQueue) Pause(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = true
	return nil
}

func (q *memQueue) Resume(context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paused = false
	return nil
}

func (q *memQueue) IsPaused(context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused, nil
}

func (q *memQueue) pending(queue string) []entity.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]entity.Job(nil), q.queues[queue]...)
}

func (q *memQueue) enqueued(queue string) []entity.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []entity.Job
	for _, j := range q.history {
		if j.Queue == queue {
			out = append(out, j)
		}
	}
	return out
}

type memItems struct {
	mu       sync.Mutex
	next     int64
	byID     map[string]*entity.ItemStub
	failNext int
	upserts  int
}

func newMemItems() *memItems {
	return &memItems{byID: map[string]*entity.ItemStub{}}
}

func (m *memItems) UpsertItemStub(_ context.Context, externalID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if m.failNext > 0 {
		m.failNext--
		return 0, errors.New("connection reset")
	}
	if stub, ok := m.byID[externalID]; ok {
		return stub.ID, nil
	}
	m.next++
	m.byID[externalID] = &entity.ItemStub{ID: m.next, ExternalID: externalID, Status: entity.ItemPending, Fields: map[string]any{}}
	return m.next, nil
}

func (m *memItems) UpdateItemFields(_ context.Context, itemRef int64, externalID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stub, ok := m.byID[externalID]
	if !ok {
		m.next++
		stub = &entity.ItemStub{ID: m.next, ExternalID: externalID, Fields: map[string]any{}}
		m.byID[externalID] = stub
	}
	for k, v := range fields {
		stub.Fields[k] = v
	}
	stub.Status = entity.ItemScraped
	return nil
}

func (m *memItems) FindByExternalID(_ context.Context, externalID string) (*entity.ItemStub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stub, ok := m.byID[externalID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *stub
	return &cp, nil
}

func (m *memItems) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memLineages struct {
	mu       sync.Mutex
	statuses map[string]entity.LineageStatus
}

func newMemLineages() *memLineages {
	return &memLineages{statuses: map[string]entity.LineageStatus{}}
}

func (m *memLineages) Save(_ context.Context, status entity.LineageStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.ComboKey] = status
	return nil
}

func (m *memLineages) Get(_ context.Context, comboKey string) (entity.LineageStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[comboKey]
	if !ok {
		return entity.LineageStatus{}, repository.ErrNotFound
	}
	return s, nil
}

func (m *memLineages) List(context.Context) ([]entity.LineageStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.LineageStatus, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComboKey < out[j].ComboKey })
	return out, nil
}

type memFailed struct {
	mu      sync.Mutex
	records map[string]entity.FailedJob
	deleted []string
}

func newMemFailed() *memFailed {
	return &memFailed{records: map[string]entity.FailedJob{}}
}

func (m *memFailed) SaveOrUpdate(_ context.Context, f *entity.FailedJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[f.JobID] = *f
	return nil
}

func (m *memFailed) Delete(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, jobID)
	m.deleted = append(m.deleted, jobID)
	return nil
}

func (m *memFailed) all() []entity.FailedJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.FailedJob, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	return out
}

type memScraped struct {
	mu     sync.Mutex
	marked map[string]time.Duration
}

func newMemScraped() *memScraped {
	return &memScraped{marked: map[string]time.Duration{}}
}

func (m *memScraped) MarkScraped(_ context.Context, id string, expiry time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked[id] = expiry
	return nil
}

func (m *memScraped) IsScraped(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.marked[id]
	return ok, nil
}

// recordingDiagnostics records labels and can be told to fail.
type recordingDiagnostics struct {
	mu     sync.Mutex
	labels []string
	err    error
	panics bool
}

func (d *recordingDiagnostics) Capture(_ context.Context, _ repository.PageHandle, label string) error {
	d.mu.Lock()
	d.labels = append(d.labels, label)
	d.mu.Unlock()
	if d.panics {
		panic("screenshot exploded")
	}
	return d.err
}

func testChallengeConfig() config.ChallengeConfig {
	return config.ChallengeConfig{
		ConsentSelector:             "#didomi-notice-agree-button",
		OverlaySelectors:            []string{"#popin-en-savoir-plus", "#popin-donnee-perso"},
		VerificationHeadingSelector: "p.h2",
		VerificationPhrases:         []string{"Verifying you are human", "Verify you are human"},
		VerificationControlSelector: "input[type=checkbox]",
		ContentSignatures:           map[string]string{UseCaseSearch: "#listResults", UseCaseDetail: "#teaser-header"},
		VerificationAttempts:        3,
	}
}

func testPaginationConfig() config.PaginationConfig {
	return config.PaginationConfig{NextLinkSelector: "a.link_pagination.next", NextLinkAttribute: "data-pjlb"}
}

// resultsHTML renders a results page listing the given ids.
func resultsHTML(ids ...string) string {
	var b strings.Builder
	b.WriteString(`<div id="listResults"><ul>`)
	for _, id := range ids {
		fmt.Fprintf(&b, `<li id="bi-%s">%s</li>`, id, id)
	}
	b.WriteString(`</ul></div>`)
	return b.String()
}
