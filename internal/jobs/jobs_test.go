package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/maltedev/hardware-price-scraper/internal/queue"
	"github.com/maltedev/hardware-price-scraper/internal/scraper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedScraper struct {
	mu      sync.Mutex
	results []*models.ScrapingResult
	configs []scraper.StoreConfig
	queries []string
}

func (s *scriptedScraper) Scrape(ctx context.Context, cfg scraper.StoreConfig, query string) *models.ScrapingResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs = append(s.configs, cfg)
	s.queries = append(s.queries, query)
	if len(s.results) == 0 {
		return models.NewFailedResult(errors.New("no scripted result"))
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r
}

func (s *scriptedScraper) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.configs)
}

func okResult() *models.ScrapingResult {
	return &models.ScrapingResult{
		Products:   []models.Product{{Title: "Ryzen", Price: 17499, Link: "/a", Store: "DNS Shop"}},
		TotalFound: 1,
		Success:    true,
	}
}

func runManager(t *testing.T, s Scraper, cfg Config) *Manager {
	t.Helper()
	m := NewManager(queue.NewInMemoryQueue(), s, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m
}

func waitForStatus(t *testing.T, m *Manager, id string, status Status) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = m.GetJob(id)
		return err == nil && job.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestCreateJobValidation(t *testing.T) {
	m := NewManager(queue.NewInMemoryQueue(), &scriptedScraper{}, Config{}, nil)
	ctx := context.Background()

	_, err := m.CreateJob(ctx, Request{Store: "mvideo", Query: "ryzen"})
	assert.ErrorIs(t, err, scraper.ErrUnknownStore)

	_, err = m.CreateJob(ctx, Request{Store: "dns", Query: "  "})
	assert.ErrorIs(t, err, ErrQueryMissing)

	job, err := m.CreateJob(ctx, Request{Store: " DNS ", Query: " ryzen 5 "})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, "dns", job.Store)
	assert.Equal(t, "ryzen 5", job.Query)
	assert.Equal(t, 1, m.GetStats().QueueSize)

	_, err = m.GetJob("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobCompletes(t *testing.T) {
	s := &scriptedScraper{results: []*models.ScrapingResult{okResult()}}
	m := runManager(t, s, Config{Workers: 2, MaxRetries: 2, RetryBase: time.Millisecond})

	job, err := m.CreateJob(context.Background(), Request{Store: "citilink", Query: "rtx 4060", UseBrowser: true})
	require.NoError(t, err)

	done := waitForStatus(t, m, job.ID, StatusCompleted)
	assert.Equal(t, 1, done.Attempts)
	require.NotNil(t, done.Result)
	assert.Equal(t, 1, done.Result.TotalFound)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)

	require.Equal(t, 1, s.calls())
	assert.Equal(t, "Citilink", s.configs[0].Name)
	assert.True(t, s.configs[0].RequiresBrowser)
	assert.Equal(t, "rtx 4060", s.queries[0])
}

func TestJobRetriesThenSucceeds(t *testing.T) {
	s := &scriptedScraper{results: []*models.ScrapingResult{
		models.NewFailedResult(errors.New("timeout")),
		models.NewFailedResult(scraper.ErrProtectionDetected),
		okResult(),
	}}
	m := runManager(t, s, Config{MaxRetries: 3, RetryBase: time.Millisecond})

	job, err := m.CreateJob(context.Background(), Request{Store: "dns", Query: "ryzen"})
	require.NoError(t, err)

	done := waitForStatus(t, m, job.ID, StatusCompleted)
	assert.Equal(t, 3, done.Attempts)
	assert.Empty(t, done.Error)
	assert.Equal(t, 3, s.calls())
}

func TestJobFailsAfterMaxRetries(t *testing.T) {
	s := &scriptedScraper{}
	m := runManager(t, s, Config{MaxRetries: 2, RetryBase: time.Millisecond})

	job, err := m.CreateJob(context.Background(), Request{Store: "dns", Query: "ryzen"})
	require.NoError(t, err)

	failed := waitForStatus(t, m, job.ID, StatusFailed)
	assert.Equal(t, 3, failed.Attempts)
	assert.Equal(t, "no scripted result", failed.Error)
	assert.Equal(t, 3, s.calls())

	stats := m.GetStats()
	assert.Equal(t, 1, stats.FailedJobs)
	assert.Zero(t, stats.SuccessRate)
}

func TestJobWithCategoryURL(t *testing.T) {
	s := &scriptedScraper{results: []*models.ScrapingResult{okResult()}}
	m := runManager(t, s, Config{RetryBase: time.Millisecond})

	job, err := m.CreateJob(context.Background(), Request{
		Store:       "dns",
		CategoryURL: "/catalog/17a8a01d16404e77/processory/",
	})
	require.NoError(t, err)

	waitForStatus(t, m, job.ID, StatusCompleted)
	assert.Equal(t, "https://www.dns-shop.ru/catalog/17a8a01d16404e77/processory/", s.configs[0].TargetURL(""))
}

func TestListJobsNewestFirst(t *testing.T) {
	m := NewManager(queue.NewInMemoryQueue(), &scriptedScraper{}, Config{}, nil)
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	m.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	first, err := m.CreateJob(context.Background(), Request{Store: "dns", Query: "a"})
	require.NoError(t, err)
	second, err := m.CreateJob(context.Background(), Request{Store: "dns", Query: "b"})
	require.NoError(t, err)

	jobs := m.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, second.ID, jobs[0].ID)
	assert.Equal(t, first.ID, jobs[1].ID)
}

func TestCreateJobOnClosedQueue(t *testing.T) {
	q := queue.NewInMemoryQueue()
	require.NoError(t, q.Close())
	m := NewManager(q, &scriptedScraper{}, Config{}, nil)

	_, err := m.CreateJob(context.Background(), Request{Store: "dns", Query: "ryzen"})
	assert.ErrorIs(t, err, queue.ErrQueueClosed)
	assert.Empty(t, m.ListJobs())
}
