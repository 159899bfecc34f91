package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/maltedev/hardware-price-scraper/internal/queue"
	"github.com/maltedev/hardware-price-scraper/internal/ratelimit"
	"github.com/maltedev/hardware-price-scraper/internal/retailer"
	"github.com/maltedev/hardware-price-scraper/internal/scraper"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrQueryMissing = errors.New("query or category url is required")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Scraper runs one orchestrated scrape; *scraper.Scraper satisfies it.
type Scraper interface {
	Scrape(ctx context.Context, cfg scraper.StoreConfig, query string) *models.ScrapingResult
}

type Request struct {
	Store       string `json:"store"`
	Query       string `json:"query"`
	CategoryURL string `json:"categoryUrl,omitempty"`
	UseBrowser  bool   `json:"useBrowser,omitempty"`
	Priority    int    `json:"priority,omitempty"`
}

// Job is a queued scrape and its outcome.
type Job struct {
	ID          string                 `json:"id"`
	Store       string                 `json:"store"`
	Query       string                 `json:"query"`
	CategoryURL string                 `json:"categoryUrl,omitempty"`
	UseBrowser  bool                   `json:"useBrowser,omitempty"`
	Status      Status                 `json:"status"`
	Attempts    int                    `json:"attempts"`
	MaxRetries  int                    `json:"maxRetries"`
	Result      *models.ScrapingResult `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
}

type Stats struct {
	TotalJobs     int     `json:"totalJobs"`
	PendingJobs   int     `json:"pendingJobs"`
	RunningJobs   int     `json:"runningJobs"`
	CompletedJobs int     `json:"completedJobs"`
	FailedJobs    int     `json:"failedJobs"`
	QueueSize     int     `json:"queueSize"`
	SuccessRate   float64 `json:"successRate"`
}

type Config struct {
	Workers    int
	MaxRetries int
	RetryBase  time.Duration
}

type Manager struct {
	queue   *queue.InMemoryQueue
	scraper Scraper
	backoff *ratelimit.Backoff
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewManager(q *queue.InMemoryQueue, s Scraper, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		queue:   q,
		scraper: s,
		backoff: ratelimit.NewBackoff(cfg.RetryBase, 2*time.Minute),
		cfg:     cfg,
		logger:  logger.With("component", "job_manager"),
		now:     time.Now,
		jobs:    make(map[string]*Job),
	}
}

// CreateJob validates the request and queues it.
func (m *Manager) CreateJob(ctx context.Context, req Request) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := retailer.Lookup(req.Store); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Query) == "" && strings.TrimSpace(req.CategoryURL) == "" {
		return nil, ErrQueryMissing
	}

	job := &Job{
		ID:          uuid.New().String(),
		Store:       strings.ToLower(strings.TrimSpace(req.Store)),
		Query:       strings.TrimSpace(req.Query),
		CategoryURL: strings.TrimSpace(req.CategoryURL),
		UseBrowser:  req.UseBrowser,
		Status:      StatusPending,
		MaxRetries:  m.cfg.MaxRetries,
		CreatedAt:   m.now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	err := m.queue.Push(&queue.Task{
		ID:          uuid.New().String(),
		JobID:       job.ID,
		Store:       job.Store,
		Query:       job.Query,
		CategoryURL: job.CategoryURL,
		UseBrowser:  job.UseBrowser,
		Priority:    req.Priority,
		CreatedAt:   job.CreatedAt,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "store", job.Store, "query", job.Query)
	snapshot := *job
	return &snapshot, nil
}

// GetJob returns a snapshot of the job.
func (m *Manager) GetJob(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	snapshot := *job
	return &snapshot, nil
}

// ListJobs returns the newest jobs first.
func (m *Manager) ListJobs() []Job {
	m.mu.RLock()
	jobs := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, *job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{TotalJobs: len(m.jobs), QueueSize: m.queue.Size()}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
	}

	if finished := stats.CompletedJobs + stats.FailedJobs; finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished) * 100
	}
	return stats
}

func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}
