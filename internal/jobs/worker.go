package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maltedev/hardware-price-scraper/internal/models"
	"github.com/maltedev/hardware-price-scraper/internal/queue"
	"github.com/maltedev/hardware-price-scraper/internal/retailer"
	"github.com/maltedev/hardware-price-scraper/internal/scraper"
)

// Start runs the configured number of workers until ctx ends or the queue
// is closed.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("job workers started", "workers", m.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < m.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.work(ctx, i)
		}()
	}
	wg.Wait()

	m.logger.Info("job workers stopped")
}

func (m *Manager) work(ctx context.Context, worker int) {
	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if !errors.Is(err, queue.ErrQueueClosed) && !errors.Is(err, context.Canceled) {
				m.logger.Error("failed to pop task", "worker", worker, "error", err)
			}
			return
		}
		m.processTask(ctx, task)
	}
}

// processTask runs one attempt of a job and re-queues it with backoff while
// retries remain.
func (m *Manager) processTask(ctx context.Context, task *queue.Task) {
	started := m.now()
	m.update(task.JobID, func(j *Job) {
		j.Status = StatusRunning
		j.Attempts = task.Retries + 1
		if j.StartedAt == nil {
			j.StartedAt = &started
		}
	})

	logger := m.logger.With("job", task.JobID, "store", task.Store, "query", task.Query, "attempt", task.Retries+1)
	logger.Info("processing job")

	result := m.run(ctx, task)

	if result.Success {
		m.backoff.Success()
		m.finish(task.JobID, StatusCompleted, result)
		logger.Info("job completed", "products", result.TotalFound)
		return
	}

	m.backoff.Failure()
	if task.Retries < m.cfg.MaxRetries && ctx.Err() == nil {
		delay := m.backoff.Delay(task.Retries + 1)
		retry := *task
		retry.Retries++
		retry.NotBefore = m.now().Add(delay)

		if err := m.queue.Push(&retry); err == nil {
			m.update(task.JobID, func(j *Job) {
				j.Status = StatusPending
				j.Error = result.Error
			})
			logger.Warn("job attempt failed, retrying", "error", result.Error, "delay", delay)
			return
		}
	}

	m.finish(task.JobID, StatusFailed, result)
	logger.Error("job failed", "error", result.Error)
}

func (m *Manager) run(ctx context.Context, task *queue.Task) *models.ScrapingResult {
	cfg, err := retailer.Resolve(task.Store, task.CategoryURL, task.UseBrowser)
	if err != nil {
		return models.NewFailedResult(err)
	}

	result := m.scraper.Scrape(ctx, cfg, task.Query)
	if result == nil {
		return models.NewFailedResult(fmt.Errorf("scraper returned no result for %s", cfg.Name))
	}
	return result
}

func (m *Manager) finish(id string, status Status, result *models.ScrapingResult) {
	completed := m.now()
	m.update(id, func(j *Job) {
		j.Status = status
		j.Result = result
		j.Error = result.Error
		j.CompletedAt = &completed
	})
}

var _ Scraper = (*scraper.Scraper)(nil)
