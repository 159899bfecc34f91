package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

// Task is one scrape request waiting to run.
type Task struct {
	ID          string
	JobID       string
	Store       string
	Query       string
	CategoryURL string
	UseBrowser  bool
	Priority    int
	Retries     int
	// NotBefore delays a retried task; the zero value means ready now.
	NotBefore time.Time
	CreatedAt time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

// InMemoryQueue pops the highest priority ready task, oldest first among
// equal priorities.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  []*Task
	notify chan struct{}
	closed bool
	now    func() time.Time
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = q.now()
	}

	q.tasks = append(q.tasks, task)
	sort.SliceStable(q.tasks, func(i, j int) bool {
		return q.tasks[i].Priority > q.tasks[j].Priority
	})
	q.wake()

	return nil
}

// Pop blocks until a task is ready, the queue is closed and drained, or ctx ends.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		task, wait, err := q.next()
		if task != nil || err != nil {
			return task, err
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil, ctx.Err()
		case <-q.notify:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// TryPop returns ErrQueueEmpty instead of blocking.
func (q *InMemoryQueue) TryPop() (*Task, error) {
	task, _, err := q.next()
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrQueueEmpty
	}
	return task, nil
}

// next removes the first ready task. Without one it reports how long until
// the earliest delayed task becomes ready (0 when nothing is delayed).
func (q *InMemoryQueue) next() (*Task, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var wait time.Duration
	for i, task := range q.tasks {
		if !task.NotBefore.After(now) {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			if len(q.tasks) > 0 && !q.closed {
				q.wake()
			}
			return task, 0, nil
		}
		if d := task.NotBefore.Sub(now); wait == 0 || d < wait {
			wait = d
		}
	}

	if q.closed {
		return nil, 0, ErrQueueClosed
	}
	return nil, wait, nil
}

func (q *InMemoryQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close rejects further pushes. Waiting Pops drain the ready tasks and then
// return ErrQueueClosed.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.notify)
	}
	return nil
}
