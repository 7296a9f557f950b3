package transport

import (
	"context"
	"sync"
)

type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// JobsRegistry holds at most one live background task per InetAddr, per
// spec.md §4.7 — the monitor/prepareAll tasks the cluster controller
// schedules per host.
type JobsRegistry struct {
	mu   sync.Mutex
	jobs map[InetAddr]*job
}

func NewJobsRegistry() *JobsRegistry {
	return &JobsRegistry{jobs: make(map[InetAddr]*job)}
}

// Add starts task for key. If an entry already exists for key, replace
// decides the outcome: true cancels the prior task and starts the new
// one, false leaves the existing task running untouched.
func (r *JobsRegistry) Add(key InetAddr, replace bool, task func(ctx context.Context)) {
	r.mu.Lock()
	if existing, ok := r.jobs[key]; ok {
		if !replace {
			r.mu.Unlock()
			return
		}
		existing.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}
	r.jobs[key] = j
	r.mu.Unlock()

	go func() {
		defer close(j.done)
		task(ctx)

		r.mu.Lock()
		if r.jobs[key] == j {
			delete(r.jobs, key)
		}
		r.mu.Unlock()
	}()
}

// ShowJobs enumerates the keys with a currently live task.
func (r *JobsRegistry) ShowJobs() []InetAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]InetAddr, 0, len(r.jobs))
	for k := range r.jobs {
		keys = append(keys, k)
	}
	return keys
}

// Destroy cancels every live task. It does not block on their exit; tasks
// are expected to observe ctx.Done() promptly.
func (r *JobsRegistry) Destroy() {
	r.mu.Lock()
	jobs := r.jobs
	r.jobs = make(map[InetAddr]*job)
	r.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
	}
}
