package scanning

import "sync"

// JobRegistry holds the live scan jobs for the process. It is constructed once
// at startup and injected wherever job state is read or mutated; there is no
// process-global registry.
//
// Mutation goes through Mutate, which serializes writers per job key so queue
// admission, executor progress updates, and cancellation never interleave on
// the same job.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*registeredJob
}

type registeredJob struct {
	mu  sync.Mutex
	job *Job
}

// NewJobRegistry creates an empty job registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]*registeredJob)}
}

// Register adds a job keyed by its request ID. Returns ErrJobExists when the
// request ID is already registered.
func (r *JobRegistry) Register(job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.RequestID()]; ok {
		return ErrJobExists
	}
	r.jobs[job.RequestID()] = &registeredJob{job: job}
	return nil
}

// Get returns the job for the given request ID.
func (r *JobRegistry) Get(requestID string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rj, ok := r.jobs[requestID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return rj.job, nil
}

// All returns a snapshot of every registered job.
func (r *JobRegistry) All() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Job, 0, len(r.jobs))
	for _, rj := range r.jobs {
		out = append(out, rj.job)
	}
	return out
}

// Mutate runs fn while holding the job's write lock, enforcing the one-writer-
// at-a-time-per-job invariant. fn receives the job and may mutate it.
func (r *JobRegistry) Mutate(requestID string, fn func(*Job) error) error {
	r.mu.RLock()
	rj, ok := r.jobs[requestID]
	r.mu.RUnlock()

	if !ok {
		return ErrJobNotFound
	}

	rj.mu.Lock()
	defer rj.mu.Unlock()
	return fn(rj.job)
}

// Len returns the number of registered jobs.
func (r *JobRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
