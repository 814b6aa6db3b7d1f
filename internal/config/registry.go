package config

import "sync"

// JobRegistry resolves job names to their configuration. It is swapped
// wholesale on reload and is safe for concurrent use.
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]JobConfig
}

// NewJobRegistry creates a registry holding jobs.
func NewJobRegistry(jobs []JobConfig) *JobRegistry {
	r := &JobRegistry{}
	r.Replace(jobs)
	return r
}

// FindConfigByName returns the configuration of a job.
func (r *JobRegistry) FindConfigByName(name string) (JobConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	return job, ok
}

// Register adds or overwrites a single job.
func (r *JobRegistry) Register(job JobConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.Name] = job
}

// Replace swaps the registry contents for jobs.
func (r *JobRegistry) Replace(jobs []JobConfig) {
	m := make(map[string]JobConfig, len(jobs))
	for _, job := range jobs {
		m[job.Name] = job
	}

	r.mu.Lock()
	r.jobs = m
	r.mu.Unlock()
}

// DiffJobs returns the jobs present only in next (added) and only in prev
// (removed), compared by name.
func DiffJobs(prev, next []JobConfig) (added, removed []JobConfig) {
	prevNames := make(map[string]struct{}, len(prev))
	for _, job := range prev {
		prevNames[job.Name] = struct{}{}
	}
	nextNames := make(map[string]struct{}, len(next))
	for _, job := range next {
		nextNames[job.Name] = struct{}{}
		if _, ok := prevNames[job.Name]; !ok {
			added = append(added, job)
		}
	}
	for _, job := range prev {
		if _, ok := nextNames[job.Name]; !ok {
			removed = append(removed, job)
		}
	}
	return added, removed
}
