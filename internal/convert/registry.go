package convert

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ducklinghq/duckling/internal/files"
	"github.com/ducklinghq/duckling/internal/settings"
)

// Registry tracks live jobs by id. It is an explicit instance owned by the
// service, not a process-wide singleton.
type Registry struct {
	mu    sync.Mutex
	jobs  map[string]*Job
	files *files.Manager
}

// NewRegistry creates an empty registry. The file manager is used by Remove
// to delete a job's output directory.
func NewRegistry(fm *files.Manager) *Registry {
	return &Registry{
		jobs:  map[string]*Job{},
		files: fm,
	}
}

// Create registers a new pending job. An empty id is replaced with a fresh
// uuid; a caller-supplied id that collides silently overwrites the previous
// entry.
func (r *Registry) Create(inputPath, originalFilename string, snap *settings.Snapshot, id string) *Job {
	if id == "" {
		id = uuid.NewString()
	}
	job := NewJob(id, inputPath, originalFilename, snap)

	r.mu.Lock()
	r.jobs[id] = job
	r.mu.Unlock()

	return job
}

// Get returns the job for an id.
func (r *Registry) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	return job, ok
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Remove drops a job and deletes its output directory. Unknown ids are
// ignored. A job still running keeps executing against its abandoned state.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, ok := r.jobs[id]
	delete(r.jobs, id)
	r.mu.Unlock()

	if ok && r.files != nil {
		r.files.DeleteOutputDir(id)
	}
}
