package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is one unit of scheduled work. Names must be unique within a registry
// because they label logs and metrics.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry holds jobs in the order they run.
type Registry struct {
	jobs  []Job
	names map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Register appends jobs. It stops at the first nil, unnamed or duplicate job
// and leaves the earlier ones registered.
func (r *Registry) Register(jobs ...Job) error {
	for _, job := range jobs {
		if job == nil {
			return fmt.Errorf("cron job required")
		}
		name := strings.TrimSpace(job.Name())
		if name == "" {
			return fmt.Errorf("cron job name required")
		}
		if _, dup := r.names[name]; dup {
			return fmt.Errorf("cron job %q already registered", name)
		}
		r.names[name] = struct{}{}
		r.jobs = append(r.jobs, job)
	}
	return nil
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}
