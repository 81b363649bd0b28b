package scheduler

import "sync"

// Registry maps account ids to their single active trigger.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Handle)}
}

// Upsert stops any existing trigger for id and stores the one returned by
// build. On build failure the id is left without a trigger.
func (r *Registry) Upsert(id string, build func() (Handle, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.jobs[id]; ok {
		old.Stop()
		delete(r.jobs, id)
	}
	h, err := build()
	if err != nil {
		return err
	}
	r.jobs[id] = h
	return nil
}

// Remove stops and forgets the trigger for id. It reports whether one existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.jobs[id]
	if !ok {
		return false
	}
	h.Stop()
	delete(r.jobs, id)
	return true
}

// Expression returns the expression scheduled for id.
func (r *Registry) Expression(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.jobs[id]
	if !ok {
		return "", false
	}
	return h.Expression(), true
}

// Snapshot returns id to expression for every registered trigger.
func (r *Registry) Snapshot() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.jobs))
	for id, h := range r.jobs {
		out[id] = h.Expression()
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Clear stops every trigger.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, h := range r.jobs {
		h.Stop()
		delete(r.jobs, id)
	}
}
