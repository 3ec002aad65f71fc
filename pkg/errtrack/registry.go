// Package errtrack implements the URL-keyed failure registry that drives
// retry batches. An entry exists iff the most recent attempt for that URL
// failed; it is removed again on success.
package errtrack

import (
	"sync"

	"github.com/mirokit/boardreport/pkg/client"
)

// Entry records the last failure observed for one URL.
type Entry struct {
	// URL is the exact request URL to re-issue; retrying re-targets the
	// failed request itself so offset/cursor state is never recomputed.
	URL string

	// EntityID is the id of the entity the request was for (team id,
	// member id), carried alongside the URL instead of being re-derived
	// from the URL text at failure sites.
	EntityID string

	// Scope names the collection the request belonged to ("teams",
	// "boards", "members").
	Scope string

	Class      client.ErrorClass
	StatusCode int
	Message    string

	// Retries counts how often this URL has been re-recorded after a
	// failed retry attempt.
	Retries int
}

// Registry is the failure-tracking map for one retry loop.
// It preserves insertion order so retry batches are deterministic.
type Registry struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	order     []string
	lastClass client.ErrorClass
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Record upserts a failure entry. Re-recording a known URL bumps its retry
// count and refreshes the failure details.
func (r *Registry) Record(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[e.URL]; ok {
		existing.Class = e.Class
		existing.StatusCode = e.StatusCode
		existing.Message = e.Message
		existing.Retries++
	} else {
		entry := e
		entry.Retries = 0
		r.entries[e.URL] = &entry
		r.order = append(r.order, e.URL)
	}
	r.lastClass = e.Class
}

// Clear removes the entry for a URL after a successful attempt.
func (r *Registry) Clear(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[url]; !ok {
		return
	}
	delete(r.entries, url)
	for i, u := range r.order {
		if u == url {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of registered failures.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Empty reports whether no failures are registered.
func (r *Registry) Empty() bool {
	return r.Len() == 0
}

// Get returns the entry for a URL, if present.
func (r *Registry) Get(url string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[url]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// URLs returns the registered URLs in insertion order.
func (r *Registry) URLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	urls := make([]string, len(r.order))
	copy(urls, r.order)
	return urls
}

// Snapshot returns a copy of all entries in insertion order.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.order))
	for _, url := range r.order {
		entries = append(entries, *r.entries[url])
	}
	return entries
}

// Retryable returns the entries whose failure class is worth retrying,
// in insertion order.
func (r *Registry) Retryable() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]Entry, 0, len(r.order))
	for _, url := range r.order {
		e := r.entries[url]
		if client.Retryable(e.Class) {
			entries = append(entries, *e)
		}
	}
	return entries
}

// LastClass returns the class of the most recently recorded failure.
// The backoff controller inspects this to decide whether a cool-down is due.
func (r *Registry) LastClass() client.ErrorClass {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastClass
}
