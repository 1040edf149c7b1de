package channel

import (
	"context"
	"sync"
)

// Registry hands out one shared Channel per address so several consumers in a
// process never open independent connections to the same endpoint.
type Registry struct {
	base Options

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	ch   *Channel
	refs int
}

// NewRegistry returns a registry whose channels are built from base with the
// URL filled in per Acquire call. base.OnChange is ignored; shared channels
// are observed through State.
func NewRegistry(base Options) *Registry {
	base.OnChange = nil
	return &Registry{base: base, entries: make(map[string]*entry)}
}

// Acquire returns the running channel for url, starting it on first use. The
// returned release func drops the reference; the last release stops the
// channel. Calling release more than once is harmless.
func (r *Registry) Acquire(url string) (*Channel, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[url]
	if !ok {
		opts := r.base
		opts.URL = url
		ch, err := New(opts)
		if err != nil {
			return nil, nil, err
		}
		if err := ch.Start(context.Background()); err != nil {
			return nil, nil, err
		}
		e = &entry{ch: ch}
		r.entries[url] = e
	}
	e.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { r.release(url, e) })
	}
	return e.ch, release, nil
}

// Len reports how many distinct addresses currently have a live channel.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) release(url string, e *entry) {
	r.mu.Lock()
	e.refs--
	last := e.refs == 0
	if last && r.entries[url] == e {
		delete(r.entries, url)
	}
	r.mu.Unlock()

	if last {
		e.ch.Stop()
	}
}
