package agent

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Handle identifies a live agent. Handles are unique within the process
// and never reused.
type Handle int

// NoAgent is the sentinel for "no agent". It is never a usable handle.
const NoAgent Handle = -1

// lastHandle is shared by every Launcher so handles stay process-wide unique.
var lastHandle atomic.Int64

func nextHandle() Handle {
	return Handle(lastHandle.Add(1) - 1)
}

// registry maps live handles to their agents. A handle is live exactly while
// it is present.
type registry struct {
	mu     sync.Mutex
	agents map[Handle]*process
}

func newRegistry() *registry {
	return &registry{agents: make(map[Handle]*process)}
}

func (r *registry) add(p *process) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := nextHandle()
	p.handle = h
	r.agents[h] = p
	return h
}

func (r *registry) get(h Handle) (*process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[h]
	return p, ok
}

// remove invalidates h. It reports false if h was not live.
func (r *registry) remove(h Handle) (*process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.agents[h]
	if ok {
		delete(r.agents, h)
	}
	return p, ok
}

// drain invalidates every handle and returns their agents in handle order.
func (r *registry) drain() []*process {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*process, 0, len(r.agents))
	for h, p := range r.agents {
		out = append(out, p)
		delete(r.agents, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].handle < out[j].handle })
	return out
}

// handles returns the live handles in order.
func (r *registry) handles() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Handle, 0, len(r.agents))
	for h := range r.agents {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
