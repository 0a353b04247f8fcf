package provisioner

import (
	"context"
	"sync"
)

// Fake is an in-memory Provisioner for development and tests. Outcomes are
// scripted per id; unscripted ids succeed.
type Fake struct {
	mu       sync.Mutex
	outcomes map[string][]*Outcome
	applies  map[string]int
	destroys map[string]int
}

func NewFake() *Fake {
	return &Fake{
		outcomes: make(map[string][]*Outcome),
		applies:  make(map[string]int),
		destroys: make(map[string]int),
	}
}

// Script queues outcomes for id; each call consumes one. When the queue is
// empty further calls succeed.
func (f *Fake) Script(id string, outcomes ...*Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[id] = append(f.outcomes[id], outcomes...)
}

func (f *Fake) Apply(ctx context.Context, id string, vars map[string]string) (*Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applies[id]++
	return f.next(id), nil
}

func (f *Fake) Destroy(ctx context.Context, id string) (*Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys[id]++
	return f.next(id), nil
}

func (f *Fake) ApplyCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applies[id]
}

func (f *Fake) DestroyCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroys[id]
}

func (f *Fake) next(id string) *Outcome {
	queue := f.outcomes[id]
	if len(queue) == 0 {
		return &Outcome{Success: true, Output: "ok"}
	}
	out := queue[0]
	f.outcomes[id] = queue[1:]
	return out
}
