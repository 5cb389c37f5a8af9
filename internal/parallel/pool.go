// Package parallel runs the workgroups of a software dispatch on a fixed
// set of goroutines.
package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Pool executes index ranges on a fixed number of worker goroutines.
//
// A dispatch of N workgroups is split into one job per worker. Each job
// claims workgroup indices from a shared counter, so a worker that finishes
// early keeps taking indices from the same dispatch instead of idling.
//
// Thread safety: Pool is safe for concurrent use. Concurrent Run calls share
// the workers.
type Pool struct {
	workers int
	jobs    chan func()
	wg      sync.WaitGroup

	// closeMu guards sends on jobs against Close.
	closeMu sync.RWMutex
	closed  bool
}

// NewPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &Pool{
		workers: workers,
		jobs:    make(chan func(), workers*2),
	}
	p.wg.Add(workers)
	for range workers {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		job()
	}
}

// Run calls fn(i) for every i in [0, n) and returns when all calls are done.
// On a closed pool the calls run on the caller's goroutine.
func (p *Pool) Run(n int, fn func(i int)) {
	if n <= 0 {
		return
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed || n == 1 || p.workers == 1 {
		for i := range n {
			fn(i)
		}
		return
	}

	var next atomic.Int64
	claim := func() {
		for {
			i := int(next.Add(1) - 1)
			if i >= n {
				return
			}
			fn(i)
		}
	}

	jobs := min(p.workers, n)
	var done sync.WaitGroup
	done.Add(jobs)
	for range jobs {
		p.jobs <- func() {
			defer done.Done()
			claim()
		}
	}
	done.Wait()
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// Close stops the workers after queued jobs finish.
// Close is safe to call multiple times.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.closeMu.Unlock()
	p.wg.Wait()
}
