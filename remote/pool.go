package remote

import (
	"container/heap"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Class is a caller-assigned scheduling class. Lower classes are served
// first; within a class, items are served in submission order.
type Class int

// Scheduling classes. classFailed is reserved for delivering failures
// ahead of every legitimate class.
const (
	classFailed Class = iota
	High
	Med
	Low
)

const (
	defaultInitialWorkers = 2
	defaultMaxWorkers     = 16

	// maxRetries bounds transient-failure re-enqueues per item, so a
	// persistently failing blob is attempted 1+maxRetries times.
	maxRetries = 5
)

// key orders work and completions. Compared lexicographically: class
// first, then the retry count (a transient failure demotes the item
// within its class without crossing into another), then the submission
// sequence for FIFO among equals.
type key struct {
	class Class
	retry int
	seq   uint64
}

func (k key) less(o key) bool {
	if k.class != o.class {
		return k.class < o.class
	}
	if k.retry != o.retry {
		return k.retry < o.retry
	}
	return k.seq < o.seq
}

type workItem struct {
	key  key
	id   string
	dest string
}

type result struct {
	key key
	id  string
	err error
}

// Pool fans blob fetches out across worker goroutines.
//
// Workers start at an initial count and grow one at a time whenever
// work arrives while no worker is idle, up to a hard maximum; they
// never shrink, parking on the empty queue instead. Completions are
// delivered by Result in key order, not completion order: a finished
// item is withheld while an item with a smaller key is still pending,
// and failures always sort first.
type Pool struct {
	fetcher Fetcher
	logger  *slog.Logger

	initial int
	slots   *semaphore.Weighted // total-worker cap, never released

	mu       sync.Mutex
	workCond *sync.Cond
	doneCond *sync.Cond
	seq      uint64
	queue    workHeap
	pending  pendingHeap
	live     map[key]struct{} // queued or in-flight keys
	done     doneHeap
	idle     int
	closed   bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the initial and maximum worker counts.
func WithWorkers(initial, maximum int) PoolOption {
	return func(p *Pool) {
		if initial > 0 {
			p.initial = initial
		}
		if maximum > 0 {
			p.slots = semaphore.NewWeighted(int64(maximum))
		}
	}
}

// WithPoolLogger sets the logger for pool scheduling events.
// If not set, logging is disabled.
func WithPoolLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// NewPool starts a worker pool on top of the given fetch strategy.
func NewPool(fetcher Fetcher, opts ...PoolOption) *Pool {
	p := &Pool{
		fetcher: fetcher,
		initial: defaultInitialWorkers,
		slots:   semaphore.NewWeighted(defaultMaxWorkers),
		live:    make(map[key]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.workCond = sync.NewCond(&p.mu)
	p.doneCond = sync.NewCond(&p.mu)
	for i := 0; i < p.initial; i++ {
		p.spawn()
	}
	return p
}

// Fetch enqueues a blob copy to dest. It never blocks beyond the pool
// lock and is safe to call from any goroutine.
func (p *Pool) Fetch(class Class, id, dest string) {
	if class <= classFailed {
		class = High
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	k := key{class: class, seq: p.seq}
	p.seq++
	heap.Push(&p.queue, workItem{key: k, id: id, dest: dest})
	heap.Push(&p.pending, k)
	p.live[k] = struct{}{}
	grow := p.idle == 0
	p.mu.Unlock()

	p.workCond.Signal()
	if grow {
		p.spawn()
	}
}

// Result blocks until the next completion is deliverable and returns
// its content id. A failed fetch returns the strategy's original error
// once its retries are exhausted; failures are delivered before any
// pending success.
func (p *Pool) Result() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if len(p.done) > 0 {
			next := p.done[0]
			if min, ok := p.pendingMinLocked(); !ok || !min.less(next.key) {
				heap.Pop(&p.done)
				if next.err != nil {
					return next.id, fmt.Errorf("remote: fetch %s: %w", next.id, next.err)
				}
				return next.id, nil
			}
		} else if len(p.live) == 0 {
			return "", errors.New("remote: no fetch pending")
		}
		p.doneCond.Wait()
	}
}

// Close stops idle workers once the queue drains. Fetches enqueued
// after Close are dropped.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.workCond.Broadcast()
}

// spawn adds one worker unless the cap is reached. The slot is held for
// the life of the pool; workers never shrink back down.
func (p *Pool) spawn() {
	if p.slots.TryAcquire(1) {
		go p.run()
	}
}

func (p *Pool) run() {
	for {
		p.mu.Lock()
		p.idle++
		for len(p.queue) == 0 && !p.closed {
			p.workCond.Wait()
		}
		p.idle--
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		item := heap.Pop(&p.queue).(workItem)
		p.mu.Unlock()

		err := p.fetcher.Fetch(item.id, item.dest)

		p.mu.Lock()
		delete(p.live, item.key)
		switch {
		case err == nil:
			heap.Push(&p.done, result{key: item.key, id: item.id})
		case IsTransient(err) && item.key.retry < maxRetries:
			log(p.logger).Debug("retrying fetch",
				"id", item.id, "attempt", item.key.retry+1, "error", err)
			demoted := key{class: item.key.class, retry: item.key.retry + 1, seq: item.key.seq}
			heap.Push(&p.queue, workItem{key: demoted, id: item.id, dest: item.dest})
			heap.Push(&p.pending, demoted)
			p.live[demoted] = struct{}{}
			p.workCond.Signal()
		default:
			log(p.logger).Error("fetch failed", "id", item.id, "error", err)
			heap.Push(&p.done, result{key: key{class: classFailed, seq: item.key.seq}, id: item.id, err: err})
		}
		// Completion or demotion can both unblock a withheld Result.
		p.doneCond.Broadcast()
		p.mu.Unlock()
	}
}

// pendingMinLocked returns the smallest live key, discarding heap
// entries whose item completed or was demoted since they were pushed.
func (p *Pool) pendingMinLocked() (key, bool) {
	for len(p.pending) > 0 {
		top := p.pending[0]
		if _, ok := p.live[top]; ok {
			return top, true
		}
		heap.Pop(&p.pending)
	}
	return key{}, false
}

type workHeap []workItem

func (h workHeap) Len() int           { return len(h) }
func (h workHeap) Less(i, j int) bool { return h[i].key.less(h[j].key) }
func (h workHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *workHeap) Push(x any)        { *h = append(*h, x.(workItem)) }
func (h *workHeap) Pop() any          { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

type pendingHeap []key

func (h pendingHeap) Len() int           { return len(h) }
func (h pendingHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h pendingHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x any)        { *h = append(*h, x.(key)) }
func (h *pendingHeap) Pop() any          { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }

type doneHeap []result

func (h doneHeap) Len() int           { return len(h) }
func (h doneHeap) Less(i, j int) bool { return h[i].key.less(h[j].key) }
func (h doneHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *doneHeap) Push(x any)        { *h = append(*h, x.(result)) }
func (h *doneHeap) Pop() any          { old := *h; n := len(old); x := old[n-1]; *h = old[:n-1]; return x }
