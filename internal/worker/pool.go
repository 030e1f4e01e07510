package worker

import (
	"sync"
	"time"
)

type jobKind int

const (
	jobRun jobKind = iota
	jobStop
)

// Job is one unit handed to a worker: a queued envelope plus the
// consume context it arrived under.
type Job struct {
	kind jobKind
	task task
}

type workerMeta struct {
	ch        chan Job
	lastUsed  time.Time
	enqueued  bool // is in the idle queue
	discarded bool // is targeted as delete
}

type jobChannelPool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	idle     []*workerMeta
	metadata map[chan Job]*workerMeta
	min      int
	max      int
	running  int
	expiry   time.Duration
	handler  func(task)
}

const defaultWorkerIdle = 30 * time.Second

func newJobChannelPool(minWorkers, maxWorkers int, idle time.Duration, handler func(task)) *jobChannelPool {
	if idle <= 0 {
		idle = defaultWorkerIdle
	}
	if maxWorkers < minWorkers {
		maxWorkers = minWorkers
	}
	p := &jobChannelPool{
		metadata: make(map[chan Job]*workerMeta),
		min:      minWorkers,
		max:      maxWorkers,
		expiry:   idle,
		handler:  handler,
	}
	p.cond = sync.NewCond(&p.mu)
	go p.purgeStaleWorkers()
	return p
}

// spawnWorker add a new worker, great for batch spawn
func (p *jobChannelPool) spawnWorker() {
	p.mu.Lock()
	if p.running >= p.max {
		p.mu.Unlock()
		return
	}
	ch := make(chan Job)
	p.metadata[ch] = &workerMeta{ch: ch}
	p.running++
	p.mu.Unlock()
	go p.runWorker(ch)
}

// acquire get an idle worker, or spawn a new one
func (p *jobChannelPool) acquire() chan Job {
	for {
		p.mu.Lock()
		if meta := p.popIdleLocked(); meta != nil {
			p.mu.Unlock()
			return meta.ch
		}
		if p.running < p.max {
			ch := make(chan Job)
			p.metadata[ch] = &workerMeta{ch: ch}
			p.running++
			p.mu.Unlock()
			go p.runWorker(ch)
			continue
		}
		p.cond.Wait()
		p.mu.Unlock()
	}
}

func (p *jobChannelPool) runWorker(ch chan Job) {
	for {
		p.release(ch)
		job := <-ch
		if job.kind == jobStop {
			p.retire(ch)
			return
		}
		p.handler(job.task)
	}
}

// release add an idle worker into the pool
func (p *jobChannelPool) release(ch chan Job) {
	p.mu.Lock()
	meta, ok := p.metadata[ch]
	if !ok || meta.discarded || meta.enqueued {
		p.mu.Unlock()
		return
	}
	meta.enqueued = true
	meta.lastUsed = time.Now()
	p.idle = append(p.idle, meta)
	p.mu.Unlock()
	p.cond.Signal()
}

// retire delete a worker
func (p *jobChannelPool) retire(ch chan Job) {
	p.mu.Lock()
	if meta, ok := p.metadata[ch]; ok {
		delete(p.metadata, ch)
		meta.discarded = true
		if p.running > 0 {
			p.running--
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// popIdleLocked check if pool has an idle worker, then return
func (p *jobChannelPool) popIdleLocked() *workerMeta {
	for len(p.idle) > 0 {
		meta := p.idle[0]
		p.idle = p.idle[1:]
		if meta.discarded {
			continue
		}
		meta.enqueued = false
		return meta
	}
	return nil
}

// purgeStaleWorkers call shutdownExpired when expiry time comes
func (p *jobChannelPool) purgeStaleWorkers() {
	ticker := time.NewTicker(p.expiry)
	defer ticker.Stop()
	for {
		<-ticker.C
		p.shutdownExpired()
	}
}

// shutdownExpired retire all the expired workers above the minimum
func (p *jobChannelPool) shutdownExpired() {
	var stale []*workerMeta
	now := time.Now()

	p.mu.Lock()
	if len(p.idle) == 0 || p.running <= p.min {
		p.mu.Unlock()
		return
	}
	remaining := p.idle[:0] // keep the original array
	for _, meta := range p.idle {
		if meta.discarded {
			continue
		}
		if now.Sub(meta.lastUsed) >= p.expiry && p.running-len(stale) > p.min {
			meta.discarded = true
			meta.enqueued = false
			stale = append(stale, meta)
			continue
		}
		remaining = append(remaining, meta)
	}
	p.idle = remaining
	p.mu.Unlock()

	for _, meta := range stale {
		meta.ch <- Job{kind: jobStop}
	}
}
