package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"personagen/internal/queue"
)

var ErrDispatcherBusy = errors.New("job queue full")

type task struct {
	ctx context.Context
	env queue.Envelope
}

type userQueue struct {
	tasks    []task
	enqueued bool
}

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

// Dispatcher fans queued envelopes out to a bounded elastic worker
// pool, round-robining across requesters so one busy user cannot
// starve the rest.
type Dispatcher struct {
	pool    *jobChannelPool
	inbound chan task

	mu        sync.Mutex
	queues    map[string]*userQueue // per requester
	ready     *list.List            // LRU queue storing requester keys
	positions map[string]*list.Element
}

func NewDispatcher(cfg DispatcherConfig, handler func(ctx context.Context, env queue.Envelope)) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 2
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	d := &Dispatcher{
		inbound:   make(chan task, cfg.QueueSize),
		queues:    make(map[string]*userQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, func(t task) {
		handler(t.ctx, t.env)
	})

	// warm up to the floor
	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit hands a consumed envelope to the dispatcher. Returns
// ErrDispatcherBusy when the inbound buffer is full.
func (d *Dispatcher) Submit(ctx context.Context, env queue.Envelope) error {
	select {
	case d.inbound <- task{ctx: ctx, env: env}:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the user at the front of the LRU queue
		if !d.dispatchOne() {
			t := <-d.inbound // force congestion
			d.enqueueTask(t)
			continue
		}
		select {
		case t := <-d.inbound: // non-congestion
			d.enqueueTask(t)
		default:
		}
	}
}

func (d *Dispatcher) enqueueTask(t task) {
	key := t.env.UserKey

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[key]
	if q == nil {
		q = &userQueue{}
		d.queues[key] = q
	}
	q.tasks = append(q.tasks, t)
	if q.enqueued {
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(key)
	d.positions[key] = elem
}

// dispatchOne takes the first requester in the LRU and dispatches its
// oldest task
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	if len(q.tasks) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, key)
		delete(d.queues, key)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	workerChan <- Job{kind: jobRun, task: t}
	return true
}
