// Package msgworker runs jobs on a fixed set of workers. Jobs sharing a key
// always land on the same worker, so they run one at a time in dispatch order.
package msgworker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is a unit of work. Key selects the worker; Handler receives the
// worker's context, which is cancelled on Stop.
type Job struct {
	Key     string
	Handler func(ctx context.Context) error
}

type PoolStats struct {
	NumWorkers      int            `json:"num_workers"`
	QueueSize       int            `json:"queue_size"`
	ActiveWorkers   int            `json:"active_workers"`
	TotalDispatched int64          `json:"total_dispatched"`
	TotalProcessed  int64          `json:"total_processed"`
	TotalDropped    int64          `json:"total_dropped"`
	TotalErrors     int64          `json:"total_errors"`
	WorkerStats     []WorkerStats  `json:"worker_stats"`
	ActiveKeys      map[string]int `json:"active_keys"`
	Uptime          string         `json:"uptime"`
}

type WorkerStats struct {
	WorkerID      int   `json:"worker_id"`
	QueueDepth    int   `json:"queue_depth"`
	IsProcessing  bool  `json:"is_processing"`
	JobsProcessed int64 `json:"jobs_processed"`
}

type activeKey struct {
	workerID int
	seenAt   time.Time
}

const activeKeyTTL = 2 * time.Second

// Pool is a sharded worker pool.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32
	stopCh     chan struct{}

	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64
	inFlight        int64

	activeMu  sync.Mutex
	active    map[string]activeKey
	startTime time.Time
}

type worker struct {
	id            int
	queue         chan Job
	ctx           context.Context
	cancel        context.CancelFunc
	busy          int32
	jobsProcessed int64
	pool          *Pool
}

func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
		active:     make(map[string]activeKey),
		stopCh:     make(chan struct{}),
		startTime:  time.Now(),
	}
}

func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.pruneActive(ctx)

	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:     i,
			queue:  make(chan Job, p.queueSize),
			ctx:    workerCtx,
			cancel: cancel,
			pool:   p,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(&p.wg)
	}

	logrus.Infof("[MSG_WORKER_POOL] Started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

func (p *Pool) pruneActive(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case now := <-ticker.C:
			p.activeMu.Lock()
			for k, v := range p.active {
				if now.Sub(v.seenAt) > activeKeyTTL {
					delete(p.active, k)
				}
			}
			p.activeMu.Unlock()
		}
	}
}

// TryDispatch enqueues job without blocking. It returns false when the
// worker's queue is full or the pool is stopped.
func (p *Pool) TryDispatch(job Job) bool {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	shard := p.shardFor(job.Key)
	atomic.AddInt64(&p.totalDispatched, 1)

	p.activeMu.Lock()
	p.active[job.Key] = activeKey{workerID: shard, seenAt: time.Now()}
	p.activeMu.Unlock()

	atomic.AddInt64(&p.inFlight, 1)
	sent := func() (ok bool) {
		// Stop may close the queue between the stopped check and the send.
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		select {
		case p.workers[shard].queue <- job:
			return true
		default:
			return false
		}
	}()
	if sent {
		return true
	}
	atomic.AddInt64(&p.inFlight, -1)

	p.activeMu.Lock()
	delete(p.active, job.Key)
	p.activeMu.Unlock()

	atomic.AddInt64(&p.totalDropped, 1)
	logrus.Warnf("[MSG_WORKER_POOL] Worker %d queue full (or stopped), dropping job for %s", shard, job.Key)
	return false
}

// Stop cancels worker contexts, drains queued jobs and waits for the workers.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		close(p.stopCh)
		logrus.Info("[MSG_WORKER_POOL] Stopping workers...")

		for _, w := range p.workers {
			if w == nil {
				continue
			}
			w.cancel()
			close(w.queue)
		}
		p.wg.Wait()

		logrus.Info("[MSG_WORKER_POOL] All workers stopped")
	})
}

// WaitIdle blocks until every accepted job has finished or ctx is done.
func (p *Pool) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for atomic.LoadInt64(&p.inFlight) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (p *Pool) Stats() PoolStats {
	workerStats := make([]WorkerStats, 0, len(p.workers))
	activeWorkers := 0
	for _, w := range p.workers {
		if w == nil {
			continue
		}
		busy := atomic.LoadInt32(&w.busy) == 1
		if busy {
			activeWorkers++
		}
		workerStats = append(workerStats, WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.queue),
			IsProcessing:  busy,
			JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		})
	}

	now := time.Now()
	p.activeMu.Lock()
	keys := make(map[string]int, len(p.active))
	for k, v := range p.active {
		if now.Sub(v.seenAt) <= activeKeyTTL {
			keys[k] = v.workerID
		}
	}
	p.activeMu.Unlock()

	return PoolStats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		ActiveWorkers:   activeWorkers,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
		WorkerStats:     workerStats,
		ActiveKeys:      keys,
		Uptime:          now.Sub(p.startTime).Truncate(time.Second).String(),
	}
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	logrus.Debugf("[MSG_WORKER_POOL] Worker %d started", w.id)

	for {
		select {
		case job, ok := <-w.queue:
			if !ok {
				return
			}
			w.execute(job)
		case <-w.ctx.Done():
			logrus.Debugf("[MSG_WORKER_POOL] Worker %d context cancelled, draining queue...", w.id)
			for job := range w.queue {
				w.execute(job)
			}
			return
		}
	}
}

func (w *worker) execute(job Job) {
	atomic.StoreInt32(&w.busy, 1)
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.pool.totalErrors, 1)
			logrus.Errorf("[MSG_WORKER_POOL] Worker %d panic for %s: %v", w.id, job.Key, r)
		}
		atomic.StoreInt32(&w.busy, 0)
		atomic.AddInt64(&w.pool.inFlight, -1)
		atomic.AddInt64(&w.jobsProcessed, 1)
		atomic.AddInt64(&w.pool.totalProcessed, 1)
	}()

	if err := job.Handler(w.ctx); err != nil {
		atomic.AddInt64(&w.pool.totalErrors, 1)
		logrus.WithError(err).Errorf("[MSG_WORKER_POOL] Worker %d job failed for %s", w.id, job.Key)
	}
}
