// Package hasher runs hashing jobs on a bounded pool of background workers.
// Each accepted job gets a Run whose blocks are delivered over a channel.
package hasher

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lockss-go/internal/lockss"
)

// DefaultSpeed is the assumed hashing speed, in bytes per second, until a
// run has been measured.
const DefaultSpeed = 32 * 1024 * 1024

// minEstimate bounds Estimate from below so tiny AUs still get a usable budget.
const minEstimate = time.Second

// Block is the result of hashing one URL's snapshotted current version.
type Block struct {
	URL           string
	Version       *lockss.Version // snapshot whose content was hashed
	Digests       []string        // lowercase hex, one per job algorithm
	FilteredBytes int64
	Err           error
}

// Job produces blocks. Hash must read content through t and report every
// block via emit. Returning ctx.Err() ends the run early on shutdown.
type Job interface {
	Hash(ctx context.Context, t *Throttle, emit func(Block)) error
}

// Result summarizes a finished run.
type Result struct {
	Blocks   int
	Bytes    int64
	Err      error
	Started  time.Time
	Finished time.Time
	Overrun  bool // finished after the deadline
}

// Run is an accepted job. Callers must drain Blocks; the worker waits for
// each block to be received.
type Run struct {
	Deadline time.Time

	job    Job
	blocks chan Block
	done   chan struct{}
	result Result
}

// Blocks delivers each block as it is hashed and is closed when the run ends.
func (r *Run) Blocks() <-chan Block { return r.blocks }

// Done is closed once the run has finished and Result is valid.
func (r *Run) Done() <-chan struct{} { return r.done }

// Result returns the run summary. Only valid after Done is closed.
func (r *Run) Result() Result { return r.result }

// Options size a Scheduler.
type Options struct {
	Workers        int
	QueueSize      int
	BytesPerSecond int64 // 0 means unlimited
	StepSize       int
	Clock          lockss.Clock
	Logger         lockss.Logger
}

// Scheduler accepts jobs into a bounded queue and hashes them on worker
// goroutines. Deadlines are budgets: an overrunning run completes and is
// only logged.
type Scheduler struct {
	queue    chan *Run
	workers  int
	throttle *Throttle
	clock    lockss.Clock
	logger   lockss.Logger

	mu      sync.RWMutex
	stopped bool
	speed   float64 // measured bytes per second, 0 until measured

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler. Start must be called before runs progress.
func NewScheduler(opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.StepSize <= 0 {
		opts.StepSize = 64 * 1024
	}
	if opts.Clock == nil {
		opts.Clock = lockss.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = lockss.NewNopLogger()
	}

	s := &Scheduler{
		queue:    make(chan *Run, opts.QueueSize),
		workers:  opts.Workers,
		throttle: newThrottle(opts.BytesPerSecond, opts.StepSize),
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if opts.BytesPerSecond > 0 {
		s.speed = float64(opts.BytesPerSecond)
	}
	return s
}

// Start launches the workers. Runs stop early when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.logger.Debug("hash scheduler started", "workers", s.workers, "queue", cap(s.queue))
}

// Stop refuses new jobs, finishes queued ones and waits for the workers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	if s.cancel != nil {
		s.cancel()
	}
}

// Schedule queues job without blocking. It returns false when the queue
// is full or the scheduler is stopped.
func (s *Scheduler) Schedule(job Job, deadline time.Time) (*Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return nil, false
	}

	run := &Run{
		Deadline: deadline,
		job:      job,
		blocks:   make(chan Block),
		done:     make(chan struct{}),
	}
	select {
	case s.queue <- run:
		return run, true
	default:
		return nil, false
	}
}

// Estimate returns the expected time to hash n bytes.
func (s *Scheduler) Estimate(n int64) time.Duration {
	s.mu.RLock()
	speed := s.speed
	s.mu.RUnlock()
	if speed <= 0 {
		speed = DefaultSpeed
	}

	d := time.Duration(float64(n) / speed * float64(time.Second))
	if d < minEstimate {
		return minEstimate
	}
	return d
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for run := range s.queue {
		s.execute(run)
	}
}

func (s *Scheduler) execute(run *Run) {
	res := Result{Started: s.clock.Now()}

	emit := func(b Block) {
		select {
		case run.blocks <- b:
			res.Blocks++
			res.Bytes += b.FilteredBytes
		case <-s.ctx.Done():
		}
	}
	res.Err = run.job.Hash(s.ctx, s.throttle, emit)
	res.Finished = s.clock.Now()
	res.Overrun = res.Finished.After(run.Deadline)

	close(run.blocks)
	run.result = res
	close(run.done)

	if res.Overrun {
		s.logger.Warn("hash run exceeded its deadline",
			"deadline", run.Deadline, "finished", res.Finished, "bytes", res.Bytes)
	}
	s.observe(res)
}

// observe folds a finished run into the measured hashing speed.
func (s *Scheduler) observe(res Result) {
	elapsed := res.Finished.Sub(res.Started).Seconds()
	if res.Err != nil || res.Bytes == 0 || elapsed <= 0 {
		return
	}
	sample := float64(res.Bytes) / elapsed

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speed == 0 {
		s.speed = sample
	} else {
		s.speed = 0.8*s.speed + 0.2*sample
	}
}

// Throttle paces content reads to the scheduler's byte rate.
type Throttle struct {
	limiter *rate.Limiter // nil when unlimited
	step    int
}

func newThrottle(bytesPerSecond int64, step int) *Throttle {
	t := &Throttle{step: step}
	if bytesPerSecond > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), step)
	}
	return t
}

// StepSize is the largest read the throttle hands to a job at once.
func (t *Throttle) StepSize() int { return t.step }

// Reader wraps r so each read is at most one step and waits for rate budget.
func (t *Throttle) Reader(ctx context.Context, r io.Reader) io.Reader {
	return &throttledReader{ctx: ctx, r: r, t: t}
}

type throttledReader struct {
	ctx context.Context
	r   io.Reader
	t   *Throttle
}

func (tr *throttledReader) Read(p []byte) (int, error) {
	if err := tr.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > tr.t.step {
		p = p[:tr.t.step]
	}
	n, err := tr.r.Read(p)
	if n > 0 && tr.t.limiter != nil {
		if werr := tr.t.limiter.WaitN(tr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
