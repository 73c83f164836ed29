// Package poll implements the generic job-polling state machine shared by
// every long-running backend feature (optimizer, backtests, agent runs).
// A Poller turns a repeatable "get status" call into a cancellable stream
// of monotonically advancing status snapshots, with exactly one polling
// loop live per Poller and deterministic cleanup on every exit path.
package poll

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// DefaultInterval is the poll cadence used when none is configured.
const DefaultInterval = 2 * time.Second

// Snapshot is a job status snapshot. Stage orders snapshots so a racing
// poll response can never move the observed status backwards; Terminal
// reports whether the loop should stop after delivering the snapshot.
type Snapshot interface {
	Stage() int
	Terminal() bool
}

// Callbacks receive status updates from the polling loop. OnUpdate fires
// for every applied snapshot, in arrival order; OnTerminal fires once,
// after the final OnUpdate, with the terminal snapshot. Either may be nil.
//
// Callbacks are invoked from the polling goroutine. They must not call
// Stop or Start on the same Poller; the loop stops itself on terminal
// snapshots, so callbacks never need to.
type Callbacks[T Snapshot] struct {
	OnUpdate   func(T)
	OnTerminal func(T)
}

// FetchFunc retrieves the current status snapshot for a job.
type FetchFunc[T Snapshot] func(ctx context.Context, jobID string) (T, error)

// FailFunc synthesizes a terminal failed snapshot from a fetch error, so
// the loop always ends in an observable terminal state instead of retrying
// a broken call forever.
type FailFunc[T Snapshot] func(err error) T

// Poller runs at most one polling loop at a time. Starting a loop for a
// new job stops the previous one first; Stop is idempotent and safe to
// call at any point, including before the first Start.
type Poller[T Snapshot] struct {
	interval time.Duration
	logger   *slog.Logger

	// sleepFunc waits between polls. Defaults to timeSleep; tests override
	// it to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	// mu guards gen and cancel. gen identifies the live loop: bumping it
	// invalidates every in-flight response of older loops, which is what
	// makes cancellation safe against late-arriving network responses.
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// New creates a Poller with the given interval. A non-positive interval
// selects DefaultInterval.
func New[T Snapshot](interval time.Duration, logger *slog.Logger) *Poller[T] {
	if interval <= 0 {
		interval = DefaultInterval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Poller[T]{
		interval:  interval,
		logger:    logger,
		sleepFunc: timeSleep,
	}
}

// Start begins polling the given job: one immediate fetch, then one per
// interval, measured from the start of each poll. Polls never overlap — a
// fetch that outlasts the interval simply delays the next one. Any loop
// already running is stopped first.
//
// The returned channel is closed when the loop exits, whether by terminal
// snapshot, fetch failure, or Stop.
func (p *Poller[T]) Start(
	jobID string, fetch FetchFunc[T], fail FailFunc[T], cb Callbacks[T],
) <-chan struct{} {
	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.stopLocked()
	p.cancel = cancel
	gen := p.gen
	p.mu.Unlock()

	p.logger.Debug("polling started",
		slog.String("job_id", jobID),
		slog.Duration("interval", p.interval),
	)

	done := make(chan struct{})

	go p.loop(ctx, gen, jobID, fetch, fail, cb, done)

	return done
}

// Stop terminates the active polling loop, if any. Idempotent: calling it
// twice, or before Start, is a no-op. After Stop returns, no response that
// is subsequently processed — including one already dispatched over the
// network — will reach the callbacks.
func (p *Poller[T]) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
}

// stopLocked cancels the live loop and bumps the generation so in-flight
// responses of the old loop are discarded. Caller holds mu.
func (p *Poller[T]) stopLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	p.gen++
}

// loop is the polling goroutine for one job.
func (p *Poller[T]) loop(
	ctx context.Context, gen uint64, jobID string,
	fetch FetchFunc[T], fail FailFunc[T], cb Callbacks[T], done chan<- struct{},
) {
	defer close(done)

	lastStage := math.MinInt

	for {
		start := time.Now()

		snap, err := fetch(ctx, jobID)

		// A response that lands after cancellation is discarded, not
		// applied: a stale "completed" must not revive a torn-down owner.
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			p.logger.Warn("poll failed, terminating loop",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)

			term := fail(err)
			if p.deliver(gen, term, cb.OnUpdate) {
				p.deliver(gen, term, cb.OnTerminal)
			}

			p.finish(gen)

			return
		}

		switch {
		case snap.Stage() < lastStage:
			// Stale read racing a faster transition — never regress.
			p.logger.Debug("discarding stale status",
				slog.String("job_id", jobID),
				slog.Int("stage", snap.Stage()),
				slog.Int("last_stage", lastStage),
			)

		default:
			lastStage = snap.Stage()

			if !p.deliver(gen, snap, cb.OnUpdate) {
				return
			}

			if snap.Terminal() {
				p.deliver(gen, snap, cb.OnTerminal)
				p.finish(gen)

				p.logger.Debug("polling reached terminal status",
					slog.String("job_id", jobID),
				)

				return
			}
		}

		// Interval counts from poll start: a slow poll shortens the wait,
		// and one outlasting the interval skips straight to the next.
		if wait := p.interval - time.Since(start); wait > 0 {
			if sleepErr := p.sleepFunc(ctx, wait); sleepErr != nil {
				return
			}
		}
	}
}

// deliver invokes the callback with the snapshot if this loop is still the
// live generation. Returns false when the loop has been superseded. The
// lock is held across the callback so a concurrent Stop cannot return while
// a delivery is still in flight; this is why callbacks must never call
// Stop or Start themselves.
func (p *Poller[T]) deliver(gen uint64, snap T, fn func(T)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gen != gen {
		return false
	}

	if fn != nil {
		fn(snap)
	}

	return true
}

// finish releases the loop's cancel func without bumping the generation,
// keeping a later Stop an idempotent no-op.
func (p *Poller[T]) finish(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gen == gen && p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
