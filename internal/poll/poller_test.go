package poll

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// testLogger returns a logger that discards all output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSnap is a minimal Snapshot for exercising the loop.
type fakeSnap struct {
	status  string
	stage   int
	term    bool
	metrics map[string]float64
}

func (s fakeSnap) Stage() int     { return s.stage }
func (s fakeSnap) Terminal() bool { return s.term }

// scriptedFetch returns the given snapshots in order, then repeats the last
// one. It counts calls and records the job ID it was asked about.
type scriptedFetch struct {
	snaps []fakeSnap
	calls atomic.Int32

	mu     sync.Mutex
	jobIDs []string
}

func (f *scriptedFetch) fetch(_ context.Context, jobID string) (fakeSnap, error) {
	n := int(f.calls.Add(1)) - 1

	f.mu.Lock()
	f.jobIDs = append(f.jobIDs, jobID)
	f.mu.Unlock()

	if n >= len(f.snaps) {
		n = len(f.snaps) - 1
	}

	return f.snaps[n], nil
}

// failedSnap synthesizes a terminal failed snapshot from an error.
func failedSnap(err error) fakeSnap {
	return fakeSnap{status: "failed", stage: 10, term: true}
}

// recorder collects callback invocations for later assertion. Read the
// fields only after the poller's done channel has closed.
type recorder struct {
	mu        sync.Mutex
	updates   []fakeSnap
	terminals []fakeSnap
}

func (r *recorder) callbacks() Callbacks[fakeSnap] {
	return Callbacks[fakeSnap]{
		OnUpdate: func(s fakeSnap) {
			r.mu.Lock()
			r.updates = append(r.updates, s)
			r.mu.Unlock()
		},
		OnTerminal: func(s fakeSnap) {
			r.mu.Lock()
			r.terminals = append(r.terminals, s)
			r.mu.Unlock()
		},
	}
}

// waitDone waits for the loop to exit, failing the test on timeout.
func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("polling loop did not exit")
	}
}

func newTestPoller(interval time.Duration) *Poller[fakeSnap] {
	p := New[fakeSnap](interval, testLogger())
	p.sleepFunc = noopSleep

	return p
}

func TestPoller_ProgressionToCompleted(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetch{snaps: []fakeSnap{
		{status: "queued", stage: 0},
		{status: "optimizing", stage: 3},
		{status: "completed", stage: 10, term: true,
			metrics: map[string]float64{"expected_annual_return": 0.07}},
	}}

	rec := &recorder{}
	p := newTestPoller(time.Millisecond)

	waitDone(t, p.Start("job-1", fetcher.fetch, failedSnap, rec.callbacks()))

	require.Len(t, rec.updates, 3)
	assert.Equal(t, "queued", rec.updates[0].status)
	assert.Equal(t, "optimizing", rec.updates[1].status)
	assert.Equal(t, "completed", rec.updates[2].status)

	require.Len(t, rec.terminals, 1)
	assert.InDelta(t, 0.07, rec.terminals[0].metrics["expected_annual_return"], 1e-9)

	// The loop stops itself on terminal: no further fetches happen.
	assert.Equal(t, int32(3), fetcher.calls.Load())

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.Equal(t, []string{"job-1", "job-1", "job-1"}, fetcher.jobIDs)
}

func TestPoller_ImmediateTerminal(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetch{snaps: []fakeSnap{
		{status: "completed", stage: 10, term: true},
	}}

	rec := &recorder{}
	p := newTestPoller(time.Millisecond)

	waitDone(t, p.Start("job-1", fetcher.fetch, failedSnap, rec.callbacks()))

	assert.Len(t, rec.updates, 1)
	assert.Len(t, rec.terminals, 1)
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestPoller_FetchErrorSynthesizesFailure(t *testing.T) {
	t.Parallel()

	fetch := func(_ context.Context, _ string) (fakeSnap, error) {
		return fakeSnap{}, errors.New("connection refused")
	}

	rec := &recorder{}
	p := newTestPoller(time.Millisecond)

	waitDone(t, p.Start("job-1", fetch, failedSnap, rec.callbacks()))

	require.Len(t, rec.updates, 1)
	assert.Equal(t, "failed", rec.updates[0].status)
	require.Len(t, rec.terminals, 1)
	assert.True(t, rec.terminals[0].term)
}

func TestPoller_RegressionDiscarded(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetch{snaps: []fakeSnap{
		{status: "optimizing", stage: 3},
		{status: "queued", stage: 0}, // stale read, must not surface
		{status: "completed", stage: 10, term: true},
	}}

	rec := &recorder{}
	p := newTestPoller(time.Millisecond)

	waitDone(t, p.Start("job-1", fetcher.fetch, failedSnap, rec.callbacks()))

	require.Len(t, rec.updates, 2)
	assert.Equal(t, "optimizing", rec.updates[0].status)
	assert.Equal(t, "completed", rec.updates[1].status)
}

func TestPoller_StopIdempotent(t *testing.T) {
	t.Parallel()

	p := newTestPoller(time.Millisecond)

	// Stop before any Start is a no-op.
	p.Stop()
	p.Stop()

	fetcher := &scriptedFetch{snaps: []fakeSnap{
		{status: "completed", stage: 10, term: true},
	}}
	rec := &recorder{}

	waitDone(t, p.Start("job-1", fetcher.fetch, failedSnap, rec.callbacks()))

	// Stop after the loop already finished is also a no-op.
	p.Stop()
	p.Stop()

	assert.Len(t, rec.terminals, 1)
}

func TestPoller_StopCancelsSleep(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetch{snaps: []fakeSnap{
		{status: "queued", stage: 0},
	}}

	// Real sleep with a long interval: Stop must interrupt the wait.
	p := New[fakeSnap](time.Minute, testLogger())

	started := make(chan struct{})
	var once sync.Once
	fetch := func(ctx context.Context, jobID string) (fakeSnap, error) {
		once.Do(func() { close(started) })
		return fetcher.fetch(ctx, jobID)
	}

	done := p.Start("job-1", fetch, failedSnap, Callbacks[fakeSnap]{})

	<-started
	p.Stop()

	waitDone(t, done)
}

func TestPoller_StopWaitsForInFlightCallback(t *testing.T) {
	t.Parallel()

	// The second fetch parks until the test releases it, so nothing can be
	// delivered between the blocked callback and the Stop call.
	fetchGate := make(chan struct{})

	var fetchCalls atomic.Int32

	fetch := func(_ context.Context, _ string) (fakeSnap, error) {
		if fetchCalls.Add(1) > 1 {
			<-fetchGate
		}

		return fakeSnap{status: "queued", stage: 0}, nil
	}

	entered := make(chan struct{})
	release := make(chan struct{})

	var updates atomic.Int32

	cb := Callbacks[fakeSnap]{OnUpdate: func(_ fakeSnap) {
		if updates.Add(1) == 1 {
			close(entered)
			<-release
		}
	}}

	p := newTestPoller(time.Millisecond)
	done := p.Start("job-1", fetch, failedSnap, cb)

	<-entered

	stopped := make(chan struct{})

	go func() {
		p.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a callback was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the callback finished")
	}

	close(fetchGate)
	waitDone(t, done)

	assert.Equal(t, int32(1), updates.Load(), "no delivery after Stop returned")
}

func TestPoller_LateResponseAfterStopDiscarded(t *testing.T) {
	t.Parallel()

	inFetch := make(chan struct{})
	release := make(chan struct{})

	fetch := func(_ context.Context, _ string) (fakeSnap, error) {
		close(inFetch)
		<-release

		return fakeSnap{status: "completed", stage: 10, term: true}, nil
	}

	rec := &recorder{}
	p := newTestPoller(time.Millisecond)

	done := p.Start("job-1", fetch, failedSnap, rec.callbacks())

	// Stop while the fetch is in flight, then let the response land.
	<-inFetch
	p.Stop()
	close(release)

	waitDone(t, done)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.updates, "response arriving after Stop must be discarded")
	assert.Empty(t, rec.terminals)
}

func TestPoller_StartSupersedesPriorLoop(t *testing.T) {
	t.Parallel()

	inFetch := make(chan struct{})
	release := make(chan struct{})

	first := func(_ context.Context, _ string) (fakeSnap, error) {
		close(inFetch)
		<-release

		return fakeSnap{status: "completed", stage: 10, term: true}, nil
	}

	firstRec := &recorder{}
	p := newTestPoller(time.Millisecond)

	firstDone := p.Start("job-1", first, failedSnap, firstRec.callbacks())
	<-inFetch

	secondFetcher := &scriptedFetch{snaps: []fakeSnap{
		{status: "completed", stage: 10, term: true},
	}}
	secondRec := &recorder{}

	secondDone := p.Start("job-2", secondFetcher.fetch, failedSnap, secondRec.callbacks())
	close(release)

	waitDone(t, firstDone)
	waitDone(t, secondDone)

	firstRec.mu.Lock()
	assert.Empty(t, firstRec.updates, "superseded loop must not deliver")
	firstRec.mu.Unlock()

	assert.Len(t, secondRec.terminals, 1)
}

func TestPoller_IndependentPollers(t *testing.T) {
	t.Parallel()

	fetcherA := &scriptedFetch{snaps: []fakeSnap{
		{status: "queued", stage: 0},
		{status: "completed", stage: 10, term: true},
	}}
	fetcherB := &scriptedFetch{snaps: []fakeSnap{
		{status: "running", stage: 1},
		{status: "failed", stage: 10, term: true},
	}}

	recA := &recorder{}
	recB := &recorder{}

	pa := newTestPoller(time.Millisecond)
	pb := newTestPoller(time.Millisecond)

	doneA := pa.Start("A", fetcherA.fetch, failedSnap, recA.callbacks())
	doneB := pb.Start("B", fetcherB.fetch, failedSnap, recB.callbacks())

	waitDone(t, doneA)
	waitDone(t, doneB)

	require.Len(t, recA.terminals, 1)
	assert.Equal(t, "completed", recA.terminals[0].status)

	require.Len(t, recB.terminals, 1)
	assert.Equal(t, "failed", recB.terminals[0].status)

	fetcherA.mu.Lock()
	assert.Equal(t, []string{"A", "A"}, fetcherA.jobIDs)
	fetcherA.mu.Unlock()

	fetcherB.mu.Lock()
	assert.Equal(t, []string{"B", "B"}, fetcherB.jobIDs)
	fetcherB.mu.Unlock()
}

func TestPoller_SleepShortenedBySlowPoll(t *testing.T) {
	t.Parallel()

	const interval = 50 * time.Millisecond

	var (
		mu    sync.Mutex
		waits []time.Duration
	)

	fetcher := &scriptedFetch{snaps: []fakeSnap{
		{status: "queued", stage: 0},
		{status: "completed", stage: 10, term: true},
	}}

	p := New[fakeSnap](interval, testLogger())
	p.sleepFunc = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()

		return nil
	}

	waitDone(t, p.Start("job-1", fetcher.fetch, failedSnap, Callbacks[fakeSnap]{}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, waits, 1, "no sleep after the terminal poll")
	assert.LessOrEqual(t, waits[0], interval)
	assert.Positive(t, waits[0])
}

func TestNew_DefaultInterval(t *testing.T) {
	t.Parallel()

	p := New[fakeSnap](0, nil)
	assert.Equal(t, DefaultInterval, p.interval)

	p = New[fakeSnap](-time.Second, nil)
	assert.Equal(t, DefaultInterval, p.interval)
}
