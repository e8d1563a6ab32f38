package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandalabs/go-panda/internal/config"
	"github.com/pandalabs/go-panda/pkg/bus"
	"github.com/pandalabs/go-panda/pkg/gateway"
	"github.com/pandalabs/go-panda/pkg/pipeline"
	"github.com/pandalabs/go-panda/pkg/protocol"
	"github.com/pandalabs/go-panda/pkg/registry"
	"github.com/pandalabs/go-panda/pkg/router"
)

// runRecord captures one Run invocation.
type runRecord struct {
	sessionID  string
	generation uint64
	ctx        context.Context
}

// fakeRunner records runs and optionally blocks until its context dies
// or release is closed.
type fakeRunner struct {
	mu      sync.Mutex
	runs    []runRecord
	started chan struct{}
	release chan struct{}
}

func newFakeRunner(buffered int) *fakeRunner {
	return &fakeRunner{
		started: make(chan struct{}, buffered),
		release: make(chan struct{}),
	}
}

func (f *fakeRunner) Run(ctx context.Context, sessionID string, generation uint64, utt pipeline.Utterance) {
	f.mu.Lock()
	f.runs = append(f.runs, runRecord{sessionID: sessionID, generation: generation, ctx: ctx})
	f.mu.Unlock()
	f.started <- struct{}{}

	select {
	case <-ctx.Done():
	case <-f.release:
	}
}

func (f *fakeRunner) recorded() []runRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]runRecord, len(f.runs))
	copy(out, f.runs)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestSubmitStartsGeneration(t *testing.T) {
	runner := newFakeRunner(4)
	o := New(runner, bus.New(8), 4, 0)
	defer o.Stop()

	gen, err := o.Submit("s1", pipeline.Utterance{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), gen)

	<-runner.started
	st, ok := o.Session("s1")
	require.True(t, ok)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, uint64(1), st.Generation)
}

func TestSubmitEmptyUtterance(t *testing.T) {
	o := New(newFakeRunner(1), bus.New(8), 4, 0)
	defer o.Stop()

	_, err := o.Submit("s1", pipeline.Utterance{})
	assert.ErrorIs(t, err, ErrEmptyUtterance)
}

func TestCompletedGenerationReleasesContext(t *testing.T) {
	runner := newFakeRunner(4)
	o := New(runner, bus.New(8), 4, 0)
	defer o.Stop()

	_, err := o.Submit("s1", pipeline.Utterance{Text: "hello"})
	require.NoError(t, err)
	<-runner.started
	close(runner.release)

	// A generation that finishes normally must not leave its context
	// registered on the orchestrator's base context.
	waitFor(t, func() bool {
		st, ok := o.Session("s1")
		return ok && st.State == StateIdle
	})
	waitFor(t, func() bool {
		return runner.recorded()[0].ctx.Err() != nil
	})
}

func TestReapCancelsExpiredSession(t *testing.T) {
	runner := newFakeRunner(4)
	o := New(runner, bus.New(8), 4, time.Minute)
	defer o.Stop()

	_, err := o.Submit("s1", pipeline.Utterance{Text: "hello"})
	require.NoError(t, err)
	<-runner.started
	close(runner.release)
	waitFor(t, func() bool {
		st, ok := o.Session("s1")
		return ok && st.State == StateIdle
	})

	// Drive one reap sweep directly instead of waiting out the ticker.
	o.mu.Lock()
	o.sessions["s1"].lastActivity = time.Now().Add(-2 * time.Minute)
	o.mu.Unlock()
	o.reapOnce(time.Now())

	_, ok := o.Session("s1")
	assert.False(t, ok)
	assert.Error(t, runner.recorded()[0].ctx.Err())
}

func TestResubmitPreemptsPreviousGeneration(t *testing.T) {
	runner := newFakeRunner(4)
	o := New(runner, bus.New(8), 4, 0)
	defer o.Stop()

	gen1, err := o.Submit("s1", pipeline.Utterance{Text: "first"})
	require.NoError(t, err)
	<-runner.started

	gen2, err := o.Submit("s1", pipeline.Utterance{Text: "second"})
	require.NoError(t, err)
	<-runner.started

	assert.Equal(t, gen1+1, gen2)

	runs := runner.recorded()
	require.Len(t, runs, 2)
	// The first generation's token must be dead the moment the second
	// is submitted.
	assert.Error(t, runs[0].ctx.Err(), "previous generation token must be invalidated")
	assert.NoError(t, runs[1].ctx.Err())
}

func TestSessionReturnsToIdle(t *testing.T) {
	runner := newFakeRunner(4)
	o := New(runner, bus.New(8), 4, 0)
	defer o.Stop()

	_, err := o.Submit("s1", pipeline.Utterance{Text: "hello"})
	require.NoError(t, err)
	<-runner.started

	close(runner.release)
	waitFor(t, func() bool {
		st, _ := o.Session("s1")
		return st.State == StateIdle
	})
}

func TestCancel(t *testing.T) {
	runner := newFakeRunner(4)
	o := New(runner, bus.New(8), 4, 0)
	defer o.Stop()

	assert.False(t, o.Cancel("unknown"))

	_, err := o.Submit("s1", pipeline.Utterance{Text: "hello"})
	require.NoError(t, err)
	<-runner.started

	assert.True(t, o.Cancel("s1"))
	runs := runner.recorded()
	assert.Error(t, runs[0].ctx.Err())

	waitFor(t, func() bool {
		st, _ := o.Session("s1")
		return st.State == StateIdle
	})
	assert.False(t, o.Cancel("s1"), "cancel on an idle session is a no-op")
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	var active, maxActive int32
	block := make(chan struct{})
	runner := &countingRunner{active: &active, maxActive: &maxActive, block: block}

	o := New(runner, bus.New(8), 2, 0)
	defer o.Stop()

	for i := 0; i < 6; i++ {
		_, err := o.Submit(string(rune('a'+i)), pipeline.Utterance{Text: "go"})
		require.NoError(t, err)
	}

	time.Sleep(50 * time.Millisecond)
	close(block)

	waitFor(t, func() bool { return atomic.LoadInt32(&active) == 0 })
	assert.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(2))
}

// countingRunner tracks concurrent Run invocations.
type countingRunner struct {
	active    *int32
	maxActive *int32
	block     chan struct{}
}

func (r *countingRunner) Run(ctx context.Context, sessionID string, generation uint64, utt pipeline.Utterance) {
	n := atomic.AddInt32(r.active, 1)
	for {
		old := atomic.LoadInt32(r.maxActive)
		if n <= old || atomic.CompareAndSwapInt32(r.maxActive, old, n) {
			break
		}
	}
	<-r.block
	atomic.AddInt32(r.active, -1)
}

func TestStopRejectsSubmissions(t *testing.T) {
	o := New(newFakeRunner(1), bus.New(8), 4, 0)
	o.Stop()

	_, err := o.Submit("s1", pipeline.Utterance{Text: "hello"})
	assert.ErrorIs(t, err, ErrStopped)
}

// TestPreemptionEndToEnd drives the real pipeline through the real bus:
// two rapid submissions to one session must leave observers with only
// the second generation's terminal chunk, and no first-generation chunk
// after the second generation starts.
func TestPreemptionEndToEnd(t *testing.T) {
	b := bus.New(64)
	obs := b.Subscribe("s1")

	firstStarted := make(chan struct{})
	var generations atomic.Uint64
	gen := &pipeline.MockGenerator{GenerateFunc: func(ctx context.Context, prompt string, snippets []pipeline.Snippet) (pipeline.TokenStream, error) {
		if generations.Add(1) == 1 {
			close(firstStarted)
			<-ctx.Done() // first generation hangs until preempted
			return nil, ctx.Err()
		}
		return &staticStream{text: "second answer"}, nil
	}}

	exec := pipeline.New(pipeline.Deps{
		Publisher: b,
		Gateway:   gateway.New(gateway.DefaultOptions()),
		Registry: registry.New(func(ctx context.Context, kind registry.Kind) (any, error) {
			return &pipeline.MockSynthesizer{}, nil
		}, "cpu"),
		Router:    router.New(nil),
		Generator: gen,
		Timeouts: config.StageTimeouts{
			Transcribe: time.Second, Retrieve: time.Second,
			Generate: 2 * time.Second, Synthesize: time.Second,
		},
	})

	o := New(exec, b, 4, 0)
	defer o.Stop()

	gen1, err := o.Submit("s1", pipeline.Utterance{Text: "first question"})
	require.NoError(t, err)
	<-firstStarted

	gen2, err := o.Submit("s1", pipeline.Utterance{Text: "second question"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var sawGen2 bool
	for {
		chunk, err := obs.Next(ctx)
		require.NoError(t, err)

		if chunk.Generation == gen2 {
			sawGen2 = true
		}
		if sawGen2 {
			assert.NotEqual(t, gen1, chunk.Generation,
				"no stale generation chunk may follow the new generation")
		}
		if chunk.Terminal && chunk.Generation == gen2 {
			var status protocol.StatusPayload
			require.NoError(t, chunk.ParsePayload(&status))
			assert.Equal(t, protocol.StatusDone, status.Status)
			return
		}
	}
}

// staticStream yields one batch then ends.
type staticStream struct {
	text string
	sent bool
}

func (s *staticStream) Recv() (*pipeline.TokenBatch, error) {
	if s.sent {
		return &pipeline.TokenBatch{Done: true}, nil
	}
	s.sent = true
	return &pipeline.TokenBatch{Text: s.text}, nil
}

func (s *staticStream) Close() error { return nil }
