package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandalabs/go-panda/pkg/protocol"
)

func chunk(t *testing.T, session string, gen, seq uint64, stage protocol.Stage, terminal bool) protocol.StreamChunk {
	t.Helper()
	c, err := protocol.NewChunk(session, gen, seq, stage, nil, terminal)
	require.NoError(t, err)
	return c
}

func TestPublishReachesAllObservers(t *testing.T) {
	b := New(8)
	obs1 := b.Subscribe("s1")
	obs2 := b.Subscribe("s1")
	other := b.Subscribe("s2")

	b.Publish(chunk(t, "s1", 1, 0, protocol.StageText, false))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for _, obs := range []*Observer{obs1, obs2} {
		got, err := obs.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), got.Sequence)
	}

	// The s2 observer must not see s1 traffic.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	_, err := other.Next(shortCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOrderingPreserved(t *testing.T) {
	b := New(16)
	obs := b.Subscribe("s1")

	for seq := uint64(0); seq < 10; seq++ {
		b.Publish(chunk(t, "s1", 1, seq, protocol.StageText, seq == 9))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for want := uint64(0); want < 10; want++ {
		got, err := obs.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got.Sequence)
	}
}

func TestStaleGenerationDropped(t *testing.T) {
	b := New(16)
	obs := b.Subscribe("s1")

	b.Publish(chunk(t, "s1", 2, 0, protocol.StageText, false))
	// A straggler from generation 1 arrives after generation 2 started.
	b.Publish(chunk(t, "s1", 1, 5, protocol.StageText, false))
	b.Publish(chunk(t, "s1", 2, 1, protocol.StageStatus, true))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := obs.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), first.Generation)
	assert.Equal(t, uint64(0), first.Sequence)

	second, err := obs.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Generation)
	assert.Equal(t, uint64(1), second.Sequence)
	assert.True(t, second.Terminal)
}

func TestConcurrentPreemptionNeverReordersGenerations(t *testing.T) {
	const (
		rounds    = 500
		observers = 8
	)

	for round := 0; round < rounds; round++ {
		b := New(16)
		var obs []*Observer
		for i := 0; i < observers; i++ {
			obs = append(obs, b.Subscribe("s1"))
		}

		// A preempted generation keeps publishing until it notices its
		// dead context, racing the successor's first chunks.
		start := make(chan struct{})
		var wg sync.WaitGroup
		for gen := uint64(1); gen <= 2; gen++ {
			wg.Add(1)
			go func(gen uint64) {
				defer wg.Done()
				<-start
				for seq := uint64(0); seq < 4; seq++ {
					b.Publish(chunk(t, "s1", gen, seq, protocol.StageText, false))
				}
			}(gen)
		}
		close(start)
		wg.Wait()

		for i, o := range obs {
			sawNewer := false
			o.mu.Lock()
			queued := append([]protocol.StreamChunk(nil), o.queue...)
			o.mu.Unlock()
			for _, c := range queued {
				if c.Generation == 2 {
					sawNewer = true
				}
				if sawNewer && c.Generation == 1 {
					t.Fatalf("round %d observer %d: generation-1 chunk queued after generation 2", round, i)
				}
			}
		}
	}
}

func TestBackpressureDropsOldestNonTerminal(t *testing.T) {
	b := New(2)
	obs := b.Subscribe("s1")

	b.Publish(chunk(t, "s1", 1, 0, protocol.StageText, false))
	b.Publish(chunk(t, "s1", 1, 1, protocol.StageText, false))
	// Queue is full; seq 0 must be shed to admit seq 2.
	b.Publish(chunk(t, "s1", 1, 2, protocol.StageText, false))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := obs.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Sequence)

	got, err = obs.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Sequence)

	assert.Equal(t, uint64(1), obs.Dropped())
}

func TestTerminalChunkNeverDropped(t *testing.T) {
	b := New(2)
	obs := b.Subscribe("s1")

	b.Publish(chunk(t, "s1", 1, 0, protocol.StageText, false))
	b.Publish(chunk(t, "s1", 1, 1, protocol.StageText, false))
	b.Publish(chunk(t, "s1", 1, 2, protocol.StageStatus, true))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var sawTerminal bool
	for i := 0; i < 2; i++ {
		got, err := obs.Next(ctx)
		require.NoError(t, err)
		if got.Terminal {
			sawTerminal = true
		}
	}
	assert.True(t, sawTerminal, "terminal chunk must survive backpressure")
}

func TestUnsubscribeClosesObserver(t *testing.T) {
	b := New(8)
	obs := b.Subscribe("s1")
	b.Unsubscribe(obs)

	_, err := obs.Next(context.Background())
	assert.ErrorIs(t, err, ErrObserverClosed)
	assert.Equal(t, 0, b.ObserverCount("s1"))
}

func TestForgetClosesObservers(t *testing.T) {
	b := New(8)
	obs := b.Subscribe("s1")
	b.Forget("s1")

	_, err := obs.Next(context.Background())
	assert.ErrorIs(t, err, ErrObserverClosed)
}

func TestNextWakesOnPublish(t *testing.T) {
	b := New(8)
	obs := b.Subscribe("s1")

	done := make(chan protocol.StreamChunk, 1)
	go func() {
		got, err := obs.Next(context.Background())
		if err == nil {
			done <- got
		}
	}()

	time.Sleep(20 * time.Millisecond)
	b.Publish(chunk(t, "s1", 1, 0, protocol.StageStatus, true))

	select {
	case got := <-done:
		assert.True(t, got.Terminal)
	case <-time.After(time.Second):
		t.Fatal("observer never woke")
	}
}
