package progress

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAndDrain(t *testing.T) {
	ch := NewChannel(4)

	require.True(t, ch.Send(CountUpdate{Phase: PhaseInitial, Files: 1, Bytes: 10}))
	require.True(t, ch.Send(CopyProgress{TotalFiles: 3, Copied: 1}))

	events := ch.Drain()
	assert.Equal(t, []Event{
		CountUpdate{Phase: PhaseInitial, Files: 1, Bytes: 10},
		CopyProgress{TotalFiles: 3, Copied: 1},
	}, events)
	assert.Empty(t, ch.Drain())
}

func TestSendDropsWhenFull(t *testing.T) {
	const capacity = 100
	ch := NewChannel(capacity)

	start := time.Now()
	accepted := 0
	for i := range capacity * 50 {
		if ch.Send(CopyProgress{TotalFiles: capacity * 50, Copied: int64(i + 1)}) {
			accepted++
		}
	}
	elapsed := time.Since(start)

	assert.Equal(t, capacity, accepted)
	assert.Equal(t, uint64(capacity*49), ch.Dropped())
	assert.Less(t, elapsed, 2*time.Second, "flooding a full channel must not block the producer")

	events := ch.Drain()
	require.Len(t, events, capacity)
	// The queued events are the oldest ones; later sends were dropped.
	assert.Equal(t, CopyProgress{TotalFiles: capacity * 50, Copied: 1}, events[0])
}

func TestSendNeverBlocksWithoutConsumer(t *testing.T) {
	ch := NewChannel(1)
	ch.Send(StageChange{Stage: StageCopying})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 1000 {
			ch.Send(CopyProgress{TotalFiles: 1000, Copied: int64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Send blocked on a full channel")
	}
}

func TestConcurrentProducers(t *testing.T) {
	ch := NewChannel(DefaultCapacity)

	var wg sync.WaitGroup
	for p := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				ch.Send(CountUpdate{Phase: PhaseInitial, Files: int64(p*100 + i)})
			}
		}()
	}
	wg.Wait()

	got := len(ch.Drain())
	assert.Equal(t, DefaultCapacity, got)
	assert.Equal(t, uint64(800-DefaultCapacity), ch.Dropped())
}

func TestSendAfterClose(t *testing.T) {
	ch := NewChannel(2)
	ch.Send(StageChange{Stage: StageCounting})
	ch.Close()
	ch.Close()

	assert.False(t, ch.Send(StageChange{Stage: StageCopying}))
	assert.Equal(t, []Event{StageChange{Stage: StageCounting}}, ch.Drain())
	assert.Empty(t, ch.Drain())
}

func TestNewChannelDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, NewChannel(0).Cap())
	assert.Equal(t, 7, NewChannel(7).Cap())
}

func TestCopyProgressFraction(t *testing.T) {
	tests := []struct {
		name string
		ev   CopyProgress
		want float64
	}{
		{name: "no files", ev: CopyProgress{}, want: 0},
		{name: "half", ev: CopyProgress{TotalFiles: 40, Copied: 20}, want: 0.5},
		{name: "complete", ev: CopyProgress{TotalFiles: 3, Copied: 3}, want: 1},
		{name: "clamped", ev: CopyProgress{TotalFiles: 3, Copied: 5}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.ev.Fraction(), 1e-9)
		})
	}
}
