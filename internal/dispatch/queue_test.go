package dispatch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/interactions-gateway/internal/discord"
)

func interaction(id string) discord.Interaction {
	return discord.Interaction{
		ID:            id,
		ApplicationID: "app",
		Type:          discord.InteractionTypeApplicationCommand,
		Token:         "tok-" + id,
		Data:          &discord.CommandData{Name: "ping"},
	}
}

func TestNew_Defaults(t *testing.T) {
	q, err := New(Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultCapacity, q.Cap())
	require.Equal(t, 0, q.Len())

	_, err = New(Options{Capacity: -1})
	require.Error(t, err)

	_, err = New(Options{Overflow: "drop-oldest"})
	require.Error(t, err)
}

func TestQueue_FIFO(t *testing.T) {
	q, err := New(Options{Capacity: 8})
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, interaction(strconv.Itoa(i))))
	}
	require.Equal(t, 5, q.Len())

	for i := 0; i < 5; i++ {
		in, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, strconv.Itoa(i), in.ID)
	}
}

func TestQueue_RejectWhenFull(t *testing.T) {
	q, err := New(Options{Capacity: 1, Overflow: OverflowReject})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, interaction("1")))
	require.ErrorIs(t, q.Enqueue(ctx, interaction("2")), ErrQueueFull)
}

func TestQueue_BlockUntilSpace(t *testing.T) {
	q, err := New(Options{Capacity: 1, Overflow: OverflowBlock, EnqueueTimeout: 5 * time.Second})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, interaction("1")))

	errCh := make(chan error, 1)
	go func() { errCh <- q.Enqueue(ctx, interaction("2")) }()

	time.Sleep(20 * time.Millisecond)
	in, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", in.ID)

	require.NoError(t, <-errCh)
	in, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "2", in.ID)
}

func TestQueue_BlockTimesOut(t *testing.T) {
	q, err := New(Options{Capacity: 1, Overflow: OverflowBlock, EnqueueTimeout: 20 * time.Millisecond})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, interaction("1")))
	require.ErrorIs(t, q.Enqueue(ctx, interaction("2")), ErrQueueFull)
}

func TestQueue_BlockedProducerWokenByClose(t *testing.T) {
	q, err := New(Options{Capacity: 1, Overflow: OverflowBlock})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, interaction("1")))

	errCh := make(chan error, 1)
	go func() { errCh <- q.Enqueue(ctx, interaction("2")) }()
	time.Sleep(20 * time.Millisecond)

	q.Close()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked producer was not released by Close")
	}
}

func TestQueue_CloseDrainsThenReportsClosed(t *testing.T) {
	q, err := New(Options{Capacity: 4})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, interaction("1")))
	require.NoError(t, q.Enqueue(ctx, interaction("2")))
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(ctx, interaction("3")), ErrQueueClosed)

	in, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", in.ID)
	in, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "2", in.ID)

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_DequeueHonorsContext(t *testing.T) {
	q, err := New(Options{Capacity: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueue_ExactlyOnceAcrossConsumers(t *testing.T) {
	const (
		producers   = 8
		perProducer = 250
		consumers   = 6
	)
	q, err := New(Options{Capacity: 64, Overflow: OverflowBlock})
	require.NoError(t, err)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		cwg  sync.WaitGroup
	)
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				in, err := q.Dequeue(ctx)
				if errors.Is(err, ErrQueueClosed) {
					return
				}
				mu.Lock()
				seen[in.ID]++
				mu.Unlock()
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				id := strconv.Itoa(p) + "-" + strconv.Itoa(i)
				if err := q.Enqueue(ctx, interaction(id)); err != nil {
					t.Errorf("Enqueue(%s) error = %v", id, err)
				}
			}
		}(p)
	}
	pwg.Wait()
	q.Close()
	cwg.Wait()

	require.Len(t, seen, producers*perProducer)
	for id, n := range seen {
		require.Equalf(t, 1, n, "interaction %s delivered %d times", id, n)
	}
}
