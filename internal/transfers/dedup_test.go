package transfers

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDedupCollapsesConcurrentCalls(t *testing.T) {
	var group DedupGroup
	var executions atomic.Int64
	release := make(chan struct{})

	const callers = 8
	results := make([]interface{}, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value, err, _ := group.Do(context.Background(), "list:key", func(ctx context.Context) (interface{}, error) {
				executions.Add(1)
				<-release
				return "payload", nil
			})
			require.NoError(t, err)
			results[i] = value
		}(i)
	}

	// Give every caller time to join the in-flight execution.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int64(1), executions.Load())
	for _, value := range results {
		require.Equal(t, "payload", value)
	}
}

func TestDedupDistinctKeysRunIndependently(t *testing.T) {
	var group DedupGroup
	var executions atomic.Int64

	_, err, _ := group.Do(context.Background(), "key-a", func(ctx context.Context) (interface{}, error) {
		executions.Add(1)
		return nil, nil
	})
	require.NoError(t, err)
	_, err, _ = group.Do(context.Background(), "key-b", func(ctx context.Context) (interface{}, error) {
		executions.Add(1)
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), executions.Load())
}

func TestDedupHonoursContextCancellation(t *testing.T) {
	var group DedupGroup
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err, _ := group.Do(ctx, "slow", func(ctx context.Context) (interface{}, error) {
			<-time.After(5 * time.Second)
			return nil, nil
		})
		require.ErrorIs(t, err, context.Canceled)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("caller did not unblock on cancellation")
	}
}
