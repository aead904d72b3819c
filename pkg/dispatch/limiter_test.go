package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonesco/vibe-checker/pkg/core"
)

func TestTenantLimiter_SerializesOneTenant(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	next := core.DispatcherFunc(func(ctx context.Context, _ string, _ core.JobKind, _ core.Message) (core.Delivery, error) {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return core.Delivery{}, nil
	})
	l := NewTenantLimiter(next, 0, 1)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Send(context.Background(), "U1", core.KindStandup, core.Message{TenantID: "acme"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestTenantLimiter_TenantsDoNotWaitOnEachOther(t *testing.T) {
	started := make(chan string, 2)
	release := make(chan struct{})
	next := core.DispatcherFunc(func(ctx context.Context, _ string, _ core.JobKind, msg core.Message) (core.Delivery, error) {
		started <- msg.TenantID
		<-release
		return core.Delivery{}, nil
	})
	l := NewTenantLimiter(next, 0, 1)

	var wg sync.WaitGroup
	for _, tenant := range []string{"acme", "globex"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Send(context.Background(), "U1", core.KindStandup, core.Message{TenantID: tenant})
		}()
	}

	seen := map[string]bool{}
	for range 2 {
		select {
		case tenant := <-started:
			seen[tenant] = true
		case <-time.After(2 * time.Second):
			t.Fatal("second tenant was blocked by the first")
		}
	}
	close(release)
	wg.Wait()
	assert.Len(t, seen, 2)
}

func TestTenantLimiter_RateLimits(t *testing.T) {
	rec := &recorder{}
	l := NewTenantLimiter(rec, 1, 1)

	_, err := l.Send(context.Background(), "U1", core.KindStandup, core.Message{TenantID: "acme"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Send(ctx, "U1", core.KindStandup, core.Message{TenantID: "acme"})
	require.Error(t, err)
	assert.True(t, core.IsTransient(err))

	_, err = l.Send(context.Background(), "U1", core.KindStandup, core.Message{TenantID: "globex"})
	require.NoError(t, err, "other tenants have their own bucket")
	assert.Len(t, rec.all(), 2)
}

func TestTenantLimiter_CancelledWhileWaitingForTurn(t *testing.T) {
	release := make(chan struct{})
	next := core.DispatcherFunc(func(ctx context.Context, _ string, _ core.JobKind, _ core.Message) (core.Delivery, error) {
		<-release
		return core.Delivery{}, nil
	})
	l := NewTenantLimiter(next, 0, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = l.Send(context.Background(), "U1", core.KindStandup, core.Message{TenantID: "acme"})
	}()

	// Wait until the first send holds the tenant's turn.
	require.Eventually(t, func() bool { return len(l.gate("acme").turn) == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Send(ctx, "U1", core.KindStandup, core.Message{TenantID: "acme"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}
