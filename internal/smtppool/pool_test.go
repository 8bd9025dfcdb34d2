package smtppool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	sent    int
	closed  bool
	healthy bool
}

func (f *fakeTransport) Send(ctx context.Context, msg Message) (string, error) {
	f.sent++
	return "msg-id", nil
}
func (f *fakeTransport) Healthy() bool     { return f.healthy }
func (f *fakeTransport) MessagesSent() int { return f.sent }
func (f *fakeTransport) Close() error      { f.closed = true; return nil }

func newFakeDialer(opened *[]*fakeTransport) Dialer {
	return func(ctx context.Context) (Transport, error) {
		t := &fakeTransport{healthy: true}
		*opened = append(*opened, t)
		return t, nil
	}
}

func TestAcquireReleaseReusesTransport(t *testing.T) {
	pool := New(Config{MaxPoolSize: 2, RateLimit: 1000})
	defer pool.Shutdown()

	var opened []*fakeTransport
	dial := newFakeDialer(&opened)

	lease1, err := pool.Acquire(context.Background(), 1, dial)
	require.NoError(t, err)
	pool.Release(lease1)

	lease2, err := pool.Acquire(context.Background(), 1, dial)
	require.NoError(t, err)
	pool.Release(lease2)

	require.Len(t, opened, 1, "second acquire should reuse the released transport")
	metrics := pool.Metrics()
	require.EqualValues(t, 1, metrics.HitCount)
	require.EqualValues(t, 1, metrics.MissCount)
}

func TestAcquireBlocksUntilContextDeadlineWhenExhausted(t *testing.T) {
	pool := New(Config{MaxPoolSize: 1, RateLimit: 1000})
	defer pool.Shutdown()

	var opened []*fakeTransport
	dial := newFakeDialer(&opened)

	lease, err := pool.Acquire(context.Background(), 1, dial)
	require.NoError(t, err)
	defer pool.Release(lease)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx, 1, dial)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireUnblocksOnRelease(t *testing.T) {
	pool := New(Config{MaxPoolSize: 1, RateLimit: 1000})
	defer pool.Shutdown()

	var opened []*fakeTransport
	dial := newFakeDialer(&opened)

	lease, err := pool.Acquire(context.Background(), 1, dial)
	require.NoError(t, err)

	done := make(chan struct{})
	var second *Lease
	var secondErr error
	go func() {
		second, secondErr = pool.Acquire(context.Background(), 1, dial)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("acquire should still be blocked while the pool is exhausted")
	default:
	}

	pool.Release(lease)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
	require.NoError(t, secondErr)
	require.Len(t, opened, 1, "the released transport should have been reused")
	pool.Release(second)
}

func TestReleaseClosesUnhealthyTransport(t *testing.T) {
	pool := New(Config{MaxPoolSize: 2, RateLimit: 1000})
	defer pool.Shutdown()

	var opened []*fakeTransport
	dial := newFakeDialer(&opened)

	lease, err := pool.Acquire(context.Background(), 1, dial)
	require.NoError(t, err)
	lease.Transport.(*fakeTransport).healthy = false
	pool.Release(lease)

	require.True(t, opened[0].closed)
}

func TestDifferentAccountsGetIndependentSubPools(t *testing.T) {
	pool := New(Config{MaxPoolSize: 1, RateLimit: 1000})
	defer pool.Shutdown()

	var opened []*fakeTransport
	dial := newFakeDialer(&opened)

	lease1, err := pool.Acquire(context.Background(), 1, dial)
	require.NoError(t, err)
	lease2, err := pool.Acquire(context.Background(), 2, dial)
	require.NoError(t, err)

	require.Len(t, opened, 2)
	pool.Release(lease1)
	pool.Release(lease2)
}
