// Package smtppool manages a keyed pool of SMTP/SES transports, one
// sub-pool per SmtpAccount, with idle reaping, a concurrency ceiling and
// a per-account rate limiter.
package smtppool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrPoolClosed = errors.New("smtppool: pool is closed")

// Config tunes every sub-pool.
type Config struct {
	MaxPoolSize    int
	IdleTimeout    time.Duration
	MaxConnections int
	MaxMessages    int
	RateLimit      float64
}

// Dialer opens a fresh Transport for an account. Supplied by the caller
// so the pool does not need to know about SmtpAccount/cryptobox directly.
type Dialer func(ctx context.Context) (Transport, error)

// Metrics summarizes pool activity across all accounts.
type Metrics struct {
	TotalOpened int64
	TotalClosed int64
	CurrentLive int64
	Active      int64
	HitCount    int64
	MissCount   int64
}

func (m Metrics) HitRate() float64 {
	total := m.HitCount + m.MissCount
	if total == 0 {
		return 0
	}
	return float64(m.HitCount) / float64(total)
}

type pooledTransport struct {
	transport Transport
	lastUsed  time.Time
}

type subPool struct {
	mu      sync.Mutex
	idle    []*pooledTransport
	numOpen int
	active  int
	limiter *rate.Limiter
	cfg     Config
	// waitCh is closed and replaced every time a slot might have freed up
	// (a release, a dial failure rollback, a reap), waking any Acquire
	// call parked in the wait loop below so it can re-check state.
	waitCh chan struct{}
}

// notifyWaiters wakes everyone parked on sp.waitCh. Called with sp.mu
// held; safe since waiters only ever select on the channel, never read
// through it while holding the lock themselves.
func (sp *subPool) notifyWaiters() {
	old := sp.waitCh
	sp.waitCh = make(chan struct{})
	close(old)
}

// Pool is the process-wide singleton keyed by SmtpAccount id.
type Pool struct {
	mu      sync.Mutex
	subs    map[int64]*subPool
	cfg     Config
	closed  bool
	metrics Metrics
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New constructs a Pool and starts its idle-reaping sweep.
func New(cfg Config) *Pool {
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 5
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = cfg.MaxPoolSize
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 100
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 5
	}
	p := &Pool{
		subs:   make(map[int64]*subPool),
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
	p.wg.Add(1)
	go p.reapLoop()
	return p
}

func (p *Pool) subPoolFor(accountID int64) *subPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.subs[accountID]
	if !ok {
		sp = &subPool{
			cfg:     p.cfg,
			limiter: rate.NewLimiter(rate.Limit(p.cfg.RateLimit), 1),
			waitCh:  make(chan struct{}),
		}
		p.subs[accountID] = sp
	}
	return sp
}

// Lease wraps a checked-out Transport; Release must be called exactly
// once, typically from a defer set up immediately after Acquire returns.
type Lease struct {
	AccountID int64
	Transport Transport
	pool      *Pool
}

// Acquire waits (bounded by ctx) for a transport for the given account,
// opening a new one via dial if the sub-pool is under MaxPoolSize. If
// every slot is checked out, it blocks until a Release frees one or ctx
// is done, rather than failing fast.
func (p *Pool) Acquire(ctx context.Context, accountID int64, dial Dialer) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	sp := p.subPoolFor(accountID)

	if err := sp.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	for {
		sp.mu.Lock()
		for len(sp.idle) > 0 {
			pt := sp.idle[len(sp.idle)-1]
			sp.idle = sp.idle[:len(sp.idle)-1]
			if time.Since(pt.lastUsed) > p.cfg.IdleTimeout || !pt.transport.Healthy() || pt.transport.MessagesSent() >= p.cfg.MaxMessages {
				sp.numOpen--
				_ = pt.transport.Close()
				p.bumpClosed()
				continue
			}
			sp.active++
			sp.mu.Unlock()
			p.bumpHit()
			return &Lease{AccountID: accountID, Transport: pt.transport, pool: p}, nil
		}

		if sp.numOpen < p.cfg.MaxPoolSize {
			sp.numOpen++
			sp.active++
			sp.mu.Unlock()

			t, err := dial(ctx)
			if err != nil {
				sp.mu.Lock()
				sp.numOpen--
				sp.active--
				sp.notifyWaiters()
				sp.mu.Unlock()
				return nil, err
			}
			p.bumpMiss()
			p.bumpOpened()
			return &Lease{AccountID: accountID, Transport: t, pool: p}, nil
		}

		waitCh := sp.waitCh
		sp.mu.Unlock()

		select {
		case <-waitCh:
			// a release or reap may have freed a slot; loop and recheck.
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire wait: %w", ctx.Err())
		}
	}
}

// Release returns the lease's transport to its sub-pool, or closes it if
// it is unhealthy or the sub-pool has no idle capacity.
func (p *Pool) Release(l *Lease) {
	if l == nil {
		return
	}
	sp := p.subPoolFor(l.AccountID)
	sp.mu.Lock()
	defer sp.mu.Unlock()
	defer sp.notifyWaiters()
	sp.active--

	if !l.Transport.Healthy() || l.Transport.MessagesSent() >= p.cfg.MaxMessages || len(sp.idle) >= p.cfg.MaxPoolSize {
		sp.numOpen--
		_ = l.Transport.Close()
		p.bumpClosed()
		return
	}
	sp.idle = append(sp.idle, &pooledTransport{transport: l.Transport, lastUsed: time.Now()})
}

// Metrics returns a snapshot of pool-wide counters.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.metrics
	var live, active int64
	for _, sp := range p.subs {
		sp.mu.Lock()
		live += int64(sp.numOpen)
		active += int64(sp.active)
		sp.mu.Unlock()
	}
	m.CurrentLive = live
	m.Active = active
	return m
}

// Shutdown closes every idle transport and stops the reap loop. In
// -flight leases are not forcibly closed; callers must Release before
// Shutdown returns cleanly.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.subs
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	for _, sp := range subs {
		sp.mu.Lock()
		for _, pt := range sp.idle {
			_ = pt.transport.Close()
			p.bumpClosed()
		}
		sp.idle = nil
		sp.mu.Unlock()
	}
}

func (p *Pool) reapLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	subs := make([]*subPool, 0, len(p.subs))
	for _, sp := range p.subs {
		subs = append(subs, sp)
	}
	p.mu.Unlock()

	for _, sp := range subs {
		sp.mu.Lock()
		kept := sp.idle[:0]
		reaped := false
		for _, pt := range sp.idle {
			if time.Since(pt.lastUsed) > p.cfg.IdleTimeout {
				sp.numOpen--
				_ = pt.transport.Close()
				p.bumpClosed()
				reaped = true
				continue
			}
			kept = append(kept, pt)
		}
		sp.idle = kept
		if reaped {
			sp.notifyWaiters()
		}
		sp.mu.Unlock()
	}
}

func (p *Pool) bumpOpened() {
	p.mu.Lock()
	p.metrics.TotalOpened++
	p.mu.Unlock()
}
func (p *Pool) bumpClosed() {
	p.mu.Lock()
	p.metrics.TotalClosed++
	p.mu.Unlock()
}
func (p *Pool) bumpHit() {
	p.mu.Lock()
	p.metrics.HitCount++
	p.mu.Unlock()
}
func (p *Pool) bumpMiss() {
	p.mu.Lock()
	p.metrics.MissCount++
	p.mu.Unlock()
}
