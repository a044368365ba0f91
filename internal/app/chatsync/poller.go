package chatsync

import (
	"context"
	"errors"
	"sync"
	"time"
)

// poller runs a cycle on every tick and whenever it is kicked. Cycles are
// launched without blocking the loop and decide for themselves whether an
// earlier cycle is still outstanding.
type poller struct {
	name     string
	interval time.Duration
	cycle    func(ctx context.Context)
	trigger  chan struct{}
	wg       sync.WaitGroup
}

func newPoller(name string, interval time.Duration, cycle func(ctx context.Context)) *poller {
	return &poller{
		name:     name,
		interval: interval,
		cycle:    cycle,
		trigger:  make(chan struct{}, 1),
	}
}

// run blocks until ctx is done. The first cycle starts immediately.
func (p *poller) run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.launch(ctx)
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-ticker.C:
			p.launch(ctx)
		case <-p.trigger:
			ticker.Reset(p.interval)
			p.launch(ctx)
		}
	}
}

func (p *poller) launch(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.cycle(ctx)
	}()
}

// kick requests an immediate cycle. Repeated kicks before the loop picks the
// first one up collapse into a single cycle.
func (p *poller) kick() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func intervalOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// admitted records the outcome of flight.begin in metrics.
func admitted(m Metrics, resource string, err error) {
	switch {
	case errors.Is(err, ErrCycleSkipped):
		m.CycleSkipped(resource)
	case errors.Is(err, ErrStaleResponse):
		m.StaleDiscarded(resource)
	}
}

// flight allows one outstanding request per generation. Generations only
// grow: starting a request for a newer one cancels the older request, and a
// request for a generation older than the latest admitted is refused.
type flight struct {
	mu     sync.Mutex
	busy   bool
	gen    uint64
	cancel context.CancelFunc
}

// begin returns ErrCycleSkipped while gen is already outstanding and
// ErrStaleResponse when a newer generation has been admitted.
func (f *flight) begin(ctx context.Context, gen uint64) (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if gen < f.gen {
		return nil, ErrStaleResponse
	}
	if f.busy && f.gen == gen {
		return nil, ErrCycleSkipped
	}
	if f.busy && f.cancel != nil {
		f.cancel()
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	f.busy = true
	f.gen = gen
	f.cancel = cancel
	return fetchCtx, nil
}

func (f *flight) end(gen uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy && f.gen == gen {
		f.cancel()
		f.busy = false
		f.cancel = nil
	}
}

// abort cancels whatever is outstanding without releasing the slot.
func (f *flight) abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy && f.cancel != nil {
		f.cancel()
	}
}
