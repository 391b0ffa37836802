package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/kestrelworks/swarmgate/internal/config"
	"github.com/kestrelworks/swarmgate/internal/runner"
	"github.com/kestrelworks/swarmgate/pkg/models"
)

// PoolConfig contains configuration options for the Pool.
type PoolConfig struct {
	// Config is the resolved configuration. Required.
	Config *config.Config
	// Runners creates worker execution backends. Required.
	Runners runner.Factory
	// Options are applied to every orchestrator the pool creates.
	Options []Option
}

// Pool manages multiple concurrent orchestrators, one per submitted
// request, and aggregates their event streams.
type Pool struct {
	cfg PoolConfig

	// orchestrators tracks running orchestrators by ID
	orchestrators map[string]*Orchestrator
	mu            sync.RWMutex

	// events aggregates events from all orchestrators
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	wg  sync.WaitGroup
	fwd sync.WaitGroup
}

// NewPool creates a new Pool.
func NewPool(cfg PoolConfig) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		cfg:           cfg,
		orchestrators: make(map[string]*Orchestrator),
		events:        make(chan Event, 100),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Submit creates and starts a new orchestrator for the given request.
// Returns the request ID.
func (p *Pool) Submit(req models.Request) (string, error) {
	if p.cfg.Runners == nil {
		return "", fmt.Errorf("Runners is required")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()[:8]
	}

	orch := New(RequiredConfig{
		Config:  p.cfg.Config,
		Runners: p.cfg.Runners,
	}, p.cfg.Options...)

	p.mu.Lock()
	p.orchestrators[req.ID] = orch
	p.mu.Unlock()

	p.fwd.Add(1)
	go func() {
		defer p.fwd.Done()
		p.forwardEvents(orch)
	}()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		if _, err := orch.Run(p.ctx, req); err != nil {
			log.Printf("[pool] request %s failed: %v", req.ID, err)
		}
		orch.emitter.Close()

		p.mu.Lock()
		delete(p.orchestrators, req.ID)
		p.mu.Unlock()
	}()

	return req.ID, nil
}

// Get returns the running orchestrator for a request, if any.
func (p *Pool) Get(requestID string) (*Orchestrator, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	orch, ok := p.orchestrators[requestID]
	return orch, ok
}

// forwardEvents forwards events from an orchestrator to the pool's
// aggregated channel.
func (p *Pool) forwardEvents(orch *Orchestrator) {
	for event := range orch.Events() {
		select {
		case p.events <- event:
		case <-p.ctx.Done():
			return
		}
	}
}

// Events returns the channel for receiving aggregated events.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Stop cancels all orchestrators and waits for them to finish.
func (p *Pool) Stop() error {
	p.cancel()
	p.wg.Wait()
	p.fwd.Wait()
	close(p.events)
	return nil
}

// Count returns the number of running orchestrators.
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.orchestrators)
}

// DroppedEventCount returns the total dropped events across all
// running orchestrators.
func (p *Pool) DroppedEventCount() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var total uint64
	for _, orch := range p.orchestrators {
		total += orch.DroppedEventCount()
	}
	return total
}
