// Package scheduler drives one trading cycle per agent per interval,
// with single-flight execution per agent: a tick that arrives while a
// cycle is still in flight is skipped, never queued.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"agent-engine/internal/domain"
	"agent-engine/internal/observability"
	"agent-engine/internal/storage"
)

// Defaults.
const (
	// DefaultTickInterval is the coarse scan interval; per-agent cycle
	// intervals are enforced on top of it.
	DefaultTickInterval = 5 * time.Second

	// DefaultCycleInterval applies to agents with no configured interval.
	DefaultCycleInterval = 5 * time.Minute
)

// ErrCycleInFlight means a cycle for the agent is already running.
var ErrCycleInFlight = errors.New("scheduler: cycle already in flight")

// CycleRunner executes one trading cycle for an agent.
type CycleRunner interface {
	RunCycle(ctx context.Context, agentID string) (*domain.TradeOrder, error)
}

// Scheduler scans enabled agents on a coarse ticker and runs a cycle
// for each agent whose interval has elapsed.
type Scheduler struct {
	agents storage.AgentStore
	runner CycleRunner
	logger *log.Logger

	tickInterval time.Duration

	mu       sync.Mutex
	inflight map[string]bool
	nextDue  map[string]time.Time

	wg sync.WaitGroup
}

// New creates a Scheduler. tickInterval <= 0 selects the default.
func New(agents storage.AgentStore, runner CycleRunner, logger *log.Logger, tickInterval time.Duration) *Scheduler {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	return &Scheduler{
		agents:       agents,
		runner:       runner,
		logger:       logger,
		tickInterval: tickInterval,
		inflight:     make(map[string]bool),
		nextDue:      make(map[string]time.Time),
	}
}

// Run scans until ctx is cancelled, then waits for in-flight cycles.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Printf("scheduler started, tick interval %s", s.tickInterval)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("scheduler stopping, waiting for in-flight cycles")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick launches a cycle for every enabled agent that is due.
func (s *Scheduler) tick(ctx context.Context) {
	agents, err := s.agents.ListEnabled(ctx)
	if err != nil {
		s.logger.Printf("list enabled agents: %v", err)
		return
	}

	now := time.Now()
	for _, agent := range agents {
		if !s.due(agent, now) {
			continue
		}
		if !s.acquire(agent.AgentID) {
			observability.RecordCycleSkipped()
			continue
		}

		s.wg.Add(1)
		go func(agentID string) {
			defer s.wg.Done()
			defer s.release(agentID)
			s.runOne(ctx, agentID)
		}(agent.AgentID)
	}
}

// ForceCycle runs a cycle for the agent immediately, bypassing the
// interval but still respecting single-flight.
func (s *Scheduler) ForceCycle(ctx context.Context, agentID string) (*domain.TradeOrder, error) {
	if !s.acquire(agentID) {
		return nil, ErrCycleInFlight
	}
	defer s.release(agentID)

	s.resetSchedule(agentID)
	observability.RecordCycleStarted()
	return s.runner.RunCycle(ctx, agentID)
}

// due reports whether the agent's interval has elapsed, and primes the
// schedule for agents seen for the first time.
func (s *Scheduler) due(agent *domain.Agent, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, seen := s.nextDue[agent.AgentID]
	if !seen {
		// First sight: schedule one interval out rather than trading the
		// moment the process starts.
		s.nextDue[agent.AgentID] = now.Add(s.interval(agent))
		return false
	}
	return !now.Before(next)
}

func (s *Scheduler) interval(agent *domain.Agent) time.Duration {
	if agent.CycleIntervalMs <= 0 {
		return DefaultCycleInterval
	}
	return time.Duration(agent.CycleIntervalMs) * time.Millisecond
}

func (s *Scheduler) acquire(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[agentID] {
		return false
	}
	s.inflight[agentID] = true
	return true
}

func (s *Scheduler) release(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, agentID)
}

// resetSchedule drops the agent's due time so the next tick re-primes a
// full interval out. A forced cycle must not stack with the timer.
func (s *Scheduler) resetSchedule(agentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nextDue, agentID)
}

func (s *Scheduler) runOne(ctx context.Context, agentID string) {
	observability.RecordCycleStarted()

	agent, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		s.logger.Printf("agent %s: load failed: %v", agentID, err)
		return
	}

	s.mu.Lock()
	s.nextDue[agentID] = time.Now().Add(s.interval(agent))
	s.mu.Unlock()

	order, err := s.runner.RunCycle(ctx, agentID)
	switch {
	case err != nil:
		s.logger.Printf("agent %s: cycle failed: %v", agentID, err)
	case order == nil:
		s.logger.Printf("agent %s: no trade this cycle", agentID)
	default:
		s.logger.Printf("agent %s: order %s finished %s", agentID, order.OrderID, order.Status)
	}
}
