// Package cleanup reclaims idle sessions and reconciles the registry's
// memory accounting on a fixed cadence.
package cleanup

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/charterhq/charter/internal/orchestrator/registry"
)

// Options tunes the scheduler.
type Options struct {
	// Interval is the sweep cadence.
	Interval time.Duration
	// IdleThreshold is how long a session must sit untouched before it is
	// eligible for reclamation.
	IdleThreshold time.Duration
	// MaxPerSweep caps how many sessions one sweep may evict. Zero means
	// no cap.
	MaxPerSweep int
}

func (o *Options) withDefaults() {
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	if o.IdleThreshold <= 0 {
		o.IdleThreshold = 120 * time.Second
	}
}

// Scheduler periodically evicts idle sessions from a registry. Eviction is
// two-phase: the registry extracts the victim under its lock, then the
// scheduler tears it down outside any lock so a slow backend close never
// stalls session admission.
type Scheduler struct {
	reg  *registry.Registry
	opts Options

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Scheduler for reg.
func New(reg *registry.Registry, opts Options) *Scheduler {
	opts.withDefaults()
	return &Scheduler{
		reg:  reg,
		opts: opts,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run sweeps until Stop is called or ctx ends.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Stop halts the sweep loop and waits for an in-progress sweep to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Sweep runs one reclamation pass: refresh the measured memory figure, then
// evict idle sessions oldest first until none remain eligible or the
// per-sweep cap is reached. A session that becomes active between extraction
// checks is skipped automatically because extraction re-validates under the
// registry lock.
func (s *Scheduler) Sweep(ctx context.Context) int {
	s.reconcileMemory()

	evicted := 0
	for s.opts.MaxPerSweep <= 0 || evicted < s.opts.MaxPerSweep {
		victim := s.reg.ExtractIdle(s.opts.IdleThreshold)
		if victim == nil {
			break
		}
		log.Ctx(ctx).Info().
			Str("session_id", victim.ID()).
			Dur("idle", victim.IdleFor()).
			Msg("reclaiming idle session")
		s.reg.Teardown(ctx, victim)
		evicted++
	}
	if evicted > 0 {
		log.Ctx(ctx).Info().Int("evicted", evicted).Int("live", s.reg.Count()).Msg("cleanup sweep complete")
	}
	return evicted
}

// reconcileMemory feeds the process heap figure back into the registry so
// admission tracks reality rather than the static per-session estimate.
func (s *Scheduler) reconcileMemory() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	s.reg.SetMeasuredMemory(int64(stats.HeapInuse))
}
