// Package scheduler runs the engine's background jobs: a cron-scheduled daily decay
// pass plus a small set of interval-driven jobs, all best-effort — a failing job is
// logged and never prevents the next run. Ticker-driven and defensive, with one goroutine
// per interval job alongside the cron runner.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Names of the fixed job set this package registers. No other job name may ever be
// registered; removed legacy names like "hourly_decay" and "daily_predictions" must
// not reappear.
const (
	JobDailyDecay        = "daily_decay"
	JobPatternDetection  = "pattern_detection"
	JobFullConsolidation = "full_consolidation"
	JobVaultSync         = "vault_sync"
)

// allowedJobs is the closed set the Scheduler will accept; Register rejects anything
// outside it rather than silently registering a typo'd or legacy name.
var allowedJobs = map[string]bool{
	JobDailyDecay:        true,
	JobPatternDetection:  true,
	JobFullConsolidation: true,
	JobVaultSync:         true,
}

// JobFunc is one unit of scheduled work. Errors are logged, never propagated.
type JobFunc func(ctx context.Context) error

// Scheduler owns the cron-driven daily_decay job and the interval-driven remainder.
type Scheduler struct {
	cron *cron.Cron
	log  *slog.Logger

	mu       sync.Mutex
	jobs     map[string]JobFunc
	tickers  []*time.Ticker
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
}

func New(log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(),
		log:    log,
		jobs:   make(map[string]JobFunc),
		stopCh: make(chan struct{}),
	}
}

// RegisterCron schedules name on cronExpr (only daily_decay uses this path, at "0 2 * * *").
func (s *Scheduler) RegisterCron(name, cronExpr string, fn JobFunc) error {
	if !allowedJobs[name] {
		return fmt.Errorf("job %q is not in the registered job set", name)
	}
	s.mu.Lock()
	s.jobs[name] = fn
	s.mu.Unlock()

	_, err := s.cron.AddFunc(cronExpr, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule job %q: %w", name, err)
	}
	return nil
}

// RegisterInterval schedules name to run every interval, starting one interval from now.
func (s *Scheduler) RegisterInterval(name string, interval time.Duration, fn JobFunc) error {
	if !allowedJobs[name] {
		return fmt.Errorf("job %q is not in the registered job set", name)
	}
	s.mu.Lock()
	s.jobs[name] = fn
	ticker := time.NewTicker(interval)
	s.tickers = append(s.tickers, ticker)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ticker.C:
				s.run(name, fn)
			case <-s.stopCh:
				return
			}
		}
	}()
	return nil
}

func (s *Scheduler) run(name string, fn JobFunc) {
	ctx := context.Background()
	if err := fn(ctx); err != nil {
		s.log.Warn("scheduled job failed, will retry on next run", "job", name, "error", err)
	}
}

// RegisteredJobs returns the names currently scheduled, for the health report of §4.11.
func (s *Scheduler) RegisteredJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		out = append(out, name)
	}
	return out
}

// Start begins running the cron scheduler. Interval jobs do not wait for Start: each
// one's ticker goroutine runs from the moment RegisterInterval is called.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
}

// Stop halts the cron scheduler and every interval ticker, waiting for in-flight runs
// to finish. Called as the first step of graceful shutdown, before the store flushes
// and closes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, t := range s.tickers {
		t.Stop()
	}
	s.mu.Unlock()

	close(s.stopCh)
	<-s.cron.Stop().Done()
	s.wg.Wait()
}
