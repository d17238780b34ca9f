/*
scheduler.go - Automated expired-rule archival

PURPOSE:
  Periodically archives pricing rules whose effective_to has passed, so the
  rule list and profile views stop showing them as live. Evaluation already
  ignores expired rules through the evaluator clock; the sweeper makes the
  state explicit and leaves an audit row per rule.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start, then on every tick
  - Archives through Rule.Archive + Repository.UpdateRule, so each sweep
    writes the same history row a manual DELETE would
  - Already-archived rules are skipped (ListRules excludes them)

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  sweeper := NewExpirySweeper(repo)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: ArchiveRule endpoint (manual archival)
  - pricing/rule.go: IsExpired, Archive
*/
package api

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nasri82/cardinsa-pricing/store"
)

// ExpiredReason is the history reason recorded for swept rules.
const ExpiredReason = "expired: effective_to has passed"

// ExpirySweeper archives expired rules on a timer.
type ExpirySweeper struct {
	Repo          store.Repository
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExpirySweeper creates a new sweeper.
func NewExpirySweeper(repo store.Repository) *ExpirySweeper {
	return &ExpirySweeper{
		Repo:          repo,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
	}
}

// Start begins the sweeper.
func (s *ExpirySweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Info("[Sweeper] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	log.WithField("interval", s.CheckInterval).Info("[Sweeper] Started")
}

// Stop stops the sweeper and waits for an in-flight sweep to finish.
func (s *ExpirySweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		log.Info("[Sweeper] Stopped")
	}
}

func (s *ExpirySweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *ExpirySweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	archived, err := s.RunOnce(ctx)
	if err != nil {
		log.WithError(err).Error("[Sweeper] Sweep failed")
		return
	}
	if archived > 0 {
		log.WithField("archived", archived).Info("[Sweeper] Archived expired rules")
	}
}

// RunOnce archives every non-archived rule that has expired as of Now and
// returns how many were archived. A rule that fails to save is logged and
// skipped.
func (s *ExpirySweeper) RunOnce(ctx context.Context) (int, error) {
	now := s.Now().UTC()
	rules, err := s.Repo.ListRules(ctx, store.RuleFilter{})
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, rule := range rules {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		if !rule.IsExpired(now) {
			continue
		}
		change := rule.Archive(now, ExpiredReason)
		if len(change.ChangedFields) == 0 {
			continue
		}
		if err := s.Repo.UpdateRule(ctx, rule, change); err != nil {
			log.WithError(err).WithField("rule_id", rule.ID).Warn("[Sweeper] Failed to archive rule")
			continue
		}
		archived++
	}
	return archived, nil
}
