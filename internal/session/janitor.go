package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fixpointlabs/healerd/internal/config"
	"github.com/fixpointlabs/healerd/internal/healing"
)

// errFresh aborts a janitor update when the session progressed between the
// list and the write.
var errFresh = errors.New("session is fresh")

// Janitor administratively fails sessions that stopped making progress,
// usually because the daemon died mid-loop and left them non-terminal.
type Janitor struct {
	store      Store
	staleAfter time.Duration
	interval   time.Duration
	logger     *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewJanitor creates a sweeper over the store. Zero durations select the
// configuration defaults. The logger may be nil.
func NewJanitor(store Store, cfg config.HealingConfig, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	staleAfter := cfg.StaleAfter.Duration()
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	interval := cfg.JanitorInterval.Duration()
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{
		store:      store,
		staleAfter: staleAfter,
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start begins sweeping on the configured interval.
func (j *Janitor) Start() {
	go j.run()
}

// Stop halts the sweep loop and waits for it to finish.
func (j *Janitor) Stop() {
	close(j.stop)
	<-j.done
}

func (j *Janitor) run() {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			j.sweep(context.Background())
		}
	}
}

// sweep fails every non-terminal session whose last update is older than
// the staleness window. The staleness check repeats inside the update so a
// session that advanced after the list is left alone.
func (j *Janitor) sweep(ctx context.Context) {
	sessions, err := j.store.List(ctx, Filter{})
	if err != nil {
		j.logger.Warn("janitor list failed", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-j.staleAfter)
	for _, stale := range sessions {
		if stale.Status.IsTerminal() || stale.UpdatedAt.After(cutoff) {
			continue
		}

		_, err := j.store.Update(ctx, stale.ID, func(s *healing.Session) error {
			if s.Status.IsTerminal() || s.UpdatedAt.After(cutoff) {
				return errFresh
			}
			s.Status = healing.StatusFailed
			s.Error = fmt.Sprintf("no progress for %s; administratively failed", j.staleAfter)
			now := time.Now()
			s.CompletedAt = &now
			return nil
		})
		if errors.Is(err, errFresh) {
			continue
		}
		if err != nil {
			j.logger.Warn("janitor update failed",
				zap.String("session_id", stale.ID),
				zap.Error(err))
			continue
		}

		j.logger.Info("stale session failed",
			zap.String("session_id", stale.ID),
			zap.String("previous_status", string(stale.Status)))
	}
}
