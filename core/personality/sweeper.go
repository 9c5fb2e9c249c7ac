package personality

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Abeyoo/Final-ID8-sub001/core"
)

type PendingSource interface {
	PendingUsers(ctx context.Context, afterUserID string, limit int) ([]string, error)
}

type SweepReport struct {
	Users     int `json:"users"`
	Committed int `json:"committed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Sweeper periodically analyzes every user holding unprocessed signals.
// Each sweep picks up where the previous one stopped, so users whose signals cannot be scored
// never hold back the ones after them.
type Sweeper struct {
	agg         *Aggregator
	pending     PendingSource
	logger      core.Logger
	interval    time.Duration
	concurrency int
	batchSize   int

	mu   sync.Mutex
	next string // last user id of the previous batch
}

func NewSweeper(conf *core.Config, agg *Aggregator, pending PendingSource, logger core.Logger) *Sweeper {
	s := &Sweeper{
		agg:         agg,
		pending:     pending,
		logger:      logger,
		interval:    conf.Analysis.SweepInterval,
		concurrency: conf.Analysis.SweepConcurrency,
		batchSize:   conf.Analysis.SweepBatchSize,
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	return s
}

// Sweep runs one scheduled analysis per user of the next batch of pending users.
// A failing user does not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.pending.PendingUsers(ctx, s.next, s.batchSize)
	if err != nil {
		return SweepReport{}, errors.Wrap(err, "listing pending users")
	}
	if s.batchSize > 0 && len(users) == s.batchSize {
		s.next = users[len(users)-1]
	} else {
		s.next = "" // end of the list, start over next time
	}

	var mu sync.Mutex
	report := SweepReport{Users: len(users)}
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			_, err := s.agg.Run(ctx, userID, TriggerScheduled)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Committed++
			case errors.Is(err, ErrNoPendingSignals), errors.Is(err, ErrInsufficientSignal), errors.Is(err, ErrAnalysisInProgress):
				report.Skipped++
			default:
				report.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, ctx.Err()
}

// Start sweeps every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("scheduled sweep disabled")
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.Sweep(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error(fmt.Sprintf("sweep failed: %v", err), err)
				continue
			}
			s.logger.Info(fmt.Sprintf("sweep done (users: %d, committed: %d, skipped: %d, failed: %d)",
				report.Users, report.Committed, report.Skipped, report.Failed))
		}
	}
}
