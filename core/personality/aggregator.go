package personality

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
)

const tracerName = "github.com/Abeyoo/Final-ID8-sub001/core/personality"

var (
	NowFunc = time.Now // mockable

	errInvalidUserID = errors.New("invalid user id")
)

// States of a user's analysis.
const (
	StateIdle State = iota
	StateCollecting
	StateScoring
	StateCommitting
)

var stateNames = [...]string{"idle", "collecting", "scoring", "committing"}

type State int

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// SignalSource gives access to the signals not consumed by any analysis yet.
type SignalSource interface {
	UnprocessedSince(userID string, since signal.Watermark) *signal.Cursor
}

type AggregatorDeps struct {
	Repo     Repository
	Signals  SignalSource
	Scorer   Scorer
	Ranker   *Ranker
	Locker   RunLocker    // optional
	Notifier *Notifier    // optional
	Metrics  *Metrics     // optional
	Tracer   trace.Tracer // optional
	Logger   core.Logger
}

// Aggregator runs the per-user analysis state machine:
// Idle -> Collecting -> Scoring -> Committing -> Idle.
//
// At most one run per user is in flight in the process. Concurrent callers join it,
// or get ErrAnalysisInProgress when joining is disabled.
// A run either commits the analysis, the user cache and every percentile together, or writes nothing.
type Aggregator struct {
	repo     Repository
	signals  SignalSource
	scorer   Scorer
	ranker   *Ranker
	locker   RunLocker
	notifier *Notifier
	metrics  *Metrics
	tracer   trace.Tracer
	logger   core.Logger

	retry        RetryConfig
	joinInFlight bool
	runTimeout   time.Duration

	group singleflight.Group

	mu       sync.Mutex
	states   map[string]State
	onCommit []func(Analysis)
}

func NewAggregator(conf *core.Config, deps AggregatorDeps) *Aggregator {
	agg := &Aggregator{
		repo:         deps.Repo,
		signals:      deps.Signals,
		scorer:       deps.Scorer,
		ranker:       deps.Ranker,
		locker:       deps.Locker,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		tracer:       deps.Tracer,
		logger:       deps.Logger,
		retry:        NewRetryConfig(conf.Analysis.Retry),
		joinInFlight: conf.Analysis.JoinInFlight,
		runTimeout:   conf.Analysis.RunTimeout,
		states:       make(map[string]State),
	}
	if agg.ranker == nil {
		agg.ranker = NewRanker(deps.Repo, deps.Metrics)
	}
	if agg.locker == nil {
		agg.locker = NewLocalLocker()
	}
	if agg.tracer == nil {
		agg.tracer = otel.Tracer(tracerName)
	}
	if agg.logger == nil {
		agg.logger = core.NewNopLogger()
	}
	return agg
}

// OnCommit registers fn to be called after every committed analysis.
func (agg *Aggregator) OnCommit(fn func(Analysis)) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	agg.onCommit = append(agg.onCommit, fn)
}

// State returns the current state of userID.
func (agg *Aggregator) State(userID string) State {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	return agg.states[userID]
}

func (agg *Aggregator) setState(userID string, s State) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if s == StateIdle {
		delete(agg.states, userID)
		return
	}
	agg.states[userID] = s
}

// begin moves userID out of Idle. It fails if a run already holds the user.
func (agg *Aggregator) begin(userID string) bool {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if _, busy := agg.states[userID]; busy {
		return false
	}
	agg.states[userID] = StateCollecting
	return true
}

// Run analyzes userID and blocks until the run completes or ctx is done.
// The run itself is detached from ctx: a cancelled caller gets ctx.Err() while the run
// still commits or rolls back on its own.
//
// Runs without new signals write nothing: scheduled runs return ErrNoPendingSignals,
// explicit ones ErrInsufficientSignal.
func (agg *Aggregator) Run(ctx context.Context, userID string, trigger Trigger) (Analysis, error) {
	userID = core.CleanString(userID)
	if !core.ValidUserID(userID) {
		return Analysis{}, core.NewValidationError(errInvalidUserID, core.FieldError{Field: "userId", Error: errInvalidUserID.Error()})
	}

	var ch <-chan singleflight.Result
	if agg.joinInFlight {
		ch = agg.group.DoChan(userID, func() (interface{}, error) {
			agg.begin(userID)
			return agg.detachedRun(ctx, userID, trigger)
		})
	} else {
		if !agg.begin(userID) {
			agg.metrics.ObserveRun(trigger, outcomeInProgress, 0)
			return Analysis{}, ErrAnalysisInProgress
		}
		res := make(chan singleflight.Result, 1)
		go func() {
			a, err := agg.detachedRun(ctx, userID, trigger)
			res <- singleflight.Result{Val: a, Err: err}
		}()
		ch = res
	}

	select {
	case res := <-ch:
		a, _ := res.Val.(Analysis)
		err := res.Err
		// an explicit caller that joined a scheduled sweep of the same user
		if trigger == TriggerExplicit && errors.Is(err, ErrNoPendingSignals) {
			err = ErrInsufficientSignal
		}
		return a, err
	case <-ctx.Done():
		return Analysis{}, ctx.Err()
	}
}

func (agg *Aggregator) detachedRun(ctx context.Context, userID string, trigger Trigger) (Analysis, error) {
	runCtx := context.WithoutCancel(ctx)
	if agg.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, agg.runTimeout)
		defer cancel()
	}
	defer agg.setState(userID, StateIdle)

	start := time.Now()
	a, err := agg.run(runCtx, userID, trigger)
	outcome := outcomeOf(err)
	agg.metrics.ObserveRun(trigger, outcome, time.Since(start))

	switch outcome {
	case outcomeCommitted:
		agg.logger.Info(fmt.Sprintf("analysis committed (user: %q, trigger: %s, type: %s, signals: %d)",
			userID, trigger, a.NewType, a.SignalCount))
	case outcomeNoPendingSignals:
		agg.logger.Debug(fmt.Sprintf("no pending signals (user: %q)", userID))
	case outcomeInsufficientSignal, outcomeInProgress:
		agg.logger.Info(fmt.Sprintf("analysis skipped (user: %q, trigger: %s): %v", userID, trigger, err))
	case outcomeScoringUnavailable:
		agg.logger.Warn(fmt.Sprintf("analysis failed (user: %q, trigger: %s): %v", userID, trigger, err), err)
	default:
		agg.logger.Error(fmt.Sprintf("analysis failed (user: %q, trigger: %s): %v", userID, trigger, err), err)
	}
	return a, err
}

func (agg *Aggregator) run(ctx context.Context, userID string, trigger Trigger) (_ Analysis, err error) {
	ctx, span := agg.tracer.Start(ctx, "personality.Aggregator.run", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("analysis.trigger", string(trigger)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	unlock, err := agg.locker.Lock(ctx, userID)
	if err != nil {
		return Analysis{}, errors.Wrap(err, "locking user")
	}
	defer unlock()

	// Collecting
	agg.setState(userID, StateCollecting)
	prev, err := agg.repo.LatestAnalysis(ctx, userID)
	hasPrev := err == nil
	if err != nil && !errors.Is(err, ErrNotAnalyzed) {
		return Analysis{}, errors.Wrap(err, "loading latest analysis")
	}
	events, err := agg.signals.UnprocessedSince(userID, prev.Watermark).Collect(ctx)
	if err != nil {
		return Analysis{}, errors.Wrap(err, "collecting signals")
	}
	span.SetAttributes(attribute.Int("analysis.signals", len(events)))
	if len(events) == 0 {
		if trigger == TriggerScheduled {
			return Analysis{}, ErrNoPendingSignals
		}
		// scorers are never asked to re-score the prior alone
		return Analysis{}, ErrInsufficientSignal
	}

	// Scoring
	agg.setState(userID, StateScoring)
	req := ScoreRequest{UserID: userID, Signals: events}
	if hasPrev {
		prior := prev.Scores
		req.Prior = &prior
	}
	res, err := agg.score(ctx, req)
	if err != nil {
		return Analysis{}, err
	}
	scores := res.Scores.Normalize()

	// Committing
	agg.setState(userID, StateCommitting)
	now := NowFunc().UTC()
	analysis := Analysis{
		ID:          uuid.New().String(),
		UserID:      userID,
		Scores:      scores,
		Confidence:  core.Clamp01(res.Confidence),
		NewType:     scores.Dominant(),
		Reasoning:   res.Reasoning,
		SignalCount: len(events),
		Watermark:   prev.Watermark,
		Trigger:     trigger,
		CreatedAt:   now,
	}
	if hasPrev {
		prevType := prev.NewType
		analysis.PreviousType = &prevType
	}
	if n := len(events); n > 0 {
		analysis.Watermark = events[n-1].Watermark()
	}

	updates, err := agg.ranker.Rank(ctx, userID, scores, now)
	if err != nil {
		return Analysis{}, errors.Wrap(err, "ranking scores")
	}
	commit := Commit{Analysis: analysis, Percentiles: updates, PreviousAnalysisID: prev.ID}
	if err := agg.commit(ctx, commit); err != nil {
		if errors.Is(err, ErrStaleAnalysis) {
			return Analysis{}, ErrAnalysisInProgress
		}
		return Analysis{}, errors.Wrap(err, "committing analysis")
	}

	agg.mu.Lock()
	hooks := agg.onCommit
	agg.mu.Unlock()
	for _, fn := range hooks {
		fn(analysis)
	}
	if analysis.TypeChanged() {
		agg.metrics.IncTypeChange()
		agg.notifier.TypeChanged(ctx, analysis)
	}
	return analysis, nil
}

func (agg *Aggregator) score(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
	ctx, span := agg.tracer.Start(ctx, "personality.Scorer.Score")
	defer span.End()

	res, err := retryTransient(ctx, agg.retry,
		func(ctx context.Context) (ScoreResult, error) {
			res, err := agg.scorer.Score(ctx, req)
			if err == nil {
				agg.metrics.IncScorerAttempt("ok")
			}
			return res, err
		},
		func(attempt int, err error) {
			agg.metrics.IncScorerAttempt(outcomeOf(err))
			agg.logger.Debug(fmt.Sprintf("scorer attempt %d failed (user: %q): %v", attempt, req.UserID, err))
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (agg *Aggregator) commit(ctx context.Context, c Commit) error {
	ctx, span := agg.tracer.Start(ctx, "personality.Repository.CommitAnalysis",
		trace.WithAttributes(attribute.Int("analysis.percentiles", len(c.Percentiles))))
	defer span.End()

	if err := agg.repo.CommitAnalysis(ctx, c); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeCommitted
	case errors.Is(err, ErrNoPendingSignals):
		return outcomeNoPendingSignals
	case errors.Is(err, ErrInsufficientSignal):
		return outcomeInsufficientSignal
	case errors.Is(err, ErrScoringUnavailable):
		return outcomeScoringUnavailable
	case errors.Is(err, ErrAnalysisInProgress):
		return outcomeInProgress
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCancelled
	}
	return outcomeError
}
