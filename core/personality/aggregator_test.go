package personality_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
	"github.com/Abeyoo/Final-ID8-sub001/tests"
)

var (
	leaderVector   = personality.ScoreVector{.5, .1, .1, .1, .1, .1}
	mediatorVector = personality.ScoreVector{.1, .1, .1, .1, .1, .5}
)

func analyses(t *testing.T, env *testutil.Env, userID string) []personality.Analysis {
	t.Helper()
	res, err := env.Repo.QueryAnalyses(context.Background(), userID, nil)
	require.NoError(t, err)
	return res
}

func TestAggregator_Run(t *testing.T) {
	scorer := &testutil.FixedScorer{Scores: leaderVector, Confidence: .8}
	env := testutil.NewEnv(t, scorer)
	ctx := context.Background()

	var hooked []personality.Analysis
	env.Aggregator.OnCommit(func(a personality.Analysis) { hooked = append(hooked, a) })

	testutil.AppendSignal(t, env.Signals, "ada", signal.KindTeamAction, signal.Payload{"role": "lead"})
	last := testutil.AppendSignal(t, env.Signals, "ada", signal.KindAchievement, signal.Payload{"category": "leadership"})

	a, err := env.Aggregator.Run(ctx, " ada ", personality.TriggerExplicit)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "ada", a.UserID)
	assert.Equal(t, personality.Leader, a.NewType)
	assert.Nil(t, a.PreviousType)
	assert.Equal(t, 2, a.SignalCount)
	assert.Equal(t, last.Watermark(), a.Watermark)
	assert.Equal(t, personality.TriggerExplicit, a.Trigger)
	assert.InDelta(t, .8, a.Confidence, 1e-9)
	assert.InDelta(t, 1, a.Scores.Sum(), 1e-9)
	assert.Equal(t, personality.StateIdle, env.Aggregator.State("ada"))
	require.Len(t, hooked, 1)
	assert.Equal(t, a.ID, hooked[0].ID)

	usr, err := env.Repo.GetUser(ctx, "ada")
	require.NoError(t, err)
	require.True(t, usr.Analyzed())
	assert.Equal(t, personality.Leader, *usr.PersonalityType)
	assert.Equal(t, a.Watermark, usr.Watermark)

	// alone in the population
	percentiles, err := env.Repo.QueryPercentiles(ctx, "ada")
	require.NoError(t, err)
	require.Len(t, percentiles, len(personality.Types))
	for _, p := range percentiles {
		assert.Equal(t, 50.0, p.Percentile)
		assert.Len(t, p.ScoreHistory, 1)
	}

	t.Run("no new signals", func(t *testing.T) {
		_, err := env.Aggregator.Run(ctx, "ada", personality.TriggerExplicit)
		assert.ErrorIs(t, err, personality.ErrInsufficientSignal)
		_, err = env.Aggregator.Run(ctx, "ada", personality.TriggerScheduled)
		assert.ErrorIs(t, err, personality.ErrNoPendingSignals)
		assert.Len(t, analyses(t, env, "ada"), 1)
	})

	t.Run("only new signals are scored", func(t *testing.T) {
		testutil.AppendSignal(t, env.Signals, "ada", signal.KindGoalAction, signal.Payload{"action": "delegated"})

		a2, err := env.Aggregator.Run(ctx, "ada", personality.TriggerScheduled)
		require.NoError(t, err)
		assert.Equal(t, 1, a2.SignalCount)
		require.NotNil(t, a2.PreviousType)
		assert.Equal(t, personality.Leader, *a2.PreviousType)
		assert.False(t, a2.TypeChanged())
		assert.Len(t, analyses(t, env, "ada"), 2)
	})

	t.Run("invalid user id", func(t *testing.T) {
		_, err := env.Aggregator.Run(ctx, "a b", personality.TriggerExplicit)
		var vErr *core.ValidationError
		assert.ErrorAs(t, err, &vErr)
	})
}

func TestAggregator_Run_insufficientSignal(t *testing.T) {
	env := testutil.NewEnv(t, nil) // heuristic
	ctx := context.Background()

	_, err := env.Aggregator.Run(ctx, "ada", personality.TriggerExplicit)
	assert.ErrorIs(t, err, personality.ErrInsufficientSignal)

	// signals without any evidence
	testutil.AppendSignal(t, env.Signals, "ada", signal.KindGoalAction, signal.Payload{"action": "yawned"})
	_, err = env.Aggregator.Run(ctx, "ada", personality.TriggerExplicit)
	assert.ErrorIs(t, err, personality.ErrInsufficientSignal)

	_, err = env.Repo.LatestAnalysis(ctx, "ada")
	assert.ErrorIs(t, err, personality.ErrNotAnalyzed)
	percentiles, err := env.Repo.QueryPercentiles(ctx, "ada")
	require.NoError(t, err)
	assert.Empty(t, percentiles)
}

func TestAggregator_Run_reTriggerWithoutSignals(t *testing.T) {
	// a scorer that happily answers with the prior, even for an empty batch
	var calls int
	scorer := personality.ScorerFunc(func(ctx context.Context, req personality.ScoreRequest) (personality.ScoreResult, error) {
		calls++
		if req.Prior != nil {
			return personality.ScoreResult{Scores: *req.Prior, Confidence: .5}, nil
		}
		return personality.ScoreResult{Scores: leaderVector, Confidence: .5}, nil
	})
	env := testutil.NewEnv(t, scorer)
	ctx := context.Background()

	tests := []struct {
		name      string
		traits    bool // append a signal before running
		trigger   personality.Trigger
		wantErr   error
		wantCalls int
	}{
		{name: "first run without signals", trigger: personality.TriggerExplicit, wantErr: personality.ErrInsufficientSignal},
		{name: "first run", traits: true, trigger: personality.TriggerExplicit, wantCalls: 1},
		{name: "explicit re-trigger", trigger: personality.TriggerExplicit, wantErr: personality.ErrInsufficientSignal, wantCalls: 1},
		{name: "scheduled re-trigger", trigger: personality.TriggerScheduled, wantErr: personality.ErrNoPendingSignals, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.traits {
				testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})
			}
			_, err := env.Aggregator.Run(ctx, "ada", tt.trigger)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
		})
	}
	assert.Len(t, analyses(t, env, "ada"), 1)
}

func TestAggregator_Run_retries(t *testing.T) {
	next := &testutil.FixedScorer{Scores: leaderVector, Confidence: .5}

	tests := []struct {
		name      string
		failures  int
		wantErr   error
		wantCalls int
	}{
		{name: "recovers after 2 failures", failures: 2, wantCalls: 3},
		{name: "recovers on the last retry", failures: 3, wantCalls: 4},
		{name: "gives up after 3 retries", failures: -1, wantErr: personality.ErrScoringUnavailable, wantCalls: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &testutil.FailingScorer{Err: personality.ErrScoringUnavailable, Failures: tt.failures, Next: next}
			env := testutil.NewEnv(t, scorer)
			testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})

			_, err := env.Aggregator.Run(context.Background(), "ada", personality.TriggerExplicit)
			assert.Equal(t, tt.wantCalls, scorer.Calls())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, personality.IsTransient(err))
				assert.Empty(t, analyses(t, env, "ada"))
				return
			}
			require.NoError(t, err)
			assert.Len(t, analyses(t, env, "ada"), 1)
		})
	}

	t.Run("insufficient signal is not retried", func(t *testing.T) {
		scorer := &testutil.FailingScorer{Err: personality.ErrInsufficientSignal, Failures: -1}
		env := testutil.NewEnv(t, scorer)
		testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})

		_, err := env.Aggregator.Run(context.Background(), "ada", personality.TriggerExplicit)
		assert.ErrorIs(t, err, personality.ErrInsufficientSignal)
		assert.Equal(t, 1, scorer.Calls())
	})
}

func TestAggregator_Run_concurrent(t *testing.T) {
	t.Run("callers join the run in flight", func(t *testing.T) {
		scorer := testutil.NewBlockingScorer(&testutil.FixedScorer{Scores: leaderVector, Confidence: .5})
		env := testutil.NewEnv(t, scorer)
		testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})

		var wg sync.WaitGroup
		results := make([]personality.Analysis, 2)
		errs := make([]error, 2)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = env.Aggregator.Run(context.Background(), "ada", personality.TriggerExplicit)
			}(i)
		}
		<-scorer.Started
		time.Sleep(50 * time.Millisecond) // let the second caller join
		close(scorer.Release)
		wg.Wait()

		require.NoError(t, errs[0])
		require.NoError(t, errs[1])
		assert.Equal(t, results[0].ID, results[1].ID)
		assert.Equal(t, 1, scorer.Calls())
		assert.Len(t, analyses(t, env, "ada"), 1)
	})

	t.Run("second caller is rejected when joining is disabled", func(t *testing.T) {
		scorer := testutil.NewBlockingScorer(&testutil.FixedScorer{Scores: leaderVector, Confidence: .5})
		env := testutil.NewEnv(t, scorer, func(conf *core.Config) { conf.Analysis.JoinInFlight = false })
		testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})
		testutil.AppendTraits(t, env.Signals, "bob", map[personality.Type]float64{personality.Mediator: 1})

		done := make(chan error, 1)
		go func() {
			_, err := env.Aggregator.Run(context.Background(), "ada", personality.TriggerExplicit)
			done <- err
		}()
		<-scorer.Started
		assert.Equal(t, personality.StateScoring, env.Aggregator.State("ada"))

		_, err := env.Aggregator.Run(context.Background(), "ada", personality.TriggerExplicit)
		assert.ErrorIs(t, err, personality.ErrAnalysisInProgress)

		// other users can still run
		bobDone := make(chan error, 1)
		go func() {
			_, err := env.Aggregator.Run(context.Background(), "bob", personality.TriggerExplicit)
			bobDone <- err
		}()

		close(scorer.Release)
		require.NoError(t, <-done)
		require.NoError(t, <-bobDone)
		assert.Len(t, analyses(t, env, "ada"), 1)
		assert.Equal(t, personality.StateIdle, env.Aggregator.State("ada"))
	})

	t.Run("another process holds the user", func(t *testing.T) {
		env := testutil.NewEnv(t, nil)
		agg := personality.NewAggregator(env.Conf, personality.AggregatorDeps{
			Repo:    env.Repo,
			Signals: env.Signals,
			Scorer:  personality.NewHeuristicScorer(env.Conf),
			Locker:  busyLocker{},
		})
		testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})

		_, err := agg.Run(context.Background(), "ada", personality.TriggerExplicit)
		assert.ErrorIs(t, err, personality.ErrAnalysisInProgress)
		assert.Empty(t, analyses(t, env, "ada"))
	})
}

type busyLocker struct{}

func (busyLocker) Lock(context.Context, string) (func(), error) {
	return nil, personality.ErrAnalysisInProgress
}

func TestAggregator_Run_cancelledCaller(t *testing.T) {
	scorer := testutil.NewBlockingScorer(&testutil.FixedScorer{Scores: leaderVector, Confidence: .5})
	env := testutil.NewEnv(t, scorer)
	testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := env.Aggregator.Run(ctx, "ada", personality.TriggerExplicit)
		done <- err
	}()
	<-scorer.Started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	// the run itself completes on its own
	close(scorer.Release)
	require.Eventually(t, func() bool {
		_, err := env.Repo.LatestAnalysis(context.Background(), "ada")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAggregator_Run_commitFailure(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	errDB := errors.New("disk full")
	agg := personality.NewAggregator(env.Conf, personality.AggregatorDeps{
		Repo:    testutil.FailingRepository{Repository: env.Repo, Err: errDB},
		Signals: env.Signals,
		Scorer:  personality.NewHeuristicScorer(env.Conf),
	})
	var hooked int
	agg.OnCommit(func(personality.Analysis) { hooked++ })
	testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})

	_, err := agg.Run(context.Background(), "ada", personality.TriggerExplicit)
	assert.ErrorIs(t, err, errDB)
	assert.Zero(t, hooked)
	assert.Equal(t, personality.StateIdle, agg.State("ada"))

	_, err = env.Repo.LatestAnalysis(context.Background(), "ada")
	assert.ErrorIs(t, err, personality.ErrNotAnalyzed)

	// the signals are still pending
	users, err := env.Signals.PendingUsers(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ada"}, users)
}

func TestAggregator_Run_typeChange(t *testing.T) {
	scorer := &testutil.FixedScorer{Scores: leaderVector, Confidence: .5}
	env := testutil.NewEnv(t, scorer)
	ctx := context.Background()

	_, err := env.Personality.RegisterUser(ctx, personality.NewUser{ID: "ada", Name: "Ada", Email: "ada@test.test"})
	require.NoError(t, err)

	testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})
	_, err = env.Aggregator.Run(ctx, "ada", personality.TriggerExplicit)
	require.NoError(t, err)
	assert.Empty(t, env.Mail.SentMessages(), "first analysis is not a change")

	scorer.Scores = mediatorVector
	testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Mediator: 1})
	a, err := env.Aggregator.Run(ctx, "ada", personality.TriggerExplicit)
	require.NoError(t, err)
	assert.True(t, a.TypeChanged())

	sent := env.Mail.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "ada@test.test", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "from Leader to Mediator")
}
