package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
	emailsvc "github.com/Abeyoo/Final-ID8-sub001/services/email"
	inmemdb "github.com/Abeyoo/Final-ID8-sub001/storage/database/inmem"
)

// NewConfig returns the config used by tests: in-memory storage, fast retries, no sweeps.
func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.TestMode = true
	conf.Debug = false
	conf.Database.Engine = "inmem"
	conf.Server.DisableReqLogs = true
	conf.Analysis.JoinInFlight = true
	conf.Analysis.SweepInterval = 0
	conf.Analysis.RunTimeout = 10 * time.Second
	conf.Analysis.Retry = core.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
	return conf
}

// Env wires every service of the engine on top of an in-memory DB.
type Env struct {
	Conf        *core.Config
	DB          *inmemdb.DB
	SignalRepo  signal.Repository
	Repo        personality.Repository
	Signals     *signal.Service
	Aggregator  *personality.Aggregator
	Personality *personality.Service
	Sweeper     *personality.Sweeper
	Mail        *emailsvc.ConsoleService
	Registry    *prometheus.Registry
	Validate    *validator.Validate
	Translator  ut.Translator
}

// NewEnv builds an Env scoring with scorer. configure may tweak the config before wiring.
func NewEnv(t testing.TB, scorer personality.Scorer, configure ...func(conf *core.Config)) *Env {
	t.Helper()
	conf := NewConfig()
	for _, fn := range configure {
		fn(conf)
	}
	logger := core.NewNopLogger()

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	signal.InitValidators(validate, translator)
	core.ParseEmailTemplates(conf, logger)

	db := inmemdb.Open()
	signalRepo := inmemdb.NewSignalRepository(db)
	repo := inmemdb.NewPersonalityRepository(db)
	signalSvc := signal.NewService(conf, signalRepo, validate, translator, logger)

	if scorer == nil {
		scorer = personality.NewHeuristicScorer(conf)
	}
	reg := prometheus.NewRegistry()
	metrics := personality.MustNewMetrics(reg)
	mailSvc := emailsvc.NewConsoleServiceMock(conf)

	agg := personality.NewAggregator(conf, personality.AggregatorDeps{
		Repo:     repo,
		Signals:  signalSvc,
		Scorer:   scorer,
		Ranker:   personality.NewRanker(repo, metrics),
		Notifier: personality.NewNotifier(repo, mailSvc, logger),
		Metrics:  metrics,
		Logger:   logger,
	})

	return &Env{
		Conf:        conf,
		DB:          db,
		SignalRepo:  signalRepo,
		Repo:        repo,
		Signals:     signalSvc,
		Aggregator:  agg,
		Personality: personality.NewService(conf, repo, agg, validate, translator),
		Sweeper:     personality.NewSweeper(conf, agg, signalSvc, logger),
		Mail:        mailSvc,
		Registry:    reg,
		Validate:    validate,
		Translator:  translator,
	}
}

// AppendSignal stores one signal of userID, failing the test on error.
func AppendSignal(t testing.TB, svc signal.ServiceInterface, userID string, kind signal.Kind, payload signal.Payload) signal.Event {
	t.Helper()
	evt, err := svc.Append(context.Background(), signal.NewEvent{UserID: userID, Kind: kind, Payload: payload})
	if err != nil {
		t.Fatalf("AppendSignal() failed: %v", err)
	}
	return evt
}

// AppendTraits stores an assessment response carrying explicit trait weights.
func AppendTraits(t testing.TB, svc signal.ServiceInterface, userID string, traits map[personality.Type]float64) signal.Event {
	t.Helper()
	m := make(map[string]interface{}, len(traits))
	for typ, w := range traits {
		m[typ.String()] = w
	}
	return AppendSignal(t, svc, userID, signal.KindAssessmentResponse, signal.Payload{"traits": m})
}

// Vector builds a ScoreVector from type weights. Missing types score 0.
func Vector(weights map[personality.Type]float64) personality.ScoreVector {
	var v personality.ScoreVector
	for typ, w := range weights {
		v[typ] = w
	}
	return v
}

// FixedScorer always returns scores with the given confidence, and counts its calls.
type FixedScorer struct {
	Scores     personality.ScoreVector
	Confidence float64
	calls      int32
}

func (s *FixedScorer) Score(ctx context.Context, req personality.ScoreRequest) (personality.ScoreResult, error) {
	atomic.AddInt32(&s.calls, 1)
	if len(req.Signals) == 0 {
		return personality.ScoreResult{}, personality.ErrInsufficientSignal
	}
	return personality.ScoreResult{Scores: s.Scores, Confidence: s.Confidence, Reasoning: "fixed"}, nil
}

func (s *FixedScorer) Calls() int { return int(atomic.LoadInt32(&s.calls)) }

// FailingScorer fails its first Failures calls with Err, then delegates to Next.
type FailingScorer struct {
	Err      error
	Failures int
	Next     personality.Scorer

	mu    sync.Mutex
	calls int
}

func (s *FailingScorer) Score(ctx context.Context, req personality.ScoreRequest) (personality.ScoreResult, error) {
	s.mu.Lock()
	s.calls++
	fail := s.Failures < 0 || s.calls <= s.Failures
	s.mu.Unlock()

	if fail || s.Next == nil {
		return personality.ScoreResult{}, s.Err
	}
	return s.Next.Score(ctx, req)
}

func (s *FailingScorer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// BlockingScorer signals Started on its first call then waits for Release before delegating to Next.
type BlockingScorer struct {
	Next    personality.Scorer
	Started chan struct{}
	Release chan struct{}

	once  sync.Once
	calls int32
}

func NewBlockingScorer(next personality.Scorer) *BlockingScorer {
	return &BlockingScorer{
		Next:    next,
		Started: make(chan struct{}),
		Release: make(chan struct{}),
	}
}

func (s *BlockingScorer) Score(ctx context.Context, req personality.ScoreRequest) (personality.ScoreResult, error) {
	atomic.AddInt32(&s.calls, 1)
	s.once.Do(func() { close(s.Started) })
	select {
	case <-s.Release:
	case <-ctx.Done():
		return personality.ScoreResult{}, ctx.Err()
	}
	return s.Next.Score(ctx, req)
}

func (s *BlockingScorer) Calls() int { return int(atomic.LoadInt32(&s.calls)) }

// FailingRepository fails CommitAnalysis with Err and delegates everything else.
type FailingRepository struct {
	personality.Repository
	Err error
}

func (r FailingRepository) CommitAnalysis(context.Context, personality.Commit) error {
	return r.Err
}
