package personality

import (
	"context"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/Abeyoo/Final-ID8-sub001/core"
)

const defaultCacheSize = 1024

var errInvalidUser = errors.New("invalid user")

type (
	Repository interface {
		DistributionSource
		UserGetter

		// SaveUser creates the user or updates its name and email. Personality fields are left untouched.
		SaveUser(ctx context.Context, usr User) (User, error)
		// LatestAnalysis fails with ErrNotAnalyzed when the user has no analysis.
		LatestAnalysis(ctx context.Context, userID string) (Analysis, error)
		QueryAnalyses(ctx context.Context, userID string, ordering []core.DBOrdering) ([]Analysis, error)
		// QueryPercentiles returns the percentile rows of the user with their full history.
		QueryPercentiles(ctx context.Context, userID string) ([]Percentile, error)
		// CommitAnalysis writes the analysis, the user cache and every percentile atomically.
		// It fails with ErrStaleAnalysis when c.PreviousAnalysisID is no longer the latest analysis.
		CommitAnalysis(ctx context.Context, c Commit) error
	}

	ServiceInterface interface {
		GetProfile(ctx context.Context, userID string) (Profile, error)
		GetPercentiles(ctx context.Context, userID string) (map[Type]Percentile, error)
		GetHistory(ctx context.Context, userID string, ordering []core.DBOrdering) ([]Analysis, error)
		TriggerAnalysis(ctx context.Context, userID string) (Analysis, error)
		RegisterUser(ctx context.Context, nu NewUser) (User, error)
	}

	// Service is the query façade over the analyses of users.
	Service struct {
		repo       Repository
		agg        *Aggregator
		validate   *validator.Validate
		translator ut.Translator
		analyses   *lru.Cache[string, Analysis] // latest analysis by user, checked against users.latest_analysis_id
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(
	conf *core.Config,
	repo Repository,
	agg *Aggregator,
	validate *validator.Validate,
	translator ut.Translator,
) *Service {
	size := conf.Analysis.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	analyses, _ := lru.New[string, Analysis](size) // only fails on size <= 0

	svc := &Service{
		repo:       repo,
		agg:        agg,
		validate:   validate,
		translator: translator,
		analyses:   analyses,
	}
	agg.OnCommit(func(a Analysis) {
		svc.analyses.Add(a.UserID, a)
	})
	return svc
}

// GetProfile returns the latest profile of userID, or ErrNotAnalyzed.
// A cached analysis is served only while it is still the user's latest analysis.
func (svc *Service) GetProfile(ctx context.Context, userID string) (Profile, error) {
	userID = core.CleanString(userID)
	usr, err := svc.repo.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Profile{}, ErrNotAnalyzed
		}
		return Profile{}, errors.Wrap(err, "loading user")
	}
	if !usr.Analyzed() {
		return Profile{}, ErrNotAnalyzed
	}

	if a, ok := svc.analyses.Get(userID); ok && a.ID == usr.LatestAnalysisID {
		return NewProfile(usr, a), nil
	}
	a, err := svc.repo.LatestAnalysis(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotAnalyzed) {
			return Profile{}, ErrNotAnalyzed
		}
		return Profile{}, errors.Wrap(err, "loading latest analysis")
	}
	svc.analyses.Add(userID, a)
	return NewProfile(usr, a), nil
}

// GetPercentiles returns every ranked type of userID. Users never analyzed get an empty map.
func (svc *Service) GetPercentiles(ctx context.Context, userID string) (map[Type]Percentile, error) {
	rows, err := svc.repo.QueryPercentiles(ctx, core.CleanString(userID))
	if err != nil {
		return nil, errors.Wrap(err, "querying percentiles")
	}
	res := make(map[Type]Percentile, len(rows))
	for _, row := range rows {
		res[row.Type] = row
	}
	return res, nil
}

// GetHistory lists the analyses of userID, newest first unless ordering says otherwise.
func (svc *Service) GetHistory(ctx context.Context, userID string, ordering []core.DBOrdering) ([]Analysis, error) {
	analyses, err := svc.repo.QueryAnalyses(ctx, core.CleanString(userID), ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying analyses")
	}
	return analyses, nil
}

// TriggerAnalysis runs an explicit analysis of userID and waits for its outcome.
func (svc *Service) TriggerAnalysis(ctx context.Context, userID string) (Analysis, error) {
	return svc.agg.Run(ctx, userID, TriggerExplicit)
}

// RegisterUser stores the identity of a user, used to notify them.
func (svc *Service) RegisterUser(ctx context.Context, nu NewUser) (User, error) {
	if err := nu.Validate(svc.validate); err != nil {
		return User{}, core.NewTranslatedValidationError(errInvalidUser, err, svc.translator)
	}
	now := NowFunc().UTC()
	usr, err := svc.repo.SaveUser(ctx, User{
		ID:        nu.ID,
		Name:      nu.Name,
		Email:     nu.Email,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return User{}, errors.Wrap(err, "saving user")
	}
	return usr, nil
}
