package inmemdb

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
)

type personalityRepository struct {
	db *personalityTable
}

var _ personality.Repository = (*personalityRepository)(nil) // interface compliance check

func NewPersonalityRepository(db *DB) personality.Repository {
	return &personalityRepository{db: db.personality}
}

func copyUser(usr *personality.User) personality.User {
	res := *usr
	if usr.PersonalityType != nil {
		t := *usr.PersonalityType
		res.PersonalityType = &t
	}
	if usr.PersonalityScores != nil {
		s := *usr.PersonalityScores
		res.PersonalityScores = &s
	}
	return res
}

func copyPercentile(p *personality.Percentile) personality.Percentile {
	res := *p
	res.ScoreHistory = make([]personality.HistoryEntry, len(p.ScoreHistory))
	copy(res.ScoreHistory, p.ScoreHistory)
	return res
}

func (repo *personalityRepository) GetUser(ctx context.Context, userID string) (personality.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if usr, ok := repo.db.users[userID]; ok {
		return copyUser(usr), nil
	}
	return personality.User{}, personality.ErrUserNotFound
}

func (repo *personalityRepository) SaveUser(ctx context.Context, usr personality.User) (personality.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	existing, ok := repo.db.users[usr.ID]
	if !ok {
		u := personality.User{ID: usr.ID, CreatedAt: usr.CreatedAt}
		existing = &u
		repo.db.users[usr.ID] = existing
	}
	existing.Name = usr.Name
	existing.Email = usr.Email
	existing.UpdatedAt = usr.UpdatedAt
	return copyUser(existing), nil
}

func (repo *personalityRepository) LatestAnalysis(ctx context.Context, userID string) (personality.Analysis, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	analyses := repo.db.analyses[userID]
	if len(analyses) == 0 {
		return personality.Analysis{}, personality.ErrNotAnalyzed
	}
	return analyses[len(analyses)-1], nil
}

var analysisOrderings = map[string]string{
	"created_at": "created_at",
	"createdat":  "created_at",
	"confidence": "confidence",
}

func (repo *personalityRepository) QueryAnalyses(ctx context.Context, userID string, ordering []core.DBOrdering) ([]personality.Analysis, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	stored := repo.db.analyses[userID]
	analyses := make([]personality.Analysis, len(stored))
	copy(analyses, stored)

	ordering = core.FilterOrderings(ordering, analysisOrderings)
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	sort.SliceStable(analyses, func(i, j int) bool {
		for _, ord := range ordering {
			var less, greater bool
			switch ord.Field {
			case "confidence":
				less, greater = analyses[i].Confidence < analyses[j].Confidence, analyses[i].Confidence > analyses[j].Confidence
			default:
				less, greater = analyses[i].CreatedAt.Before(analyses[j].CreatedAt), analyses[i].CreatedAt.After(analyses[j].CreatedAt)
			}
			if less || greater {
				return less == ord.Ascending
			}
		}
		return false
	})
	return analyses, nil
}

func (repo *personalityRepository) QueryPercentiles(ctx context.Context, userID string) ([]personality.Percentile, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	rows := repo.db.percentiles[userID]
	res := make([]personality.Percentile, 0, len(rows))
	for _, t := range personality.Types {
		if p, ok := rows[t]; ok {
			res = append(res, copyPercentile(p))
		}
	}
	return res, nil
}

func (repo *personalityRepository) ScoreDistribution(ctx context.Context, excludeUserID string) ([]personality.ScoreVector, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	vectors := make([]personality.ScoreVector, 0, len(repo.db.users))
	for id, usr := range repo.db.users {
		if id == excludeUserID || usr.PersonalityScores == nil {
			continue
		}
		vectors = append(vectors, *usr.PersonalityScores)
	}
	return vectors, nil
}

func (repo *personalityRepository) CommitAnalysis(ctx context.Context, c personality.Commit) error {
	a := c.Analysis
	if a.ID == "" || a.UserID == "" {
		return core.NewStorageError("commit analysis", errors.New("analysis id and user id are required"))
	}
	if err := a.Scores.Validate(); err != nil {
		return core.NewStorageError("commit analysis", err)
	}
	for _, upd := range c.Percentiles {
		if !upd.Type.Valid() || upd.Percentile < 0 || upd.Percentile > 100 {
			return core.NewStorageError("commit analysis", errors.Errorf("invalid percentile %+v", upd))
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	repo.db.Lock()
	defer repo.db.Unlock()

	// optimistic check against concurrent commits
	var latestID string
	if analyses := repo.db.analyses[a.UserID]; len(analyses) > 0 {
		latestID = analyses[len(analyses)-1].ID
	}
	if latestID != c.PreviousAnalysisID {
		return personality.ErrStaleAnalysis
	}

	// nothing can fail past this point
	repo.db.analyses[a.UserID] = append(repo.db.analyses[a.UserID], a)

	usr, ok := repo.db.users[a.UserID]
	if !ok {
		usr = &personality.User{ID: a.UserID, CreatedAt: a.CreatedAt}
		repo.db.users[a.UserID] = usr
	}
	typ, scores := a.NewType, a.Scores
	usr.PersonalityType = &typ
	usr.PersonalityScores = &scores
	usr.PersonalityUpdatedAt = a.CreatedAt
	usr.LatestAnalysisID = a.ID
	usr.Watermark = a.Watermark
	usr.UpdatedAt = a.CreatedAt

	rows, ok := repo.db.percentiles[a.UserID]
	if !ok {
		rows = make(map[personality.Type]*personality.Percentile, len(personality.Types))
		repo.db.percentiles[a.UserID] = rows
	}
	for _, upd := range c.Percentiles {
		row, ok := rows[upd.Type]
		if !ok {
			row = &personality.Percentile{UserID: a.UserID, Type: upd.Type}
			rows[upd.Type] = row
		}
		row.Percentile = upd.Percentile
		row.LastCalculated = upd.At
		row.ScoreHistory = append(row.ScoreHistory, personality.HistoryEntry{
			Score:      upd.Score,
			Percentile: upd.Percentile,
			Timestamp:  upd.At,
		})
	}
	return nil
}
