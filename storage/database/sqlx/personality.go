package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
)

type userRow struct {
	ID                   string      `db:"id"`
	Name                 null.String `db:"name"`
	Email                null.String `db:"email"`
	PersonalityType      null.String `db:"personality_type"`
	PersonalityScores    null.JSON   `db:"personality_scores"`
	PersonalityUpdatedAt null.Time   `db:"personality_updated_at"`
	LatestAnalysisID     null.String `db:"latest_analysis_id"`
	WatermarkSeq         int64       `db:"watermark_seq"`
	WatermarkAt          null.Time   `db:"watermark_at"`
	CreatedAt            time.Time   `db:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at"`
}

func (row userRow) toUser() (personality.User, error) {
	usr := personality.User{
		ID:                   row.ID,
		Name:                 row.Name.String,
		Email:                row.Email.String,
		PersonalityUpdatedAt: row.PersonalityUpdatedAt.Time.UTC(),
		LatestAnalysisID:     row.LatestAnalysisID.String,
		Watermark:            signal.Watermark{Seq: row.WatermarkSeq, Timestamp: row.WatermarkAt.Time.UTC()},
		CreatedAt:            row.CreatedAt.UTC(),
		UpdatedAt:            row.UpdatedAt.UTC(),
	}
	if row.PersonalityType.Valid {
		t, err := personality.ParseType(row.PersonalityType.String)
		if err != nil {
			return personality.User{}, err
		}
		usr.PersonalityType = &t
	}
	if row.PersonalityScores.Valid {
		var scores personality.ScoreVector
		if err := row.PersonalityScores.Unmarshal(&scores); err != nil {
			return personality.User{}, err
		}
		usr.PersonalityScores = &scores
	}
	return usr, nil
}

type analysisRow struct {
	ID           string                  `db:"id"`
	UserID       string                  `db:"user_id"`
	Scores       personality.ScoreVector `db:"scores"`
	Confidence   float64                 `db:"confidence"`
	PreviousType null.String             `db:"previous_type"`
	NewType      string                  `db:"new_type"`
	Reasoning    string                  `db:"reasoning"`
	SignalCount  int                     `db:"signal_count"`
	WatermarkSeq int64                   `db:"watermark_seq"`
	WatermarkAt  null.Time               `db:"watermark_at"`
	Trigger      string                  `db:"run_trigger"`
	CreatedAt    time.Time               `db:"created_at"`
}

func (row analysisRow) toAnalysis() (personality.Analysis, error) {
	newType, err := personality.ParseType(row.NewType)
	if err != nil {
		return personality.Analysis{}, err
	}
	a := personality.Analysis{
		ID:          row.ID,
		UserID:      row.UserID,
		Scores:      row.Scores,
		Confidence:  row.Confidence,
		NewType:     newType,
		Reasoning:   row.Reasoning,
		SignalCount: row.SignalCount,
		Watermark:   signal.Watermark{Seq: row.WatermarkSeq, Timestamp: row.WatermarkAt.Time.UTC()},
		Trigger:     personality.Trigger(row.Trigger),
		CreatedAt:   row.CreatedAt.UTC(),
	}
	if row.PreviousType.Valid {
		prev, err := personality.ParseType(row.PreviousType.String)
		if err != nil {
			return personality.Analysis{}, err
		}
		a.PreviousType = &prev
	}
	return a, nil
}

type percentileRow struct {
	UserID         string    `db:"user_id"`
	Type           string    `db:"personality_type"`
	Percentile     float64   `db:"percentile"`
	LastCalculated time.Time `db:"last_calculated"`
}

type historyRow struct {
	Type       string    `db:"personality_type"`
	Score      float64   `db:"score"`
	Percentile float64   `db:"percentile"`
	RecordedAt time.Time `db:"recorded_at"`
}

var (
	userColumns = []string{
		"id", "name", "email", "personality_type", "personality_scores", "personality_updated_at",
		"latest_analysis_id", "watermark_seq", "watermark_at", "created_at", "updated_at",
	}
	analysisColumns = []string{
		"id", "user_id", "scores", "confidence", "previous_type", "new_type", "reasoning",
		"signal_count", "watermark_seq", "watermark_at", "run_trigger", "created_at",
	}
	analysisOrderings = map[string]string{
		"created_at": "created_at",
		"createdat":  "created_at",
		"confidence": "confidence",
	}
)

type personalityRepository struct {
	db core.DB
}

var _ personality.Repository = (*personalityRepository)(nil) // interface compliance check

func NewPersonalityRepository(db core.DB) personality.Repository {
	return &personalityRepository{db: db}
}

func (repo *personalityRepository) GetUser(ctx context.Context, userID string) (personality.User, error) {
	q, args, err := psql.Select(userColumns...).From("users").Where(sq.Eq{"id": userID}).ToSql()
	if err != nil {
		return personality.User{}, core.NewStorageError("get user", err)
	}
	var row userRow
	if err = repo.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return personality.User{}, personality.ErrUserNotFound
		}
		return personality.User{}, core.NewStorageError("get user", err)
	}
	return row.toUser()
}

func (repo *personalityRepository) SaveUser(ctx context.Context, usr personality.User) (personality.User, error) {
	q, args, err := psql.
		Insert("users").
		Columns("id", "name", "email", "created_at", "updated_at").
		Values(usr.ID, null.StringFrom(usr.Name), null.StringFrom(usr.Email), usr.CreatedAt.UTC(), usr.UpdatedAt.UTC()).
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return personality.User{}, core.NewStorageError("save user", err)
	}
	if _, err = repo.db.ExecContext(ctx, q, args...); err != nil {
		return personality.User{}, core.NewStorageError("save user", err)
	}
	return repo.GetUser(ctx, usr.ID)
}

func (repo *personalityRepository) LatestAnalysis(ctx context.Context, userID string) (personality.Analysis, error) {
	q, args, err := psql.
		Select(analysisColumns...).
		From("personality_analyses").
		Where("id = (SELECT latest_analysis_id FROM users WHERE id = ?)", userID).
		ToSql()
	if err != nil {
		return personality.Analysis{}, core.NewStorageError("latest analysis", err)
	}
	var row analysisRow
	if err = repo.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return personality.Analysis{}, personality.ErrNotAnalyzed
		}
		return personality.Analysis{}, core.NewStorageError("latest analysis", err)
	}
	return row.toAnalysis()
}

func (repo *personalityRepository) QueryAnalyses(ctx context.Context, userID string, ordering []core.DBOrdering) ([]personality.Analysis, error) {
	ordering = core.FilterOrderings(ordering, analysisOrderings)
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: "created_at"}}
	}
	qb := psql.Select(analysisColumns...).From("personality_analyses").Where(sq.Eq{"user_id": userID})
	for _, ord := range ordering {
		qb = qb.OrderBy(ord.String())
	}
	q, args, err := qb.ToSql()
	if err != nil {
		return nil, core.NewStorageError("query analyses", err)
	}

	var rows []analysisRow
	if err = repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, core.NewStorageError("query analyses", err)
	}
	analyses := make([]personality.Analysis, 0, len(rows))
	for _, row := range rows {
		a, err := row.toAnalysis()
		if err != nil {
			return nil, core.NewStorageError("query analyses", err)
		}
		analyses = append(analyses, a)
	}
	return analyses, nil
}

func (repo *personalityRepository) QueryPercentiles(ctx context.Context, userID string) ([]personality.Percentile, error) {
	q, args, err := psql.
		Select("user_id", "personality_type", "percentile", "last_calculated").
		From("personality_percentiles").
		Where(sq.Eq{"user_id": userID}).
		ToSql()
	if err != nil {
		return nil, core.NewStorageError("query percentiles", err)
	}
	var rows []percentileRow
	if err = repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, core.NewStorageError("query percentiles", err)
	}
	if len(rows) == 0 {
		return []personality.Percentile{}, nil
	}

	q, args, err = psql.
		Select("personality_type", "score", "percentile", "recorded_at").
		From("personality_score_history").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, core.NewStorageError("query percentiles", err)
	}
	var history []historyRow
	if err = repo.db.SelectContext(ctx, &history, q, args...); err != nil {
		return nil, core.NewStorageError("query percentiles", err)
	}

	byType := make(map[personality.Type]*personality.Percentile, len(rows))
	for _, row := range rows {
		t, err := personality.ParseType(row.Type)
		if err != nil {
			return nil, core.NewStorageError("query percentiles", err)
		}
		byType[t] = &personality.Percentile{
			UserID:         row.UserID,
			Type:           t,
			Percentile:     row.Percentile,
			ScoreHistory:   []personality.HistoryEntry{},
			LastCalculated: row.LastCalculated.UTC(),
		}
	}
	for _, h := range history {
		t, err := personality.ParseType(h.Type)
		if err != nil {
			return nil, core.NewStorageError("query percentiles", err)
		}
		if p, ok := byType[t]; ok {
			p.ScoreHistory = append(p.ScoreHistory, personality.HistoryEntry{
				Score:      h.Score,
				Percentile: h.Percentile,
				Timestamp:  h.RecordedAt.UTC(),
			})
		}
	}

	res := make([]personality.Percentile, 0, len(byType))
	for _, t := range personality.Types {
		if p, ok := byType[t]; ok {
			res = append(res, *p)
		}
	}
	return res, nil
}

func (repo *personalityRepository) ScoreDistribution(ctx context.Context, excludeUserID string) ([]personality.ScoreVector, error) {
	q, args, err := psql.
		Select("personality_scores").
		From("users").
		Where(sq.NotEq{"personality_scores": nil}).
		Where(sq.NotEq{"id": excludeUserID}).
		ToSql()
	if err != nil {
		return nil, core.NewStorageError("score distribution", err)
	}
	vectors := make([]personality.ScoreVector, 0)
	if err = repo.db.SelectContext(ctx, &vectors, q, args...); err != nil {
		return nil, core.NewStorageError("score distribution", err)
	}
	return vectors, nil
}

func nullType(t *personality.Type) null.String {
	if t == nil {
		return null.String{}
	}
	return null.StringFrom(t.String())
}

func (repo *personalityRepository) CommitAnalysis(ctx context.Context, c personality.Commit) (err error) {
	a := c.Analysis
	if a.ID == "" || a.UserID == "" {
		return core.NewStorageError("commit analysis", errors.New("analysis id and user id are required"))
	}
	if err = a.Scores.Validate(); err != nil {
		return core.NewStorageError("commit analysis", err)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.NewStorageError("commit analysis", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	createdAt := a.CreatedAt.UTC()
	if _, err = tx.ExecContext(ctx,
		"INSERT INTO users (id, created_at, updated_at) VALUES ($1, $2, $2) ON CONFLICT (id) DO NOTHING",
		a.UserID, createdAt,
	); err != nil {
		return core.NewStorageError("commit analysis", err)
	}

	// optimistic check against concurrent commits, the row stays locked until the end of tx
	var latestID null.String
	if err = tx.GetContext(ctx, &latestID, "SELECT latest_analysis_id FROM users WHERE id = $1 FOR UPDATE", a.UserID); err != nil {
		return core.NewStorageError("commit analysis", err)
	}
	if latestID.String != c.PreviousAnalysisID {
		err = personality.ErrStaleAnalysis
		return err
	}

	watermarkAt := null.NewTime(a.Watermark.Timestamp.UTC(), !a.Watermark.Timestamp.IsZero())
	q, args, err := psql.
		Insert("personality_analyses").
		Columns(analysisColumns...).
		Values(a.ID, a.UserID, a.Scores, a.Confidence, nullType(a.PreviousType), a.NewType.String(), a.Reasoning,
			a.SignalCount, a.Watermark.Seq, watermarkAt, string(a.Trigger), createdAt).
		ToSql()
	if err != nil {
		return core.NewStorageError("commit analysis", err)
	}
	if _, err = tx.ExecContext(ctx, q, args...); err != nil {
		return core.NewStorageError("commit analysis", err)
	}

	q, args, err = psql.
		Update("users").
		SetMap(map[string]interface{}{
			"personality_type":       a.NewType.String(),
			"personality_scores":     a.Scores,
			"personality_updated_at": createdAt,
			"latest_analysis_id":     a.ID,
			"watermark_seq":          a.Watermark.Seq,
			"watermark_at":           watermarkAt,
			"updated_at":             createdAt,
		}).
		Where(sq.Eq{"id": a.UserID}).
		ToSql()
	if err != nil {
		return core.NewStorageError("commit analysis", err)
	}
	if _, err = tx.ExecContext(ctx, q, args...); err != nil {
		return core.NewStorageError("commit analysis", err)
	}

	for _, upd := range c.Percentiles {
		at := upd.At.UTC()
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO personality_percentiles (user_id, personality_type, percentile, last_calculated)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, personality_type)
			DO UPDATE SET percentile = EXCLUDED.percentile, last_calculated = EXCLUDED.last_calculated`,
			a.UserID, upd.Type.String(), upd.Percentile, at,
		); err != nil {
			return core.NewStorageError("commit analysis", err)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO personality_score_history (user_id, personality_type, score, percentile, recorded_at)
			VALUES ($1, $2, $3, $4, $5)`,
			a.UserID, upd.Type.String(), upd.Score, upd.Percentile, at,
		); err != nil {
			return core.NewStorageError("commit analysis", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return core.NewStorageError("commit analysis", err)
	}
	return nil
}
