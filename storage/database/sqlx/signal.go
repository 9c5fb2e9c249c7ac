package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
)

var eventColumns = []string{"seq", "id", "user_id", "kind", "payload", "occurred_at", "created_at"}

type signalRepository struct {
	db core.DB
}

var _ signal.Repository = (*signalRepository)(nil) // interface compliance check

func NewSignalRepository(db core.DB) signal.Repository {
	return &signalRepository{db: db}
}

// AppendEvent inserts evt under a per-user advisory lock held until commit. Seq values are drawn
// while holding it, so the events of one user commit in Seq order and a reader never sees a
// committed Seq above one still in flight for the same user.
func (repo *signalRepository) AppendEvent(ctx context.Context, evt signal.Event) (_ signal.Event, err error) {
	q, args, err := psql.
		Insert("signal_events").
		Columns("id", "user_id", "kind", "payload", "occurred_at", "created_at").
		Values(evt.ID, evt.UserID, string(evt.Kind), evt.Payload, evt.Timestamp.UTC(), evt.CreatedAt.UTC()).
		Suffix("RETURNING seq").
		ToSql()
	if err != nil {
		return signal.Event{}, core.NewStorageError("append event", err)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return signal.Event{}, core.NewStorageError("append event", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", evt.UserID); err != nil {
		return signal.Event{}, core.NewStorageError("append event", err)
	}
	if err = tx.QueryRowxContext(ctx, q, args...).Scan(&evt.Seq); err != nil {
		return signal.Event{}, core.NewStorageError("append event", err)
	}
	if err = tx.Commit(); err != nil {
		return signal.Event{}, core.NewStorageError("append event", err)
	}
	return evt, nil
}

func (repo *signalRepository) QueryEventsAfter(ctx context.Context, userID string, afterSeq int64, limit int) ([]signal.Event, error) {
	qb := psql.
		Select(eventColumns...).
		From("signal_events").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Gt{"seq": afterSeq}).
		OrderBy("seq ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	q, args, err := qb.ToSql()
	if err != nil {
		return nil, core.NewStorageError("query events", err)
	}

	events := make([]signal.Event, 0)
	if err = repo.db.SelectContext(ctx, &events, q, args...); err != nil {
		return nil, core.NewStorageError("query events", err)
	}
	for i := range events {
		events[i].Timestamp = events[i].Timestamp.UTC()
		events[i].CreatedAt = events[i].CreatedAt.UTC()
	}
	return events, nil
}

func (repo *signalRepository) QueryPendingUsers(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	qb := psql.
		Select("DISTINCT e.user_id").
		From("signal_events e").
		LeftJoin("users u ON u.id = e.user_id").
		Where("e.seq > COALESCE(u.watermark_seq, 0)").
		Where(sq.Gt{"e.user_id": afterUserID}).
		OrderBy("e.user_id ASC")
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}
	q, args, err := qb.ToSql()
	if err != nil {
		return nil, core.NewStorageError("query pending users", err)
	}

	users := make([]string, 0)
	if err = repo.db.SelectContext(ctx, &users, q, args...); err != nil {
		return nil, core.NewStorageError("query pending users", err)
	}
	return users, nil
}
