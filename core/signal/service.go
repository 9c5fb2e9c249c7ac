package signal

import (
	"context"
	"fmt"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"

	"github.com/Abeyoo/Final-ID8-sub001/core"
)

const defaultPageSize = 500

var (
	// errors
	ErrInvalidSignal = errors.New("invalid signal")

	NowFunc = time.Now // mockable
)

type (
	Repository interface {
		// AppendEvent durably stores evt and assigns its Seq.
		AppendEvent(ctx context.Context, evt Event) (Event, error)
		// QueryEventsAfter returns at most limit events of userID with Seq > afterSeq, in append order.
		QueryEventsAfter(ctx context.Context, userID string, afterSeq int64, limit int) ([]Event, error)
		// QueryPendingUsers returns, ordered by id, the users with an id greater than afterUserID
		// holding events past the watermark of their latest analysis.
		QueryPendingUsers(ctx context.Context, afterUserID string, limit int) ([]string, error)
	}

	ServiceInterface interface {
		Append(ctx context.Context, ne NewEvent) (Event, error)
		UnprocessedSince(userID string, since Watermark) *Cursor
		PendingUsers(ctx context.Context, afterUserID string, limit int) ([]string, error)
	}

	Service struct {
		repo       Repository
		validate   *validator.Validate
		translator ut.Translator
		logger     core.Logger
		pageSize   int
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(
	conf *core.Config,
	repo Repository,
	validate *validator.Validate,
	translator ut.Translator,
	logger core.Logger,
) *Service {
	pageSize := conf.Signal.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Service{
		repo:       repo,
		validate:   validate,
		translator: translator,
		logger:     logger,
		pageSize:   pageSize,
	}
}

// Append validates ne and durably stores it. Malformed events are rejected with ErrInvalidSignal.
func (svc *Service) Append(ctx context.Context, ne NewEvent) (Event, error) {
	if err := ne.Validate(svc.validate); err != nil {
		err = core.NewTranslatedValidationError(ErrInvalidSignal, err, svc.translator)
		svc.logger.Warn(fmt.Sprintf("rejected signal (user: %q, kind: %q)", ne.UserID, ne.Kind), err)
		return Event{}, err
	}

	now := NowFunc().UTC()
	evt := Event{
		ID:        ksuid.New().String(),
		UserID:    ne.UserID,
		Kind:      ne.Kind,
		Payload:   ne.Payload,
		Timestamp: ne.Timestamp.UTC(),
		CreatedAt: now,
	}
	if ne.Timestamp.IsZero() {
		evt.Timestamp = now
	}

	evt, err := svc.repo.AppendEvent(ctx, evt)
	if err != nil {
		return Event{}, errors.Wrap(err, "appending signal")
	}
	return evt, nil
}

// UnprocessedSince returns a lazy Cursor over the events of userID appended after since.
func (svc *Service) UnprocessedSince(userID string, since Watermark) *Cursor {
	return &Cursor{
		repo:     svc.repo,
		userID:   userID,
		start:    since,
		pos:      since,
		pageSize: svc.pageSize,
	}
}

// PendingUsers pages through the users holding unprocessed signals, by id. Pass the last id of
// the previous page as afterUserID to get the next one.
func (svc *Service) PendingUsers(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	users, err := svc.repo.QueryPendingUsers(ctx, afterUserID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying pending users")
	}
	return users, nil
}

// Cursor iterates over events in append order, fetching them page by page.
//
//	cur := svc.UnprocessedSince(userID, wm)
//	for cur.Next(ctx) {
//		evt := cur.Event()
//	}
//	if err := cur.Err(); err != nil {...}
type Cursor struct {
	repo     Repository
	userID   string
	start    Watermark
	pos      Watermark
	pageSize int

	page []Event
	idx  int
	done bool
	curr Event
	err  error
}

func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if c.idx < len(c.page) {
		c.curr = c.page[c.idx]
		c.idx++
		c.pos = c.curr.Watermark()
		return true
	}
	if c.done {
		return false
	}

	page, err := c.repo.QueryEventsAfter(ctx, c.userID, c.pos.Seq, c.pageSize)
	if err != nil {
		c.err = errors.Wrap(err, "querying signals")
		return false
	}
	if len(page) < c.pageSize {
		c.done = true
	}
	c.page, c.idx = page, 0
	if len(page) == 0 {
		return false
	}
	return c.Next(ctx)
}

func (c *Cursor) Event() Event { return c.curr }

func (c *Cursor) Err() error { return c.err }

// Position is the watermark of the last event returned by Next.
func (c *Cursor) Position() Watermark { return c.pos }

// Restart rewinds the cursor to its starting watermark.
func (c *Cursor) Restart() {
	c.pos = c.start
	c.page, c.idx = nil, 0
	c.done = false
	c.curr = Event{}
	c.err = nil
}

// Collect drains the cursor.
func (c *Cursor) Collect(ctx context.Context) ([]Event, error) {
	events := make([]Event, 0)
	for c.Next(ctx) {
		events = append(events, c.Event())
	}
	return events, c.Err()
}
