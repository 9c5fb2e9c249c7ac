package signal_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
	"github.com/Abeyoo/Final-ID8-sub001/tests"
)

func TestService_Append(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	ctx := context.Background()

	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	signal.NowFunc = func() time.Time { return now }
	defer func() { signal.NowFunc = time.Now }()

	tests := []struct {
		name       string
		ne         signal.NewEvent
		wantFields []core.FieldError
		want       signal.Event
	}{
		{
			name: "missing user and kind",
			wantFields: []core.FieldError{
				{Field: "userId", Error: "this field is required"},
				{Field: "kind", Error: "this field is required"},
			},
		},
		{
			name:       "missing kind",
			ne:         signal.NewEvent{UserID: "ada"},
			wantFields: []core.FieldError{{Field: "kind", Error: "this field is required"}},
		},
		{
			name:       "blank user",
			ne:         signal.NewEvent{UserID: "   ", Kind: signal.KindAchievement},
			wantFields: []core.FieldError{{Field: "userId", Error: "this field is required"}},
		},
		{
			name: "unknown kind",
			ne:   signal.NewEvent{UserID: "ada", Kind: "mood"},
			wantFields: []core.FieldError{
				{Field: "kind", Error: "kind must be one of assessment-response, goal-action, team-action or achievement"},
			},
		},
		{
			name: "defaults",
			ne:   signal.NewEvent{UserID: " ada ", Kind: "Goal_Action"},
			want: signal.Event{Seq: 1, UserID: "ada", Kind: signal.KindGoalAction, Payload: signal.Payload{}, Timestamp: now, CreatedAt: now},
		},
		{
			name: "explicit timestamp",
			ne: signal.NewEvent{
				UserID:    "ada",
				Kind:      signal.KindTeamAction,
				Payload:   signal.Payload{"role": "lead"},
				Timestamp: time.Date(2026, 5, 4, 12, 0, 0, 0, time.FixedZone("WAT", 3600)),
			},
			want: signal.Event{
				Seq:       2,
				UserID:    "ada",
				Kind:      signal.KindTeamAction,
				Payload:   signal.Payload{"role": "lead"},
				Timestamp: time.Date(2026, 5, 4, 11, 0, 0, 0, time.UTC),
				CreatedAt: now,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := env.Signals.Append(ctx, tt.ne)
			if tt.wantFields != nil {
				assert.ErrorIs(t, err, signal.ErrInvalidSignal)
				var vErr *core.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.wantFields, vErr.Fields)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, evt.ID)
			tt.want.ID = evt.ID
			assert.Equal(t, tt.want, evt)
		})
	}

	// rejected events are not stored
	events, err := env.Signals.UnprocessedSince("ada", signal.Watermark{}).Collect(ctx)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestCursor(t *testing.T) {
	env := testutil.NewEnv(t, nil, func(conf *core.Config) { conf.Signal.PageSize = 2 })
	ctx := context.Background()

	var ada []signal.Event
	for i := 0; i < 5; i++ {
		ada = append(ada, testutil.AppendSignal(t, env.Signals, "ada", signal.KindAchievement, signal.Payload{"i": float64(i)}))
		testutil.AppendSignal(t, env.Signals, "bob", signal.KindAchievement, nil)
	}

	seqs := func(events []signal.Event) []int64 {
		res := make([]int64, 0, len(events))
		for _, evt := range events {
			res = append(res, evt.Seq)
		}
		return res
	}

	t.Run("append order across pages", func(t *testing.T) {
		cur := env.Signals.UnprocessedSince("ada", signal.Watermark{})
		var got []signal.Event
		for cur.Next(ctx) {
			got = append(got, cur.Event())
			assert.Equal(t, cur.Event().Watermark(), cur.Position())
		}
		require.NoError(t, cur.Err())
		assert.Equal(t, seqs(ada), seqs(got))
		for i, evt := range got {
			assert.Equal(t, "ada", evt.UserID)
			v, ok := evt.Payload.Float("i")
			require.True(t, ok)
			assert.Equal(t, float64(i), v)
		}
		assert.False(t, cur.Next(ctx), "exhausted cursor stays exhausted")
	})

	t.Run("since a watermark", func(t *testing.T) {
		events, err := env.Signals.UnprocessedSince("ada", ada[2].Watermark()).Collect(ctx)
		require.NoError(t, err)
		assert.Equal(t, seqs(ada[3:]), seqs(events))

		events, err = env.Signals.UnprocessedSince("ada", ada[4].Watermark()).Collect(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("restart", func(t *testing.T) {
		cur := env.Signals.UnprocessedSince("ada", ada[0].Watermark())
		require.True(t, cur.Next(ctx))
		require.True(t, cur.Next(ctx))
		assert.Equal(t, ada[2].Seq, cur.Event().Seq)

		cur.Restart()
		assert.Equal(t, ada[0].Watermark(), cur.Position())
		events, err := cur.Collect(ctx)
		require.NoError(t, err)
		assert.Equal(t, seqs(ada[1:]), seqs(events))
	})

	t.Run("sees events appended while iterating", func(t *testing.T) {
		cur := env.Signals.UnprocessedSince("bob", signal.Watermark{})
		n := 0
		for cur.Next(ctx) {
			n++
			if n == 1 {
				testutil.AppendSignal(t, env.Signals, "bob", signal.KindAchievement, nil)
			}
		}
		require.NoError(t, cur.Err())
		assert.Equal(t, 6, n)
	})

	t.Run("unknown user", func(t *testing.T) {
		events, err := env.Signals.UnprocessedSince("cyd", signal.Watermark{}).Collect(ctx)
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

type failingRepository struct {
	signal.Repository
	err error
}

func (r failingRepository) QueryEventsAfter(context.Context, string, int64, int) ([]signal.Event, error) {
	return nil, r.err
}

func TestCursor_error(t *testing.T) {
	errDB := errors.New("connection reset")
	conf := testutil.NewConfig()
	env := testutil.NewEnv(t, nil)
	svc := signal.NewService(conf, failingRepository{Repository: env.SignalRepo, err: errDB}, env.Validate, env.Translator, core.NewNopLogger())

	cur := svc.UnprocessedSince("ada", signal.Watermark{})
	assert.False(t, cur.Next(context.Background()))
	assert.ErrorIs(t, cur.Err(), errDB)

	_, err := svc.UnprocessedSince("ada", signal.Watermark{}).Collect(context.Background())
	assert.ErrorIs(t, err, errDB)
}

func TestService_PendingUsers(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	ctx := context.Background()

	for _, userID := range []string{"bob", "ada", "bob", "cyd"} {
		testutil.AppendTraits(t, env.Signals, userID, map[personality.Type]float64{personality.Leader: 1})
	}

	tests := []struct {
		name  string
		after string
		limit int
		want  []string
	}{
		{name: "all, by id", want: []string{"ada", "bob", "cyd"}},
		{name: "first page", limit: 2, want: []string{"ada", "bob"}},
		{name: "next page", after: "bob", limit: 2, want: []string{"cyd"}},
		{name: "past the end", after: "cyd", limit: 2, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := env.Signals.PendingUsers(ctx, tt.after, tt.limit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, users)
		})
	}

	_, err := env.Aggregator.Run(ctx, "bob", personality.TriggerExplicit)
	require.NoError(t, err)
	users, err := env.Signals.PendingUsers(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"ada", "cyd"}, users)
}
