package inmemdb_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
	inmemdb "github.com/Abeyoo/Final-ID8-sub001/storage/database/inmem"
)

func TestSignalRepository(t *testing.T) {
	db := inmemdb.Open()
	repo := inmemdb.NewSignalRepository(db)
	ctx := context.Background()

	payload := signal.Payload{"role": "lead"}
	var seqs []int64
	for _, usr := range []string{"u1", "u2", "u1"} {
		evt, err := repo.AppendEvent(ctx, signal.Event{ID: uuid.NewString(), UserID: usr, Kind: signal.KindTeamAction, Payload: payload})
		require.NoError(t, err)
		seqs = append(seqs, evt.Seq)
	}
	assert.Equal(t, []int64{1, 2, 3}, seqs)

	// stored payloads are isolated from callers
	payload["role"] = "support"

	events, err := repo.QueryEventsAfter(ctx, "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].Seq)
	assert.Equal(t, int64(3), events[1].Seq)
	assert.Equal(t, "lead", events[0].Payload.String("role"))
	events[0].Payload["role"] = "mediate"

	t.Run("nested payload objects are not shared", func(t *testing.T) {
		traits := map[string]interface{}{"Leader": 0.9}
		evt, err := repo.AppendEvent(ctx, signal.Event{
			ID: uuid.NewString(), UserID: "u3", Kind: signal.KindAssessmentResponse,
			Payload: signal.Payload{"traits": traits, "tags": []interface{}{"a", map[string]interface{}{"b": "c"}}},
		})
		require.NoError(t, err)
		traits["Leader"] = 0.1

		read := func() signal.Event {
			events, err := repo.QueryEventsAfter(ctx, "u3", 0, 0)
			require.NoError(t, err)
			require.Len(t, events, 1)
			return events[0]
		}
		got := read()
		assert.Equal(t, evt.Seq, got.Seq)
		assert.Equal(t, 0.9, got.Payload["traits"].(map[string]interface{})["Leader"])

		got.Payload["traits"].(map[string]interface{})["Leader"] = 0.5
		got.Payload["tags"].([]interface{})[1].(map[string]interface{})["b"] = "mutated"

		got = read()
		assert.Equal(t, 0.9, got.Payload["traits"].(map[string]interface{})["Leader"])
		assert.Equal(t, "c", got.Payload["tags"].([]interface{})[1].(map[string]interface{})["b"])
	})

	events, err = repo.QueryEventsAfter(ctx, "u1", 1, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(3), events[0].Seq)

	events, err = repo.QueryEventsAfter(ctx, "u1", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "lead", events[0].Payload.String("role"))

	users, err := repo.QueryPendingUsers(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, users)
	users, err = repo.QueryPendingUsers(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, users)

	db.Reset()
	users, err = repo.QueryPendingUsers(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, users)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = repo.AppendEvent(cctx, signal.Event{UserID: "u1", Kind: signal.KindAchievement})
	assert.ErrorIs(t, err, context.Canceled)
}

func commitFor(userID, previousID string, scores personality.ScoreVector, percentile float64, at time.Time) personality.Commit {
	ups := make([]personality.PercentileUpdate, 0, len(personality.Types))
	for _, typ := range personality.Types {
		ups = append(ups, personality.PercentileUpdate{Type: typ, Score: scores.Get(typ), Percentile: percentile, At: at})
	}
	return personality.Commit{
		Analysis: personality.Analysis{
			ID:          uuid.NewString(),
			UserID:      userID,
			Scores:      scores,
			Confidence:  .5,
			NewType:     scores.Dominant(),
			SignalCount: 1,
			Watermark:   signal.Watermark{Seq: 1, Timestamp: at},
			Trigger:     personality.TriggerExplicit,
			CreatedAt:   at,
		},
		Percentiles:        ups,
		PreviousAnalysisID: previousID,
	}
}

func TestPersonalityRepository(t *testing.T) {
	db := inmemdb.Open()
	repo := inmemdb.NewPersonalityRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	scores := personality.ScoreVector{.5, .1, .1, .1, .1, .1}

	_, err := repo.LatestAnalysis(ctx, "u1")
	assert.ErrorIs(t, err, personality.ErrNotAnalyzed)
	_, err = repo.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, personality.ErrUserNotFound)

	usr, err := repo.SaveUser(ctx, personality.User{ID: "u1", Name: "Ada", Email: "ada@test.test", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	assert.False(t, usr.Analyzed())

	t.Run("invalid commits write nothing", func(t *testing.T) {
		tests := []struct {
			name   string
			commit func() personality.Commit
		}{
			{name: "no id", commit: func() personality.Commit {
				c := commitFor("u1", "", scores, 50, now)
				c.Analysis.ID = ""
				return c
			}},
			{name: "score out of range", commit: func() personality.Commit {
				return commitFor("u1", "", personality.ScoreVector{1.5}, 50, now)
			}},
			{name: "percentile out of range", commit: func() personality.Commit {
				return commitFor("u1", "", scores, 101, now)
			}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := repo.CommitAnalysis(ctx, tt.commit())
				var sErr *core.StorageError
				assert.ErrorAs(t, err, &sErr)
			})
		}
		_, err := repo.LatestAnalysis(ctx, "u1")
		assert.ErrorIs(t, err, personality.ErrNotAnalyzed)
	})

	first := commitFor("u1", "", scores, 50, now)
	require.NoError(t, repo.CommitAnalysis(ctx, first))

	usr, err = repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.True(t, usr.Analyzed())
	assert.Equal(t, "Ada", usr.Name)
	assert.Equal(t, first.Analysis.ID, usr.LatestAnalysisID)

	// returned users are copies
	*usr.PersonalityType = personality.Mediator
	usr, err = repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, personality.Leader, *usr.PersonalityType)

	t.Run("stale commit writes nothing", func(t *testing.T) {
		err := repo.CommitAnalysis(ctx, commitFor("u1", "", scores, 10, now.Add(time.Second)))
		assert.ErrorIs(t, err, personality.ErrStaleAnalysis)

		analyses, err := repo.QueryAnalyses(ctx, "u1", nil)
		require.NoError(t, err)
		assert.Len(t, analyses, 1)
	})

	t.Run("saving the user keeps the profile cache", func(t *testing.T) {
		usr, err := repo.SaveUser(ctx, personality.User{ID: "u1", Name: "Ada L.", UpdatedAt: now})
		require.NoError(t, err)
		assert.Equal(t, "Ada L.", usr.Name)
		assert.True(t, usr.Analyzed())
	})

	second := commitFor("u1", first.Analysis.ID, scores, 75, now.Add(time.Minute))
	require.NoError(t, repo.CommitAnalysis(ctx, second))

	percentiles, err := repo.QueryPercentiles(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, percentiles, len(personality.Types))
	for i, p := range percentiles {
		assert.Equal(t, personality.Types[i], p.Type)
		assert.Equal(t, 75.0, p.Percentile)
		require.Len(t, p.ScoreHistory, 2)
		assert.Equal(t, 50.0, p.ScoreHistory[0].Percentile)
		assert.Equal(t, 75.0, p.ScoreHistory[1].Percentile)
	}

	analyses, err := repo.QueryAnalyses(ctx, "u1", nil)
	require.NoError(t, err)
	require.Len(t, analyses, 2)
	assert.Equal(t, second.Analysis.ID, analyses[0].ID)

	dist, err := repo.ScoreDistribution(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, []personality.ScoreVector{scores}, dist)
	dist, err = repo.ScoreDistribution(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, dist)
}
