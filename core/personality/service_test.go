package personality_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
	"github.com/Abeyoo/Final-ID8-sub001/tests"
)

func TestService(t *testing.T) {
	scorer := &testutil.FixedScorer{Scores: leaderVector, Confidence: .5}
	env := testutil.NewEnv(t, scorer)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	personality.NowFunc = func() time.Time {
		tick++
		return start.Add(time.Duration(tick) * time.Minute)
	}
	defer func() { personality.NowFunc = time.Now }()

	t.Run("never analyzed", func(t *testing.T) {
		_, err := env.Personality.GetProfile(ctx, "ada")
		assert.ErrorIs(t, err, personality.ErrNotAnalyzed)

		percentiles, err := env.Personality.GetPercentiles(ctx, "ada")
		require.NoError(t, err)
		assert.Empty(t, percentiles)

		history, err := env.Personality.GetHistory(ctx, "ada", nil)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})
	first, err := env.Personality.TriggerAnalysis(ctx, "ada")
	require.NoError(t, err)

	scorer.Confidence = .9
	testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})
	second, err := env.Personality.TriggerAnalysis(ctx, "ada")
	require.NoError(t, err)

	t.Run("profile is the latest analysis", func(t *testing.T) {
		prof, err := env.Personality.GetProfile(ctx, " ada ")
		require.NoError(t, err)
		usr, err := env.Repo.GetUser(ctx, "ada")
		require.NoError(t, err)
		assert.Equal(t, personality.NewProfile(usr, second), prof)
		assert.Equal(t, second.CreatedAt, prof.LastUpdated)
		assert.Equal(t, personality.Leader, prof.PersonalityType)
		assert.InDelta(t, .9, prof.Confidence, 1e-9)
	})

	t.Run("percentiles of every type", func(t *testing.T) {
		percentiles, err := env.Personality.GetPercentiles(ctx, "ada")
		require.NoError(t, err)
		require.Len(t, percentiles, len(personality.Types))
		for _, typ := range personality.Types {
			p := percentiles[typ]
			assert.Equal(t, typ, p.Type)
			assert.Equal(t, 50.0, p.Percentile)
			assert.Len(t, p.ScoreHistory, 2)
			assert.Equal(t, second.CreatedAt, p.LastCalculated)
		}
	})

	t.Run("history", func(t *testing.T) {
		tests := []struct {
			name     string
			ordering []core.DBOrdering
			want     []string
		}{
			{name: "newest first by default", want: []string{second.ID, first.ID}},
			{name: "oldest first", ordering: []core.DBOrdering{{Field: "createdAt", Ascending: true}}, want: []string{first.ID, second.ID}},
			{name: "by confidence", ordering: []core.DBOrdering{{Field: "confidence", Ascending: true}}, want: []string{first.ID, second.ID}},
			{name: "unknown field ignored", ordering: []core.DBOrdering{{Field: "reasoning", Ascending: true}}, want: []string{second.ID, first.ID}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				history, err := env.Personality.GetHistory(ctx, "ada", tt.ordering)
				require.NoError(t, err)
				ids := make([]string, 0, len(history))
				for _, a := range history {
					ids = append(ids, a.ID)
				}
				assert.Equal(t, tt.want, ids)
			})
		}
	})
}

func TestService_GetProfile_sharedStore(t *testing.T) {
	env := testutil.NewEnv(t, &testutil.FixedScorer{Scores: leaderVector, Confidence: .5})
	ctx := context.Background()

	_, err := env.Personality.RegisterUser(ctx, personality.NewUser{ID: "ada", Name: "Ada"})
	require.NoError(t, err)
	testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Leader: 1})
	first, err := env.Personality.TriggerAnalysis(ctx, "ada")
	require.NoError(t, err)

	prof, err := env.Personality.GetProfile(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, personality.Leader, prof.PersonalityType)
	assert.Equal(t, "Ada", prof.Name)

	// another process analyzing the same store, e.g. the admin CLI or a second replica
	other := personality.NewAggregator(env.Conf, personality.AggregatorDeps{
		Repo:    env.Repo,
		Signals: env.Signals,
		Scorer:  &testutil.FixedScorer{Scores: mediatorVector, Confidence: .7},
		Logger:  core.NewNopLogger(),
	})
	testutil.AppendTraits(t, env.Signals, "ada", map[personality.Type]float64{personality.Mediator: 1})
	second, err := other.Run(ctx, "ada", personality.TriggerExplicit)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	prof, err = env.Personality.GetProfile(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, personality.Mediator, prof.PersonalityType)
	assert.Equal(t, second.Scores, prof.PersonalityScores)
	assert.InDelta(t, .7, prof.Confidence, 1e-9)

	_, err = env.Personality.RegisterUser(ctx, personality.NewUser{ID: "ada", Name: "Ada Lovelace"})
	require.NoError(t, err)
	prof, err = env.Personality.GetProfile(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", prof.Name)
	assert.Equal(t, second.CreatedAt, prof.LastUpdated)
}

func TestService_RegisterUser(t *testing.T) {
	env := testutil.NewEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name       string
		nu         personality.NewUser
		wantFields []core.FieldError
		want       personality.User
	}{
		{
			name:       "no id",
			nu:         personality.NewUser{Name: "Ada"},
			wantFields: []core.FieldError{{Field: "id", Error: "this field is required"}},
		},
		{
			name:       "invalid email",
			nu:         personality.NewUser{ID: "ada", Email: "ada"},
			wantFields: []core.FieldError{{Field: "email", Error: "email must be a valid email address"}},
		},
		{
			name: "valid",
			nu:   personality.NewUser{ID: " ada ", Name: " Ada  Lovelace ", Email: "Ada@Test.test"},
			want: personality.User{ID: "ada", Name: "Ada  Lovelace", Email: "ada@test.test"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr, err := env.Personality.RegisterUser(ctx, tt.nu)
			if tt.wantFields != nil {
				var vErr *core.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.wantFields, vErr.Fields)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.ID, usr.ID)
			assert.Equal(t, tt.want.Name, usr.Name)
			assert.Equal(t, tt.want.Email, usr.Email)
			assert.False(t, usr.Analyzed())
		})
	}
}
