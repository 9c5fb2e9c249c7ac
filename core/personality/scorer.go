package personality

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
)

type (
	ScoreRequest struct {
		UserID  string         `json:"userId"`
		Signals []signal.Event `json:"signals"`
		// Prior is the user's current vector, nil on first analysis.
		Prior *ScoreVector `json:"prior,omitempty"`
	}

	ScoreResult struct {
		Scores     ScoreVector `json:"scores"`
		Confidence float64     `json:"confidence"`
		Reasoning  string      `json:"reasoning"`
	}

	// Scorer turns a batch of signals into a score vector.
	// It fails with ErrScoringUnavailable (transient) or ErrInsufficientSignal (permanent for the run).
	Scorer interface {
		Score(ctx context.Context, req ScoreRequest) (ScoreResult, error)
	}

	ScorerFunc func(ctx context.Context, req ScoreRequest) (ScoreResult, error)
)

func (f ScorerFunc) Score(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
	return f(ctx, req)
}

const defaultSaturation = 8.0

var (
	// evidence per kind and keyword
	goalActionEvidence = map[string]map[Type]float64{
		"created":   {Innovator: .6, Explorer: .4},
		"completed": {Perfectionist: .6, Leader: .4},
		"shared":    {Collaborator: .7, Mediator: .3},
		"revised":   {Perfectionist: .5, Explorer: .5},
		"abandoned": {Explorer: .7, Innovator: .3},
		"delegated": {Leader: .7, Collaborator: .3},
	}
	teamActionEvidence = map[string]map[Type]float64{
		"lead":     {Leader: 1},
		"organize": {Leader: .6, Perfectionist: .4},
		"support":  {Collaborator: 1},
		"mediate":  {Mediator: 1},
		"resolve":  {Mediator: .7, Leader: .3},
		"ideate":   {Innovator: 1},
		"research": {Explorer: .7, Perfectionist: .3},
		"review":   {Perfectionist: 1},
	}
	achievementEvidence = map[string]map[Type]float64{
		"leadership": {Leader: 1},
		"creativity": {Innovator: 1},
		"innovation": {Innovator: 1},
		"teamwork":   {Collaborator: 1},
		"quality":    {Perfectionist: 1},
		"mastery":    {Perfectionist: .7, Explorer: .3},
		"discovery":  {Explorer: 1},
		"community":  {Mediator: .6, Collaborator: .4},
		"harmony":    {Mediator: 1},
	}
)

// HeuristicScorer is the default rule-based Scorer.
//
// Each signal contributes evidence through an explicit "traits" object ({"Leader": 0.8, ...})
// or through the keyword of its kind: "trait"/"value" for assessment responses,
// "action" for goal actions, "role" (or "action") for team actions and "category" for achievements.
// Evidence is normalized and blended with the prior vector.
type HeuristicScorer struct {
	PriorWeight float64
	// Saturation is the number of signals for which confidence reaches ~63%.
	Saturation float64
}

var _ Scorer = (*HeuristicScorer)(nil)

func NewHeuristicScorer(conf *core.Config) *HeuristicScorer {
	return &HeuristicScorer{
		PriorWeight: conf.Analysis.PriorWeight,
		Saturation:  defaultSaturation,
	}
}

func (s *HeuristicScorer) Score(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return ScoreResult{}, err
	}

	var evidence ScoreVector
	var used int
	for _, evt := range req.Signals {
		ev, ok := signalEvidence(evt)
		if !ok {
			continue
		}
		for _, t := range Types {
			evidence[t] += ev[t]
		}
		used++
	}
	if used == 0 || evidence.Sum() == 0 {
		return ScoreResult{}, ErrInsufficientSignal
	}

	scores := evidence.Normalize()
	if req.Prior != nil {
		scores = scores.Blend(*req.Prior, s.PriorWeight).Normalize()
	}

	saturation := s.Saturation
	if saturation <= 0 {
		saturation = defaultSaturation
	}
	confidence := core.Clamp01(1 - math.Exp(-float64(used)/saturation))

	return ScoreResult{
		Scores:     scores,
		Confidence: confidence,
		Reasoning:  reasoning(scores, used, len(req.Signals), req.Prior != nil),
	}, nil
}

// signalEvidence maps one signal to a vector of trait weights in [0,1].
func signalEvidence(evt signal.Event) (ScoreVector, bool) {
	var ev ScoreVector
	var found bool

	add := func(weights map[Type]float64) {
		for t, w := range weights {
			ev[t] += w
			found = true
		}
	}

	for name, raw := range evt.Payload.Map("traits") {
		t, err := ParseType(name)
		if err != nil {
			continue
		}
		if w, ok := raw.(float64); ok {
			ev[t] += core.Clamp01(w)
			found = true
		}
	}

	keyword := func(key string) string { return core.CleanString(evt.Payload.String(key), true /* lower */) }

	switch evt.Kind {
	case signal.KindAssessmentResponse:
		if t, err := ParseType(evt.Payload.String("trait")); err == nil {
			w, ok := evt.Payload.Float("value")
			if !ok {
				w = 1
			}
			ev[t] += core.Clamp01(w)
			found = true
		}
	case signal.KindGoalAction:
		add(goalActionEvidence[keyword("action")])
	case signal.KindTeamAction:
		role := keyword("role")
		if role == "" {
			role = keyword("action")
		}
		add(teamActionEvidence[role])
	case signal.KindAchievement:
		add(achievementEvidence[keyword("category")])
	}
	return ev, found && ev.Sum() > 0
}

func reasoning(scores ScoreVector, used, total int, hasPrior bool) string {
	ranked := make([]Type, len(Types))
	copy(ranked, Types[:])
	sort.SliceStable(ranked, func(i, j int) bool { return scores[ranked[i]] > scores[ranked[j]] })

	top := make([]string, 0, 2)
	for _, t := range ranked[:2] {
		top = append(top, fmt.Sprintf("%s (%.2f)", t, scores[t]))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Derived from %d of %d new signals", used, total)
	if hasPrior {
		b.WriteString(" blended with the previous profile")
	}
	fmt.Fprintf(&b, ". Strongest traits: %s.", strings.Join(top, ", "))
	return b.String()
}
