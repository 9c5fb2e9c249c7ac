package personality

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/Abeyoo/Final-ID8-sub001/core"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
)

// Types
const (
	Leader Type = iota
	Innovator
	Collaborator
	Perfectionist
	Explorer
	Mediator

	numTypes
)

var (
	// Types lists every personality type in enumeration order.
	Types = [numTypes]Type{Leader, Innovator, Collaborator, Perfectionist, Explorer, Mediator}

	typeNames = [numTypes]string{"Leader", "Innovator", "Collaborator", "Perfectionist", "Explorer", "Mediator"}
)

// Type is one of the six personality types. The set is closed.
type Type int

func ParseType(s string) (Type, error) {
	s = core.CleanString(s)
	for i, name := range typeNames {
		if strings.EqualFold(name, s) {
			return Type(i), nil
		}
	}
	return 0, errors.Errorf("unknown personality type %q", s)
}

func (t Type) Valid() bool { return t >= 0 && t < numTypes }

func (t Type) String() string {
	if !t.Valid() {
		return "Unknown"
	}
	return typeNames[t]
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.Errorf("invalid personality type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	typ, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = typ
	return nil
}

// ScoreVector holds one score per Type, indexed by Type, so no type can be missing.
type ScoreVector [numTypes]float64

func (v ScoreVector) Get(t Type) float64 { return v[t] }

// Sum of all scores.
func (v ScoreVector) Sum() float64 {
	var sum float64
	for _, s := range v {
		sum += s
	}
	return sum
}

// Normalize clamps every score to [0,1] and rescales the vector to sum to 1.
// A vector without any positive score becomes uniform.
func (v ScoreVector) Normalize() ScoreVector {
	var res ScoreVector
	var sum float64
	for i, s := range v {
		if math.IsNaN(s) || math.IsInf(s, 0) || s < 0 {
			s = 0
		}
		res[i] = s
		sum += s
	}
	if sum == 0 {
		for i := range res {
			res[i] = 1 / float64(numTypes)
		}
		return res
	}
	for i := range res {
		res[i] = core.Clamp01(res[i] / sum)
	}
	return res
}

// Dominant returns the type with the highest score. Ties go to the earliest type.
func (v ScoreVector) Dominant() Type {
	best := Types[0]
	for _, t := range Types[1:] {
		if v[t] > v[best] {
			best = t
		}
	}
	return best
}

// Blend mixes prior into v: prior*weight + v*(1-weight).
func (v ScoreVector) Blend(prior ScoreVector, weight float64) ScoreVector {
	weight = core.Clamp01(weight)
	var res ScoreVector
	for i := range v {
		res[i] = prior[i]*weight + v[i]*(1-weight)
	}
	return res
}

// Validate reports scores outside of [0,1].
func (v ScoreVector) Validate() error {
	for _, t := range Types {
		if s := v[t]; math.IsNaN(s) || s < 0 || s > 1 {
			return errors.Errorf("score for %s out of range: %v", t, s)
		}
	}
	return nil
}

// Map returns the vector keyed by type name.
func (v ScoreVector) Map() map[string]float64 {
	m := make(map[string]float64, numTypes)
	for _, t := range Types {
		m[t.String()] = v[t]
	}
	return m
}

func (v ScoreVector) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Map())
}

// UnmarshalJSON requires every type to be present and rejects unknown ones.
func (v *ScoreVector) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var res ScoreVector
	seen := make(map[Type]bool, numTypes)
	for name, score := range m {
		t, err := ParseType(name)
		if err != nil {
			return err
		}
		res[t] = score
		seen[t] = true
	}
	for _, t := range Types {
		if !seen[t] {
			return errors.Errorf("missing score for %s", t)
		}
	}
	*v = res
	return nil
}

func (v ScoreVector) Value() (driver.Value, error) {
	return v.MarshalJSON()
}

func (v *ScoreVector) Scan(src interface{}) error {
	switch data := src.(type) {
	case nil:
		*v = ScoreVector{}
		return nil
	case []byte:
		return v.UnmarshalJSON(data)
	case string:
		return v.UnmarshalJSON([]byte(data))
	}
	return errors.Errorf("personality.ScoreVector: cannot scan %T", src)
}

// Trigger tells what started an analysis run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerExplicit  Trigger = "explicit"
)

// User is the owner of a profile. Its personality fields cache the latest Analysis.
type User struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	Email                string           `json:"email"`
	PersonalityType      *Type            `json:"personalityType"`
	PersonalityScores    *ScoreVector     `json:"personalityScores"`
	PersonalityUpdatedAt time.Time        `json:"personalityUpdatedAt"`
	LatestAnalysisID     string           `json:"-"`
	Watermark            signal.Watermark `json:"-"`
	CreatedAt            time.Time        `json:"createdAt"` // UTC
	UpdatedAt            time.Time        `json:"updatedAt"` // UTC
}

func (u User) Analyzed() bool { return u.PersonalityType != nil }

// NewUser contains the information the identity layer registers about a user.
type NewUser struct {
	ID    string `json:"id" validate:"required,userid"`
	Name  string `json:"name" validate:"max=200"`
	Email string `json:"email" validate:"omitempty,email"`
}

func (nu *NewUser) Validate(validate *validator.Validate) error {
	nu.ID = core.CleanString(nu.ID)
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	return validate.Struct(nu)
}

// Analysis is one immutable scoring outcome. Analyses are append-only.
type Analysis struct {
	ID           string           `json:"id"`
	UserID       string           `json:"userId"`
	Scores       ScoreVector      `json:"personalityScores"`
	Confidence   float64          `json:"confidence"`
	PreviousType *Type            `json:"previousType"`
	NewType      Type             `json:"newType"`
	Reasoning    string           `json:"reasoning"`
	SignalCount  int              `json:"signalCount"`
	Watermark    signal.Watermark `json:"watermark"`
	Trigger      Trigger          `json:"trigger"`
	CreatedAt    time.Time        `json:"createdAt"` // UTC
}

func (a Analysis) TypeChanged() bool {
	return a.PreviousType != nil && *a.PreviousType != a.NewType
}

// HistoryEntry is one point of a percentile's history. Entries are never rewritten.
type HistoryEntry struct {
	Score      float64   `json:"score"`
	Percentile float64   `json:"percentile"`
	Timestamp  time.Time `json:"timestamp"`
}

// Percentile is the standing of a user for one type.
type Percentile struct {
	UserID         string         `json:"-"`
	Type           Type           `json:"-"`
	Percentile     float64        `json:"percentile"`
	ScoreHistory   []HistoryEntry `json:"scoreHistory"`
	LastCalculated time.Time      `json:"lastCalculated"`
}

// PercentileUpdate is a freshly ranked score, persisted with the Analysis it belongs to.
type PercentileUpdate struct {
	Type       Type
	Score      float64
	Percentile float64
	At         time.Time
}

// Commit groups everything an analysis run writes.
type Commit struct {
	Analysis    Analysis
	Percentiles []PercentileUpdate
	// PreviousAnalysisID must still be the user's latest analysis for the commit to apply.
	PreviousAnalysisID string
}

// Profile is the read model served for a user: the latest analysis merged with the user's fields.
type Profile struct {
	UserID            string      `json:"userId"`
	Name              string      `json:"name,omitempty"`
	PersonalityType   Type        `json:"personalityType"`
	PersonalityScores ScoreVector `json:"personalityScores"`
	LastUpdated       time.Time   `json:"lastUpdated"`
	Confidence        float64     `json:"confidence"`
	Reasoning         string      `json:"reasoning"`
}

func NewProfile(usr User, a Analysis) Profile {
	updated := a.CreatedAt
	if usr.LatestAnalysisID == a.ID && !usr.PersonalityUpdatedAt.IsZero() {
		updated = usr.PersonalityUpdatedAt
	}
	return Profile{
		UserID:            a.UserID,
		Name:              usr.Name,
		PersonalityType:   a.NewType,
		PersonalityScores: a.Scores,
		LastUpdated:       updated,
		Confidence:        a.Confidence,
		Reasoning:         a.Reasoning,
	}
}
