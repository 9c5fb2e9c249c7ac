package signal

import (
	"database/sql/driver"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/Abeyoo/Final-ID8-sub001/core"
)

// Kinds
const (
	KindAssessmentResponse Kind = "assessment-response"
	KindGoalAction         Kind = "goal-action"
	KindTeamAction         Kind = "team-action"
	KindAchievement        Kind = "achievement"
)

var AllKinds = []Kind{KindAssessmentResponse, KindGoalAction, KindTeamAction, KindAchievement}

type Kind string

func (k Kind) Valid() bool {
	for _, kind := range AllKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Payload is the free-form body of an Event, stored as a JSON object.
type Payload map[string]interface{}

func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

func (p *Payload) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.Errorf("signal.Payload: cannot scan %T", src)
	}
	return json.Unmarshal(data, p)
}

// String returns the payload value for key when it is a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Float returns the payload value for key when it is a number.
func (p Payload) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// Map returns the payload value for key when it is a JSON object.
func (p Payload) Map(key string) map[string]interface{} {
	m, _ := p[key].(map[string]interface{})
	return m
}

// Event is an immutable behavioral observation about a user.
type Event struct {
	ID        string    `json:"id" db:"id"`
	Seq       int64     `json:"seq" db:"seq"` // append order, assigned by the store
	UserID    string    `json:"userId" db:"user_id"`
	Kind      Kind      `json:"kind" db:"kind"`
	Payload   Payload   `json:"payload" db:"payload"`
	Timestamp time.Time `json:"timestamp" db:"occurred_at"` // UTC
	CreatedAt time.Time `json:"createdAt" db:"created_at"`  // UTC
}

func (e Event) Watermark() Watermark {
	return Watermark{Seq: e.Seq, Timestamp: e.Timestamp}
}

// Watermark marks the last Event consumed by an analysis.
// The zero Watermark precedes every Event.
type Watermark struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
}

func (w Watermark) IsZero() bool { return w.Seq == 0 }

// NewEvent contains information needed to append a new Event.
type NewEvent struct {
	UserID    string    `json:"userId" validate:"required,userid"`
	Kind      Kind      `json:"kind" validate:"required,signal_kind"`
	Payload   Payload   `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

func (ne *NewEvent) Validate(validate *validator.Validate) error {
	ne.UserID = core.CleanString(ne.UserID)
	ne.Kind = normalizeKind(Kind(core.CleanString(string(ne.Kind), true /* lower */)))
	if ne.Payload == nil {
		ne.Payload = Payload{}
	}
	return validate.Struct(ne)
}

// normalizeKind accepts the underscore spelling of kinds as well.
func normalizeKind(k Kind) Kind {
	return Kind(strings.ReplaceAll(string(k), "_", "-"))
}
