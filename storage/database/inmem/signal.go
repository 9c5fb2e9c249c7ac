package inmemdb

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
)

type signalRepository struct {
	db *DB
}

var _ signal.Repository = (*signalRepository)(nil) // interface compliance check

func NewSignalRepository(db *DB) signal.Repository {
	return &signalRepository{db: db}
}

func (repo *signalRepository) AppendEvent(ctx context.Context, evt signal.Event) (signal.Event, error) {
	if err := ctx.Err(); err != nil {
		return signal.Event{}, err
	}
	tbl := repo.db.signal
	tbl.Lock()
	defer tbl.Unlock()

	tbl.seq++
	evt.Seq = tbl.seq
	evt.Payload = copyPayload(evt.Payload)
	tbl.events = append(tbl.events, evt)
	return evt, nil
}

func (repo *signalRepository) QueryEventsAfter(ctx context.Context, userID string, afterSeq int64, limit int) ([]signal.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tbl := repo.db.signal
	tbl.RLock()
	defer tbl.RUnlock()

	// events are sorted by Seq
	start := sort.Search(len(tbl.events), func(i int) bool { return tbl.events[i].Seq > afterSeq })
	res := make([]signal.Event, 0)
	for _, evt := range tbl.events[start:] {
		if limit > 0 && len(res) >= limit {
			break
		}
		if evt.UserID == userID {
			evt.Payload = copyPayload(evt.Payload)
			res = append(res, evt)
		}
	}
	return res, nil
}

func (repo *signalRepository) QueryPendingUsers(ctx context.Context, afterUserID string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	repo.db.personality.RLock()
	defer repo.db.personality.RUnlock()
	tbl := repo.db.signal
	tbl.RLock()
	defer tbl.RUnlock()

	seen := make(map[string]bool)
	users := make([]string, 0)
	for _, evt := range tbl.events {
		if seen[evt.UserID] || evt.UserID <= afterUserID {
			continue
		}
		var wm int64
		if usr, ok := repo.db.personality.users[evt.UserID]; ok {
			wm = usr.Watermark.Seq
		}
		if evt.Seq > wm {
			seen[evt.UserID] = true
			users = append(users, evt.UserID)
		}
	}
	sort.Strings(users)
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// copyPayload deep copies p so that no nested object is shared between the table and its readers.
func copyPayload(p signal.Payload) signal.Payload {
	if p == nil {
		return nil
	}
	return signal.Payload(copyObject(p))
}

func copyObject(m map[string]interface{}) map[string]interface{} {
	res := make(map[string]interface{}, len(m))
	for k, v := range m {
		res[k] = copyValue(v)
	}
	return res
}

func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil, string, bool, float64, float32, int, int32, int64, json.Number:
		return val
	case map[string]interface{}:
		return copyObject(val)
	case signal.Payload:
		return copyPayload(val)
	case []interface{}:
		res := make([]interface{}, len(val))
		for i, item := range val {
			res[i] = copyValue(item)
		}
		return res
	}
	// any other Go value is stored the way it reads back from a JSON column
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var res interface{}
	if err = json.Unmarshal(raw, &res); err != nil {
		return v
	}
	return res
}
