package inmemdb

import (
	"sync"

	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
	"github.com/Abeyoo/Final-ID8-sub001/core/signal"
)

// Lock order: personality before signal.
type (
	DB struct {
		signal      *signalTable
		personality *personalityTable
	}

	signalTable struct {
		sync.RWMutex
		seq    int64
		events []signal.Event // append order
	}

	personalityTable struct {
		sync.RWMutex
		users       map[string]*personality.User
		analyses    map[string][]personality.Analysis // {userID: analyses by creation}
		percentiles map[string]map[personality.Type]*personality.Percentile
	}
)

func Open() *DB {
	return &DB{
		signal: &signalTable{},
		personality: &personalityTable{
			users:       make(map[string]*personality.User),
			analyses:    make(map[string][]personality.Analysis),
			percentiles: make(map[string]map[personality.Type]*personality.Percentile),
		},
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.personality.Lock()
	defer db.personality.Unlock()
	db.signal.Lock()
	defer db.signal.Unlock()

	db.signal.seq = 0
	db.signal.events = nil
	db.personality.users = make(map[string]*personality.User)
	db.personality.analyses = make(map[string][]personality.Analysis)
	db.personality.percentiles = make(map[string]map[personality.Type]*personality.Percentile)
}
