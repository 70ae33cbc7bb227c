package cycle

import (
	"github.com/orneryd/attend/pkg/bag"
)

// snapshotTop is how many items of each bag a snapshot lists.
const snapshotTop = 10

// ItemView is a read-only copy of one bag item.
type ItemView struct {
	Key        string  `json:"key"`
	Priority   float64 `json:"priority"`
	Durability float64 `json:"durability"`
	Quality    float64 `json:"quality"`
	Budget     string  `json:"budget"`
}

// Snapshot is the scheduler state published after each tick. It is
// immutable once published.
type Snapshot struct {
	Tick          int64      `json:"tick"`
	Concepts      bag.Stats  `json:"concepts"`
	Pending       bag.Stats  `json:"pending"`
	PriorityTotal float64    `json:"priority_total"`
	TopConcepts   []ItemView `json:"top_concepts"`
	TopPending    []ItemView `json:"top_pending"`
	Stats         Stats      `json:"stats"`
	Last          TickReport `json:"last"`
}

func (s *Scheduler) publish() {
	s.snapshot.Store(&Snapshot{
		Tick:          s.ticks,
		Concepts:      s.concepts.Stats(),
		Pending:       s.pending.Stats(),
		PriorityTotal: s.PriorityTotal(),
		TopConcepts:   views(s.concepts.SelectHighest(snapshotTop)),
		TopPending:    views(s.pending.SelectHighest(snapshotTop)),
		Stats:         s.stats,
		Last:          s.cur,
	})
}

func views[V bag.Item[string]](items []V) []ItemView {
	out := make([]ItemView, 0, len(items))
	for _, it := range items {
		b := it.Budget()
		out = append(out, ItemView{
			Key:        it.Key(),
			Priority:   b.Priority(),
			Durability: b.Durability(),
			Quality:    b.Quality(),
			Budget:     b.String(),
		})
	}
	return out
}
