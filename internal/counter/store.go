package counter

import (
	"go.uber.org/atomic"
)

// Store holds the per-color vote counters and the running total.
//
// Every field is its own atomic cell; there is no lock spanning fields. An
// increment touches the color cell and then the total cell as two separate
// operations, so a concurrent Snapshot may observe total != sum(colors). Once
// in-flight increments settle the two agree again.
type Store struct {
	red    atomic.Uint64
	green  atomic.Uint64
	blue   atomic.Uint64
	purple atomic.Uint64
	total  atomic.Uint64
}

// Counts is a plain-value copy of a Store.
type Counts struct {
	Red    uint64 `json:"red"`
	Green  uint64 `json:"green"`
	Blue   uint64 `json:"blue"`
	Purple uint64 `json:"purple"`
	Total  uint64 `json:"total"`
}

// Get returns the count for c from a Counts copy.
func (c Counts) Get(color Color) uint64 {
	switch color {
	case Red:
		return c.Red
	case Green:
		return c.Green
	case Blue:
		return c.Blue
	case Purple:
		return c.Purple
	}
	return 0
}

// Sum adds up the per-color counts.
func (c Counts) Sum() uint64 {
	return c.Red + c.Green + c.Blue + c.Purple
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) cell(c Color) *atomic.Uint64 {
	switch c {
	case Red:
		return &s.red
	case Green:
		return &s.green
	case Blue:
		return &s.blue
	case Purple:
		return &s.purple
	}
	return nil
}

// Increment adds one to the counter for c and returns the new value.
// Colors outside the fixed set return ErrInvalidColor and mutate nothing.
func (s *Store) Increment(c Color) (uint64, error) {
	cell := s.cell(c)
	if cell == nil {
		return 0, ErrInvalidColor
	}
	return cell.Inc(), nil
}

// IncrementTotal adds one to the running total and returns the new value.
// Callers invoke it once per successful Increment.
func (s *Store) IncrementTotal() uint64 {
	return s.total.Inc()
}

// Get returns the current value of one color counter.
func (s *Store) Get(c Color) uint64 {
	cell := s.cell(c)
	if cell == nil {
		return 0
	}
	return cell.Load()
}

func (s *Store) Total() uint64 {
	return s.total.Load()
}

// Snapshot reads every cell. The read is not atomic across fields.
func (s *Store) Snapshot() Counts {
	return Counts{
		Red:    s.red.Load(),
		Green:  s.green.Load(),
		Blue:   s.blue.Load(),
		Purple: s.purple.Load(),
		Total:  s.total.Load(),
	}
}

// Restore overwrites every cell. Only used at startup, before any session
// exists, to seed the store from a persisted snapshot.
func (s *Store) Restore(c Counts) {
	s.red.Store(c.Red)
	s.green.Store(c.Green)
	s.blue.Store(c.Blue)
	s.purple.Store(c.Purple)
	s.total.Store(c.Total)
}
