package counter

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    Color
		wantErr bool
	}{
		{"red", Red, false},
		{"GREEN", Green, false},
		{"  Blue\n", Blue, false},
		{"purple", Purple, false},
		{"", "", true},
		{"orange", "", true},
		{"re d", "", true},
		{`{"color":"red"}`, "", true},
	}

	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidColor, "ParseColor(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "ParseColor(%q)", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestStore_IncrementReturnsNewValue(t *testing.T) {
	s := NewStore()

	v, err := s.Increment(Red)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	v, err = s.Increment(Red)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	assert.Equal(t, uint64(1), s.IncrementTotal())
	assert.Equal(t, uint64(2), s.IncrementTotal())
	assert.Equal(t, uint64(2), s.Get(Red))
	assert.Equal(t, uint64(0), s.Get(Blue))
}

func TestStore_InvalidColorDoesNotMutate(t *testing.T) {
	s := NewStore()
	s.Restore(Counts{Red: 3, Green: 1, Total: 4})

	_, err := s.Increment(Color("orange"))
	if !errors.Is(err, ErrInvalidColor) {
		t.Fatalf("expected ErrInvalidColor, got %v", err)
	}

	assert.Equal(t, Counts{Red: 3, Green: 1, Total: 4}, s.Snapshot())
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	const workers = 8
	const perWorker = 500

	s := NewStore()
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			color := Colors[w%len(Colors)]
			for i := 0; i < perWorker; i++ {
				if _, err := s.Increment(color); err != nil {
					t.Error(err)
					return
				}
				s.IncrementTotal()
			}
		}(w)
	}
	wg.Wait()

	snap := s.Snapshot()
	perColor := uint64(workers / len(Colors) * perWorker)
	for _, c := range Colors {
		assert.Equal(t, perColor, snap.Get(c), "color %s", c)
	}
	assert.Equal(t, uint64(workers*perWorker), snap.Total)
	assert.Equal(t, snap.Total, snap.Sum(), "total must equal the sum at quiescence")
}

func TestStore_RestoreOverwrites(t *testing.T) {
	s := NewStore()
	s.Increment(Purple)
	s.IncrementTotal()

	want := Counts{Red: 10, Green: 20, Blue: 30, Purple: 40, Total: 100}
	s.Restore(want)

	assert.Equal(t, want, s.Snapshot())
	assert.Equal(t, uint64(100), s.Total())

	v, err := s.Increment(Purple)
	require.NoError(t, err)
	assert.Equal(t, uint64(41), v)
}

func TestPresence_ConnectDisconnect(t *testing.T) {
	p := NewPresence()

	assert.Equal(t, int64(1), p.Connected())
	assert.Equal(t, int64(2), p.Connected())
	assert.Equal(t, uint64(2), p.Total())

	assert.Equal(t, int64(1), p.Disconnected())
	assert.Equal(t, int64(1), p.Concurrent())
	assert.Equal(t, uint64(2), p.Total(), "disconnect must not touch the cumulative count")
}

func TestPresence_RestoreTotal(t *testing.T) {
	p := NewPresence()
	p.RestoreTotal(41)

	p.Connected()
	assert.Equal(t, uint64(42), p.Total())
	assert.Equal(t, int64(1), p.Concurrent())
}
