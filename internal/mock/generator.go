package mock

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/color-tally/backend/internal/counter"
	"github.com/color-tally/backend/internal/ws"
)

// Voter is the mutation path votes go through.
type Voter interface {
	Vote(c counter.Color) (ws.ColorUpdate, error)
}

type mockVoter struct {
	name     string
	pattern  string
	favorite counter.Color
	perTick  int
	cycle    []counter.Color
	cycleIdx int
}

const defaultTick = 500 * time.Millisecond

// MockGenerator casts fake votes so the UI has something to show without
// real clients.
type MockGenerator struct {
	voter  Voter
	log    zerolog.Logger
	rng    *rand.Rand
	tick   time.Duration
	voters []*mockVoter
}

func NewGenerator(voter Voter, log zerolog.Logger) *MockGenerator {
	return &MockGenerator{
		voter: voter,
		log:   log,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		tick:  defaultTick,
		voters: []*mockVoter{
			{name: "steady-red", pattern: "steady", favorite: counter.Red, perTick: 1},
			{name: "burst-blue", pattern: "burst", favorite: counter.Blue, perTick: 6},
			{name: "stall-green", pattern: "stall", favorite: counter.Green, perTick: 2},
			{name: "wave-purple", pattern: "wave", favorite: counter.Purple, perTick: 4},
			{name: "undecided", pattern: "cycle", perTick: 1,
				cycle: []counter.Color{counter.Purple, counter.Green, counter.Red, counter.Blue, counter.Green}},
			{name: "random", pattern: "random", perTick: 2},
		},
	}
}

// SetSeed makes the generated votes reproducible.
func (g *MockGenerator) SetSeed(seed int64) {
	g.rng = rand.New(rand.NewSource(seed))
}

// SetTick overrides the interval between rounds of votes.
func (g *MockGenerator) SetTick(d time.Duration) {
	if d > 0 {
		g.tick = d
	}
}

// Start runs the generator until ctx is done.
func (g *MockGenerator) Start(ctx context.Context) {
	g.log.Info().Int("voters", len(g.voters)).Dur("tick", g.tick).Msg("mock vote generator started")
	go g.run(ctx)
}

func (g *MockGenerator) run(ctx context.Context) {
	ticker := time.NewTicker(g.tick)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			g.round(tick)
		}
	}
}

// round casts one tick's worth of votes for every voter and returns how many
// were accepted.
func (g *MockGenerator) round(tick int) int {
	n := 0
	for _, mv := range g.voters {
		for _, c := range g.advance(mv, tick) {
			if _, err := g.voter.Vote(c); err != nil {
				g.log.Warn().Err(err).Str("voter", mv.name).Msg("mock vote rejected")
				continue
			}
			n++
		}
	}
	return n
}

func (g *MockGenerator) advance(mv *mockVoter, tick int) []counter.Color {
	switch mv.pattern {
	case "steady":
		return repeat(mv.favorite, mv.perTick)
	case "burst":
		// Quiet most of the time, then a flurry every fifth tick.
		if tick%5 == 0 {
			return repeat(mv.favorite, mv.perTick)
		}
		return nil
	case "stall":
		// Votes for ten ticks, then goes quiet for ten.
		if (tick/10)%2 == 0 {
			return repeat(mv.favorite, mv.perTick)
		}
		return nil
	case "wave":
		amp := (math.Sin(float64(tick)/4) + 1) / 2
		return repeat(mv.favorite, int(math.Round(amp*float64(mv.perTick))))
	case "cycle":
		c := mv.cycle[mv.cycleIdx%len(mv.cycle)]
		mv.cycleIdx++
		return repeat(c, mv.perTick)
	case "random":
		out := make([]counter.Color, 0, mv.perTick)
		for i := 0; i < mv.perTick; i++ {
			out = append(out, counter.Colors[g.rng.Intn(len(counter.Colors))])
		}
		return out
	}
	return nil
}

func repeat(c counter.Color, n int) []counter.Color {
	out := make([]counter.Color, n)
	for i := range out {
		out[i] = c
	}
	return out
}
