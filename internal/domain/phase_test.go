package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseAt_Boundaries(t *testing.T) {
	g := DefaultGameConfig()
	cases := []struct {
		elapsed int64
		want    Phase
		open    bool
	}{
		{0, PhaseBetting, true},
		{34, PhaseBetting, true},
		{35, PhaseBetting, false},
		{39, PhaseBetting, false},
		{40, PhaseRacing, false},
		{79, PhaseRacing, false},
		{80, PhaseSettlement, false},
		{89, PhaseSettlement, false},
		{90, PhaseFinished, false},
		{500, PhaseFinished, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, g.PhaseAt(c.elapsed), "elapsed=%d", c.elapsed)
		assert.Equal(t, c.open, g.BettingOpen(c.elapsed), "elapsed=%d", c.elapsed)
	}
}

func TestPhaseAt_Monotonic(t *testing.T) {
	g := DefaultGameConfig()
	prev := g.PhaseAt(0)
	for e := int64(1); e <= 200; e++ {
		p := g.PhaseAt(e)
		assert.GreaterOrEqual(t, int(p), int(prev), "phase went back at elapsed=%d", e)
		prev = p
	}
}

func TestPhaseEndsIn(t *testing.T) {
	g := DefaultGameConfig()
	assert.Equal(t, int64(35), g.PhaseEndsIn(0))
	assert.Equal(t, int64(5), g.PhaseEndsIn(35))
	assert.Equal(t, int64(40), g.PhaseEndsIn(40))
	assert.Equal(t, int64(1), g.PhaseEndsIn(89))
	assert.Equal(t, int64(0), g.PhaseEndsIn(90))
}

func TestPhase_TextRoundTrip(t *testing.T) {
	b, err := PhaseSettlement.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Settlement", string(b))

	var p Phase
	require.NoError(t, p.UnmarshalText([]byte("Racing")))
	assert.Equal(t, PhaseRacing, p)
	assert.Error(t, p.UnmarshalText([]byte("Parade")))
}

func TestGameConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultGameConfig().Validate())

	g := DefaultGameConfig()
	g.RacingStart = 30 // antes del cierre de apuestas
	assert.Error(t, g.Validate())

	g = DefaultGameConfig()
	g.MaxBet = d("0.0001")
	assert.Error(t, g.Validate())

	g = DefaultGameConfig()
	g.MinSpeed = 0
	assert.Error(t, g.Validate())
}

func TestNewRoundView(t *testing.T) {
	g := DefaultGameConfig()
	r := Round{ID: 3, StartTime: 1000}

	v := NewRoundView(r, 1040, 1042, g)
	assert.True(t, v.Exists)
	assert.Equal(t, int64(42), v.Elapsed)
	assert.Equal(t, PhaseRacing, v.Phase)
	assert.False(t, v.BettingOpen)
	assert.Equal(t, int64(48), v.Remaining)
	assert.Equal(t, int64(38), v.PhaseEndsIn)

	v = NewRoundView(r, 1080, 1200, g)
	assert.Equal(t, PhaseFinished, v.Phase)
	assert.Equal(t, int64(0), v.Remaining)
}

func TestPositions_Leader_TieGoesToLowestIndex(t *testing.T) {
	assert.Equal(t, HorseETH, Positions{9000, 9500, 9500, 100}.Leader())
	assert.Equal(t, HorseBTC, Positions{10000, 10000, 10000, 10000}.Leader())
	assert.Equal(t, HorseDOGE, Positions{1, 2, 3, 4}.Leader())
}

func TestParseHorse(t *testing.T) {
	h, err := ParseHorse("MONAD")
	require.NoError(t, err)
	assert.Equal(t, HorseMONAD, h)

	h, err = ParseHorse("3")
	require.NoError(t, err)
	assert.Equal(t, HorseDOGE, h)

	_, err = ParseHorse("4")
	assert.ErrorIs(t, err, ErrInvalidHorse)
	_, err = ParseHorse("SOL")
	assert.ErrorIs(t, err, ErrInvalidHorse)
}
