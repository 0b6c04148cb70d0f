package structure

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"tradejournal/src/model"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candle(i int, open, high, low, close, volume float64) model.Candle {
	return model.Candle{
		Symbol:   "BTCUSDT",
		Datetime: t0.Add(time.Duration(i) * time.Hour),
		Open:     open,
		High:     high,
		Low:      low,
		Close:    close,
		Volume:   volume,
	}
}

func randomWalk(seed int64, n int) []model.Candle {
	r := rand.New(rand.NewSource(seed))
	out := make([]model.Candle, 0, n)
	price := 100.0
	for i := 0; i < n; i++ {
		open := price
		close := open * (1 + (r.Float64()-0.5)*0.04)
		high := math.Max(open, close) * (1 + r.Float64()*0.01)
		low := math.Min(open, close) * (1 - r.Float64()*0.01)
		out = append(out, candle(i, open, high, low, close, 100+r.Float64()*200))
		price = close
	}
	return out
}

func TestFairValueGapBullishFilled(t *testing.T) {
	candles := []model.Candle{
		candle(0, 95, 100, 94, 99, 10),
		candle(1, 99, 108, 98, 107, 10),
		candle(2, 107, 110, 105, 109, 10),
		candle(3, 109, 111, 102, 104, 10),
	}
	gaps := DetectFairValueGaps(candles)
	require.Len(t, gaps, 1)
	g := gaps[0]
	require.Equal(t, model.BiasBullish, g.Type)
	require.Equal(t, 100.0, g.GapLow)
	require.Equal(t, 105.0, g.GapHigh)
	require.Equal(t, 5.0, g.Size)
	require.Equal(t, candles[1].Datetime, g.Timestamp)
	require.True(t, g.IsFilled)
}

func TestFairValueGapUnfilledAndBearish(t *testing.T) {
	candles := []model.Candle{
		candle(0, 95, 100, 94, 99, 10),
		candle(1, 99, 108, 98, 107, 10),
		candle(2, 107, 110, 105, 109, 10),
		candle(3, 109, 112, 106, 111, 10),
		// bearish gap: candle 3 low 106 above candle 5 high 103
		candle(4, 111, 111, 100, 101, 10),
		candle(5, 101, 103, 96, 97, 10),
	}
	gaps := DetectFairValueGaps(candles)
	require.Len(t, gaps, 2)
	require.Equal(t, model.BiasBullish, gaps[0].Type)
	require.True(t, gaps[0].IsFilled) // candle 4 low 100 reaches 105
	require.Equal(t, model.BiasBearish, gaps[1].Type)
	require.Equal(t, 103.0, gaps[1].GapLow)
	require.Equal(t, 106.0, gaps[1].GapHigh)
	require.False(t, gaps[1].IsFilled)
}

func TestFairValueGapProperties(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		candles := randomWalk(seed, 200)
		gaps := DetectFairValueGaps(candles)
		require.LessOrEqual(t, len(gaps), MaxFairValueGaps)
		for _, g := range gaps {
			require.Greater(t, g.GapHigh, g.GapLow)
			idx := int(g.Timestamp.Sub(t0) / time.Hour)
			prev, next := candles[idx-1], candles[idx+1]
			filled := false
			if g.Type == model.BiasBullish {
				require.Equal(t, prev.High, g.GapLow)
				require.Equal(t, next.Low, g.GapHigh)
				for _, c := range candles[idx+2:] {
					if c.Low <= g.GapHigh {
						filled = true
					}
				}
			} else {
				for _, c := range candles[idx+2:] {
					if c.High >= g.GapLow {
						filled = true
					}
				}
			}
			require.Equal(t, filled, g.IsFilled)
		}
	}
}

func TestLiquidityLevelProperties(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		levels := DetectLiquidityLevels(randomWalk(seed, 200))
		require.LessOrEqual(t, len(levels), MaxLiquidityLevels)
		for i, l := range levels {
			require.GreaterOrEqual(t, l.Touches, MinTouches)
			require.Equal(t, math.Min(10, float64(l.Touches*2)), l.Strength)
			if i > 0 {
				require.GreaterOrEqual(t, levels[i-1].Strength, l.Strength)
			}
		}
	}
}

func TestLiquidityLevelRetestedHigh(t *testing.T) {
	var candles []model.Candle
	highs := []float64{101, 102, 110, 103, 102, 104, 109.9, 103, 102, 110.1, 104, 103}
	for i, h := range highs {
		candles = append(candles, candle(i, h-2, h, h-4, h-1, 10))
	}
	levels := DetectLiquidityLevels(candles)

	var resistance *model.LiquidityLevel
	for i := range levels {
		if levels[i].Type == model.LevelResistance {
			resistance = &levels[i]
			break
		}
	}
	require.NotNil(t, resistance)
	require.Equal(t, 110.0, resistance.Level)
	require.Equal(t, 2, resistance.Touches)
	require.Equal(t, 4.0, resistance.Strength)
}

func TestOrderBlockBullish(t *testing.T) {
	var candles []model.Candle
	// steady trend candles with body 1 and volume 100
	for i := 0; i < 13; i++ {
		base := 100 + float64(i)
		candles = append(candles, candle(i, base, base+1.2, base-0.2, base+1, 100))
	}
	// two indecisive candles
	candles = append(candles,
		candle(13, 113, 114, 112, 113.2, 100),
		candle(14, 113.2, 114.5, 112.5, 113, 100),
	)
	// impulse: body 5, volume 300
	candles = append(candles, candle(15, 113, 118.5, 112.8, 118, 300))
	// later candles stay above the block
	candles = append(candles, candle(16, 118, 119, 117, 118.5, 100))

	blocks := DetectOrderBlocks(candles)
	require.Len(t, blocks, 1)
	b := blocks[0]
	require.Equal(t, model.BiasBullish, b.Type)
	require.Equal(t, 114.5, b.High)
	require.Equal(t, 112.0, b.Low)
	require.Equal(t, candles[13].Datetime, b.Timestamp)
	require.True(t, b.IsActive)
	require.Equal(t, 10.0, b.Strength)

	// a later close below the block invalidates it
	candles = append(candles, candle(17, 118, 118, 110, 111, 100))
	blocks = DetectOrderBlocks(candles)
	require.Len(t, blocks, 1)
	require.False(t, blocks[0].IsActive)
}

func TestOrderBlockNeedsVolume(t *testing.T) {
	var candles []model.Candle
	for i := 0; i < 13; i++ {
		base := 100 + float64(i)
		candles = append(candles, candle(i, base, base+1.2, base-0.2, base+1, 100))
	}
	candles = append(candles,
		candle(13, 113, 114, 112, 113.2, 100),
		candle(14, 113.2, 114.5, 112.5, 113, 100),
		candle(15, 113, 118.5, 112.8, 118, 110),
	)
	require.Empty(t, DetectOrderBlocks(candles))
}

func TestOrderBlocksCapped(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		blocks := DetectOrderBlocks(randomWalk(seed, 400))
		require.LessOrEqual(t, len(blocks), MaxOrderBlocks)
		for _, b := range blocks {
			require.GreaterOrEqual(t, b.High, b.Low)
			require.LessOrEqual(t, b.Strength, MaxStrength)
		}
	}
}

func TestComputeBias(t *testing.T) {
	var candles []model.Candle
	for i := 0; i < 40; i++ {
		candles = append(candles, candle(i, 100, 110, 90, 100, 10))
	}
	bias, strength := ComputeBias(candles)
	require.Equal(t, model.BiasNeutral, bias)
	require.Equal(t, 0.0, strength)

	candles[39].Close = 108
	bias, strength = ComputeBias(candles)
	require.Equal(t, model.BiasBullish, bias)
	require.InDelta(t, 0.8, strength, 1e-9)

	candles[39].Close = 92
	bias, strength = ComputeBias(candles)
	require.Equal(t, model.BiasBearish, bias)
	require.InDelta(t, 0.8, strength, 1e-9)

	// candles outside the trailing 30 do not widen the range
	candles[0].High = 1000
	candles[39].Close = 108
	bias, _ = ComputeBias(candles)
	require.Equal(t, model.BiasBullish, bias)
}

func TestAnalyze(t *testing.T) {
	_, err := Analyze("BTCUSDT", model.Timeframe1h, nil, t0)
	require.ErrorIs(t, err, ErrNoCandles)

	candles := randomWalk(7, 200)
	// reversed input is sorted before detection
	reversed := make([]model.Candle, len(candles))
	for i, c := range candles {
		reversed[len(candles)-1-i] = c
	}
	at := t0.Add(300 * time.Hour)
	a, err := Analyze("BTCUSDT", model.Timeframe1h, candles, at)
	require.NoError(t, err)
	b, err := Analyze("BTCUSDT", model.Timeframe1h, reversed, at)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, 200, a.CandleCount)
	require.Equal(t, at, a.Timestamp)
	require.GreaterOrEqual(t, a.High, a.Low)
}

func TestScoreTrade(t *testing.T) {
	ms := &model.MarketStructure{
		Bias:         model.BiasBullish,
		BiasStrength: 0.5,
		OrderBlocks: []model.OrderBlock{
			{Type: model.BiasBullish, High: 101, Low: 99, IsActive: true},
		},
		LiquidityLevels: []model.LiquidityLevel{
			{Type: model.LevelSupport, Level: 100.2, Touches: 3, Strength: 6},
		},
		FvgZones: []model.FairValueGap{
			{Type: model.BiasBullish, GapLow: 99.5, GapHigh: 100.5},
		},
	}
	long := ScoreTrade("Buy", 100, ms)
	require.True(t, long.BiasAligned)
	require.True(t, long.InOrderBlock)
	require.True(t, long.NearLiquidity)
	require.True(t, long.InFairValueGap)
	require.Equal(t, 9.0, long.Total)

	short := ScoreTrade("Sell", 100, ms)
	require.False(t, short.BiasAligned)
	require.False(t, short.InOrderBlock)
	require.Equal(t, 0.0, short.Total)

	require.Equal(t, Score{}, ScoreTrade("Buy", 100, nil))
}
