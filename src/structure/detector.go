package structure

import (
	"errors"
	"math"
	"sort"
	"time"

	"tradejournal/src/model"
	"tradejournal/src/utils"
)

const (
	OrderBlockLookback   = 15
	ImpulseBodyFactor    = 1.5
	ImpulseVolumeFactor  = 1.2
	IndecisiveBodyRatio  = 0.6
	MinIndecisiveCandles = 2
	MaxOrderBlocks       = 10
	ExtremeRadius        = 2
	TouchTolerance       = 0.002
	MinTouches           = 2
	MaxLiquidityLevels   = 8
	MaxFairValueGaps     = 6
	BiasWindow           = 30
	BullishBiasThreshold = 0.7
	BearishBiasThreshold = 0.3
	MaxStrength          = 10.0
)

var ErrNoCandles = errors.New("structure: empty candle window")

func indecisive(c model.Candle) bool {
	r := c.Range()
	if r <= 0 {
		return true
	}
	return c.Body()/r < IndecisiveBodyRatio
}

func averages(window []model.Candle) (body, volume float64) {
	if len(window) == 0 {
		return 0, 0
	}
	for _, c := range window {
		body += c.Body()
		volume += c.Volume
	}
	n := float64(len(window))
	return body / n, volume / n
}

// DetectOrderBlocks finds consolidation zones of at least two indecisive
// candles directly followed by an impulsive candle. A block stays active until
// a later close goes through it against its direction.
func DetectOrderBlocks(candles []model.Candle) []model.OrderBlock {
	var blocks []model.OrderBlock
	for i := OrderBlockLookback; i < len(candles); i++ {
		c := candles[i]
		avgBody, avgVol := averages(candles[i-OrderBlockLookback : i])
		if avgBody <= 0 || c.Body() <= ImpulseBodyFactor*avgBody || c.Volume <= ImpulseVolumeFactor*avgVol {
			continue
		}
		if !c.IsBullish() && !c.IsBearish() {
			continue
		}

		count := 0
		high, low := math.Inf(-1), math.Inf(1)
		var start time.Time
		for j := i - 1; j >= i-OrderBlockLookback && indecisive(candles[j]); j-- {
			count++
			high = math.Max(high, candles[j].High)
			low = math.Min(low, candles[j].Low)
			start = candles[j].Datetime
		}
		if count < MinIndecisiveCandles {
			continue
		}

		block := model.OrderBlock{
			Type:      model.BiasBullish,
			High:      high,
			Low:       low,
			Timestamp: start,
			Strength:  math.Min(MaxStrength, c.Body()/avgBody*2),
			IsActive:  true,
		}
		if c.IsBearish() {
			block.Type = model.BiasBearish
		}
		for _, later := range candles[i+1:] {
			if (block.Type == model.BiasBullish && later.Close < block.Low) ||
				(block.Type == model.BiasBearish && later.Close > block.High) {
				block.IsActive = false
				break
			}
		}
		blocks = append(blocks, block)
	}

	if len(blocks) > MaxOrderBlocks {
		blocks = blocks[len(blocks)-MaxOrderBlocks:]
	}
	return blocks
}

func isLocalHigh(candles []model.Candle, i int) bool {
	for j := i - ExtremeRadius; j <= i+ExtremeRadius; j++ {
		if j == i {
			continue
		}
		if candles[j].High > candles[i].High {
			return false
		}
	}
	return true
}

func isLocalLow(candles []model.Candle, i int) bool {
	for j := i - ExtremeRadius; j <= i+ExtremeRadius; j++ {
		if j == i {
			continue
		}
		if candles[j].Low < candles[i].Low {
			return false
		}
	}
	return true
}

func touches(level float64, later []model.Candle, price func(model.Candle) float64) int {
	band := level * TouchTolerance
	n := 0
	for _, c := range later {
		if math.Abs(price(c)-level) <= band {
			n++
		}
	}
	return n
}

func candleHigh(c model.Candle) float64 { return c.High }
func candleLow(c model.Candle) float64  { return c.Low }

// DetectLiquidityLevels returns local highs (resistance) and lows (support)
// that later candles came back to at least twice within the touch band.
// Levels of the same type inside one band are merged, keeping the stronger.
func DetectLiquidityLevels(candles []model.Candle) []model.LiquidityLevel {
	var levels []model.LiquidityLevel
	add := func(l model.LiquidityLevel) {
		for k := range levels {
			if levels[k].Type == l.Type && math.Abs(levels[k].Level-l.Level) <= levels[k].Level*TouchTolerance {
				if l.Touches > levels[k].Touches {
					levels[k] = l
				}
				return
			}
		}
		levels = append(levels, l)
	}

	for i := ExtremeRadius; i < len(candles)-ExtremeRadius; i++ {
		later := candles[i+1:]
		if isLocalHigh(candles, i) {
			if n := touches(candles[i].High, later, candleHigh); n >= MinTouches {
				add(model.LiquidityLevel{Type: model.LevelResistance, Level: candles[i].High, Touches: n, Strength: levelStrength(n)})
			}
		}
		if isLocalLow(candles, i) {
			if n := touches(candles[i].Low, later, candleLow); n >= MinTouches {
				add(model.LiquidityLevel{Type: model.LevelSupport, Level: candles[i].Low, Touches: n, Strength: levelStrength(n)})
			}
		}
	}

	sort.SliceStable(levels, func(a, b int) bool {
		if levels[a].Strength != levels[b].Strength {
			return levels[a].Strength > levels[b].Strength
		}
		return levels[a].Touches > levels[b].Touches
	})
	if len(levels) > MaxLiquidityLevels {
		levels = levels[:MaxLiquidityLevels]
	}
	return levels
}

func levelStrength(touches int) float64 {
	return math.Min(MaxStrength, float64(touches*2))
}

// DetectFairValueGaps scans every three candle sequence for a gap between the
// first and the third candle. A gap is filled once a later candle trades
// back into it.
func DetectFairValueGaps(candles []model.Candle) []model.FairValueGap {
	var gaps []model.FairValueGap
	for i := 1; i < len(candles)-1; i++ {
		prev, mid, next := candles[i-1], candles[i], candles[i+1]
		later := candles[i+2:]

		switch {
		case prev.High < next.Low:
			g := model.FairValueGap{Type: model.BiasBullish, GapLow: prev.High, GapHigh: next.Low, Timestamp: mid.Datetime}
			for _, c := range later {
				if c.Low <= g.GapHigh {
					g.IsFilled = true
					break
				}
			}
			g.Size = g.GapHigh - g.GapLow
			gaps = append(gaps, g)
		case prev.Low > next.High:
			g := model.FairValueGap{Type: model.BiasBearish, GapLow: next.High, GapHigh: prev.Low, Timestamp: mid.Datetime}
			for _, c := range later {
				if c.High >= g.GapLow {
					g.IsFilled = true
					break
				}
			}
			g.Size = g.GapHigh - g.GapLow
			gaps = append(gaps, g)
		}
	}
	if len(gaps) > MaxFairValueGaps {
		gaps = gaps[len(gaps)-MaxFairValueGaps:]
	}
	return gaps
}

// ComputeBias places the last close inside the trailing window range.
func ComputeBias(candles []model.Candle) (string, float64) {
	if len(candles) == 0 {
		return model.BiasNeutral, 0
	}
	window := candles
	if len(window) > BiasWindow {
		window = window[len(window)-BiasWindow:]
	}
	high, low := windowRange(window)
	if high <= low {
		return model.BiasNeutral, 0
	}
	position := (window[len(window)-1].Close - low) / (high - low)
	strength := math.Abs(position-0.5) * 2
	switch {
	case position > BullishBiasThreshold:
		return model.BiasBullish, strength
	case position < BearishBiasThreshold:
		return model.BiasBearish, strength
	default:
		return model.BiasNeutral, strength
	}
}

func windowRange(candles []model.Candle) (float64, float64) {
	high, low := math.Inf(-1), math.Inf(1)
	for _, c := range candles {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	return high, low
}

// Analyze runs every detector over an ascending window. The snapshot is
// stamped with at, the time it was computed.
func Analyze(symbol, timeframe string, candles []model.Candle, at time.Time) (*model.MarketStructure, error) {
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}
	sorted := sort.SliceIsSorted(candles, func(a, b int) bool { return candles[a].Datetime.Before(candles[b].Datetime) })
	if !sorted {
		candles = append([]model.Candle(nil), candles...)
		sort.SliceStable(candles, func(a, b int) bool { return candles[a].Datetime.Before(candles[b].Datetime) })
	}

	bias, strength := ComputeBias(candles)
	high, low := windowRange(candles)
	return &model.MarketStructure{
		Symbol:          symbol,
		Timeframe:       timeframe,
		Timestamp:       utils.ResetTime(at.UTC(), "second"),
		OrderBlocks:     DetectOrderBlocks(candles),
		LiquidityLevels: DetectLiquidityLevels(candles),
		FvgZones:        DetectFairValueGaps(candles),
		Bias:            bias,
		BiasStrength:    strength,
		High:            high,
		Low:             low,
		CandleCount:     len(candles),
	}, nil
}
