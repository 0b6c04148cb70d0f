package structure

import (
	"math"

	"tradejournal/src/model"
)

const proximityBand = 0.005

// Score rates a trade entry against a market structure snapshot, 0..10.
type Score struct {
	Total          float64  `json:"total"`
	BiasAligned    bool     `json:"bias_aligned"`
	InOrderBlock   bool     `json:"in_order_block"`
	NearLiquidity  bool     `json:"near_liquidity"`
	InFairValueGap bool     `json:"in_fair_value_gap"`
	Notes          []string `json:"notes,omitempty"`
}

// ScoreTrade weighs bias alignment (up to 4), an active order block of the
// trade's direction around the entry (3, or 2 when only close to it), a
// supporting liquidity level near the entry (2) and an unfilled gap of the
// trade's direction containing the entry (1).
func ScoreTrade(side string, entry float64, ms *model.MarketStructure) Score {
	var s Score
	if ms == nil || entry <= 0 {
		return s
	}
	long := model.NormalizeSide(side) == model.TradeSideBuy
	want := model.BiasBearish
	if long {
		want = model.BiasBullish
	}

	switch ms.Bias {
	case want:
		s.BiasAligned = true
		s.Total += 2 + 2*ms.BiasStrength
	case model.BiasNeutral:
		s.Total += 1
		s.Notes = append(s.Notes, "neutral bias")
	default:
		s.Notes = append(s.Notes, "entry against bias")
	}

	best := 0.0
	for _, ob := range ms.OrderBlocks {
		if !ob.IsActive || ob.Type != want {
			continue
		}
		if entry >= ob.Low && entry <= ob.High {
			best = 3
			s.InOrderBlock = true
			break
		}
		if near(entry, ob.Low) || near(entry, ob.High) {
			best = math.Max(best, 2)
		}
	}
	s.Total += best

	wantLevel := model.LevelResistance
	if long {
		wantLevel = model.LevelSupport
	}
	for _, l := range ms.LiquidityLevels {
		if l.Type == wantLevel && near(entry, l.Level) {
			s.NearLiquidity = true
			s.Total += 2
			break
		}
	}

	for _, g := range ms.FvgZones {
		if !g.IsFilled && g.Type == want && entry >= g.GapLow && entry <= g.GapHigh {
			s.InFairValueGap = true
			s.Total += 1
			break
		}
	}

	s.Total = math.Min(MaxStrength, s.Total)
	return s
}

func near(price, level float64) bool {
	if level <= 0 {
		return false
	}
	return math.Abs(price-level)/level <= proximityBand
}
