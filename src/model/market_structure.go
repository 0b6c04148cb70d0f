package model

import "time"

const (
	Timeframe5m  = "5m"
	Timeframe15m = "15m"
	Timeframe1h  = "1h"
	Timeframe4h  = "4h"
	Timeframe1D  = "1D"

	BiasBullish = "bullish"
	BiasBearish = "bearish"
	BiasNeutral = "neutral"

	LevelSupport    = "support"
	LevelResistance = "resistance"
)

// Timeframes lists the supported detector timeframes, shortest first.
var Timeframes = []string{Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1D}

// OrderBlock is the consolidation zone that preceded an impulsive candle.
type OrderBlock struct {
	Type      string    `json:"type"` // bullish | bearish
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Timestamp time.Time `json:"timestamp"`
	Strength  float64   `json:"strength"`
	IsActive  bool      `json:"is_active"`
}

// LiquidityLevel is a local extreme that price tested repeatedly.
type LiquidityLevel struct {
	Type     string  `json:"type"` // support | resistance
	Level    float64 `json:"level"`
	Touches  int     `json:"touches"`
	Strength float64 `json:"strength"`
}

// FairValueGap is a three candle imbalance.
type FairValueGap struct {
	Type      string    `json:"type"` // bullish | bearish
	GapHigh   float64   `json:"gap_high"`
	GapLow    float64   `json:"gap_low"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
	IsFilled  bool      `json:"is_filled"`
}

// MarketStructure is one detector snapshot. Rows are append-only: a newer
// timestamp supersedes, it never overwrites.
type MarketStructure struct {
	ID              uint             `gorm:"primaryKey" json:"id"`
	Symbol          string           `gorm:"type:varchar(50);not null;uniqueIndex:ux_market_structures_symbol_tf_ts,priority:1" json:"symbol"`
	Timeframe       string           `gorm:"type:varchar(10);not null;uniqueIndex:ux_market_structures_symbol_tf_ts,priority:2;index:idx_market_structures_tf_ts,priority:1" json:"timeframe"`
	Timestamp       time.Time        `gorm:"not null;uniqueIndex:ux_market_structures_symbol_tf_ts,priority:3;index:idx_market_structures_tf_ts,priority:2" json:"timestamp"`
	OrderBlocks     []OrderBlock     `gorm:"serializer:json;type:text" json:"order_blocks"`
	LiquidityLevels []LiquidityLevel `gorm:"serializer:json;type:text" json:"liquidity_levels"`
	FvgZones        []FairValueGap   `gorm:"serializer:json;type:text" json:"fvg_zones"`
	Bias            string           `gorm:"type:varchar(10);not null" json:"bias"`
	BiasStrength    float64          `json:"bias_strength"`
	High            float64          `json:"high"`
	Low             float64          `json:"low"`
	CandleCount     int              `json:"candle_count"`
	CreatedAt       time.Time        `json:"created_at"`
}

func (MarketStructure) TableName() string {
	return "market_structures"
}
