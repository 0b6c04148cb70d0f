package model

import "time"

// OHLCV is a cached candle of one timeframe. Rows are keyed by
// (symbol, timeframe, datetime) and only ever inserted.
type OHLCV struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `json:"symbol"    gorm:"type:varchar(50);not null;uniqueIndex:ux_ohlcv_symbol_tf_datetime,priority:1"`
	Timeframe string    `json:"timeframe" gorm:"type:varchar(10);not null;uniqueIndex:ux_ohlcv_symbol_tf_datetime,priority:2;index:idx_ohlcv_tf_datetime,priority:1"`
	Datetime  time.Time `json:"datetime"  gorm:"not null;uniqueIndex:ux_ohlcv_symbol_tf_datetime,priority:3;index:idx_ohlcv_tf_datetime,priority:2"`
	Open      float64   `json:"open"      gorm:"type:double precision;not null"`
	High      float64   `json:"high"      gorm:"type:double precision;not null"`
	Low       float64   `json:"low"       gorm:"type:double precision;not null"`
	Close     float64   `json:"close"     gorm:"type:double precision;not null"`
	Volume    float64   `json:"volume"    gorm:"type:double precision;not null"`
}

func (OHLCV) TableName() string {
	return "ohlcv_candles"
}

func NewOHLCV(timeframe string, c Candle) OHLCV {
	return OHLCV{
		Symbol:    c.Symbol,
		Timeframe: timeframe,
		Datetime:  c.Datetime.UTC(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

func (o OHLCV) Candle() Candle {
	return Candle{
		Symbol:   o.Symbol,
		Datetime: o.Datetime.UTC(),
		Open:     o.Open,
		High:     o.High,
		Low:      o.Low,
		Close:    o.Close,
		Volume:   o.Volume,
	}
}
