package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSnapshot mirrors the latest position push for one symbol. It lives
// only inside a stream connection and is never persisted.
type PositionSnapshot struct {
	Symbol        string
	Side          string
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal
	UpdatedTime   time.Time
}

// IsEmpty is true when the snapshot cannot disambiguate an execution.
func (p PositionSnapshot) IsEmpty() bool {
	return !p.Size.IsPositive() || NormalizeSide(p.Side) == "" || !p.EntryPrice.IsPositive()
}
