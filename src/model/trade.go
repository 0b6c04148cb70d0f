package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TradeStatusOpen   = "open"
	TradeStatusClosed = "closed"

	TradeSideBuy  = "buy"
	TradeSideSell = "sell"

	// TradeSource records which path created the trade row.
	TradeSourceExecution = "execution"
	TradeSourcePosition  = "position"
	TradeSourceStream    = "stream"

	// Confidence of stream-created trades. Empty for the batch paths.
	TradeConfidenceSnapshot = "snapshot"
	TradeConfidenceInferred = "inferred"
)

// Trade is a logical round trip reconstructed from exchange fills, positions
// and closed-PnL records.
//
// Size and EntryPrice only change through the weighted-average fill update
// (or the live position mirror of quick sync) while the trade is open.
// A closed trade is never reopened.
type Trade struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	UserID        uint            `gorm:"not null;uniqueIndex:ux_trades_user_exchange_external,priority:1;index:idx_trades_user_exchange_symbol,priority:1" json:"user_id"`
	Exchange      string          `gorm:"size:50;not null;uniqueIndex:ux_trades_user_exchange_external,priority:2;index:idx_trades_user_exchange_symbol,priority:2" json:"exchange"`
	ExternalID    string          `gorm:"size:128;not null;uniqueIndex:ux_trades_user_exchange_external,priority:3" json:"external_id"`
	Category      string          `gorm:"size:20" json:"category"`
	Symbol        string          `gorm:"size:50;not null;index:idx_trades_user_exchange_symbol,priority:3" json:"symbol"`
	Side          string          `gorm:"size:10;not null" json:"side"`
	Size          decimal.Decimal `gorm:"type:double precision;not null" json:"size"`
	EntryPrice    decimal.Decimal `gorm:"type:double precision;not null" json:"entry_price"`
	ExitPrice     decimal.Decimal `gorm:"type:double precision" json:"exit_price"`
	EntryTime     time.Time       `gorm:"not null;index" json:"entry_time"`
	ExitTime      *time.Time      `json:"exit_time,omitempty"`
	RealizedPnl   decimal.Decimal `gorm:"type:double precision" json:"realized_pnl"`
	UnrealizedPnl decimal.Decimal `gorm:"type:double precision" json:"unrealized_pnl"`
	Fee           decimal.Decimal `gorm:"type:double precision" json:"fee"`
	Status        string          `gorm:"size:20;not null;default:open;index" json:"status"`
	Source        string          `gorm:"size:20;not null;default:execution" json:"source"`
	Confidence    string          `gorm:"size:20" json:"confidence,omitempty"`
	CloseRef      string          `gorm:"size:128;index" json:"close_ref,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Trade) TableName() string {
	return "trades"
}

func (t *Trade) IsOpen() bool {
	return t.Status == TradeStatusOpen
}

// ApplyFill folds one fill into an open trade using the volume weighted
// average entry price. It returns false when the trade is not open or the
// quantity is not positive.
func (t *Trade) ApplyFill(qty, price, fee decimal.Decimal) bool {
	if !t.IsOpen() || !qty.IsPositive() {
		return false
	}
	newSize := t.Size.Add(qty)
	t.EntryPrice = t.EntryPrice.Mul(t.Size).Add(price.Mul(qty)).Div(newSize)
	t.Size = newSize
	t.Fee = t.Fee.Add(fee)
	return true
}

// Close moves an open trade to closed. Closing twice is refused.
func (t *Trade) Close(exitPrice, realizedPnl, fee decimal.Decimal, exitTime time.Time, ref string) bool {
	if !t.IsOpen() {
		return false
	}
	t.ExitPrice = exitPrice
	t.RealizedPnl = realizedPnl
	t.UnrealizedPnl = decimal.Zero
	t.Fee = t.Fee.Add(fee)
	t.ExitTime = &exitTime
	t.CloseRef = ref
	t.Status = TradeStatusClosed
	return true
}

// NormalizeSide maps exchange side spellings (Buy, SELL, long, short) to buy/sell.
func NormalizeSide(side string) string {
	switch side {
	case "Buy", "buy", "BUY", "long", "Long", "LONG":
		return TradeSideBuy
	case "Sell", "sell", "SELL", "short", "Short", "SHORT":
		return TradeSideSell
	default:
		return ""
	}
}

// OppositeSide returns the other side of a normalized side.
func OppositeSide(side string) string {
	switch NormalizeSide(side) {
	case TradeSideBuy:
		return TradeSideSell
	case TradeSideSell:
		return TradeSideBuy
	default:
		return ""
	}
}
