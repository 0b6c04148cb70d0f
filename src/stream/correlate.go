package stream

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"tradejournal/src/connectors"
	"tradejournal/src/model"
)

// PositionCache is the connection-scoped snapshot of open positions by
// symbol. Only the stream's reader goroutine touches it.
type PositionCache map[string]model.PositionSnapshot

// Apply overwrites the snapshot for the position's symbol. A zero size
// clears it.
func (c PositionCache) Apply(p connectors.Position) {
	if !p.Size.IsPositive() {
		delete(c, p.Symbol)
		return
	}
	c[p.Symbol] = model.PositionSnapshot{
		Symbol:        p.Symbol,
		Side:          model.NormalizeSide(p.Side),
		Size:          p.Size,
		EntryPrice:    p.EntryPrice,
		UnrealizedPnl: p.UnrealizedPnl,
		UpdatedTime:   p.UpdatedTime,
	}
}

// Resolution is the outcome of correlating a closing execution. Confidence
// tells the two paths apart: snapshot data is authoritative, inferred data is
// back-computed from the execution alone.
type Resolution struct {
	Confidence  string
	Side        string
	EntryPrice  decimal.Decimal
	ExitPrice   decimal.Decimal
	Size        decimal.Decimal
	RealizedPnl decimal.Decimal
}

// Correlate resolves the side and entry price of the position a closing
// execution belongs to. ok is false when the execution does not close
// anything, or when no snapshot exists and inference is disabled.
func Correlate(exec connectors.Execution, snapshot *model.PositionSnapshot, inference bool) (Resolution, bool) {
	size := exec.ClosedSize
	if !size.IsPositive() {
		return Resolution{}, false
	}

	if snapshot != nil && !snapshot.IsEmpty() {
		return fromSnapshot(exec, *snapshot, size), true
	}
	if !inference {
		return Resolution{}, false
	}
	return infer(exec, size)
}

func fromSnapshot(exec connectors.Execution, snap model.PositionSnapshot, size decimal.Decimal) Resolution {
	pnl := exec.ExecPnl
	if pnl.IsZero() {
		diff := exec.Price.Sub(snap.EntryPrice)
		if snap.Side == model.TradeSideSell {
			diff = diff.Neg()
		}
		pnl = diff.Mul(size)
	}
	return Resolution{
		Confidence:  model.TradeConfidenceSnapshot,
		Side:        snap.Side,
		EntryPrice:  snap.EntryPrice,
		ExitPrice:   exec.Price,
		Size:        size,
		RealizedPnl: pnl,
	}
}

// infer treats the execution as the closing leg: the position side is the
// opposite of the fill side and the entry sits |pnl|/size below the exit for
// a long, above it for a short. The pnl sign does not move the entry.
func infer(exec connectors.Execution, size decimal.Decimal) (Resolution, bool) {
	side := model.OppositeSide(exec.Side)
	if side == "" {
		return Resolution{}, false
	}
	perUnit := exec.ExecPnl.Abs().Div(size)
	entry := exec.Price.Sub(perUnit)
	if side == model.TradeSideSell {
		entry = exec.Price.Add(perUnit)
	}
	if !entry.IsPositive() {
		return Resolution{}, false
	}
	return Resolution{
		Confidence:  model.TradeConfidenceInferred,
		Side:        side,
		EntryPrice:  entry,
		ExitPrice:   exec.Price,
		Size:        size,
		RealizedPnl: exec.ExecPnl,
	}, true
}

// StreamExternalID is the synthetic external id of a stream trade.
func StreamExternalID(execID string) string {
	if execID == "" {
		return "ws-" + uuid.NewString()
	}
	return "ws-" + execID
}

// ClosedTrade builds the closed Trade row for a resolved execution.
func ClosedTrade(conn *model.ExchangeConnection, exec connectors.Execution, res Resolution) *model.Trade {
	at := exec.ExecTime
	return &model.Trade{
		UserID:      conn.UserID,
		Exchange:    conn.Exchange,
		ExternalID:  StreamExternalID(exec.ExecID),
		Category:    exec.Category,
		Symbol:      exec.Symbol,
		Side:        res.Side,
		Size:        res.Size,
		EntryPrice:  res.EntryPrice,
		ExitPrice:   res.ExitPrice,
		EntryTime:   at,
		ExitTime:    &at,
		RealizedPnl: res.RealizedPnl,
		Fee:         exec.Fee,
		Status:      model.TradeStatusClosed,
		Source:      model.TradeSourceStream,
		Confidence:  res.Confidence,
	}
}
