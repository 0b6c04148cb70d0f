package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"tradejournal/src/model"
)

// Adapter is the capability the sync core needs from an exchange. The
// reconciliation engine and the detector only depend on this shape.
type Adapter interface {
	Name() string
	FetchExecutions(ctx context.Context, q ExecutionQuery) (*Page[Execution], error)
	FetchPositions(ctx context.Context, q PositionQuery) (*Page[Position], error)
	FetchClosedPnL(ctx context.Context, q ClosedPnLQuery) (*Page[ClosedPnL], error)
	FetchKline(ctx context.Context, q KlineQuery) ([]model.Candle, error)
	FetchWalletBalance(ctx context.Context, accountType string) ([]WalletCoin, error)
	SignRequest(timestamp int64, payload string) string
}

// Page is one page of a cursor paginated list. Malformed counts records that
// were dropped while decoding.
type Page[T any] struct {
	List       []T
	NextCursor string
	Malformed  int
}

type ExecutionQuery struct {
	Category  string
	Symbol    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Cursor    string
}

type PositionQuery struct {
	Category   string
	Symbol     string
	SettleCoin string
	Limit      int
	Cursor     string
}

type ClosedPnLQuery struct {
	Category  string
	Symbol    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Cursor    string
}

type KlineQuery struct {
	Category  string
	Symbol    string
	Timeframe string
	Limit     int
}

// Execution is one decoded fill.
type Execution struct {
	ExecID     string
	OrderID    string
	Category   string
	Symbol     string
	Side       string
	ExecType   string
	Qty        decimal.Decimal
	Price      decimal.Decimal
	ClosedSize decimal.Decimal
	Fee        decimal.Decimal
	ExecPnl    decimal.Decimal
	ExecTime   time.Time
	Raw        json.RawMessage
}

// Position is one decoded position row (REST list or stream push).
type Position struct {
	Category      string
	Symbol        string
	Side          string
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal
	CreatedTime   time.Time
	UpdatedTime   time.Time
}

// ClosedPnL is one closed position record.
type ClosedPnL struct {
	OrderID       string
	Symbol        string
	Side          string
	Qty           decimal.Decimal
	ClosedSize    decimal.Decimal
	AvgEntryPrice decimal.Decimal
	AvgExitPrice  decimal.Decimal
	ClosedPnl     decimal.Decimal
	OpenFee       decimal.Decimal
	CloseFee      decimal.Decimal
	CreatedTime   time.Time
	UpdatedTime   time.Time
}

type WalletCoin struct {
	AccountType   string
	Coin          string
	Equity        decimal.Decimal
	WalletBalance decimal.Decimal
	UnrealizedPnl decimal.Decimal
	UsdValue      decimal.Decimal
}

// wire shapes. Bybit sends every number as a string.

type rawExecution struct {
	Symbol     string `json:"symbol"`
	Category   string `json:"category"`
	OrderID    string `json:"orderId"`
	Side       string `json:"side"`
	ExecID     string `json:"execId"`
	ExecPrice  string `json:"execPrice"`
	ExecQty    string `json:"execQty"`
	ExecFee    string `json:"execFee"`
	ExecType   string `json:"execType"`
	ExecTime   string `json:"execTime"`
	ExecPnl    string `json:"execPnl"`
	ClosedSize string `json:"closedSize"`
}

type rawPosition struct {
	Category      string `json:"category"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	EntryPrice    string `json:"entryPrice"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

type rawClosedPnL struct {
	Symbol        string `json:"symbol"`
	OrderID       string `json:"orderId"`
	Side          string `json:"side"`
	Qty           string `json:"qty"`
	ClosedSize    string `json:"closedSize"`
	AvgEntryPrice string `json:"avgEntryPrice"`
	AvgExitPrice  string `json:"avgExitPrice"`
	ClosedPnl     string `json:"closedPnl"`
	OpenFee       string `json:"openFee"`
	CloseFee      string `json:"closeFee"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

type rawWallet struct {
	AccountType string `json:"accountType"`
	Coin        []struct {
		Coin          string `json:"coin"`
		Equity        string `json:"equity"`
		WalletBalance string `json:"walletBalance"`
		UnrealisedPnl string `json:"unrealisedPnl"`
		UsdValue      string `json:"usdValue"`
	} `json:"coin"`
}

// ParseExecution decodes one execution object as sent by REST or the stream.
func ParseExecution(raw json.RawMessage) (Execution, error) {
	var r rawExecution
	if err := json.Unmarshal(raw, &r); err != nil {
		return Execution{}, fmt.Errorf("%w: execution: %v", ErrMalformed, err)
	}
	if r.ExecID == "" || r.Symbol == "" {
		return Execution{}, fmt.Errorf("%w: execution without execId or symbol", ErrMalformed)
	}
	p := numParser{}
	e := Execution{
		ExecID:     r.ExecID,
		OrderID:    r.OrderID,
		Category:   r.Category,
		Symbol:     r.Symbol,
		Side:       r.Side,
		ExecType:   r.ExecType,
		Qty:        p.dec("execQty", r.ExecQty),
		Price:      p.dec("execPrice", r.ExecPrice),
		ClosedSize: p.dec("closedSize", r.ClosedSize),
		Fee:        p.dec("execFee", r.ExecFee),
		ExecPnl:    p.dec("execPnl", r.ExecPnl),
		ExecTime:   p.millis("execTime", r.ExecTime),
		Raw:        raw,
	}
	if p.err != nil {
		return Execution{}, fmt.Errorf("%w: execution %s: %v", ErrMalformed, r.ExecID, p.err)
	}
	return e, nil
}

// ParsePosition decodes one position object. The REST list reports avgPrice,
// the stream reports entryPrice.
func ParsePosition(raw json.RawMessage) (Position, error) {
	var r rawPosition
	if err := json.Unmarshal(raw, &r); err != nil {
		return Position{}, fmt.Errorf("%w: position: %v", ErrMalformed, err)
	}
	if r.Symbol == "" {
		return Position{}, fmt.Errorf("%w: position without symbol", ErrMalformed)
	}
	entry := r.AvgPrice
	if entry == "" || entry == "0" {
		entry = r.EntryPrice
	}
	p := numParser{}
	pos := Position{
		Category:      r.Category,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Size:          p.dec("size", r.Size),
		EntryPrice:    p.dec("avgPrice", entry),
		UnrealizedPnl: p.dec("unrealisedPnl", r.UnrealisedPnl),
		CreatedTime:   p.millis("createdTime", r.CreatedTime),
		UpdatedTime:   p.millis("updatedTime", r.UpdatedTime),
	}
	if p.err != nil {
		return Position{}, fmt.Errorf("%w: position %s: %v", ErrMalformed, r.Symbol, p.err)
	}
	return pos, nil
}

// ParseClosedPnL decodes one closed-PnL record.
func ParseClosedPnL(raw json.RawMessage) (ClosedPnL, error) {
	var r rawClosedPnL
	if err := json.Unmarshal(raw, &r); err != nil {
		return ClosedPnL{}, fmt.Errorf("%w: closed pnl: %v", ErrMalformed, err)
	}
	if r.Symbol == "" || r.OrderID == "" {
		return ClosedPnL{}, fmt.Errorf("%w: closed pnl without symbol or orderId", ErrMalformed)
	}
	p := numParser{}
	c := ClosedPnL{
		OrderID:       r.OrderID,
		Symbol:        r.Symbol,
		Side:          r.Side,
		Qty:           p.dec("qty", r.Qty),
		ClosedSize:    p.dec("closedSize", r.ClosedSize),
		AvgEntryPrice: p.dec("avgEntryPrice", r.AvgEntryPrice),
		AvgExitPrice:  p.dec("avgExitPrice", r.AvgExitPrice),
		ClosedPnl:     p.dec("closedPnl", r.ClosedPnl),
		OpenFee:       p.dec("openFee", r.OpenFee),
		CloseFee:      p.dec("closeFee", r.CloseFee),
		CreatedTime:   p.millis("createdTime", r.CreatedTime),
		UpdatedTime:   p.millis("updatedTime", r.UpdatedTime),
	}
	if p.err != nil {
		return ClosedPnL{}, fmt.Errorf("%w: closed pnl %s: %v", ErrMalformed, r.OrderID, p.err)
	}
	return c, nil
}

// parseKlineRow decodes [start, open, high, low, close, volume, turnover].
func parseKlineRow(symbol string, row []string) (model.Candle, error) {
	if len(row) < 6 {
		return model.Candle{}, fmt.Errorf("%w: kline row has %d fields", ErrMalformed, len(row))
	}
	vals := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		f, err := strconv.ParseFloat(row[i], 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("%w: kline field %d: %v", ErrMalformed, i, err)
		}
		vals[i-1] = f
	}
	start, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return model.Candle{}, fmt.Errorf("%w: kline start: %v", ErrMalformed, err)
	}
	return model.Candle{
		Symbol:   symbol,
		Datetime: time.UnixMilli(start).UTC(),
		Open:     vals[0],
		High:     vals[1],
		Low:      vals[2],
		Close:    vals[3],
		Volume:   vals[4],
	}, nil
}

// numParser keeps the first conversion error so a record is parsed in one pass.
type numParser struct {
	err error
}

func (p *numParser) dec(field, s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s=%q: %v", field, s, err)
	}
	return d
}

func (p *numParser) millis(field, s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		if p.err == nil {
			p.err = fmt.Errorf("%s=%q: %v", field, s, err)
		}
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
