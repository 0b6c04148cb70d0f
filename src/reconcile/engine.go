package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"tradejournal/src/connectors"
	"tradejournal/src/model"
	"tradejournal/src/repository"
	"tradejournal/src/utils"
)

// Engine reconciles one exchange connection. It is built per run because the
// adapter carries that connection's credentials.
type Engine struct {
	adapter    connectors.Adapter
	trades     repository.TradeRepository
	executions repository.ExecutionRepository
	config     Config
	ledger     repository.FillLedger
	limiter    *rate.Limiter
	now        func() time.Time
	log        *logger.Entry
}

func NewEngine(adapter connectors.Adapter, trades repository.TradeRepository, executions repository.ExecutionRepository, config Config) *Engine {
	var limiter *rate.Limiter
	if config.PageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(config.PageDelay), 1)
	} else {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if config.PageLimit <= 0 {
		config.PageLimit = 100
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 500
	}
	if config.WindowSize <= 0 {
		config.WindowSize = 7 * 24 * time.Hour
	}
	if config.QuickWindow <= 0 {
		config.QuickWindow = 24 * time.Hour
	}
	return &Engine{
		adapter:    adapter,
		trades:     trades,
		executions: executions,
		ledger:     repository.NewDirectFillLedger(trades, executions),
		config:     config,
		limiter:    limiter,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logger.WithField("component", "reconcile"),
	}
}

// abortError ends a run instead of skipping the failing unit.
func abortError(err error) bool {
	return connectors.IsAuthError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) newReport(kind string, conn *model.ExchangeConnection) *Report {
	return &Report{
		Kind:         kind,
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		StartedAt:    e.now(),
	}
}

// runUnit executes one category/window/symbol unit. Provider, rate-limit and
// transient errors are recorded and swallowed so siblings continue.
func (e *Engine) runUnit(report *Report, name string, fn func() error) error {
	report.Units++
	err := fn()
	if err == nil {
		return nil
	}
	if abortError(err) {
		return err
	}
	report.unitFailed(name, err)
	e.log.WithError(err).WithFields(logger.Fields{
		"unit":          name,
		"connection_id": report.ConnectionID,
		"class":         connectors.Classify(err),
	}).Warn("Sync unit failed, skipping")
	return nil
}

// WithLedger makes fill groups commit through ledger, usually a transaction
// over the same database as the repositories.
func (e *Engine) WithLedger(ledger repository.FillLedger) *Engine {
	if ledger != nil {
		e.ledger = ledger
	}
	return e
}

func (e *Engine) wait(ctx context.Context) error {
	return e.limiter.Wait(ctx)
}

// FullSync walks [last_sync_at - overlap or now - lookback, now] in provider
// sized windows for every configured category and symbol.
func (e *Engine) FullSync(ctx context.Context, conn *model.ExchangeConnection) (*Report, error) {
	report := e.newReport(KindFull, conn)
	end := e.now()
	start := end.Add(-e.config.Lookback)
	if conn.LastSyncAt != nil {
		start = conn.LastSyncAt.UTC().Add(-e.config.Overlap)
	}

	windows := utils.SplitWindows(start, end, e.config.WindowSize)
	symbols := symbolScopes(conn)

	for _, category := range conn.EffectiveCategories() {
		for _, w := range windows {
			for _, symbol := range symbols {
				unit := fmt.Sprintf("executions/%s/%s/%s", category, w.Start.Format(time.RFC3339), symbolLabel(symbol))
				err := e.runUnit(report, unit, func() error {
					return e.syncExecutions(ctx, conn, category, symbol, w.Start, w.End, report)
				})
				if err != nil {
					report.FinishedAt = e.now()
					return report, err
				}
			}
		}
	}

	report.FinishedAt = e.now()
	return report, nil
}

// QuickSync covers the trailing window: executions, then closed PnL, then
// live positions.
func (e *Engine) QuickSync(ctx context.Context, conn *model.ExchangeConnection) (*Report, error) {
	report := e.newReport(KindQuick, conn)
	end := e.now()
	start := end.Add(-e.config.QuickWindow)
	symbols := symbolScopes(conn)

	finish := func(err error) (*Report, error) {
		report.FinishedAt = e.now()
		return report, err
	}

	for _, category := range conn.EffectiveCategories() {
		for _, symbol := range symbols {
			label := category + "/" + symbolLabel(symbol)
			if err := e.runUnit(report, "executions/"+label, func() error {
				return e.syncExecutions(ctx, conn, category, symbol, start, end, report)
			}); err != nil {
				return finish(err)
			}
			if err := e.runUnit(report, "closed-pnl/"+label, func() error {
				return e.syncClosedPnL(ctx, conn, category, symbol, start, end, report)
			}); err != nil {
				return finish(err)
			}
			if err := e.runUnit(report, "positions/"+label, func() error {
				return e.syncPositions(ctx, conn, category, symbol, report)
			}); err != nil {
				return finish(err)
			}
		}
	}
	return finish(nil)
}

// symbolScopes returns one empty scope (all symbols) unless a filter is set.
func symbolScopes(conn *model.ExchangeConnection) []string {
	if len(conn.SymbolsFilter) == 0 {
		return []string{""}
	}
	return utils.UnionStrings(conn.SymbolsFilter)
}

func symbolLabel(symbol string) string {
	if symbol == "" {
		return "*"
	}
	return symbol
}

// -----------------------------
// EXECUTIONS
// -----------------------------

func (e *Engine) syncExecutions(ctx context.Context, conn *model.ExchangeConnection, category, symbol string, start, end time.Time, report *Report) error {
	cursor := ""
	for page := 0; page < e.config.MaxPages; page++ {
		if err := e.wait(ctx); err != nil {
			return err
		}
		p, err := e.adapter.FetchExecutions(ctx, connectors.ExecutionQuery{
			Category:  category,
			Symbol:    symbol,
			StartTime: start,
			EndTime:   end,
			Limit:     e.config.PageLimit,
			Cursor:    cursor,
		})
		if err != nil {
			return fmt.Errorf("fetch executions page %d: %w", page+1, err)
		}
		report.Pages++
		report.Malformed += p.Malformed

		if err := e.ProcessExecutions(ctx, conn, p.List, report); err != nil {
			return err
		}

		if p.NextCursor == "" || len(p.List)+p.Malformed < e.config.PageLimit {
			return nil
		}
		cursor = p.NextCursor
	}
	e.log.WithFields(logger.Fields{
		"category": category,
		"symbol":   symbol,
		"max":      e.config.MaxPages,
	}).Warn("Execution paging stopped at max pages")
	return nil
}

// ProcessExecutions applies one page of fills: non-Trade types are dropped,
// duplicates are no-ops, and the rest are folded into trades grouped by order.
// The raw fills of an order and its trade write commit together, so a failed
// group leaves nothing behind and is applied again on replay.
func (e *Engine) ProcessExecutions(ctx context.Context, conn *model.ExchangeConnection, execs []connectors.Execution, report *Report) error {
	var order []string
	groups := make(map[string][]connectors.Execution)

	for _, ex := range execs {
		report.FillsSeen++
		if ex.ExecType != model.ExecTypeTrade {
			report.FillsSkippedType++
			continue
		}
		if !conn.AllowsSymbol(ex.Symbol) {
			continue
		}
		if _, ok := groups[ex.OrderID]; !ok {
			order = append(order, ex.OrderID)
		}
		groups[ex.OrderID] = append(groups[ex.OrderID], ex)
	}

	for _, orderID := range order {
		var delta Report
		err := e.ledger.Atomic(ctx, func(trades repository.TradeRepository, executions repository.ExecutionRepository) error {
			delta = Report{}
			return e.applyOrderGroup(ctx, conn, orderID, groups[orderID], trades, executions, &delta)
		})
		if err != nil {
			return err
		}
		report.add(&delta)
	}
	return nil
}

func (e *Engine) applyOrderGroup(ctx context.Context, conn *model.ExchangeConnection, orderID string, fills []connectors.Execution, trades repository.TradeRepository, executions repository.ExecutionRepository, report *Report) error {
	var fresh []connectors.Execution
	for _, ex := range fills {
		isNew, err := executions.InsertIgnore(ctx, toRawExecution(conn, ex))
		if err != nil {
			return fmt.Errorf("record execution %s: %w", ex.ExecID, err)
		}
		if !isNew {
			report.FillsDuplicate++
			continue
		}
		report.FillsNew++

		if e.config.SkipClosingFills && isClosingFill(ex) {
			report.FillsClosing++
			continue
		}
		fresh = append(fresh, ex)
	}
	if len(fresh) == 0 {
		return nil
	}
	return e.applyOrderFills(ctx, conn, orderID, fresh, trades, report)
}

func isClosingFill(ex connectors.Execution) bool {
	return ex.ClosedSize.IsPositive() && ex.ClosedSize.GreaterThanOrEqual(ex.Qty)
}

func (e *Engine) applyOrderFills(ctx context.Context, conn *model.ExchangeConnection, orderID string, fills []connectors.Execution, trades repository.TradeRepository, report *Report) error {
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].ExecTime.Before(fills[j].ExecTime) })

	trade, err := trades.FindByExternalID(ctx, conn.UserID, conn.Exchange, orderID)
	if err != nil {
		return fmt.Errorf("load trade %s: %w", orderID, err)
	}

	if trade == nil {
		seed := newTradeFromFill(conn, orderID, fills[0])
		for _, f := range fills[1:] {
			seed.ApplyFill(f.Qty, f.Price, f.Fee)
		}
		created, err := trades.CreateIfAbsent(ctx, seed)
		if err != nil {
			return fmt.Errorf("create trade %s: %w", orderID, err)
		}
		if created {
			report.TradesCreated++
			return nil
		}
		// another writer created it in between
		trade, err = trades.FindByExternalID(ctx, conn.UserID, conn.Exchange, orderID)
		if err != nil || trade == nil {
			return fmt.Errorf("reload trade %s: %w", orderID, err)
		}
	}

	if !trade.IsOpen() {
		report.FillsIgnoredClosed += len(fills)
		e.log.WithFields(logger.Fields{
			"order_id": orderID,
			"trade_id": trade.ID,
			"fills":    len(fills),
		}).Warn("Fills for a closed trade ignored")
		return nil
	}

	for _, f := range fills {
		trade.ApplyFill(f.Qty, f.Price, f.Fee)
	}
	updated, err := trades.UpdateOpen(ctx, trade)
	if err != nil {
		return fmt.Errorf("update trade %s: %w", orderID, err)
	}
	if updated {
		report.TradesUpdated++
	} else {
		report.FillsIgnoredClosed += len(fills)
	}
	return nil
}

func newTradeFromFill(conn *model.ExchangeConnection, orderID string, f connectors.Execution) *model.Trade {
	return &model.Trade{
		UserID:     conn.UserID,
		Exchange:   conn.Exchange,
		ExternalID: orderID,
		Category:   f.Category,
		Symbol:     f.Symbol,
		Side:       model.NormalizeSide(f.Side),
		Size:       f.Qty,
		EntryPrice: f.Price,
		EntryTime:  f.ExecTime,
		Fee:        f.Fee,
		Status:     model.TradeStatusOpen,
		Source:     model.TradeSourceExecution,
	}
}

func toRawExecution(conn *model.ExchangeConnection, ex connectors.Execution) *model.RawExecution {
	return &model.RawExecution{
		UserID:      conn.UserID,
		Exchange:    conn.Exchange,
		ExecutionID: ex.ExecID,
		OrderID:     ex.OrderID,
		Category:    ex.Category,
		Symbol:      ex.Symbol,
		Side:        ex.Side,
		Quantity:    ex.Qty,
		Price:       ex.Price,
		ClosedSize:  ex.ClosedSize,
		Fee:         ex.Fee,
		ExecPnl:     ex.ExecPnl,
		ExecType:    ex.ExecType,
		ExecutedAt:  ex.ExecTime,
		RawPayload:  string(ex.Raw),
	}
}

// -----------------------------
// CLOSED PNL
// -----------------------------

func (e *Engine) syncClosedPnL(ctx context.Context, conn *model.ExchangeConnection, category, symbol string, start, end time.Time, report *Report) error {
	var records []connectors.ClosedPnL
	cursor := ""
	for page := 0; page < e.config.MaxPages; page++ {
		if err := e.wait(ctx); err != nil {
			return err
		}
		p, err := e.adapter.FetchClosedPnL(ctx, connectors.ClosedPnLQuery{
			Category:  category,
			Symbol:    symbol,
			StartTime: start,
			EndTime:   end,
			Limit:     e.config.PageLimit,
			Cursor:    cursor,
		})
		if err != nil {
			return fmt.Errorf("fetch closed pnl page %d: %w", page+1, err)
		}
		report.Pages++
		report.Malformed += p.Malformed
		records = append(records, p.List...)
		if p.NextCursor == "" || len(p.List)+p.Malformed < e.config.PageLimit {
			break
		}
		cursor = p.NextCursor
	}
	return e.ApplyClosedPnL(ctx, conn, records, report)
}

// ApplyClosedPnL closes open trades from closed-PnL records, oldest record
// first. A record closes the oldest open trade of its symbol; the record's
// order id is stored as close_ref so replays are no-ops.
func (e *Engine) ApplyClosedPnL(ctx context.Context, conn *model.ExchangeConnection, records []connectors.ClosedPnL, report *Report) error {
	sort.SliceStable(records, func(i, j int) bool { return records[i].UpdatedTime.Before(records[j].UpdatedTime) })

	for _, rec := range records {
		if !conn.AllowsSymbol(rec.Symbol) {
			continue
		}
		applied, err := e.trades.CloseRefExists(ctx, conn.UserID, conn.Exchange, rec.OrderID)
		if err != nil {
			return fmt.Errorf("check close ref %s: %w", rec.OrderID, err)
		}
		if applied {
			report.ClosuresReplayed++
			continue
		}

		candidates, err := e.trades.ListOpenBySymbol(ctx, conn.UserID, conn.Exchange, rec.Symbol)
		if err != nil {
			return fmt.Errorf("list open trades %s: %w", rec.Symbol, err)
		}
		if len(candidates) == 0 {
			report.ClosuresUnmatched++
			e.log.WithFields(logger.Fields{
				"symbol":   rec.Symbol,
				"order_id": rec.OrderID,
			}).Debug("Closed pnl without an open trade")
			continue
		}
		if len(candidates) > 1 {
			report.ClosuresAmbiguous++
			e.log.WithFields(logger.Fields{
				"symbol":     rec.Symbol,
				"order_id":   rec.OrderID,
				"candidates": len(candidates),
				"closing":    candidates[0].ID,
			}).Warn("Several open trades share the symbol, closing the oldest")
		}

		trade := candidates[0]
		exitTime := rec.UpdatedTime
		if exitTime.IsZero() {
			exitTime = e.now()
		}
		if !trade.Close(rec.AvgExitPrice, rec.ClosedPnl, rec.CloseFee, exitTime, rec.OrderID) {
			continue
		}
		updated, err := e.trades.UpdateOpen(ctx, &trade)
		if err != nil {
			return fmt.Errorf("close trade %d: %w", trade.ID, err)
		}
		if updated {
			report.TradesClosed++
		}
	}
	return nil
}

// -----------------------------
// POSITIONS
// -----------------------------

func (e *Engine) syncPositions(ctx context.Context, conn *model.ExchangeConnection, category, symbol string, report *Report) error {
	var positions []connectors.Position
	cursor := ""
	for page := 0; page < e.config.MaxPages; page++ {
		if err := e.wait(ctx); err != nil {
			return err
		}
		p, err := e.adapter.FetchPositions(ctx, connectors.PositionQuery{
			Category: category,
			Symbol:   symbol,
			Cursor:   cursor,
		})
		if err != nil {
			return fmt.Errorf("fetch positions page %d: %w", page+1, err)
		}
		report.Pages++
		report.Malformed += p.Malformed
		positions = append(positions, p.List...)
		if p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}
	return e.MirrorPositions(ctx, conn, positions, report)
}

// PositionExternalID names the trade created for a live position nobody
// else has recorded yet.
func PositionExternalID(p connectors.Position) string {
	return "pos-" + p.Symbol + "-" + strconv.FormatInt(p.CreatedTime.UnixMilli(), 10)
}

// MirrorPositions keeps one open trade per symbol in line with the live
// position. Zero-size positions are skipped.
func (e *Engine) MirrorPositions(ctx context.Context, conn *model.ExchangeConnection, positions []connectors.Position, report *Report) error {
	for _, p := range positions {
		if !p.Size.IsPositive() || model.NormalizeSide(p.Side) == "" {
			report.PositionsSkipped++
			continue
		}
		if !conn.AllowsSymbol(p.Symbol) {
			continue
		}

		candidates, err := e.trades.ListOpenBySymbol(ctx, conn.UserID, conn.Exchange, p.Symbol)
		if err != nil {
			return fmt.Errorf("list open trades %s: %w", p.Symbol, err)
		}

		if len(candidates) == 0 {
			entryTime := p.CreatedTime
			if entryTime.IsZero() {
				entryTime = e.now()
			}
			created, err := e.trades.CreateIfAbsent(ctx, &model.Trade{
				UserID:        conn.UserID,
				Exchange:      conn.Exchange,
				ExternalID:    PositionExternalID(p),
				Category:      p.Category,
				Symbol:        p.Symbol,
				Side:          model.NormalizeSide(p.Side),
				Size:          p.Size,
				EntryPrice:    p.EntryPrice,
				UnrealizedPnl: p.UnrealizedPnl,
				EntryTime:     entryTime,
				Status:        model.TradeStatusOpen,
				Source:        model.TradeSourcePosition,
			})
			if err != nil {
				return fmt.Errorf("create position trade %s: %w", p.Symbol, err)
			}
			if created {
				report.PositionsCreated++
				report.TradesCreated++
			}
			continue
		}

		if len(candidates) > 1 {
			e.log.WithFields(logger.Fields{
				"symbol":     p.Symbol,
				"candidates": len(candidates),
			}).Warn("Several open trades share the symbol, mirroring onto the oldest")
		}
		trade := candidates[0]
		if trade.Size.Equal(p.Size) && trade.EntryPrice.Equal(p.EntryPrice) && trade.UnrealizedPnl.Equal(p.UnrealizedPnl) {
			continue
		}
		trade.Size = p.Size
		trade.EntryPrice = p.EntryPrice
		trade.UnrealizedPnl = p.UnrealizedPnl
		updated, err := e.trades.UpdateOpen(ctx, &trade)
		if err != nil {
			return fmt.Errorf("mirror position %s: %w", p.Symbol, err)
		}
		if updated {
			report.PositionsMirrored++
		}
	}
	return nil
}
