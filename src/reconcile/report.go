package reconcile

import (
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
)

const (
	KindFull  = "full"
	KindQuick = "quick"
)

// Report summarises one reconciliation run.
type Report struct {
	Kind         string    `json:"kind"`
	UserID       uint      `json:"user_id"`
	ConnectionID uint      `json:"connection_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`

	Units      int      `json:"units"`
	UnitErrors int      `json:"unit_errors"`
	Errors     []string `json:"errors,omitempty"`
	Pages      int      `json:"pages"`
	Malformed  int      `json:"malformed"`

	FillsSeen          int `json:"fills_seen"`
	FillsNew           int `json:"fills_new"`
	FillsDuplicate     int `json:"fills_duplicate"`
	FillsSkippedType   int `json:"fills_skipped_type"`
	FillsClosing       int `json:"fills_closing"`
	FillsIgnoredClosed int `json:"fills_ignored_closed"`

	TradesCreated int `json:"trades_created"`
	TradesUpdated int `json:"trades_updated"`
	TradesClosed  int `json:"trades_closed"`

	ClosuresReplayed  int `json:"closures_replayed"`
	ClosuresUnmatched int `json:"closures_unmatched"`
	ClosuresAmbiguous int `json:"closures_ambiguous"`

	PositionsMirrored int `json:"positions_mirrored"`
	PositionsCreated  int `json:"positions_created"`
	PositionsSkipped  int `json:"positions_skipped"`
}

func (r *Report) unitFailed(unit string, err error) {
	r.UnitErrors++
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", unit, err))
}

// add folds the counters of one committed fill group into r.
func (r *Report) add(d *Report) {
	r.FillsNew += d.FillsNew
	r.FillsDuplicate += d.FillsDuplicate
	r.FillsClosing += d.FillsClosing
	r.FillsIgnoredClosed += d.FillsIgnoredClosed
	r.TradesCreated += d.TradesCreated
	r.TradesUpdated += d.TradesUpdated
}

// Complete is true when every unit succeeded.
func (r *Report) Complete() bool {
	return r.UnitErrors == 0
}

func (r *Report) Fields() logger.Fields {
	return logger.Fields{
		"kind":               r.Kind,
		"user_id":            r.UserID,
		"connection_id":      r.ConnectionID,
		"units":              r.Units,
		"unit_errors":        r.UnitErrors,
		"pages":              r.Pages,
		"fills_new":          r.FillsNew,
		"fills_duplicate":    r.FillsDuplicate,
		"trades_created":     r.TradesCreated,
		"trades_updated":     r.TradesUpdated,
		"trades_closed":      r.TradesClosed,
		"positions_mirrored": r.PositionsMirrored,
		"duration":           r.FinishedAt.Sub(r.StartedAt).String(),
	}
}
