package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExecTypeTrade is the only execution type that becomes a trade fill.
// Funding, settlement and delivery rows are recorded but ignored.
const ExecTypeTrade = "Trade"

// RawExecution is one exchange fill as received. Rows are append-only and
// deduplicated by (exchange, execution_id).
type RawExecution struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	UserID      uint            `gorm:"not null;index" json:"user_id"`
	Exchange    string          `gorm:"size:50;not null;uniqueIndex:ux_raw_executions_exchange_exec,priority:1" json:"exchange"`
	ExecutionID string          `gorm:"size:128;not null;uniqueIndex:ux_raw_executions_exchange_exec,priority:2" json:"execution_id"`
	OrderID     string          `gorm:"size:128;not null;index" json:"order_id"`
	Category    string          `gorm:"size:20" json:"category"`
	Symbol      string          `gorm:"size:50;not null;index:idx_raw_executions_symbol_time,priority:1" json:"symbol"`
	Side        string          `gorm:"size:10" json:"side"`
	Quantity    decimal.Decimal `gorm:"type:double precision;not null" json:"quantity"`
	Price       decimal.Decimal `gorm:"type:double precision;not null" json:"price"`
	ClosedSize  decimal.Decimal `gorm:"type:double precision" json:"closed_size"`
	Fee         decimal.Decimal `gorm:"type:double precision" json:"fee"`
	ExecPnl     decimal.Decimal `gorm:"type:double precision" json:"exec_pnl"`
	ExecType    string          `gorm:"size:30;not null" json:"exec_type"`
	ExecutedAt  time.Time       `gorm:"not null;index:idx_raw_executions_symbol_time,priority:2" json:"executed_at"`
	RawPayload  string          `gorm:"type:text" json:"raw_payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (RawExecution) TableName() string {
	return "raw_executions"
}
