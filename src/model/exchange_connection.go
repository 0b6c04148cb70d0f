package model

import (
	"time"
)

const (
	CategorySpot    = "spot"
	CategoryLinear  = "linear"
	CategoryInverse = "inverse"
	CategoryOption  = "option"

	ExchangeBybit = "bybit"

	MinSyncIntervalHours = 1
	MaxSyncIntervalHours = 24
)

var validCategories = map[string]bool{
	CategorySpot:    true,
	CategoryLinear:  true,
	CategoryInverse: true,
	CategoryOption:  true,
}

// ExchangeConnection holds one user's credentials and sync settings for an
// exchange. Settings are validated by the owning API; the sync core only
// reads them through the helpers below.
type ExchangeConnection struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	UserID            uint       `gorm:"not null;index:idx_exchange_connection_user_exchange,unique" json:"user_id"`
	Exchange          string     `gorm:"size:50;not null;index:idx_exchange_connection_user_exchange,unique" json:"exchange"`
	APIKeyHash        string     `gorm:"column:api_key;type:text" json:"-"`
	APISecretHash     string     `gorm:"column:api_secret;type:text" json:"-"`
	AutoSync          bool       `gorm:"not null;default:true" json:"auto_sync"`
	SyncIntervalHours int        `gorm:"not null;default:4" json:"sync_interval_hours"`
	SymbolsFilter     []string   `gorm:"serializer:json;type:text" json:"symbols_filter,omitempty"`
	Categories        []string   `gorm:"serializer:json;type:text" json:"categories"`
	StreamEnabled     bool       `gorm:"not null;default:false" json:"stream_enabled"`
	IsActive          bool       `gorm:"not null;default:true;index" json:"is_active"`
	DeactivatedReason string     `gorm:"type:text" json:"deactivated_reason,omitempty"`
	LastSyncAt        *time.Time `json:"last_sync_at,omitempty"`
	LastQuickSyncAt   *time.Time `json:"last_quick_sync_at,omitempty"`
	LastError         string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (ExchangeConnection) TableName() string {
	return "exchange_connections"
}

// SyncInterval returns the configured interval clamped to 1..24 hours.
func (c *ExchangeConnection) SyncInterval() time.Duration {
	h := c.SyncIntervalHours
	if h < MinSyncIntervalHours {
		h = MinSyncIntervalHours
	}
	if h > MaxSyncIntervalHours {
		h = MaxSyncIntervalHours
	}
	return time.Duration(h) * time.Hour
}

// EffectiveCategories drops unknown categories and defaults to linear.
func (c *ExchangeConnection) EffectiveCategories() []string {
	out := make([]string, 0, len(c.Categories))
	seen := make(map[string]bool)
	for _, cat := range c.Categories {
		if validCategories[cat] && !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	if len(out) == 0 {
		out = append(out, CategoryLinear)
	}
	return out
}

// AllowsSymbol reports whether the symbols filter admits symbol. An empty
// filter admits everything.
func (c *ExchangeConnection) AllowsSymbol(symbol string) bool {
	if len(c.SymbolsFilter) == 0 {
		return true
	}
	for _, s := range c.SymbolsFilter {
		if s == symbol {
			return true
		}
	}
	return false
}

// SyncDue reports whether a scheduled full sync should run at now.
func (c *ExchangeConnection) SyncDue(now time.Time) bool {
	if !c.IsActive || !c.AutoSync {
		return false
	}
	if c.LastSyncAt == nil {
		return true
	}
	return !now.Before(c.LastSyncAt.Add(c.SyncInterval()))
}
