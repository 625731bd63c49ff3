// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"swing-trader/internal/models"
)

// TradeStore defines the interface for trade persistence.
//
// UpdateTrade performs an optimistic version check: the row is written
// only if its stored version still matches the caller's copy, so exactly
// one of two racing writers wins a terminal transition.
type TradeStore interface {
	// Trades. GetTrade scopes the lookup to userID when it is non-empty;
	// workers and operator tooling pass "" to address any user's trade
	// by its id alone.
	SaveTrade(ctx context.Context, trade *models.Trade) error
	GetTrade(ctx context.Context, userID, id string) (*models.Trade, error)
	UpdateTrade(ctx context.Context, trade *models.Trade) error
	ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	// Candles cache for end-of-day reconciliation
	SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error
	GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)

	// Worker heartbeats
	SetWorkerHeartbeat(ctx context.Context, worker string, at time.Time) error
	GetWorkerHeartbeats(ctx context.Context) (map[string]time.Time, error)

	// Lifecycle
	Close() error
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	UserID          string
	Symbol          string
	Status          models.TradeStatus
	ActiveOnly      bool // PLACED and OPEN trades only
	IncludeArchived bool
	Limit           int
}
