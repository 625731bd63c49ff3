// Package broker provides broker integration interfaces and implementations.
package broker

import (
	"context"
	"time"

	"swing-trader/internal/models"
)

// Broker defines the interface for broker operations used by the
// lifecycle workers.
type Broker interface {
	// Authentication
	IsAuthenticated() bool

	// Market Data
	GetQuote(ctx context.Context, symbol string) (*models.Quote, error)
	GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Candle, error)

	// Orders
	PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error)
	ModifyOrder(ctx context.Context, orderID string, order *models.Order) error
	CancelOrder(ctx context.Context, orderID string) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrders(ctx context.Context) ([]models.Order, error)
}

// HistoricalRequest represents a request for historical data.
type HistoricalRequest struct {
	Symbol    string
	Exchange  models.Exchange
	Timeframe string
	From      time.Time
	To        time.Time
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	OrderID string
	Status  string
	Message string
}
