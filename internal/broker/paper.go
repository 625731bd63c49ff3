package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "swing-trader/internal/errors"
	"swing-trader/internal/models"
)

// PaperBroker implements the Broker interface for paper trading simulation.
// Orders fill against the last known price, either pushed via Tick or
// pulled from an optional real data broker.
type PaperBroker struct {
	// Real broker for market data (optional)
	dataBroker Broker

	orders       map[string]*models.Order
	quotes       map[string]models.Quote
	candles      map[string][]models.Candle
	orderCounter int

	mu sync.RWMutex
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(dataBroker Broker) *PaperBroker {
	return &PaperBroker{
		dataBroker: dataBroker,
		orders:     make(map[string]*models.Order),
		quotes:     make(map[string]models.Quote),
		candles:    make(map[string][]models.Candle),
	}
}

// IsAuthenticated always returns true for paper trading.
func (p *PaperBroker) IsAuthenticated() bool {
	return true
}

// GetQuote returns the simulated quote, falling back to the data broker.
// Quotes are keyed by bare trading symbol, so an exchange prefix is
// stripped before lookup.
func (p *PaperBroker) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	key := symbol
	if i := strings.LastIndex(key, ":"); i >= 0 {
		key = key[i+1:]
	}

	p.mu.RLock()
	q, ok := p.quotes[key]
	p.mu.RUnlock()
	if ok {
		return &q, nil
	}

	if p.dataBroker != nil {
		quote, err := p.dataBroker.GetQuote(ctx, symbol)
		if err == nil {
			p.mu.Lock()
			p.quotes[key] = *quote
			p.mu.Unlock()
		}
		return quote, err
	}

	return nil, fmt.Errorf("no quote for %s: %w", symbol, apperrors.ErrSymbolNotFound)
}

// GetHistorical returns seeded candles, falling back to the data broker.
func (p *PaperBroker) GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Candle, error) {
	p.mu.RLock()
	all, ok := p.candles[req.Symbol]
	p.mu.RUnlock()
	if ok {
		var out []models.Candle
		for _, c := range all {
			if !c.Timestamp.Before(req.From) && !c.Timestamp.After(req.To) {
				out = append(out, c)
			}
		}
		return out, nil
	}

	if p.dataBroker != nil {
		return p.dataBroker.GetHistorical(ctx, req)
	}

	return nil, apperrors.ErrDataNotFound
}

// PlaceOrder simulates order placement. Marketable limit and market
// orders fill immediately; stop orders wait for a trigger.
func (p *PaperBroker) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if order.Quantity <= 0 {
		return nil, apperrors.NewValidationError("quantity", order.Quantity, "must be positive")
	}

	p.orderCounter++
	orderID := fmt.Sprintf("PAPER_%d_%d", time.Now().Unix(), p.orderCounter)

	newOrder := &models.Order{
		ID:           orderID,
		Symbol:       order.Symbol,
		Exchange:     order.Exchange,
		Side:         order.Side,
		Type:         order.Type,
		Product:      order.Product,
		Quantity:     order.Quantity,
		Price:        order.Price,
		TriggerPrice: order.TriggerPrice,
		Validity:     order.Validity,
		Tag:          order.Tag,
		PlacedAt:     time.Now(),
	}

	switch order.Type {
	case models.OrderTypeStopLoss, models.OrderTypeStopLossM:
		newOrder.Status = models.OrderStateTriggerPending
	default:
		newOrder.Status = models.OrderStateOpen
	}

	ltp := p.quotes[order.Symbol].LTP
	p.tryFillLocked(newOrder, ltp)

	p.orders[orderID] = newOrder

	return &OrderResult{
		OrderID: orderID,
		Status:  string(newOrder.Status),
		Message: "Paper order placed",
	}, nil
}

// ModifyOrder simulates order modification.
func (p *PaperBroker) ModifyOrder(ctx context.Context, orderID string, order *models.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, ok := p.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}

	if !existing.Status.Pending() {
		return apperrors.NewOrderError(orderID, existing.Symbol, "modify",
			fmt.Sprintf("cannot modify order with status %s", existing.Status), nil)
	}

	existing.Price = order.Price
	existing.TriggerPrice = order.TriggerPrice
	if order.Quantity > 0 {
		existing.Quantity = order.Quantity
	}

	return nil
}

// CancelOrder simulates order cancellation. Completed orders cannot be
// cancelled, mirroring the real brokerage.
func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}

	if !order.Status.Pending() {
		return apperrors.NewOrderError(orderID, order.Symbol, "cancel",
			fmt.Sprintf("cannot cancel order with status %s", order.Status), nil)
	}

	order.Status = models.OrderStateCancelled
	return nil
}

// GetOrder returns the current state of a paper order.
func (p *PaperBroker) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	o := *order
	return &o, nil
}

// GetOrders returns all paper orders.
func (p *PaperBroker) GetOrders(ctx context.Context) ([]models.Order, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	orders := make([]models.Order, 0, len(p.orders))
	for _, o := range p.orders {
		orders = append(orders, *o)
	}
	return orders, nil
}

// SetQuote seeds a quote for a symbol.
func (p *PaperBroker) SetQuote(q models.Quote) {
	p.mu.Lock()
	p.quotes[q.Symbol] = q
	p.mu.Unlock()
}

// SetHistorical seeds historical candles for a symbol.
func (p *PaperBroker) SetHistorical(symbol string, candles []models.Candle) {
	p.mu.Lock()
	p.candles[symbol] = candles
	p.mu.Unlock()
}

// Tick pushes a new traded price and evaluates pending orders against it.
func (p *PaperBroker) Tick(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	q := p.quotes[symbol]
	q.Symbol = symbol
	q.LTP = price
	if price > q.High {
		q.High = price
	}
	if q.Low == 0 || price < q.Low {
		q.Low = price
	}
	q.Timestamp = time.Now()
	p.quotes[symbol] = q

	for _, o := range p.orders {
		if o.Symbol != symbol || !o.Status.Pending() {
			continue
		}
		p.tryFillLocked(o, price)
	}
}

// FillOrder marks an order complete at the given price. Test hook for
// simulating out-of-band fills.
func (p *PaperBroker) FillOrder(orderID string, price float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if !order.Status.Pending() {
		return apperrors.NewOrderError(orderID, order.Symbol, "fill",
			fmt.Sprintf("cannot fill order with status %s", order.Status), nil)
	}

	p.fillLocked(order, price)
	return nil
}

func (p *PaperBroker) tryFillLocked(o *models.Order, price float64) {
	if price <= 0 {
		return
	}

	switch o.Type {
	case models.OrderTypeMarket:
		p.fillLocked(o, price)

	case models.OrderTypeLimit:
		if o.Side == models.OrderSideBuy && price <= o.Price {
			p.fillLocked(o, o.Price)
		}
		if o.Side == models.OrderSideSell && price >= o.Price {
			p.fillLocked(o, o.Price)
		}

	case models.OrderTypeStopLoss, models.OrderTypeStopLossM:
		// A sell stop triggers when price falls to the trigger; a buy
		// stop when it rises to it.
		if o.Side == models.OrderSideSell && price <= o.TriggerPrice {
			p.fillLocked(o, o.TriggerPrice)
		}
		if o.Side == models.OrderSideBuy && price >= o.TriggerPrice {
			p.fillLocked(o, o.TriggerPrice)
		}
	}
}

func (p *PaperBroker) fillLocked(o *models.Order, price float64) {
	o.Status = models.OrderStateComplete
	o.FilledQty = o.Quantity
	o.AveragePrice = price
}

// Reset clears all simulated state.
func (p *PaperBroker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.orders = make(map[string]*models.Order)
	p.quotes = make(map[string]models.Quote)
	p.candles = make(map[string][]models.Candle)
	p.orderCounter = 0
}

// Ensure PaperBroker implements Broker interface
var _ Broker = (*PaperBroker)(nil)
