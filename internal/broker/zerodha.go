package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "swing-trader/internal/errors"
	"swing-trader/internal/models"
	"swing-trader/pkg/utils"
)

// ZerodhaBroker implements the Broker interface for Zerodha Kite Connect.
type ZerodhaBroker struct {
	client        *kiteconnect.Client
	apiKey        string
	apiSecret     string
	userID        string
	accessToken   string
	tokenPath     string
	authenticated bool
	instruments   map[string]models.Instrument
	retry         utils.RetryConfig
	mu            sync.RWMutex
}

// ZerodhaConfig holds configuration for Zerodha broker.
type ZerodhaConfig struct {
	APIKey    string
	APISecret string
	UserID    string
	TokenPath string
}

// NewZerodhaBroker creates a new Zerodha broker instance.
// It automatically loads any saved session from disk.
func NewZerodhaBroker(cfg ZerodhaConfig) *ZerodhaBroker {
	client := kiteconnect.New(cfg.APIKey)

	tokenPath := cfg.TokenPath
	if tokenPath == "" {
		homeDir, _ := os.UserHomeDir()
		tokenPath = filepath.Join(homeDir, ".config", "swing-trader", "session.json")
	}

	zb := &ZerodhaBroker{
		client:      client,
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		userID:      cfg.UserID,
		tokenPath:   tokenPath,
		instruments: make(map[string]models.Instrument),
		retry:       utils.DefaultRetryConfig(),
	}

	// Automatically load saved session if available
	_ = zb.loadSession()

	return zb
}

// sessionData represents persisted session data.
type sessionData struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login authenticates with Zerodha using the OAuth flow.
// It first tries to load a persisted session, then falls back to OAuth.
func (z *ZerodhaBroker) Login(ctx context.Context) error {
	// Try to load existing session
	if err := z.loadSession(); err == nil && z.authenticated {
		// Verify session is still valid
		if _, err := z.client.GetUserProfile(); err == nil {
			return nil
		}
	}

	// Need fresh authentication - return login URL for user
	loginURL := z.client.GetLoginURL()
	return fmt.Errorf("authentication required: please visit %s and complete login, then call CompleteLogin with the request token", loginURL)
}

// CompleteLogin completes the OAuth flow with the request token.
func (z *ZerodhaBroker) CompleteLogin(ctx context.Context, requestToken string) error {
	session, err := z.client.GenerateSession(requestToken, z.apiSecret)
	if err != nil {
		return fmt.Errorf("failed to generate session: %w", err)
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	// Persist session
	if err := z.saveSession(session.AccessToken); err != nil {
		// Session is valid even if persistence failed
		fmt.Printf("warning: failed to persist session: %v\n", err)
	}

	return nil
}

// Logout invalidates the session and clears stored credentials.
func (z *ZerodhaBroker) Logout(ctx context.Context) error {
	z.mu.Lock()
	defer z.mu.Unlock()

	if z.authenticated {
		if _, err := z.client.InvalidateAccessToken(); err != nil {
			fmt.Printf("warning: failed to invalidate token: %v\n", err)
		}
	}

	z.accessToken = ""
	z.authenticated = false

	if err := os.Remove(z.tokenPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}

	return nil
}

// IsAuthenticated returns whether the broker is authenticated.
func (z *ZerodhaBroker) IsAuthenticated() bool {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.authenticated
}

func (z *ZerodhaBroker) loadSession() error {
	data, err := os.ReadFile(z.tokenPath)
	if err != nil {
		return err
	}

	var session sessionData
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	// Zerodha tokens expire at 6 AM next day
	if time.Now().After(session.ExpiresAt) {
		return fmt.Errorf("session expired")
	}

	z.mu.Lock()
	z.accessToken = session.AccessToken
	z.authenticated = true
	z.client.SetAccessToken(session.AccessToken)
	z.mu.Unlock()

	return nil
}

func (z *ZerodhaBroker) saveSession(accessToken string) error {
	dir := filepath.Dir(z.tokenPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	// Zerodha tokens expire at 6 AM IST next day
	loc, _ := time.LoadLocation("Asia/Kolkata")
	now := time.Now().In(loc)
	expiresAt := time.Date(now.Year(), now.Month(), now.Day()+1, 6, 0, 0, 0, loc)

	session := sessionData{
		AccessToken: accessToken,
		UserID:      z.userID,
		ExpiresAt:   expiresAt,
	}

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	// Write with restricted permissions
	return os.WriteFile(z.tokenPath, data, 0600)
}

// GetQuote fetches real-time quote for a symbol.
func (z *ZerodhaBroker) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	quotes, err := utils.RetryWithResult(ctx, z.retry, func() (kiteconnect.Quote, error) {
		return z.client.GetQuote(symbol)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get quote: %w", err)
	}

	q, ok := quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("quote not found for symbol %s: %w", symbol, apperrors.ErrSymbolNotFound)
	}

	return &models.Quote{
		Symbol:    symbol,
		LTP:       q.LastPrice,
		Open:      q.OHLC.Open,
		High:      q.OHLC.High,
		Low:       q.OHLC.Low,
		Close:     q.OHLC.Close,
		Volume:    int64(q.Volume),
		Timestamp: q.LastTradeTime.Time,
	}, nil
}

// GetHistorical fetches historical OHLCV data.
func (z *ZerodhaBroker) GetHistorical(ctx context.Context, req HistoricalRequest) ([]models.Candle, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	token, err := z.getInstrumentToken(req.Symbol, req.Exchange)
	if err != nil {
		return nil, err
	}

	interval := mapTimeframeToInterval(req.Timeframe)

	data, err := utils.RetryWithResult(ctx, z.retry, func() ([]kiteconnect.HistoricalData, error) {
		return z.client.GetHistoricalData(int(token), interval, req.From, req.To, false, false)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get historical data: %w", err)
	}

	candles := make([]models.Candle, len(data))
	for i, d := range data {
		candles[i] = models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		}
	}

	return candles, nil
}

// GetInstruments fetches all instruments for an exchange and refreshes the
// token cache.
func (z *ZerodhaBroker) GetInstruments(ctx context.Context, exchange models.Exchange) ([]models.Instrument, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	instruments, err := z.client.GetInstruments()
	if err != nil {
		return nil, fmt.Errorf("failed to get instruments: %w", err)
	}

	var result []models.Instrument
	for _, inst := range instruments {
		if inst.Exchange != string(exchange) {
			continue
		}
		m := models.Instrument{
			Token:     uint32(inst.InstrumentToken),
			Symbol:    inst.Tradingsymbol,
			Name:      inst.Name,
			Exchange:  models.Exchange(inst.Exchange),
			Segment:   inst.Segment,
			LotSize:   int(inst.LotSize),
			TickSize:  inst.TickSize,
			Expiry:    inst.Expiry.Time,
			Strike:    inst.StrikePrice,
			InstrType: inst.InstrumentType,
		}
		result = append(result, m)

		key := fmt.Sprintf("%s:%s", inst.Exchange, inst.Tradingsymbol)
		z.mu.Lock()
		z.instruments[key] = m
		z.mu.Unlock()
	}

	return result, nil
}

func (z *ZerodhaBroker) getInstrumentToken(symbol string, exchange models.Exchange) (uint32, error) {
	key := fmt.Sprintf("%s:%s", exchange, symbol)

	z.mu.RLock()
	inst, ok := z.instruments[key]
	z.mu.RUnlock()

	if ok {
		return inst.Token, nil
	}

	// Fetch instruments if not cached
	if _, err := z.GetInstruments(context.Background(), exchange); err != nil {
		return 0, err
	}

	z.mu.RLock()
	inst, ok = z.instruments[key]
	z.mu.RUnlock()

	if !ok {
		return 0, fmt.Errorf("instrument not found: %s: %w", symbol, apperrors.ErrSymbolNotFound)
	}

	return inst.Token, nil
}

func mapTimeframeToInterval(tf string) string {
	switch tf {
	case "1min":
		return "minute"
	case "5min":
		return "5minute"
	case "15min":
		return "15minute"
	case "30min":
		return "30minute"
	case "1hour":
		return "60minute"
	case "1day":
		return "day"
	default:
		return "day"
	}
}

// PlaceOrder places a new order.
func (z *ZerodhaBroker) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(order.Exchange),
		Tradingsymbol:   order.Symbol,
		TransactionType: string(order.Side),
		OrderType:       string(order.Type),
		Product:         string(order.Product),
		Quantity:        order.Quantity,
		Price:           order.Price,
		TriggerPrice:    order.TriggerPrice,
		Validity:        order.Validity,
		Tag:             order.Tag,
	}

	if params.Validity == "" {
		params.Validity = "DAY"
	}

	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return nil, apperrors.NewOrderError("", order.Symbol, "place", "broker rejected order", err)
	}

	return &OrderResult{
		OrderID: resp.OrderID,
		Status:  "PLACED",
		Message: "Order placed successfully",
	}, nil
}

// ModifyOrder modifies an existing order.
func (z *ZerodhaBroker) ModifyOrder(ctx context.Context, orderID string, order *models.Order) error {
	if !z.IsAuthenticated() {
		return apperrors.ErrNotAuthenticated
	}

	params := kiteconnect.OrderParams{
		Exchange:        string(order.Exchange),
		Tradingsymbol:   order.Symbol,
		TransactionType: string(order.Side),
		OrderType:       string(order.Type),
		Product:         string(order.Product),
		Quantity:        order.Quantity,
		Price:           order.Price,
		TriggerPrice:    order.TriggerPrice,
		Validity:        order.Validity,
	}

	_, err := z.client.ModifyOrder(kiteconnect.VarietyRegular, orderID, params)
	if err != nil {
		return apperrors.NewOrderError(orderID, order.Symbol, "modify", "broker rejected modification", err)
	}

	return nil
}

// CancelOrder cancels an existing order.
func (z *ZerodhaBroker) CancelOrder(ctx context.Context, orderID string) error {
	if !z.IsAuthenticated() {
		return apperrors.ErrNotAuthenticated
	}

	_, err := z.client.CancelOrder(kiteconnect.VarietyRegular, orderID, nil)
	if err != nil {
		return apperrors.NewOrderError(orderID, "", "cancel", "broker rejected cancellation", err)
	}

	return nil
}

// GetOrder fetches the latest state of a single order.
func (z *ZerodhaBroker) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	history, err := z.client.GetOrderHistory(orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}
	if len(history) == 0 {
		return nil, apperrors.ErrOrderNotFound
	}

	// Last entry holds the current state
	o := history[len(history)-1]
	order := mapKiteOrder(o)
	return &order, nil
}

// GetOrders fetches all orders for the day.
func (z *ZerodhaBroker) GetOrders(ctx context.Context) ([]models.Order, error) {
	if !z.IsAuthenticated() {
		return nil, apperrors.ErrNotAuthenticated
	}

	orders, err := z.client.GetOrders()
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}

	result := make([]models.Order, len(orders))
	for i, o := range orders {
		result[i] = mapKiteOrder(o)
	}

	return result, nil
}

func mapKiteOrder(o kiteconnect.Order) models.Order {
	return models.Order{
		ID:           o.OrderID,
		Symbol:       o.TradingSymbol,
		Exchange:     models.Exchange(o.Exchange),
		Side:         models.OrderSide(o.TransactionType),
		Type:         models.OrderType(o.OrderType),
		Product:      models.ProductType(o.Product),
		Quantity:     int(o.Quantity),
		Price:        o.Price,
		TriggerPrice: o.TriggerPrice,
		Validity:     o.Validity,
		Tag:          o.Tag,
		Status:       models.OrderState(o.Status),
		FilledQty:    int(o.FilledQuantity),
		AveragePrice: o.AveragePrice,
		PlacedAt:     o.OrderTimestamp.Time,
	}
}

// OrderStream returns an order postback stream bound to the current
// session. Call after authentication; the stream carries the access
// token it was created with.
func (z *ZerodhaBroker) OrderStream() *OrderStream {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return NewOrderStream(z.apiKey, z.accessToken)
}

// GetLoginURL returns the Zerodha login URL for OAuth.
func (z *ZerodhaBroker) GetLoginURL() string {
	return z.client.GetLoginURL()
}

// Ensure ZerodhaBroker implements Broker interface
var _ Broker = (*ZerodhaBroker)(nil)
