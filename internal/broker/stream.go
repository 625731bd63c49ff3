package broker

import (
	"context"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"
	kiteticker "github.com/zerodha/gokiteconnect/v4/ticker"

	"swing-trader/internal/models"
)

// OrderStream delivers brokerage order postbacks over the Kite Connect
// websocket. It is the push counterpart to polling GetOrder: every
// update for any order on the account is forwarded to the handler.
type OrderStream struct {
	ticker *kiteticker.Ticker
}

// NewOrderStream creates a stream bound to an authenticated session.
func NewOrderStream(apiKey, accessToken string) *OrderStream {
	return &OrderStream{ticker: kiteticker.New(apiKey, accessToken)}
}

// Run connects and forwards order updates to handler until ctx is
// cancelled. The underlying ticker reconnects on its own; errors along
// the way go to onErr. Run blocks.
func (s *OrderStream) Run(ctx context.Context, handler func(models.Order), onErr func(error)) {
	s.ticker.OnOrderUpdate(func(order kiteconnect.Order) {
		handler(mapKiteOrder(order))
	})
	if onErr != nil {
		s.ticker.OnError(onErr)
	}

	go s.ticker.Serve()
	<-ctx.Done()
	s.ticker.Close()
}
