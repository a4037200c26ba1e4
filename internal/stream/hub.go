package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// PriceTick is the wire format pushed to websocket subscribers, one message
// per successful poll per token.
type PriceTick struct {
	TokenAddress string          `json:"token_address"`
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	At           time.Time       `json:"at"`
}

// Hub fans price ticks out to connected websocket clients. Slow clients get
// their oldest pending tick dropped rather than stalling the pollers.
type Hub struct {
	Logger *zap.Logger

	mu   sync.Mutex
	subs map[chan PriceTick]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		Logger: logger,
		subs:   map[chan PriceTick]struct{}{},
	}
}

// PublishPrice implements watcher.TickSink. Never blocks.
func (h *Hub) PublishPrice(tokenAddress, symbol string, price decimal.Decimal, at time.Time) {
	if h == nil {
		return
	}
	tick := PriceTick{TokenAddress: tokenAddress, Symbol: symbol, Price: price, At: at}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub <- tick:
		default:
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- tick:
			default:
			}
		}
	}
}

func (h *Hub) subscribe() chan PriceTick {
	sub := make(chan PriceTick, 32)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub chan PriceTick) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams ticks until the client
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket accept failed", zap.Error(err))
		}
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-sub:
			payload, err := json.Marshal(tick)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
