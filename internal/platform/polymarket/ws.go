package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkarlsen/updown/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// QuoteHandler is called for every inbound price update.
type QuoteHandler func(assetID string, price float64)

// WSClient is a WebSocket client for the Polymarket CLOB real-time data
// feed. It manages a single connection and dispatches (assetID, price)
// tuples to the registered handler. It does not reconnect on its own: when
// the connection drops, Done is signalled and the owner decides whether a
// new client should be dialed.
type WSClient struct {
	wsURL string

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	handlerMu sync.RWMutex
	onQuote   QuoteHandler

	// done is closed when the client shuts down or the read loop exits.
	done      chan struct{}
	closeOnce sync.Once
}

// NewWSClient creates a new WebSocket client for the given WebSocket URL.
//
// wsURL is the CLOB market channel endpoint, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// OnQuote registers the handler invoked for every price update. Must be
// called before Connect.
func (w *WSClient) OnQuote(handler QuoteHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.onQuote = handler
}

// Connect establishes the WebSocket connection and starts the read and ping
// loops.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}

	w.conn = conn

	// Pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	return nil
}

// Subscribe subscribes to price updates for the given asset IDs on the
// last_trade_price and price_change channels.
func (w *WSClient) Subscribe(ctx context.Context, assetIDs []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("polymarket/ws: not connected")
	}

	for _, ch := range []string{"last_trade_price", "price_change"} {
		cmd := WSCommand{
			Type:    "subscribe",
			Channel: ch,
			Assets:  assetIDs,
		}
		if err := w.sendCommand(cmd); err != nil {
			return fmt.Errorf("polymarket/ws: subscribe to %s: %w", ch, err)
		}
	}

	return nil
}

// Done is closed when the connection has terminated, cleanly or not.
func (w *WSClient) Done() <-chan struct{} {
	return w.done
}

// Close shuts down the WebSocket connection and stops the read loop. It is
// safe to call multiple times.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.closeOnce.Do(func() { close(w.done) })

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command to the WebSocket. Caller must hold w.mu.
func (w *WSClient) sendCommand(cmd WSCommand) error {
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads messages from the WebSocket and dispatches
// them to the quote handler. It runs in its own goroutine and signals done
// on exit.
func (w *WSClient) readLoop() {
	defer w.closeOnce.Do(func() { close(w.done) })

	for {
		w.mu.RLock()
		conn := w.conn
		closed := w.closed
		w.mu.RUnlock()

		if conn == nil || closed {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the WebSocket alive.
func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses a raw WebSocket frame and dispatches price updates.
// Messages arrive arbitrarily interleaved across subscribed assets with no
// delivery guarantee; anything unparseable is silently dropped.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		MsgType string `json:"msg_type"`
		Event   string `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}

	msgType := envelope.MsgType
	if msgType == "" {
		msgType = envelope.Event
	}

	switch msgType {
	case "last_trade_price", "price_change":
		var pm PriceMessage
		if err := json.Unmarshal(raw, &pm); err != nil {
			return
		}
		price, err := strconv.ParseFloat(pm.Price, 64)
		if err != nil || pm.AssetID == "" {
			return
		}

		w.handlerMu.RLock()
		handler := w.onQuote
		w.handlerMu.RUnlock()

		if handler != nil {
			handler(pm.AssetID, price)
		}
	}
}
