package kalshi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"WxEdge/internal/domain/models"
	drepo "WxEdge/internal/domain/repository"
	"WxEdge/pkg/logger"

	"github.com/gorilla/websocket"
)

// Stream implements a MarketStream backed by the Kalshi ticker channel.
type Stream struct {
	websocketURL   string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	conn      *websocket.Conn
	connected bool
	tickers   []string
	cmdID     int
}

// NewStream creates a new Kalshi MarketStream.
func NewStream(websocketURL string, reconnectDelay, pingInterval time.Duration, log *logger.Logger) drepo.MarketStream {
	return &Stream{
		websocketURL:   websocketURL,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
	}
}

// Connect establishes the WebSocket connection.
func (s *Stream) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("kalshi stream connect: %w", err)
	}
	s.conn = conn
	s.connected = true
	s.log.Info("kalshi stream connected")
	return nil
}

type subscribeCommand struct {
	ID     int             `json:"id"`
	Cmd    string          `json:"cmd"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers"`
}

// Subscribe subscribes to ticker updates for the given market tickers.
func (s *Stream) Subscribe(ctx context.Context, tickers []string) error {
	if s.conn == nil || !s.connected {
		return fmt.Errorf("kalshi stream not connected")
	}
	s.tickers = tickers
	s.cmdID++
	cmd := subscribeCommand{
		ID:  s.cmdID,
		Cmd: "subscribe",
		Params: subscribeParams{
			Channels:      []string{"ticker"},
			MarketTickers: tickers,
		},
	}
	if err := s.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("subscribe ticker channel: %w", err)
	}
	s.log.Info("kalshi stream subscribed", logger.Int("tickers", len(tickers)))
	return nil
}

type tickerMessage struct {
	Type string     `json:"type"`
	Msg  tickerData `json:"msg"`
}

type tickerData struct {
	MarketTicker string `json:"market_ticker"`
	YesBid       int    `json:"yes_bid"`
	YesAsk       int    `json:"yes_ask"`
	Price        int    `json:"price"`
	Volume       int    `json:"volume"`
	Ts           int64  `json:"ts"` // seconds
}

// Read streams PriceUpdate events and errors.
func (s *Stream) Read(ctx context.Context) (<-chan *models.PriceUpdate, <-chan error) {
	updates := make(chan *models.PriceUpdate, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.conn != nil {
					_ = s.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(updates)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if s.conn == nil {
					errs <- fmt.Errorf("kalshi stream conn nil")
					return
				}
				_, b, err := s.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("kalshi stream read: %w", err)
					return
				}
				var m tickerMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-JSON frames
					continue
				}
				if m.Type != "ticker" {
					continue
				}
				ts := time.Now()
				if m.Msg.Ts > 0 {
					ts = time.Unix(m.Msg.Ts, 0)
				}
				update := &models.PriceUpdate{
					Ticker:    m.Msg.MarketTicker,
					YesBid:    m.Msg.YesBid,
					YesAsk:    m.Msg.YesAsk,
					LastPrice: m.Msg.Price,
					Volume:    m.Msg.Volume,
					Timestamp: ts,
				}
				select {
				case updates <- update:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return updates, errs
}

// Reconnect closes and reconnects, restoring the subscription.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	time.Sleep(s.reconnectDelay)
	if err := s.Connect(ctx); err != nil {
		return err
	}
	if len(s.tickers) == 0 {
		return nil
	}
	return s.Subscribe(ctx, s.tickers)
}

// Close closes the WS connection.
func (s *Stream) Close() error {
	s.connected = false
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (s *Stream) IsConnected() bool { return s.connected }
