package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"solana-trade-exec/internal/domain"
)

// PriceUpdate is one pushed spot price observation. The stream is strictly
// observational: the convergence engine still reads prices through the
// facade on every iteration, the stream only feeds live logging and gauges.
type PriceUpdate struct {
	Token string
	Price float64
	At    time.Time
}

// StreamConfig configures PriceStream reconnect behavior.
type StreamConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultStreamConfig returns the default stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// PriceStream subscribes to a Birdeye-style websocket price feed for a fixed
// token set and delivers updates on a single channel. It reconnects with
// backoff and resubscribes after a drop.
type PriceStream struct {
	endpoint string
	tokens   []string
	config   StreamConfig

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	updates chan PriceUpdate
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPriceStream connects and subscribes to price updates for tokens.
func NewPriceStream(ctx context.Context, endpoint string, tokens []string, config *StreamConfig) (*PriceStream, error) {
	for _, t := range tokens {
		if err := domain.ValidateMint(t); err != nil {
			return nil, err
		}
	}

	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	s := &PriceStream{
		endpoint: endpoint,
		tokens:   tokens,
		config:   cfg,
		updates:  make(chan PriceUpdate, 1024),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()

	return s, nil
}

// Updates returns the price update channel. Closed when the stream closes.
func (s *PriceStream) Updates() <-chan PriceUpdate {
	return s.updates
}

// Close shuts the stream down and closes the update channel.
func (s *PriceStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.updates)
	return nil
}

// connect dials the endpoint and subscribes to the token set.
func (s *PriceStream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	sub := map[string]interface{}{
		"type": "SUBSCRIBE_PRICE",
		"data": map[string]interface{}{"addresses": s.tokens},
	}
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	return nil
}

// priceMessage is the feed's price update frame.
type priceMessage struct {
	Type string `json:"type"`
	Data struct {
		Address  string  `json:"address"`
		Value    float64 `json:"value"`
		UnixTime int64   `json:"unixTime"`
	} `json:"data"`
}

// readLoop reads frames, dispatches price updates, and reconnects on error.
func (s *PriceStream) readLoop() {
	defer s.wg.Done()

	delay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}
			// Reconnect with backoff, then resubscribe.
			select {
			case <-s.done:
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > s.config.MaxReconnectDelay {
				delay = s.config.MaxReconnectDelay
			}
			if err := s.connect(context.Background()); err != nil {
				continue
			}
			delay = s.config.ReconnectDelay
			continue
		}

		var msg priceMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "PRICE_DATA" {
			continue
		}

		update := PriceUpdate{
			Token: msg.Data.Address,
			Price: msg.Data.Value,
			At:    time.Unix(msg.Data.UnixTime, 0),
		}
		select {
		case s.updates <- update:
		default:
			// Slow consumer, drop the frame.
		}
	}
}

// pingLoop keeps the connection alive.
func (s *PriceStream) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.connMu.Unlock()
		}
	}
}
