package confirmations

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/anypay/eventhub/internal/config"
	"github.com/anypay/eventhub/internal/errors"
)

// BlockNotification is a new-block announcement from the provider.
type BlockNotification struct {
	Hash      string `json:"hash"`
	Height    int64  `json:"height"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// BlockDetail is the HTTP block listing: the notification fields plus the
// transaction ids the block contains.
type BlockDetail struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
	Time   *int64 `json:"time,omitempty"`
	Txs    []struct {
		Txid string `json:"txid"`
	} `json:"txs"`
}

// inboundFrame is the provider's envelope. data is one of a block, a
// transaction, or a subscription ack; only blocks matter here.
type inboundFrame struct {
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

type subscriptionAck struct {
	Subscribed *bool `json:"subscribed"`
}

// BlockbookClient speaks the provider's WS and HTTP surfaces. The HTTP side
// runs behind a circuit breaker so a flapping provider sheds load instead of
// stacking timed-out fetches.
type BlockbookClient struct {
	host         string
	apiKey       string
	pingInterval time.Duration
	http         *http.Client
	breaker      *gobreaker.CircuitBreaker
}

// NewBlockbookClient constructs a client for one provider host.
func NewBlockbookClient(cfg config.BlockbookConfig) *BlockbookClient {
	return &BlockbookClient{
		host:         cfg.Host,
		apiKey:       cfg.APIKey,
		pingInterval: cfg.PingInterval.Duration,
		http:         &http.Client{Timeout: cfg.FetchTimeout.Duration},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "blockbook_http",
			MaxRequests: 3,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn().Str("breaker", name).
					Str("from", from.String()).Str("to", to.String()).
					Msg("confirmations.breaker_state")
			},
		}),
	}
}

func (c *BlockbookClient) wsURL() string {
	return fmt.Sprintf("wss://%s/%s", c.host, c.apiKey)
}

func (c *BlockbookClient) blockURL(hash string) string {
	return fmt.Sprintf("https://%s/%s/api/v2/block/%s", c.host, c.apiKey, hash)
}

// Subscribe dials the provider, requests new-block notifications, and
// streams them to blocks until the connection drops or ctx is cancelled.
// The error is the reason the stream ended.
func (c *BlockbookClient) Subscribe(ctx context.Context, blocks chan<- BlockNotification) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), nil)
	if err != nil {
		return errors.Wrap(errors.KindUpstreamError, "blockbook dial failed", err)
	}
	defer conn.Close()

	subscribe := map[string]interface{}{"id": "1", "method": "subscribeNewBlock", "params": []interface{}{}}
	if err := conn.WriteJSON(subscribe); err != nil {
		return errors.Wrap(errors.KindUpstreamError, "blockbook subscribe failed", err)
	}
	log.Info().Str("host", c.host).Msg("confirmations.subscribed")

	// Close the socket on cancellation so the blocked read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go c.pingLoop(ctx, conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(errors.KindUpstreamError, "blockbook read failed", err)
		}

		block, ok := parseBlockFrame(raw)
		if !ok {
			continue
		}
		select {
		case blocks <- block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *BlockbookClient) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}

// parseBlockFrame extracts a block notification from a provider frame.
// Transaction frames, subscription acks, and garbage all report false; a bad
// frame never tears the connection down.
func parseBlockFrame(raw []byte) (BlockNotification, bool) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Debug().Err(err).Msg("confirmations.frame_parse_failed")
		return BlockNotification{}, false
	}
	if len(frame.Data) == 0 {
		return BlockNotification{}, false
	}

	var ack subscriptionAck
	if err := json.Unmarshal(frame.Data, &ack); err == nil && ack.Subscribed != nil {
		log.Info().Bool("subscribed", *ack.Subscribed).Msg("confirmations.subscription_ack")
		return BlockNotification{}, false
	}

	var block BlockNotification
	if err := json.Unmarshal(frame.Data, &block); err != nil || block.Hash == "" {
		return BlockNotification{}, false
	}
	return block, true
}

// FetchBlock lists a block's transaction ids over HTTP.
func (c *BlockbookClient) FetchBlock(ctx context.Context, hash string) (BlockDetail, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchBlock(ctx, hash)
	})
	if err != nil {
		return BlockDetail{}, errors.Wrap(errors.KindUpstreamError, "block fetch failed", err)
	}
	return result.(BlockDetail), nil
}

func (c *BlockbookClient) fetchBlock(ctx context.Context, hash string) (BlockDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.blockURL(hash), nil)
	if err != nil {
		return BlockDetail{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return BlockDetail{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return BlockDetail{}, fmt.Errorf("block fetch returned %d", resp.StatusCode)
	}

	var detail BlockDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return BlockDetail{}, err
	}
	return detail, nil
}
