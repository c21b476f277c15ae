package market

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"solana-trade-exec/internal/domain"
)

// Default endpoints and client configuration.
const (
	DefaultQuoteAPI    = "https://quote-api.jup.ag/v6"
	DefaultPriceAPI    = "https://public-api.birdeye.so"
	DefaultRPCEndpoint = "https://api.mainnet-beta.solana.com"

	DefaultHTTPTimeout = 30 * time.Second
	DefaultPriorityFee = 100000 // lamports

	maxResponseBytes = 10 << 20 // 10 MiB cap on response bodies
)

// Client is the production Facade: Birdeye for prices, Solana JSON-RPC for
// balances and transaction submission, the Jupiter aggregator for swaps.
// It performs no retries and caches nothing except token decimals, which
// are immutable per mint.
type Client struct {
	quoteAPI    string
	priceAPI    string
	rpcEndpoint string
	birdeyeKey  string
	priorityFee int64

	// Fee payer and signer for swap transactions.
	wallet string
	signer ed25519.PrivateKey

	client    *http.Client
	requestID atomic.Uint64

	decimalsMu sync.RWMutex
	decimals   map[string]int
}

// Option configures Client.
type Option func(*Client)

// WithQuoteAPI overrides the Jupiter quote API base URL.
func WithQuoteAPI(u string) Option {
	return func(c *Client) { c.quoteAPI = u }
}

// WithPriceAPI overrides the Birdeye price API base URL.
func WithPriceAPI(u string) Option {
	return func(c *Client) { c.priceAPI = u }
}

// WithRPCEndpoint overrides the Solana RPC endpoint.
func WithRPCEndpoint(u string) Option {
	return func(c *Client) { c.rpcEndpoint = u }
}

// WithPriorityFee sets the prioritization fee in lamports attached to swaps.
func WithPriorityFee(lamports int64) Option {
	return func(c *Client) { c.priorityFee = lamports }
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// NewClient creates a market client for the given wallet. privateKey is the
// base58-encoded 64-byte ed25519 keypair; it may be empty for read-only use,
// in which case SubmitOrder fails.
func NewClient(birdeyeKey, privateKey string, opts ...Option) (*Client, error) {
	c := &Client{
		quoteAPI:    DefaultQuoteAPI,
		priceAPI:    DefaultPriceAPI,
		rpcEndpoint: DefaultRPCEndpoint,
		birdeyeKey:  birdeyeKey,
		priorityFee: DefaultPriorityFee,
		client:      &http.Client{Timeout: DefaultHTTPTimeout},
		decimals:    make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}

	if privateKey != "" {
		raw, err := base58.Decode(privateKey)
		if err != nil {
			return nil, fmt.Errorf("decode private key: %w", err)
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("private key is %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
		}
		c.signer = ed25519.PrivateKey(raw)
		c.wallet = base58.Encode(c.signer.Public().(ed25519.PublicKey))
	}
	return c, nil
}

// Wallet returns the signing wallet address, empty for read-only clients.
func (c *Client) Wallet() string { return c.wallet }

// CurrentPrice fetches the spot USD price from Birdeye.
func (c *Client) CurrentPrice(ctx context.Context, token string) (float64, error) {
	u := fmt.Sprintf("%s/defi/price?address=%s", c.priceAPI, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build price request: %v", ErrUnavailable, err)
	}
	req.Header.Set("X-API-KEY", c.birdeyeKey)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Value float64 `json:"value"`
		} `json:"data"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return 0, fmt.Errorf("%w: price for %s: %v", ErrUnavailable, short(token), err)
	}
	if !resp.Success || resp.Data.Value <= 0 {
		return 0, fmt.Errorf("%w: no price for %s", ErrUnavailable, short(token))
	}
	return resp.Data.Value, nil
}

// HeldQuantity sums the wallet's token account balances for a mint.
func (c *Client) HeldQuantity(ctx context.Context, wallet, token string) (float64, error) {
	params := []interface{}{
		wallet,
		map[string]string{"mint": token},
		map[string]string{"encoding": "jsonParsed"},
	}

	var result struct {
		Value []struct {
			Account struct {
				Data struct {
					Parsed struct {
						Info struct {
							TokenAmount struct {
								UIAmount float64 `json:"uiAmount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := c.rpcCall(ctx, "getTokenAccountsByOwner", params, &result); err != nil {
		return 0, fmt.Errorf("%w: balance of %s: %v", ErrUnavailable, short(token), err)
	}

	var total float64
	for _, acct := range result.Value {
		total += acct.Account.Data.Parsed.Info.TokenAmount.UIAmount
	}
	return total, nil
}

// Decimals returns the mint's decimal precision, cached after first read.
func (c *Client) Decimals(ctx context.Context, token string) (int, error) {
	c.decimalsMu.RLock()
	d, ok := c.decimals[token]
	c.decimalsMu.RUnlock()
	if ok {
		return d, nil
	}

	params := []interface{}{token, map[string]string{"encoding": "jsonParsed"}}
	var result struct {
		Value struct {
			Data struct {
				Parsed struct {
					Info struct {
						Decimals int `json:"decimals"`
					} `json:"info"`
				} `json:"parsed"`
			} `json:"data"`
		} `json:"value"`
	}
	if err := c.rpcCall(ctx, "getAccountInfo", params, &result); err != nil {
		return 0, fmt.Errorf("%w: decimals of %s: %v", ErrUnavailable, short(token), err)
	}

	d = result.Value.Data.Parsed.Info.Decimals
	c.decimalsMu.Lock()
	c.decimals[token] = d
	c.decimalsMu.Unlock()
	return d, nil
}

// SubmitOrder quotes and executes one market swap through Jupiter.
// Buys swap USDC into the token with ExactOut semantics so baseQty is the
// received amount; sells swap baseQty of the token into USDC.
func (c *Client) SubmitOrder(ctx context.Context, token string, side domain.OrderSide, baseQty float64, slippageBps int) (domain.OrderReceipt, error) {
	if c.signer == nil {
		return domain.OrderReceipt{}, &VenueError{Side: side, Token: token, Err: fmt.Errorf("client has no signing key")}
	}

	decimals, err := c.Decimals(ctx, token)
	if err != nil {
		return domain.OrderReceipt{}, &VenueError{Side: side, Token: token, Retryable: true, Err: err}
	}
	atomicQty := int64(math.Floor(baseQty * math.Pow10(decimals)))
	if atomicQty <= 0 {
		return domain.OrderReceipt{}, &VenueError{Side: side, Token: token, Err: fmt.Errorf("quantity %.10f rounds to zero at %d decimals", baseQty, decimals)}
	}

	quote, err := c.fetchQuote(ctx, token, side, atomicQty, slippageBps)
	if err != nil {
		return domain.OrderReceipt{}, &VenueError{Side: side, Token: token, Retryable: true, Err: err}
	}

	rawTx, err := c.buildSwap(ctx, quote)
	if err != nil {
		return domain.OrderReceipt{}, &VenueError{Side: side, Token: token, Retryable: true, Err: err}
	}

	signed, err := signTransaction(rawTx, c.signer)
	if err != nil {
		return domain.OrderReceipt{}, &VenueError{Side: side, Token: token, Err: fmt.Errorf("sign swap: %w", err)}
	}

	sig, err := c.sendTransaction(ctx, signed)
	if err != nil {
		return domain.OrderReceipt{}, &VenueError{Side: side, Token: token, Retryable: true, Err: err}
	}

	return domain.OrderReceipt{
		TxSignature: sig,
		Token:       token,
		Side:        side,
		BaseQty:     baseQty,
	}, nil
}

// fetchQuote asks Jupiter for a swap route. The raw quote JSON is passed
// back verbatim into the swap request.
func (c *Client) fetchQuote(ctx context.Context, token string, side domain.OrderSide, atomicQty int64, slippageBps int) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("amount", strconv.FormatInt(atomicQty, 10))
	q.Set("slippageBps", strconv.Itoa(slippageBps))
	if side == domain.SideBuy {
		q.Set("inputMint", domain.USDCMint)
		q.Set("outputMint", token)
		q.Set("swapMode", "ExactOut")
	} else {
		q.Set("inputMint", token)
		q.Set("outputMint", domain.USDCMint)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.quoteAPI+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build quote request: %w", err)
	}

	var quote json.RawMessage
	if err := c.doJSON(req, &quote); err != nil {
		return nil, fmt.Errorf("fetch quote: %w", err)
	}
	return quote, nil
}

// buildSwap exchanges a quote for a serialized unsigned transaction.
func (c *Client) buildSwap(ctx context.Context, quote json.RawMessage) ([]byte, error) {
	body, err := json.Marshal(map[string]interface{}{
		"quoteResponse":             quote,
		"userPublicKey":             c.wallet,
		"prioritizationFeeLamports": c.priorityFee,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.quoteAPI+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return nil, fmt.Errorf("build swap: %w", err)
	}
	if resp.SwapTransaction == "" {
		return nil, fmt.Errorf("swap response missing transaction")
	}

	rawTx, err := base64.StdEncoding.DecodeString(resp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode swap transaction: %w", err)
	}
	return rawTx, nil
}

// sendTransaction submits a signed transaction, skipping preflight the way
// aggregator swaps conventionally do.
func (c *Client) sendTransaction(ctx context.Context, signed []byte) (string, error) {
	params := []interface{}{
		base64.StdEncoding.EncodeToString(signed),
		map[string]interface{}{"encoding": "base64", "skipPreflight": true},
	}
	var sig string
	if err := c.rpcCall(ctx, "sendTransaction", params, &sig); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcCall performs one JSON-RPC call against the Solana endpoint.
func (c *Client) rpcCall(ctx context.Context, method string, params []interface{}, result interface{}) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp rpcResponse
	if err := c.doJSON(req, &resp); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: %w", method, resp.Error)
	}
	if result != nil {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// doJSON executes a request and decodes the JSON body into out.
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body, 256))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
