// Package operator talks to a remote operator wallet. Requests are GETs with
// HMAC-SHA256 signed query parameters; tx_id carries the idempotency key so
// the wallet can recognise retries.
package operator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pvp-casino-backend/internal/models"
)

const (
	StatusOK                = "OK"
	StatusInsufficientFunds = "INSUFFICIENT_FUNDS"
	StatusDuplicate         = "DUPLICATE_TRANSACTION"
)

// ErrRejected is a business refusal by the wallet; retrying will not help.
var ErrRejected = errors.New("operator rejected transaction")

// ErrBadResponse means the wallet answered with JSON that is not a response object.
var ErrBadResponse = errors.New("malformed operator response")

// TransientError marks failures worth retrying: transport errors and 5xx.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "operator unavailable: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

type Client struct {
	endpoint string
	secret   string
	http     *http.Client
}

type Response struct {
	Code       int             `json:"code"`
	Status     string          `json:"status"`
	Message    string          `json:"message"`
	Balance    string          `json:"balance"`
	TxID       string          `json:"tx_id"`
	Raw        json.RawMessage `json:"-"`
	StatusCode int             `json:"-"`
}

func NewClient(endpoint, secret string) *Client {
	return &Client{
		endpoint: endpoint,
		secret:   secret,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) call(ctx context.Context, params map[string]string) (*Response, error) {
	values := url.Values{}
	for k, v := range params {
		if v != "" {
			values.Set(k, v)
		}
	}
	if c.secret != "" {
		values.Set("signature", Sign(c.secret, values))
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &TransientError{Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	parsed.Raw = body
	parsed.StatusCode = resp.StatusCode

	return &parsed, nil
}

// Sign concatenates every parameter value except action, ordered by key, and
// returns the hex HMAC-SHA256 of the result.
func Sign(secret string, v url.Values) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		if k == "action" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	buf := make([]byte, 0, 256)
	for _, k := range keys {
		buf = append(buf, v.Get(k)...)
	}
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(buf)
	return hex.EncodeToString(m.Sum(nil))
}

func (c *Client) Balance(ctx context.Context, playerID string) (int64, error) {
	resp, err := c.call(ctx, map[string]string{
		"action":    "balance",
		"player_id": playerID,
	})
	if err != nil {
		return 0, fmt.Errorf("operator.Client.Balance: %w", err)
	}
	if resp.Status != StatusOK {
		return 0, fmt.Errorf("operator.Client.Balance: %w: %s", ErrRejected, resp.Status)
	}
	return parseAmount(resp.Balance), nil
}

// GetWallet reports the operator balance. Wager totals live with the
// operator and are left at zero.
func (c *Client) GetWallet(ctx context.Context, playerID string) (*models.Wallet, error) {
	balance, err := c.Balance(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return &models.Wallet{UserID: playerID, Balance: balance}, nil
}

// Debit collects a stake.
func (c *Client) Debit(ctx context.Context, participantID string, amount int64, key string) (*models.LedgerReceipt, error) {
	resp, err := c.call(ctx, map[string]string{
		"action":     "debit",
		"player_id":  participantID,
		"round_id":   roundID(key),
		"tx_id":      key,
		"bet_amount": formatAmount(amount),
	})
	return c.receipt("operator.Client.Debit", resp, err, participantID, models.Debit, amount, key)
}

// Credit pays out or refunds. Refunds and stake reversals use the wallet's
// refund action so they are reported against the original round.
func (c *Client) Credit(ctx context.Context, participantID string, amount int64, key string) (*models.LedgerReceipt, error) {
	params := map[string]string{
		"player_id": participantID,
		"round_id":  roundID(key),
		"tx_id":     key,
	}
	switch models.TransactionTypeForKey(key) {
	case models.TransactionTypeRefund, models.TransactionTypeReversal:
		params["action"] = "refund"
		params["refund_amount"] = formatAmount(amount)
	default:
		params["action"] = "credit"
		params["win_amount"] = formatAmount(amount)
		params["round_status"] = "completed"
	}

	resp, err := c.call(ctx, params)
	return c.receipt("operator.Client.Credit", resp, err, participantID, models.Credit, amount, key)
}

func (c *Client) receipt(op string, resp *Response, err error, participantID string,
	dir models.LedgerDirection, amount int64, key string) (*models.LedgerReceipt, error) {
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	r := &models.LedgerReceipt{
		TxID:           resp.TxID,
		ParticipantID:  participantID,
		Direction:      dir,
		Amount:         amount,
		BalanceAfter:   parseAmount(resp.Balance),
		IdempotencyKey: key,
		CreatedAt:      time.Now(),
	}
	if r.TxID == "" {
		r.TxID = key
	}

	switch resp.Status {
	case StatusOK:
		return r, nil
	case StatusDuplicate:
		r.Replayed = true
		return r, nil
	case StatusInsufficientFunds:
		return nil, fmt.Errorf("%s: %w", op, models.ErrInsufficientFunds)
	default:
		return nil, fmt.Errorf("%s: %w: %s %s", op, ErrRejected, resp.Status, resp.Message)
	}
}

// roundID is the game the movement belongs to, or the key itself for stakes
// which are keyed by entry.
func roundID(key string) string {
	if id := models.GameIDForKey(key); id != "" {
		return id
	}
	return key
}

func formatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

func parseAmount(s string) int64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.Shift(2).IntPart()
}
