package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beka-birhanu/xplode-api/game"
	"github.com/beka-birhanu/xplode-api/service/i"
	"github.com/google/uuid"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"

	settlementsPath = "/settlements"
	initializePath  = "/initialize"
	movePath        = "/move"
	commitPath      = "/commit"

	maxResponseBody = 4 << 10
)

// Client talks to the external settlement layer over HTTP.
type Client struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewClient creates a ledger client authenticating with token.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
	}
}

type settlementRequest struct {
	Key      string            `json:"key"`
	MatchID  string            `json:"match_id"`
	Round    int               `json:"round"`
	Terminal string            `json:"terminal"`
	Currency string            `json:"currency"`
	Winners  []string          `json:"winners"`
	Stakes   map[string]string `json:"stakes"`
	Payouts  map[string]string `json:"payouts"`
	Refund   bool              `json:"refund"`
	Reason   string            `json:"reason,omitempty"`
}

type settlementResponse struct {
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

// RecordOutcome submits a settlement record. Submissions carry the record key
// as idempotency key, so resubmitting a record is safe. Transport failures,
// throttling and server errors come back as i.ErrLedgerUnavailable; a
// refusal of the record itself is a rejected receipt.
func (c *Client) RecordOutcome(ctx context.Context, rec *game.SettlementRecord) (i.LedgerReceipt, error) {
	body := settlementRequest{
		Key:      rec.Key.String(),
		MatchID:  rec.MatchID.String(),
		Round:    rec.Round,
		Terminal: string(rec.Terminal),
		Currency: rec.Currency,
		Winners:  make([]string, 0, len(rec.Winners)),
		Stakes:   make(map[string]string, len(rec.Stakes)),
		Payouts:  make(map[string]string, len(rec.Payouts)),
		Refund:   rec.Refund,
		Reason:   rec.Reason,
	}
	for _, w := range rec.Winners {
		body.Winners = append(body.Winners, w.String())
	}
	for p, v := range rec.Stakes {
		body.Stakes[p.String()] = v.String()
	}
	for p, v := range rec.Payouts {
		body.Payouts[p.String()] = v.String()
	}

	status, data, err := c.post(ctx, settlementsPath, rec.Key.String(), body)
	if err != nil {
		return i.LedgerReceipt{}, fmt.Errorf("%w: %s", i.ErrLedgerUnavailable, err)
	}

	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return i.LedgerReceipt{}, fmt.Errorf("%w: status %d: %s", i.ErrLedgerUnavailable, status, data)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return i.LedgerReceipt{Status: i.LedgerRejected, Reason: rejectionReason(data, status)}, nil
	case status < 200 || status >= 300:
		return i.LedgerReceipt{}, fmt.Errorf("%w: unexpected status %d: %s", i.ErrLedgerUnavailable, status, data)
	}

	var out settlementResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return i.LedgerReceipt{}, fmt.Errorf("%w: decoding response: %s", i.ErrLedgerUnavailable, err)
	}
	receipt := i.LedgerReceipt{Reference: out.Reference, Reason: out.Reason}
	switch i.LedgerStatus(out.Status) {
	case i.LedgerConfirmed:
		receipt.Status = i.LedgerConfirmed
	case i.LedgerRejected:
		receipt.Status = i.LedgerRejected
	default:
		receipt.Status = i.LedgerPending
	}
	return receipt, nil
}

// Initialize announces a round and its board commitment.
func (c *Client) Initialize(ctx context.Context, matchID uuid.UUID, round int, players []uuid.UUID, commitment []byte) error {
	ids := make([]string, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.String())
	}
	return c.record(ctx, initializePath, map[string]interface{}{
		"gameId":     matchID.String(),
		"round":      round,
		"players":    ids,
		"commitment": hex.EncodeToString(commitment),
	})
}

// RecordMove mirrors one applied move.
func (c *Client) RecordMove(ctx context.Context, matchID uuid.UUID, round int, mv game.Move) error {
	return c.record(ctx, movePath, map[string]interface{}{
		"gameId":   matchID.String(),
		"round":    round,
		"playerId": mv.PlayerID.String(),
		"cell":     map[string]int{"x": mv.Cell.Row, "y": mv.Cell.Col},
	})
}

// Commit reveals the seed of a finished round.
func (c *Client) Commit(ctx context.Context, matchID uuid.UUID, round int, seed []byte) error {
	return c.record(ctx, commitPath, map[string]interface{}{
		"gameId": matchID.String(),
		"round":  round,
		"seed":   hex.EncodeToString(seed),
	})
}

func (c *Client) record(ctx context.Context, path string, body interface{}) error {
	status, data, err := c.post(ctx, path, "", body)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%s returned %d: %s", path, status, data)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, body interface{}) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func rejectionReason(data []byte, status int) string {
	var out settlementResponse
	if err := json.Unmarshal(data, &out); err == nil && out.Reason != "" {
		return out.Reason
	}
	if len(data) > 0 {
		return string(data)
	}
	return http.StatusText(status)
}
