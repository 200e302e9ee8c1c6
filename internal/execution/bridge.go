package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// BridgeBroker talks to an execution sidecar over HTTP. The sidecar owns
// broker authentication and SDK transport; this client only needs the three
// order operations.
type BridgeBroker struct {
	baseURL string
	client  *http.Client
}

// NewBridgeBroker creates a client for the sidecar at baseURL
// (e.g. "http://execution-bridge:8787").
func NewBridgeBroker(baseURL string) *BridgeBroker {
	return &BridgeBroker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (b *BridgeBroker) Name() string { return "bridge" }

type bridgeOrderReq struct {
	PosID  string `json:"pos_id,omitempty"`
	Symbol string `json:"symbol"`
	Side   string `json:"side"`
	Qty    int64  `json:"qty"`
}

type bridgeOrderResp struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error,omitempty"`
}

func (b *BridgeBroker) PlaceOrder(ctx context.Context, symbol, side string, qty int64) (string, error) {
	body, err := json.Marshal(bridgeOrderReq{PosID: PosIDFrom(ctx), Symbol: symbol, Side: side, Qty: qty})
	if err != nil {
		return "", fmt.Errorf("bridge: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("bridge: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("bridge: place order: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("bridge: place order: unexpected status %d", resp.StatusCode)
	}

	var out bridgeOrderResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("bridge: decode response: %w", err)
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("bridge: place order rejected: %s", out.Error)
	}
	return out.OrderID, nil
}

func (b *BridgeBroker) CancelOrder(ctx context.Context, brokerOrderID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, b.baseURL+"/orders/"+brokerOrderID, nil)
	if err != nil {
		return false, fmt.Errorf("bridge: create request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("bridge: cancel order: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusConflict: // already filled
		return false, nil
	default:
		return false, fmt.Errorf("bridge: cancel order: unexpected status %d", resp.StatusCode)
	}
}

func (b *BridgeBroker) QueryOrder(ctx context.Context, brokerOrderID string) (OrderStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/orders/"+brokerOrderID, nil)
	if err != nil {
		return OrderStatus{}, fmt.Errorf("bridge: create request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return OrderStatus{}, fmt.Errorf("bridge: query order: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return OrderStatus{}, fmt.Errorf("bridge: query order: unexpected status %d", resp.StatusCode)
	}
	var st OrderStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return OrderStatus{}, fmt.Errorf("bridge: decode status: %w", err)
	}
	return st, nil
}
