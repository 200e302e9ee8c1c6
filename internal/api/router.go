// Package api exposes the engine's HTTP surface: manual signal injection,
// broker fill postbacks, position/trade inspection, risk controls, and the
// WebSocket event feed.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"exec-enginev1/internal/gateway"
	"exec-enginev1/internal/marketdata"
	"exec-enginev1/internal/model"
	"exec-enginev1/internal/risk"
	"exec-enginev1/internal/store/sqlite"
	"exec-enginev1/internal/trade"
)

// Server bundles the engine components the handlers need.
type Server struct {
	Pub     trade.Publisher
	Machine *trade.Machine
	Store   *sqlite.TradeStore
	Risk    *risk.Guard
	Quotes  *marketdata.Reader
	Hub     *gateway.Hub
	BaseLot int64
}

// NewRouter sets up the HTTP routes.
func NewRouter(s *Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/execute", s.handleExecute)
	mux.HandleFunc("/api/v1/exit", s.handleExit)
	mux.HandleFunc("/api/v1/fills", s.handleFills)
	mux.HandleFunc("/api/v1/positions", s.handlePositions)
	mux.HandleFunc("/api/v1/trades", s.handleTrades)
	mux.HandleFunc("/api/v1/risk", s.handleRisk)
	mux.HandleFunc("/api/v1/risk/enable", s.handleRiskEnable)
	if s.Hub != nil {
		mux.HandleFunc("/api/v1/events", s.handleEvents)
		mux.HandleFunc("/api/v1/stream", s.Hub.ServeWS)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type executeRequest struct {
	PosID     string  `json:"pos_id"`
	Symbol    string  `json:"symbol"`
	Direction string  `json:"direction"` // LONG or SHORT
	Qty       int64   `json:"qty"`
	Price     float64 `json:"price"` // reference price; 0 = resolve from market data
}

// handleExecute publishes an ENTRY_SIGNAL. Fire-and-forget for the caller:
// the outcome is observable through lifecycle events and /positions.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.PosID == "" || req.Symbol == "" {
		http.Error(w, "pos_id and symbol are required", http.StatusBadRequest)
		return
	}
	dir := model.Direction(req.Direction)
	if dir != model.Long && dir != model.Short {
		http.Error(w, "direction must be LONG or SHORT", http.StatusBadRequest)
		return
	}
	if req.Qty <= 0 {
		req.Qty = s.BaseLot
	}
	if req.Price <= 0 {
		if s.Quotes == nil {
			http.Error(w, "price required (no market data reader configured)", http.StatusBadRequest)
			return
		}
		price, err := s.Quotes.LastPrice(r.Context(), req.Symbol)
		if err != nil {
			http.Error(w, "resolve reference price: "+err.Error(), http.StatusBadGateway)
			return
		}
		req.Price = price
	}

	log.Printf("[api] execute request pos=%s %s %s qty=%d ref=%.2f", req.PosID, req.Direction, req.Symbol, req.Qty, req.Price)
	s.Pub.Publish(model.EntrySignal{
		Meta:           model.NewMeta(req.PosID),
		Symbol:         req.Symbol,
		Direction:      dir,
		Qty:            req.Qty,
		ReferencePrice: req.Price,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "pos_id": req.PosID})
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PosID string `json:"pos_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PosID == "" {
		http.Error(w, "pos_id is required", http.StatusBadRequest)
		return
	}
	s.Pub.Publish(model.ExitSignal{Meta: model.NewMeta(req.PosID), Reason: "operator"})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "pos_id": req.PosID})
}

type fillRequest struct {
	PosID         string  `json:"pos_id"`
	BrokerOrderID string  `json:"broker_order_id"`
	FillPrice     float64 `json:"fill_price"`
	FilledQty     int64   `json:"filled_qty"`
}

// handleFills lets a broker postback (or the execution bridge) inject
// ORDER_FILLED events.
func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req fillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.PosID == "" || req.FillPrice <= 0 {
		http.Error(w, "pos_id and positive fill_price are required", http.StatusBadRequest)
		return
	}
	s.Pub.Publish(model.OrderFilled{
		Meta:          model.NewMeta(req.PosID),
		BrokerOrderID: req.BrokerOrderID,
		FillPrice:     req.FillPrice,
		FilledQty:     req.FilledQty,
	})
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "pos_id": req.PosID})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Machine.Positions())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "trade store not configured", http.StatusServiceUnavailable)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	trades, err := s.Store.GetTrades(limit)
	if err != nil {
		http.Error(w, "query trades: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleRisk(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Risk.State())
}

func (s *Server) handleRiskEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Risk.Enable()
	writeJSON(w, http.StatusOK, s.Risk.State())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Hub.Recent())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode response: %v", err)
	}
}
