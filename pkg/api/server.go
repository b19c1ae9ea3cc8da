// Package api exposes the engine over REST and WebSocket: order placement
// and cancellation signed by owners, resolution endpoints signed by
// operators, read-only lookups, Prometheus metrics and an event stream.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/openpredict/rangebook/pkg/engine"
	"github.com/openpredict/rangebook/pkg/venue"
)

// Config carries the server's wiring.
type Config struct {
	// Operators may resolve deferred work, set dev prices and cancel any
	// order.
	Operators []common.Address
	// AllowedOrigins for CORS.
	AllowedOrigins []string
	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
}

// Server handles the REST API and WebSocket connections.
type Server struct {
	engine    *engine.Engine
	venues    *venue.Registry
	dev       *venue.DevPool // nil outside dev mode
	operators map[common.Address]bool
	origins   []string
	router    *mux.Router
	hub       *Hub
	log       *zap.SugaredLogger
}

// NewServer builds the router. Pass dev as nil to disable the price
// endpoint.
func NewServer(e *engine.Engine, venues *venue.Registry, dev *venue.DevPool, cfg Config, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine:    e,
		venues:    venues,
		dev:       dev,
		operators: make(map[common.Address]bool, len(cfg.Operators)),
		origins:   cfg.AllowedOrigins,
		router:    mux.NewRouter(),
		hub:       NewHub(log),
		log:       log,
	}
	for _, op := range cfg.Operators {
		s.operators[op] = true
	}
	s.setupRoutes(cfg.Metrics)
	return s
}

func (s *Server) setupRoutes(metricsHandler http.Handler) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Pool endpoints
	api.HandleFunc("/pools", s.handleListPools).Methods("GET")
	api.HandleFunc("/pools/{pool}", s.handleGetPool).Methods("GET")
	api.HandleFunc("/pools/{pool}/price", s.handleSetPrice).Methods("POST")
	api.HandleFunc("/pools/{pool}/batches", s.handleListBatches).Methods("GET")
	api.HandleFunc("/pools/{pool}/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/pools/{pool}/owners/{address}/orders", s.handleListOrders).Methods("GET")

	// Order lifecycle
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// Deferred work
	api.HandleFunc("/resolve/execution", s.handleResolveExecution).Methods("POST")
	api.HandleFunc("/resolve/payment", s.handleResolvePayment).Methods("POST")
	api.HandleFunc("/payments", s.handleListPayments).Methods("GET")
	api.HandleFunc("/payments/totals/{currency}", s.handleDeferredTotal).Methods("GET")

	// WebSocket event stream
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if metricsHandler != nil {
		s.router.Handle("/metrics", metricsHandler).Methods("GET")
	}
}

// Start runs the hub and blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	if s.log != nil {
		s.log.Infow("api_server_starting", "addr", addr)
	}
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// BroadcastEvent pushes an engine event to WebSocket subscribers. Installed
// as the engine's event sink; must stay non-blocking.
func (s *Server) BroadcastEvent(ev engine.Event) {
	msg := WSMessage{Type: ev.Type, Data: ev.Data}
	s.hub.BroadcastToChannel(ev.Type, msg)
	s.hub.BroadcastToChannel("events", msg)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools := s.venues.Pools()
	response := make([]PoolInfo, 0, len(pools))
	for _, pool := range pools {
		if info, err := s.poolInfo(pool); err == nil {
			response = append(response, info)
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	pool, ok := addressVar(w, r, "pool")
	if !ok {
		return
	}
	info, err := s.poolInfo(pool)
	if err != nil {
		respondError(w, http.StatusNotFound, "pool not found", err.Error())
		return
	}
	respondJSON(w, info)
}

func (s *Server) poolInfo(pool common.Address) (PoolInfo, error) {
	v, err := s.venues.Get(pool)
	if err != nil {
		return PoolInfo{}, err
	}
	spacing, err := v.Spacing(pool)
	if err != nil {
		return PoolInfo{}, err
	}
	price, err := v.CurrentPrice(pool)
	if err != nil {
		return PoolInfo{}, err
	}
	tick, err := v.CurrentTick(pool)
	if err != nil {
		return PoolInfo{}, err
	}
	base, quote, err := v.Pair(pool)
	if err != nil {
		return PoolInfo{}, err
	}
	return PoolInfo{
		Pool:    pool.Hex(),
		Base:    base.Hex(),
		Quote:   quote.Hex(),
		Spacing: spacing,
		Price:   price,
		Tick:    tick,
	}, nil
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	if s.dev == nil {
		respondError(w, http.StatusNotFound, "dev pool disabled", "")
		return
	}
	pool, ok := addressVar(w, r, "pool")
	if !ok {
		return
	}
	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if _, err := s.verifyOperator(SetPriceDigest(pool.Hex(), req.Price), req.Signature); err != nil {
		respondError(w, http.StatusForbidden, "unauthorized", err.Error())
		return
	}
	if err := s.dev.SetPrice(pool, req.Price); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "ok"})
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	pool, owner, ok := twoAddresses(w, req.Pool, req.Owner)
	if !ok {
		return
	}
	dir, err := parseDirection(req.Direction)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid direction", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid amount", err.Error())
		return
	}
	if err := verifySigner(owner, PlaceDigest(&req), req.Signature); err != nil {
		respondError(w, http.StatusForbidden, "invalid signature", err.Error())
		return
	}

	id, err := s.engine.PlaceOrder(pool, owner, dir, req.Lower, req.Upper, req.Partial, amount)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, PlaceOrderResponse{Status: "placed", OrderID: id})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	pool, caller, ok := twoAddresses(w, req.Pool, req.Caller)
	if !ok {
		return
	}
	var minProceeds int64
	if req.MinProceeds != "" {
		var err error
		if minProceeds, err = parseAmount(req.MinProceeds); err != nil {
			respondError(w, http.StatusBadRequest, "invalid minProceeds", err.Error())
			return
		}
	}

	digest := CancelDigest(&req)
	privileged := false
	if _, err := s.verifyOperator(digest, req.Signature); err == nil {
		privileged = true
	} else if err := verifySigner(caller, digest, req.Signature); err != nil {
		respondError(w, http.StatusForbidden, "invalid signature", err.Error())
		return
	}

	amts, err := s.engine.CancelOrder(pool, caller, req.OrderID, minProceeds, privileged)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, CancelOrderResponse{
		Status:    "cancelled",
		PaidBase:  amts.Base,
		PaidQuote: amts.Quote,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	pool, ok := addressVar(w, r, "pool")
	if !ok {
		return
	}
	var id uint64
	if _, err := fmt.Sscanf(mux.Vars(r)["id"], "%d", &id); err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", "")
		return
	}
	ord, found := s.engine.GetOrder(pool, id)
	if !found {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, orderInfo(ord))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	pool, ok := addressVar(w, r, "pool")
	if !ok {
		return
	}
	owner, ok := addressVar(w, r, "address")
	if !ok {
		return
	}
	orders := s.engine.OrdersByOwner(pool, owner)
	response := make([]OrderInfo, len(orders))
	for i, ord := range orders {
		response[i] = orderInfo(ord)
	}
	respondJSON(w, response)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	pool, ok := addressVar(w, r, "pool")
	if !ok {
		return
	}
	batches := s.engine.DeferredBatches(pool)
	response := make([]BatchInfo, len(batches))
	for i, b := range batches {
		response[i] = BatchInfo{
			Pool:     pool.Hex(),
			Key:      b.Key.Hex(),
			Orders:   b.Orders(),
			FromTick: b.FromTick,
			ToTick:   b.ToTick,
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleResolveExecution(w http.ResponseWriter, r *http.Request) {
	var req ResolveExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	pool, ok := parseAddress(w, req.Pool)
	if !ok {
		return
	}
	if _, err := s.verifyOperator(ResolveExecutionDigest(&req), req.Signature); err != nil {
		respondError(w, http.StatusForbidden, "unauthorized", err.Error())
		return
	}
	if err := s.engine.ResolveExecution(pool, common.HexToHash(req.Key)); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "resolved"})
}

func (s *Server) handleResolvePayment(w http.ResponseWriter, r *http.Request) {
	var req ResolvePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if _, err := s.verifyOperator(ResolvePaymentDigest(&req), req.Signature); err != nil {
		respondError(w, http.StatusForbidden, "unauthorized", err.Error())
		return
	}
	if err := s.engine.ResolvePayment(common.HexToHash(req.Key)); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, StatusResponse{Status: "resolved"})
}

func (s *Server) handleListPayments(w http.ResponseWriter, r *http.Request) {
	pays := s.engine.ListPayments()
	response := make([]PaymentInfo, len(pays))
	for i, p := range pays {
		response[i] = PaymentInfo{
			Key:       p.Key.Hex(),
			Pool:      p.Pool.Hex(),
			Currency:  p.Currency.Hex(),
			Amount:    p.Amount,
			Recipient: p.Recipient.Hex(),
			Reason:    p.Reason.String(),
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleDeferredTotal(w http.ResponseWriter, r *http.Request) {
	currency, ok := addressVar(w, r, "currency")
	if !ok {
		return
	}
	respondJSON(w, map[string]any{
		"currency": currency.Hex(),
		"total":    s.engine.DeferredTotal(currency),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func orderInfo(o engine.Order) OrderInfo {
	return OrderInfo{
		Pool:      o.Pool.Hex(),
		ID:        o.ID,
		Owner:     o.Owner.Hex(),
		Direction: o.Dir.String(),
		Lower:     o.Lower,
		Upper:     o.Upper,
		Liquidity: o.Liquidity,
		Partial:   o.Partial,
	}
}

func parseDirection(s string) (venue.Direction, error) {
	switch s {
	case "rising":
		return venue.Rising, nil
	case "falling":
		return venue.Falling, nil
	default:
		return 0, fmt.Errorf("direction must be \"rising\" or \"falling\", got %q", s)
	}
}

// parseAmount parses a decimal string into integer base units. Fractional
// or negative amounts are rejected rather than rounded.
func parseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("not a decimal number: %w", err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount must not be negative")
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("amount must be a whole number of base units")
	}
	bi := d.BigInt()
	if !bi.IsInt64() {
		return 0, fmt.Errorf("amount out of range")
	}
	return bi.Int64(), nil
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", s)
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func twoAddresses(w http.ResponseWriter, a, b string) (common.Address, common.Address, bool) {
	addrA, ok := parseAddress(w, a)
	if !ok {
		return common.Address{}, common.Address{}, false
	}
	addrB, ok := parseAddress(w, b)
	if !ok {
		return common.Address{}, common.Address{}, false
	}
	return addrA, addrB, true
}

func addressVar(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	return parseAddress(w, mux.Vars(r)[name])
}

// respondEngineError maps engine and venue errors onto HTTP statuses.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	switch {
	case errors.Is(err, engine.ErrOrderNotFound),
		errors.Is(err, engine.ErrBatchNotFound),
		errors.Is(err, engine.ErrPaymentNotFound),
		errors.Is(err, venue.ErrUnknownPool):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotOwner),
		errors.Is(err, engine.ErrVenueNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrProceedsTooLow):
		status = http.StatusConflict
	case errors.Is(err, venue.ErrInsufficientFunds),
		errors.Is(err, venue.ErrInsufficientCustody):
		status = http.StatusPaymentRequired
	}
	respondError(w, status, "request rejected", err.Error())
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
