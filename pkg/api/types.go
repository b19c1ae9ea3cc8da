package api

// Request and response types for REST endpoints and WebSocket messages.
// Amounts arrive as decimal strings and are parsed into integer base units;
// prices and ticks are plain integers on the venue's tick axis.

// PoolInfo describes a registered pool.
type PoolInfo struct {
	Pool    string `json:"pool"`
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Spacing int64  `json:"spacing"`
	Price   int64  `json:"price"`
	Tick    int64  `json:"tick"`
}

// OrderInfo describes a resting order.
type OrderInfo struct {
	Pool      string `json:"pool"`
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Direction string `json:"direction"` // "rising" or "falling"
	Lower     int64  `json:"lower"`
	Upper     int64  `json:"upper"`
	Liquidity int64  `json:"liquidity"`
	Partial   bool   `json:"partial"`
}

// BatchInfo describes a pending deferred execution batch.
type BatchInfo struct {
	Pool     string `json:"pool"`
	Key      string `json:"key"`
	Orders   int    `json:"orders"`
	FromTick int64  `json:"fromTick"`
	ToTick   int64  `json:"toTick"`
}

// PaymentInfo describes an outstanding deferred payment.
type PaymentInfo struct {
	Key       string `json:"key"`
	Pool      string `json:"pool"`
	Currency  string `json:"currency"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

// PlaceOrderRequest is the payload for POST /api/v1/orders. The signature
// must recover to the owner address over the request digest.
type PlaceOrderRequest struct {
	Pool      string `json:"pool"`
	Owner     string `json:"owner"`
	Direction string `json:"direction"` // "rising" or "falling"
	Lower     int64  `json:"lower"`
	Upper     int64  `json:"upper"`
	Partial   bool   `json:"partial"`
	Amount    string `json:"amount"` // decimal string, integer base units
	Signature string `json:"signature"`
}

// PlaceOrderResponse is the response from order submission.
type PlaceOrderResponse struct {
	Status  string `json:"status"`
	OrderID uint64 `json:"orderId"`
}

// CancelOrderRequest is the payload for POST /api/v1/orders/cancel. Signed
// by the owner, or by an operator for a privileged cancel.
type CancelOrderRequest struct {
	Pool        string `json:"pool"`
	OrderID     uint64 `json:"orderId"`
	Caller      string `json:"caller"`
	MinProceeds string `json:"minProceeds,omitempty"` // decimal string
	Signature   string `json:"signature"`
}

// CancelOrderResponse reports the settled proceeds.
type CancelOrderResponse struct {
	Status    string `json:"status"`
	PaidBase  int64  `json:"paidBase"`
	PaidQuote int64  `json:"paidQuote"`
}

// ResolveExecutionRequest is the operator payload for
// POST /api/v1/resolve/execution.
type ResolveExecutionRequest struct {
	Pool      string `json:"pool"`
	Key       string `json:"key"`
	Signature string `json:"signature"`
}

// ResolvePaymentRequest is the operator payload for
// POST /api/v1/resolve/payment.
type ResolvePaymentRequest struct {
	Key       string `json:"key"`
	Signature string `json:"signature"`
}

// SetPriceRequest moves a dev pool's price (operator only, dev pool only).
type SetPriceRequest struct {
	Price     int64  `json:"price"`
	Signature string `json:"signature"`
}

// StatusResponse is the generic success envelope.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WSMessage is the envelope for every WebSocket push.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// WSSubscribeRequest is sent by a client to manage channel subscriptions.
// Channels are event types ("order_placed", "payment_deferred", ...) or the
// catch-all "events".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}
