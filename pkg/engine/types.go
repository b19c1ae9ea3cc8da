// Package engine implements the resting-order engine: a price-indexed order
// book layered over an external tick-priced liquidity venue. Orders rest as
// range positions against the venue; when the venue reports a price move the
// engine discovers exactly the orders the move crossed, executes or partially
// executes them, defers oversized crossings past a per-pass budget, and
// converts failed settlements into deferred payment obligations.
package engine

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openpredict/rangebook/pkg/venue"
)

var (
	ErrVenueNotAllowed   = errors.New("engine: venue not allow-listed")
	ErrInvalidRange      = errors.New("engine: lower bound must be below upper bound")
	ErrUnalignedRange    = errors.New("engine: range bounds must be multiples of tick spacing")
	ErrRangeTooNarrow    = errors.New("engine: range too narrow")
	ErrBelowMinimum      = errors.New("engine: amount below minimum order size")
	ErrPricePrecondition = errors.New("engine: current price already beyond order range")
	ErrIDCollision       = errors.New("engine: generated order id already in use")
	ErrOrderNotFound     = errors.New("engine: order not found")
	ErrNotOwner          = errors.New("engine: caller does not own order")
	ErrProceedsTooLow    = errors.New("engine: proceeds below acceptable minimum")
	ErrBatchNotFound     = errors.New("engine: deferred batch not found")
	ErrPaymentNotFound   = errors.New("engine: deferred payment not found")
)

// Order is a resting order. Identity is (pool, id); id 0 is reserved.
// The range [Lower, Upper) is quantized to the pool's tick spacing and the
// resting size is held as an open position against the venue.
type Order struct {
	Pool      common.Address  `json:"pool"`
	ID        uint64          `json:"id"`
	Owner     common.Address  `json:"owner"`
	Dir       venue.Direction `json:"direction"`
	Lower     int64           `json:"lower"`
	Upper     int64           `json:"upper"`
	Liquidity int64           `json:"liquidity"`
	Partial   bool            `json:"partial"`
}

// FulfillmentTick is the threshold whose crossing fills the order entirely:
// the upper bound for a rising order, the lower bound for a falling one.
func (o *Order) FulfillmentTick() int64 {
	if o.Dir == venue.Rising {
		return o.Upper
	}
	return o.Lower
}

// PartialTick is the near-edge threshold one spacing unit inside the entry
// side. Only meaningful when partial fills are enabled.
func (o *Order) PartialTick(spacing int64) int64 {
	if o.Dir == venue.Rising {
		return o.Lower + spacing
	}
	return o.Upper - spacing
}

// Thresholds returns the ticks the order registers at, deduplicated. One
// tick when partial fills are disabled, otherwise two (which collapse to one
// when a narrowed range is a single spacing unit wide).
func (o *Order) Thresholds(spacing int64) []int64 {
	f := o.FulfillmentTick()
	if !o.Partial {
		return []int64{f}
	}
	p := o.PartialTick(spacing)
	if p == f {
		return []int64{f}
	}
	return []int64{p, f}
}

// EntryCurrency is the currency an order is funded in: base for rising
// orders, quote for falling ones.
func (o *Order) EntryCurrency(base, quote common.Address) common.Address {
	if o.Dir == venue.Rising {
		return base
	}
	return quote
}

// PayReason explains why a settlement had to be deferred.
type PayReason uint8

const (
	// PayCustodyShort: the venue temporarily held too little of the asset.
	// Resolution pays the original recipient.
	PayCustodyShort PayReason = iota + 1
	// PayRecipientBlocked: the recipient cannot receive the asset.
	// Resolution pays the fallback administrative recipient instead.
	PayRecipientBlocked
)

func (r PayReason) String() string {
	switch r {
	case PayCustodyShort:
		return "custody_short"
	case PayRecipientBlocked:
		return "recipient_blocked"
	default:
		return "unknown"
	}
}

// Config carries the admin-surface values the engine validates at entry.
type Config struct {
	// ExecBudget caps the number of orders executed in one pass; crossings
	// beyond it are deferred.
	ExecBudget int
	// FeeBps is the fill fee in basis points, charged on settled proceeds.
	FeeBps int64
	// FeeRecipient receives fill fees.
	FeeRecipient common.Address
	// FallbackRecipient receives deferred payments whose original recipient
	// cannot accept the asset.
	FallbackRecipient common.Address
	// MinOrderSize is the per-asset minimum input amount; assets not listed
	// fall back to DefaultMinOrder.
	MinOrderSize map[common.Address]int64
	// DefaultMinOrder applies when MinOrderSize has no entry for the asset.
	DefaultMinOrder int64
	// AllowedVenues gates placement per pool. A nil map allows every pool
	// the registry knows (dev mode).
	AllowedVenues map[common.Address]bool
}

// Event is a state-change notification published to the event sink.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EventSink receives engine events. Called synchronously inside the engine's
// critical section; sinks must not call back into the engine.
type EventSink func(Event)

// OrderEvent is the payload of order lifecycle events.
type OrderEvent struct {
	Pool      common.Address `json:"pool"`
	OrderID   uint64         `json:"orderId"`
	Owner     common.Address `json:"owner"`
	Direction string         `json:"direction"`
	Lower     int64          `json:"lower"`
	Upper     int64          `json:"upper"`
	Liquidity int64          `json:"liquidity"`
	PaidBase  int64          `json:"paidBase,omitempty"`
	PaidQuote int64          `json:"paidQuote,omitempty"`
}

// BatchEvent is the payload of deferred-execution events.
type BatchEvent struct {
	Pool     common.Address `json:"pool"`
	Key      common.Hash    `json:"key"`
	Orders   int            `json:"orders"`
	FromTick int64          `json:"fromTick"`
	ToTick   int64          `json:"toTick"`
}

// PaymentEvent is the payload of deferred-payment events.
type PaymentEvent struct {
	Key       common.Hash    `json:"key"`
	Pool      common.Address `json:"pool"`
	Currency  common.Address `json:"currency"`
	Amount    int64          `json:"amount"`
	Recipient common.Address `json:"recipient"`
	Reason    string         `json:"reason"`
}
