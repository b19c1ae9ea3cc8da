// Package venue defines the liquidity-venue collaborator the engine executes
// against, plus a registry and an in-memory development pool. The engine
// never inspects a venue's internals: it opens and closes range positions,
// asks for the current tick and price, and moves tokens through the custody
// primitives. Prices and ticks share one signed integer axis; a "tick" is any
// integer on that axis and registered order thresholds are always multiples
// of the venue's tick spacing.
package venue

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnknownPool is returned for a pool the venue does not manage.
	ErrUnknownPool = errors.New("venue: unknown pool")
	// ErrRecipientBlocked is returned by Take when the recipient is
	// disallowed from receiving the asset. Recoverable via a deferred
	// payment to the fallback recipient.
	ErrRecipientBlocked = errors.New("venue: recipient cannot receive asset")
	// ErrInsufficientCustody is returned by Take when the venue does not
	// currently hold enough of the asset. Recoverable via a deferred payment
	// once custody is topped up.
	ErrInsufficientCustody = errors.New("venue: insufficient custodied balance")
	// ErrInsufficientFunds is returned by Settle when the payer cannot cover
	// the amount. Not recoverable; the triggering operation is rejected.
	ErrInsufficientFunds = errors.New("venue: payer balance too low")
)

// Direction is the price expectation of a resting order.
type Direction uint8

const (
	// Rising orders convert base to quote as the price climbs through the
	// order's range.
	Rising Direction = iota
	// Falling orders convert quote to base as the price drops through it.
	Falling
)

func (d Direction) String() string {
	if d == Rising {
		return "rising"
	}
	return "falling"
}

// Amounts is a token delta for both sides of a pool's pair.
type Amounts struct {
	Base  int64 `json:"base"`
	Quote int64 `json:"quote"`
}

// Add returns the componentwise sum.
func (a Amounts) Add(o Amounts) Amounts {
	return Amounts{Base: a.Base + o.Base, Quote: a.Quote + o.Quote}
}

// Total returns the combined value of both legs under the venue's value
// model (both legs share the liquidity unit).
func (a Amounts) Total() int64 {
	return a.Base + a.Quote
}

// Venue is the external liquidity source the engine rests orders against.
// Implementations must be safe for the engine's strictly sequential call
// pattern; they are not required to be internally concurrent.
type Venue interface {
	// Spacing returns the pool's tick spacing, fixed for the pool's lifetime.
	Spacing(pool common.Address) (int64, error)
	// CurrentTick returns the pool's live tick.
	CurrentTick(pool common.Address) (int64, error)
	// CurrentPrice returns the pool's live price on the tick axis. It is not
	// necessarily a multiple of the spacing and may be negative.
	CurrentPrice(pool common.Address) (int64, error)
	// Pair returns the pool's base and quote currencies.
	Pair(pool common.Address) (base, quote common.Address, err error)

	// LiquidityFor computes the resting size a deposit of amount (in the
	// direction's entry currency) buys over [lower, upper) at the current
	// price. The implied entry-side cost of opening that size never exceeds
	// amount.
	LiquidityFor(pool common.Address, lower, upper int64, dir Direction, amount int64) (int64, error)
	// QuotePosition values a position of the given size without touching it.
	QuotePosition(pool common.Address, lower, upper, liquidity int64) (Amounts, error)
	// OpenPosition adds liquidity over [lower, upper) and returns the token
	// amounts owed to the pool. Salt disambiguates positions with identical
	// ranges.
	OpenPosition(pool common.Address, lower, upper, liquidity int64, salt uint64) (Amounts, error)
	// ClosePosition removes liquidity and returns the token amounts released.
	ClosePosition(pool common.Address, lower, upper, liquidity int64, salt uint64) (Amounts, error)

	// Take pays amount of currency out of the venue's custody to recipient.
	Take(currency, recipient common.Address, amount int64) error
	// Settle pulls amount of currency from payer into the venue's custody.
	Settle(currency, payer common.Address, amount int64) error
}
