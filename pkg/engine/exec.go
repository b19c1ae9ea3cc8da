package engine

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/openpredict/rangebook/pkg/engine/book"
	"github.com/openpredict/rangebook/pkg/engine/idblock"
	"github.com/openpredict/rangebook/pkg/venue"
)

// collectedInterval returns the half-open tick interval a move from
// fromTick to toTick collects: [min-spacing, max). The one-spacing lead on
// the low side pulls in an order resting exactly at the starting price.
func collectedInterval(fromTick, toTick, spacing int64) (lo, hi int64) {
	lo, hi = fromTick, toTick
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo - spacing, hi
}

// effectiveEnd decides how far a pass may execute. Live moves execute to the
// post-move tick unconditionally. A deferred resolution replays an old move
// against the live price: if the price has since reached or passed the
// original end, the original end stands; if it sits strictly between start
// and end, execution is clamped to it; if it has reversed to or past the
// original start, execution is suppressed and every crossed order re-queues.
func effectiveEnd(fromTick, toTick, liveTick int64, live bool) (end int64, suppressed bool) {
	if live {
		return toTick, false
	}
	if toTick > fromTick {
		switch {
		case liveTick >= toTick:
			return toTick, false
		case liveTick > fromTick:
			return liveTick, false
		default:
			return 0, true
		}
	}
	switch {
	case liveTick <= toTick:
		return toTick, false
	case liveTick < fromTick:
		return liveTick, false
	default:
		return 0, true
	}
}

// OnPriceMove is the venue's price-move entry point, called exactly once per
// price-changing operation with the pre- and post-operation ticks. Crossed
// orders beyond the per-pass budget are deferred.
func (e *Engine) OnPriceMove(pool common.Address, fromTick, toTick int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if fromTick == toTick {
		return nil
	}
	b := e.books[pool]
	if b == nil {
		return nil // no orders have ever rested here
	}
	v, err := e.venues.Get(pool)
	if err != nil {
		return err
	}

	groups := b.CollectAndClear(fromTick, toTick)
	if len(groups) == 0 {
		return nil
	}

	total := 0
	for i := range groups {
		total += groups[i].Count()
	}

	w := e.store.NewBatch()
	if total > e.cfg.ExecBudget {
		var deferred []idblock.Block
		groups, deferred = splitAtBudget(groups, e.cfg.ExecBudget)
		e.deferGroups(w, pool, deferred, fromTick, toTick)
	}
	if err := e.execute(w, v, pool, b, groups, fromTick, toTick, true); err != nil {
		return err
	}
	return e.store.Commit(w)
}

// splitAtBudget splits the crossed groups, preserving order, into an
// immediate prefix of exactly budget orders and the deferred remainder. The
// boundary group is repacked into two blocks when the cut lands inside it.
func splitAtBudget(groups []idblock.Block, budget int) (immediate, deferred []idblock.Block) {
	used := 0
	for i := range groups {
		n := groups[i].Count()
		if used+n <= budget {
			immediate = append(immediate, groups[i])
			used += n
			continue
		}
		room := budget - used
		if room > 0 {
			var head, tail idblock.Block
			for _, id := range groups[i].IDs() {
				if room > 0 {
					head.Append(id)
					room--
				} else {
					tail.Append(id)
				}
			}
			immediate = append(immediate, head)
			deferred = append(deferred, tail)
		} else {
			deferred = append(deferred, groups[i])
		}
		deferred = append(deferred, groups[i+1:]...)
		return immediate, deferred
	}
	return immediate, deferred
}

// execute runs one pass over crossed identifier groups. live marks a pass
// triggered directly by a price move; deferred resolutions pass live=false
// so the effective end is re-derived from the live tick. A deferred pass
// that cannot read the venue returns before touching any state; a live pass
// falls back to the move it was called with, since the venue just reported
// that move itself.
func (e *Engine) execute(w pebble.Writer, v venue.Venue, pool common.Address, b *book.Book, groups []idblock.Block, fromTick, toTick int64, live bool) error {
	liveTick, err := v.CurrentTick(pool)
	if err != nil {
		if !live {
			return fmt.Errorf("live tick: %w", err)
		}
		liveTick = toTick
	}
	price, err := v.CurrentPrice(pool)
	if err != nil {
		if !live {
			return fmt.Errorf("live price: %w", err)
		}
		price = liveTick
	}
	base, quote, err := v.Pair(pool)
	if err != nil {
		if !live {
			return fmt.Errorf("pool pair: %w", err)
		}
		if e.log != nil {
			e.log.Errorw("pair_lookup_failed", "pool", pool.Hex(), "err", err)
		}
		return nil
	}

	spacing := b.Spacing()
	colLo, colHi := collectedInterval(fromTick, toTick, spacing)
	inCollected := func(t int64) bool { return t >= colLo && t < colHi }

	end, suppressed := effectiveEnd(fromTick, toTick, liveTick, live)
	rising := toTick > fromTick
	crossed := func(t int64) bool {
		if suppressed {
			return false
		}
		if rising {
			return t <= end
		}
		return t >= end
	}

	// Fees accumulate across the pass and settle once at the end.
	var feeBase, feeQuote int64

	// Fresh per invocation: an order with two registered thresholds can
	// appear in two groups but must be considered at most once.
	seen := make(map[uint64]struct{})

	for gi := range groups {
		for _, id := range groups[gi].IDs() {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			ord := e.orders[pool][id]
			if ord == nil || ord.Liquidity == 0 {
				continue // closed since deferral; silently skipped
			}

			if crossed(ord.FulfillmentTick()) {
				fb, fq := e.fillOrder(w, v, pool, b, ord, base, quote, inCollected)
				feeBase += fb
				feeQuote += fq
				continue
			}
			if ord.Partial && crossed(ord.PartialTick(spacing)) {
				fb, fq := e.partialFill(w, v, pool, b, ord, base, quote, price, inCollected)
				feeBase += fb
				feeQuote += fq
				continue
			}

			// Not executed: re-queue whichever thresholds the collection
			// actually removed. A threshold outside the collected interval
			// never left the book, and one already re-queued by an earlier
			// chunk of the same crossing must not register twice.
			for _, t := range ord.Thresholds(spacing) {
				if inCollected(t) && !b.Contains(t, id) {
					b.Insert(t, id)
				}
			}
		}
	}

	e.pay(w, v, pool, base, e.cfg.FeeRecipient, feeBase)
	e.pay(w, v, pool, quote, e.cfg.FeeRecipient, feeQuote)
	return nil
}

func (e *Engine) fee(amt int64) int64 {
	return amt * e.cfg.FeeBps / 10_000
}

// fillOrder closes the order's whole resting size, settles the proceeds
// minus fees to the owner and deletes the record. Returns the fees withheld.
func (e *Engine) fillOrder(w pebble.Writer, v venue.Venue, pool common.Address, b *book.Book, ord *Order, base, quote common.Address, inCollected func(int64) bool) (feeBase, feeQuote int64) {
	amts, err := v.ClosePosition(pool, ord.Lower, ord.Upper, ord.Liquidity, ord.ID)
	if err != nil {
		if e.log != nil {
			e.log.Errorw("close_position_failed", "pool", pool.Hex(), "id", ord.ID, "err", err)
		}
		for _, t := range ord.Thresholds(b.Spacing()) {
			if inCollected(t) && !b.Contains(t, ord.ID) {
				b.Insert(t, ord.ID)
			}
		}
		return 0, 0
	}

	feeBase, feeQuote = e.fee(amts.Base), e.fee(amts.Quote)
	paid := venue.Amounts{Base: amts.Base - feeBase, Quote: amts.Quote - feeQuote}
	e.pay(w, v, pool, base, ord.Owner, paid.Base)
	e.pay(w, v, pool, quote, ord.Owner, paid.Quote)

	e.deleteOrder(w, b, ord, inCollected)

	e.met.IncOrdersFilled()
	if e.log != nil {
		e.log.Infow("order_filled", "pool", pool.Hex(), "id", ord.ID,
			"paid_base", paid.Base, "paid_quote", paid.Quote)
	}
	e.emit("order_filled", orderEvent(ord, paid))
	return feeBase, feeQuote
}

// partialFill closes the whole position, narrows the range toward the
// direction of travel, re-opens the un-filled leftover at the narrowed range
// and settles only the traded portion. A leftover that no longer buys any
// size is paid out in full instead of leaving a zero-size ghost order.
func (e *Engine) partialFill(w pebble.Writer, v venue.Venue, pool common.Address, b *book.Book, ord *Order, base, quote common.Address, price int64, inCollected func(int64) bool) (feeBase, feeQuote int64) {
	spacing := b.Spacing()

	amts, err := v.ClosePosition(pool, ord.Lower, ord.Upper, ord.Liquidity, ord.ID)
	if err != nil {
		if e.log != nil {
			e.log.Errorw("close_position_failed", "pool", pool.Hex(), "id", ord.ID, "err", err)
		}
		for _, t := range ord.Thresholds(spacing) {
			if inCollected(t) && !b.Contains(t, ord.ID) {
				b.Insert(t, ord.ID)
			}
		}
		return 0, 0
	}

	// The edge nearest the direction of travel moves to the current price
	// rounded toward the already-traveled side; the opposite edge holds. A
	// degenerate result snaps to exactly one spacing unit.
	nl, nu := ord.Lower, ord.Upper
	if ord.Dir == venue.Rising {
		nl = FloorToSpacing(price, spacing)
		if nl >= ord.Upper {
			nl = ord.Upper - spacing
		}
		if nl < ord.Lower {
			nl = ord.Lower
		}
	} else {
		nu = CeilToSpacing(price, spacing)
		if nu <= ord.Lower {
			nu = ord.Lower + spacing
		}
		if nu > ord.Upper {
			nu = ord.Upper
		}
	}

	leftover := amts.Base
	if ord.Dir == venue.Falling {
		leftover = amts.Quote
	}

	newLiq, err := v.LiquidityFor(pool, nl, nu, ord.Dir, leftover)
	if err != nil {
		newLiq = 0
	}

	var owed venue.Amounts
	reopened := false
	if newLiq > 0 {
		est, qerr := v.QuotePosition(pool, nl, nu, newLiq)
		if qerr == nil && est.Base <= amts.Base && est.Quote <= amts.Quote {
			if owed, err = v.OpenPosition(pool, nl, nu, newLiq, ord.ID); err == nil {
				reopened = true
			}
		}
	}

	if !reopened {
		// Dust: the leftover no longer buys any size. Settle everything.
		feeBase, feeQuote = e.fee(amts.Base), e.fee(amts.Quote)
		paid := venue.Amounts{Base: amts.Base - feeBase, Quote: amts.Quote - feeQuote}
		e.pay(w, v, pool, base, ord.Owner, paid.Base)
		e.pay(w, v, pool, quote, ord.Owner, paid.Quote)
		e.deleteOrder(w, b, ord, inCollected)

		e.met.IncOrdersFilled()
		if e.log != nil {
			e.log.Infow("order_filled", "pool", pool.Hex(), "id", ord.ID,
				"dust", true, "paid_base", paid.Base, "paid_quote", paid.Quote)
		}
		e.emit("order_filled", orderEvent(ord, paid))
		return feeBase, feeQuote
	}

	// Settle the traded portion (and any rounding residue of the leftover).
	tradeBase := amts.Base - owed.Base
	tradeQuote := amts.Quote - owed.Quote
	feeBase, feeQuote = e.fee(tradeBase), e.fee(tradeQuote)
	paid := venue.Amounts{Base: tradeBase - feeBase, Quote: tradeQuote - feeQuote}
	e.pay(w, v, pool, base, ord.Owner, paid.Base)
	e.pay(w, v, pool, quote, ord.Owner, paid.Quote)

	oldTicks := ord.Thresholds(spacing)
	ord.Lower, ord.Upper, ord.Liquidity = nl, nu, newLiq
	newTicks := ord.Thresholds(spacing)
	e.reregister(b, ord.ID, oldTicks, newTicks)

	if err := e.store.SaveOrder(w, orderRecord(ord)); err != nil && e.log != nil {
		e.log.Errorw("persist_order_failed", "pool", pool.Hex(), "id", ord.ID, "err", err)
	}

	e.met.IncPartialFills()
	if e.log != nil {
		e.log.Infow("order_partial_fill", "pool", pool.Hex(), "id", ord.ID,
			"lower", nl, "upper", nu, "liquidity", newLiq,
			"paid_base", paid.Base, "paid_quote", paid.Quote)
	}
	e.emit("order_partial_fill", orderEvent(ord, paid))
	return feeBase, feeQuote
}

// deleteOrder removes the record and any registration the collection pass
// did not already clear (an order's other threshold can sit outside the
// crossed range).
func (e *Engine) deleteOrder(w pebble.Writer, b *book.Book, ord *Order, inCollected func(int64) bool) {
	for _, t := range ord.Thresholds(b.Spacing()) {
		if !inCollected(t) {
			b.Remove(t, ord.ID)
		}
	}
	delete(e.orders[ord.Pool], ord.ID)
	if err := e.store.DeleteOrder(w, ord.Pool, ord.ID); err != nil && e.log != nil {
		e.log.Errorw("delete_order_failed", "pool", ord.Pool.Hex(), "id", ord.ID, "err", err)
	}
}

// reregister reconciles an order's book registrations after its thresholds
// changed from oldTicks to newTicks. Stale old ticks are removed whether or
// not the collection already cleared them (an earlier chunk of the same
// crossing may have re-queued one), and the same tick is never inserted
// twice.
func (e *Engine) reregister(b *book.Book, id uint64, oldTicks, newTicks []int64) {
	for _, t := range oldTicks {
		if !containsTick(newTicks, t) {
			b.Remove(t, id)
		}
	}
	for _, t := range newTicks {
		if !b.Contains(t, id) {
			b.Insert(t, id)
		}
	}
}

func containsTick(ticks []int64, t int64) bool {
	for _, v := range ticks {
		if v == t {
			return true
		}
	}
	return false
}
