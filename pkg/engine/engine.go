package engine

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/openpredict/rangebook/pkg/engine/book"
	"github.com/openpredict/rangebook/pkg/metrics"
	"github.com/openpredict/rangebook/pkg/storage"
	"github.com/openpredict/rangebook/pkg/venue"
)

// Store is the engine's durable backing. *storage.Store implements it.
type Store interface {
	NewBatch() *pebble.Batch
	Commit(b *pebble.Batch) error

	SaveOrder(w pebble.Writer, rec storage.OrderRecord) error
	DeleteOrder(w pebble.Writer, pool common.Address, id uint64) error
	LoadOrders() ([]storage.OrderRecord, error)
	SaveNextID(w pebble.Writer, pool common.Address, next uint64) error
	LoadNextIDs() (map[common.Address]uint64, error)

	SaveBatch(w pebble.Writer, rec storage.BatchRecord) error
	DeleteBatch(w pebble.Writer, pool common.Address, key common.Hash) error
	LoadBatches() ([]storage.BatchRecord, error)

	SavePayment(w pebble.Writer, rec storage.PaymentRecord) error
	DeletePayment(w pebble.Writer, key common.Hash) error
	LoadPayments() ([]storage.PaymentRecord, error)
	SaveDeferredTotal(w pebble.Writer, currency common.Address, amount int64) error
	LoadDeferredTotals() (map[common.Address]int64, error)
	SavePayNonce(w pebble.Writer, nonce uint64) error
	LoadPayNonce() (uint64, error)
}

// Engine owns the order tables, the per-pool tick books and both deferred
// stores. Every operation is a single atomic unit of work serialized by one
// mutex: it validates before mutating, and its durable writes go through one
// Pebble batch.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	venues *venue.Registry
	store  Store
	log    *zap.SugaredLogger
	met    *metrics.Metrics
	sink   EventSink

	books  map[common.Address]*book.Book
	orders map[common.Address]map[uint64]*Order

	batches  map[common.Address]map[common.Hash]*ExecBatch
	payments map[common.Hash]*Payment
	totals   map[common.Address]int64
	payNonce uint64
}

// New builds an engine and reloads any durable state from the store.
func New(cfg Config, venues *venue.Registry, st Store, logger *zap.SugaredLogger) (*Engine, error) {
	if cfg.ExecBudget <= 0 {
		return nil, fmt.Errorf("exec budget must be positive, got %d", cfg.ExecBudget)
	}
	e := &Engine{
		cfg:      cfg,
		venues:   venues,
		store:    st,
		log:      logger,
		books:    make(map[common.Address]*book.Book),
		orders:   make(map[common.Address]map[uint64]*Order),
		batches:  make(map[common.Address]map[common.Hash]*ExecBatch),
		payments: make(map[common.Hash]*Payment),
		totals:   make(map[common.Address]int64),
	}
	if err := e.warmStart(); err != nil {
		return nil, err
	}
	return e, nil
}

// SetMetrics installs Prometheus collectors.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.mu.Lock()
	e.met = m
	m.SetRestingOrders(e.restingLocked())
	e.mu.Unlock()
}

// SetEventSink installs the event sink. The sink runs inside the engine's
// critical section and must not call back into the engine.
func (e *Engine) SetEventSink(sink EventSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

func (e *Engine) emit(typ string, data any) {
	if e.sink != nil {
		e.sink(Event{Type: typ, Data: data})
	}
}

func (e *Engine) restingLocked() int {
	n := 0
	for _, m := range e.orders {
		n += len(m)
	}
	return n
}

// warmStart reloads orders, id counters, deferred batches, payments and
// totals, and rebuilds every pool's tick book. Thresholds held inside a
// pending deferred batch were collected out of the book before shutdown and
// stay out until the batch resolves.
func (e *Engine) warmStart() error {
	batches, err := e.store.LoadBatches()
	if err != nil {
		return fmt.Errorf("load batches: %w", err)
	}
	for _, rec := range batches {
		eb := batchFromRecord(rec)
		pool := e.batches[rec.Pool]
		if pool == nil {
			pool = make(map[common.Hash]*ExecBatch)
			e.batches[rec.Pool] = pool
		}
		pool[rec.Key] = eb
	}

	orders, err := e.store.LoadOrders()
	if err != nil {
		return fmt.Errorf("load orders: %w", err)
	}
	nextIDs, err := e.store.LoadNextIDs()
	if err != nil {
		return fmt.Errorf("load id counters: %w", err)
	}

	for _, rec := range orders {
		ord := &Order{
			Pool:      rec.Pool,
			ID:        rec.ID,
			Owner:     rec.Owner,
			Dir:       venue.Direction(rec.Direction),
			Lower:     rec.Lower,
			Upper:     rec.Upper,
			Liquidity: rec.Liquidity,
			Partial:   rec.Partial,
		}
		b, err := e.bookFor(ord.Pool)
		if err != nil {
			return fmt.Errorf("pool %s has stored orders but no venue: %w", ord.Pool.Hex(), err)
		}
		if e.orders[ord.Pool] == nil {
			e.orders[ord.Pool] = make(map[uint64]*Order)
		}
		e.orders[ord.Pool][ord.ID] = ord

		for _, t := range ord.Thresholds(b.Spacing()) {
			if e.thresholdHeldByBatch(ord.Pool, ord.ID, t, b.Spacing()) {
				continue
			}
			b.Insert(t, ord.ID)
		}
	}
	for pool, next := range nextIDs {
		b, err := e.bookFor(pool)
		if err != nil {
			return fmt.Errorf("pool %s has an id counter but no venue: %w", pool.Hex(), err)
		}
		b.SetNextID(next)
	}

	payments, err := e.store.LoadPayments()
	if err != nil {
		return fmt.Errorf("load payments: %w", err)
	}
	for _, rec := range payments {
		e.payments[rec.Key] = paymentFromRecord(rec)
	}
	if e.totals, err = e.store.LoadDeferredTotals(); err != nil {
		return fmt.Errorf("load deferred totals: %w", err)
	}
	if e.payNonce, err = e.store.LoadPayNonce(); err != nil {
		return fmt.Errorf("load pay nonce: %w", err)
	}

	if n := e.restingLocked(); n > 0 && e.log != nil {
		e.log.Infow("warm_start", "resting_orders", n,
			"deferred_batches", len(batches), "deferred_payments", len(payments))
	}
	return nil
}

// thresholdHeldByBatch reports whether a pending deferred batch for pool both
// references id and covers tick with its collected interval.
func (e *Engine) thresholdHeldByBatch(pool common.Address, id uint64, tick, spacing int64) bool {
	for _, eb := range e.batches[pool] {
		lo, hi := collectedInterval(eb.FromTick, eb.ToTick, spacing)
		if tick < lo || tick >= hi {
			continue
		}
		for i := range eb.Groups {
			if eb.Groups[i].Find(id) >= 0 {
				return true
			}
		}
	}
	return false
}

// bookFor returns the pool's book, creating it with the venue's spacing on
// first use.
func (e *Engine) bookFor(pool common.Address) (*book.Book, error) {
	if b := e.books[pool]; b != nil {
		return b, nil
	}
	v, err := e.venues.Get(pool)
	if err != nil {
		return nil, err
	}
	spacing, err := v.Spacing(pool)
	if err != nil {
		return nil, err
	}
	if spacing <= 0 {
		return nil, fmt.Errorf("pool %s reports non-positive spacing %d", pool.Hex(), spacing)
	}
	b := book.New(spacing)
	e.books[pool] = b
	return b, nil
}

// PlaceOrder validates and rests a new order: size is computed from the
// input amount and range, a position is opened against the venue, the
// deposit is pulled from the owner, and the order registers at its
// threshold tick(s).
func (e *Engine) PlaceOrder(pool, owner common.Address, dir venue.Direction, lower, upper int64, partial bool, amount int64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.AllowedVenues != nil && !e.cfg.AllowedVenues[pool] {
		return 0, ErrVenueNotAllowed
	}
	v, err := e.venues.Get(pool)
	if err != nil {
		return 0, err
	}
	b, err := e.bookFor(pool)
	if err != nil {
		return 0, err
	}
	spacing := b.Spacing()

	if lower >= upper {
		return 0, ErrInvalidRange
	}
	if lower%spacing != 0 || upper%spacing != 0 {
		return 0, ErrUnalignedRange
	}
	width := upper - lower
	if width < spacing || (partial && width < 2*spacing) {
		return 0, ErrRangeTooNarrow
	}

	tick, err := v.CurrentTick(pool)
	if err != nil {
		return 0, err
	}
	if dir == venue.Rising && tick >= lower {
		return 0, ErrPricePrecondition
	}
	if dir == venue.Falling && tick < upper {
		return 0, ErrPricePrecondition
	}

	base, quote, err := v.Pair(pool)
	if err != nil {
		return 0, err
	}
	entry := base
	if dir == venue.Falling {
		entry = quote
	}
	min, ok := e.cfg.MinOrderSize[entry]
	if !ok {
		min = e.cfg.DefaultMinOrder
	}
	if amount < min {
		return 0, ErrBelowMinimum
	}

	liq, err := v.LiquidityFor(pool, lower, upper, dir, amount)
	if err != nil {
		return 0, err
	}
	if liq <= 0 {
		return 0, ErrBelowMinimum
	}

	// The counter makes a collision effectively unreachable, but the check
	// stays; the advanced counter must survive the rejection.
	id := b.NextID()
	if e.orders[pool] == nil {
		e.orders[pool] = make(map[uint64]*Order)
	}
	if _, exists := e.orders[pool][id]; exists {
		w := e.store.NewBatch()
		if err := e.store.SaveNextID(w, pool, b.PeekNextID()); err == nil {
			_ = e.store.Commit(w)
		}
		return 0, ErrIDCollision
	}

	owed, err := v.OpenPosition(pool, lower, upper, liq, id)
	if err != nil {
		return 0, fmt.Errorf("open position: %w", err)
	}
	if err := e.fund(v, pool, base, quote, owner, owed, lower, upper, liq, id); err != nil {
		return 0, err
	}

	ord := &Order{
		Pool: pool, ID: id, Owner: owner, Dir: dir,
		Lower: lower, Upper: upper, Liquidity: liq, Partial: partial,
	}

	// Persist first; the order only rests in memory once its record is
	// durable. A failed write unwinds the position and refunds the deposit.
	w := e.store.NewBatch()
	if err := e.store.SaveOrder(w, orderRecord(ord)); err != nil {
		e.unwindPlacement(v, pool, base, quote, owner, lower, upper, liq, id)
		return 0, err
	}
	if err := e.store.SaveNextID(w, pool, b.PeekNextID()); err != nil {
		e.unwindPlacement(v, pool, base, quote, owner, lower, upper, liq, id)
		return 0, err
	}
	if err := e.store.Commit(w); err != nil {
		e.unwindPlacement(v, pool, base, quote, owner, lower, upper, liq, id)
		return 0, err
	}

	e.orders[pool][id] = ord
	for _, t := range ord.Thresholds(spacing) {
		b.Insert(t, id)
	}

	e.met.IncOrdersPlaced()
	if e.log != nil {
		e.log.Infow("order_placed", "pool", pool.Hex(), "id", id,
			"owner", owner.Hex(), "dir", dir.String(),
			"lower", lower, "upper", upper, "liquidity", liq, "partial", partial)
	}
	e.emit("order_placed", orderEvent(ord, venue.Amounts{}))
	return id, nil
}

// fund pulls the owed deposit legs from the owner, unwinding the freshly
// opened position if a leg cannot be covered.
func (e *Engine) fund(v venue.Venue, pool, base, quote, owner common.Address, owed venue.Amounts, lower, upper, liq int64, salt uint64) error {
	if owed.Base > 0 {
		if err := v.Settle(base, owner, owed.Base); err != nil {
			_, _ = v.ClosePosition(pool, lower, upper, liq, salt)
			return fmt.Errorf("settle base deposit: %w", err)
		}
	}
	if owed.Quote > 0 {
		if err := v.Settle(quote, owner, owed.Quote); err != nil {
			_, _ = v.ClosePosition(pool, lower, upper, liq, salt)
			if owed.Base > 0 {
				// Return the already-pulled base leg, deferring on failure.
				w := e.store.NewBatch()
				e.pay(w, v, pool, base, owner, owed.Base)
				_ = e.store.Commit(w)
			}
			return fmt.Errorf("settle quote deposit: %w", err)
		}
	}
	return nil
}

// unwindPlacement reverses a freshly opened position after a persistence
// failure: the position closes and the released deposit returns to the
// owner, deferring on a failed payout.
func (e *Engine) unwindPlacement(v venue.Venue, pool, base, quote, owner common.Address, lower, upper, liq int64, salt uint64) {
	amts, err := v.ClosePosition(pool, lower, upper, liq, salt)
	if err != nil {
		if e.log != nil {
			e.log.Errorw("placement_unwind_failed", "pool", pool.Hex(), "salt", salt, "err", err)
		}
		return
	}
	w := e.store.NewBatch()
	e.pay(w, v, pool, base, owner, amts.Base)
	e.pay(w, v, pool, quote, owner, amts.Quote)
	_ = e.store.Commit(w)
}

// CancelOrder closes an order's position and settles the proceeds to the
// owner. Privileged callers (the operator surface) may cancel on behalf of
// any owner. If the estimated proceeds fall below minProceeds the order is
// left untouched.
func (e *Engine) CancelOrder(pool, caller common.Address, id uint64, minProceeds int64, privileged bool) (venue.Amounts, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ord := e.orders[pool][id]
	if ord == nil {
		return venue.Amounts{}, ErrOrderNotFound
	}
	if !privileged && ord.Owner != caller {
		return venue.Amounts{}, ErrNotOwner
	}
	v, err := e.venues.Get(pool)
	if err != nil {
		return venue.Amounts{}, err
	}
	b := e.books[pool]

	est, err := v.QuotePosition(pool, ord.Lower, ord.Upper, ord.Liquidity)
	if err != nil {
		return venue.Amounts{}, err
	}
	if est.Total() < minProceeds {
		return venue.Amounts{}, ErrProceedsTooLow
	}

	amts, err := v.ClosePosition(pool, ord.Lower, ord.Upper, ord.Liquidity, ord.ID)
	if err != nil {
		return venue.Amounts{}, fmt.Errorf("close position: %w", err)
	}

	base, quote, err := v.Pair(pool)
	if err != nil {
		return venue.Amounts{}, err
	}

	w := e.store.NewBatch()
	e.pay(w, v, pool, base, ord.Owner, amts.Base)
	e.pay(w, v, pool, quote, ord.Owner, amts.Quote)

	// A threshold held by a pending deferred batch is not registered; Remove
	// is a no-op there and the batch skips the vanished order at resolution.
	for _, t := range ord.Thresholds(b.Spacing()) {
		b.Remove(t, id)
	}
	delete(e.orders[pool], id)

	if err := e.store.DeleteOrder(w, pool, id); err != nil {
		return venue.Amounts{}, err
	}
	if err := e.store.Commit(w); err != nil {
		return venue.Amounts{}, err
	}

	e.met.IncOrdersCancelled()
	if e.log != nil {
		e.log.Infow("order_cancelled", "pool", pool.Hex(), "id", id,
			"paid_base", amts.Base, "paid_quote", amts.Quote)
	}
	e.emit("order_cancelled", orderEvent(ord, amts))
	return amts, nil
}

// GetOrder returns a copy of a resting order.
func (e *Engine) GetOrder(pool common.Address, id uint64) (Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ord := e.orders[pool][id]
	if ord == nil {
		return Order{}, false
	}
	return *ord, true
}

// OrdersByOwner returns copies of the owner's resting orders on a pool.
func (e *Engine) OrdersByOwner(pool, owner common.Address) []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Order
	for _, ord := range e.orders[pool] {
		if ord.Owner == owner {
			out = append(out, *ord)
		}
	}
	return out
}

func orderRecord(o *Order) storage.OrderRecord {
	return storage.OrderRecord{
		Pool:      o.Pool,
		ID:        o.ID,
		Owner:     o.Owner,
		Direction: uint8(o.Dir),
		Lower:     o.Lower,
		Upper:     o.Upper,
		Liquidity: o.Liquidity,
		Partial:   o.Partial,
	}
}

func orderEvent(o *Order, paid venue.Amounts) OrderEvent {
	return OrderEvent{
		Pool:      o.Pool,
		OrderID:   o.ID,
		Owner:     o.Owner,
		Direction: o.Dir.String(),
		Lower:     o.Lower,
		Upper:     o.Upper,
		Liquidity: o.Liquidity,
		PaidBase:  paid.Base,
		PaidQuote: paid.Quote,
	}
}
