package engine

import (
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/openpredict/rangebook/pkg/engine/idblock"
	"github.com/openpredict/rangebook/pkg/storage"
	"github.com/openpredict/rangebook/pkg/venue"
)

// ExecBatch is a chunk of crossed orders whose execution was deferred past
// the per-pass budget. It remembers the move that crossed them; resolution
// replays that move against the live price.
type ExecBatch struct {
	Key      common.Hash
	Groups   []idblock.Block
	FromTick int64
	ToTick   int64
}

// Orders returns the number of ids the batch holds.
func (eb *ExecBatch) Orders() int {
	n := 0
	for i := range eb.Groups {
		n += eb.Groups[i].Count()
	}
	return n
}

// batchDigest keys a batch by its content: the stable encoding of its id
// groups followed by the move's endpoints. Identical content hashes to an
// identical key, which is what makes redundant deferrals detectable.
func batchDigest(groups []idblock.Block, fromTick, toTick int64) common.Hash {
	h := sha3.NewLegacyKeccak256()
	buf := make([]byte, 0, len(groups)*idblock.EncodedSize+16)
	for i := range groups {
		buf = groups[i].AppendBytes(buf)
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(fromTick))
	buf = binary.BigEndian.AppendUint64(buf, uint64(toTick))
	h.Write(buf)
	var key common.Hash
	h.Sum(key[:0])
	return key
}

// Payment is a settlement obligation the venue could not honor at execution
// time. It stays outstanding until an operator resolves it.
type Payment struct {
	Key       common.Hash
	Pool      common.Address
	Currency  common.Address
	Amount    int64
	Recipient common.Address
	Nonce     uint64
	Reason    PayReason
}

func paymentDigest(currency common.Address, amount int64, recipient common.Address, nonce uint64, reason PayReason) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(currency[:])
	h.Write(recipient[:])
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(amount))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])
	h.Write([]byte{byte(reason)})
	var key common.Hash
	h.Sum(key[:0])
	return key
}

// deferGroups records the over-budget remainder of a crossing as durable
// batches. The remainder is chunked so a single resolution never exceeds the
// execution budget itself. A chunk whose key is already pending is dropped;
// its orders are still registered under the pending batch with the same
// content, so nothing is lost.
func (e *Engine) deferGroups(w pebble.Writer, pool common.Address, groups []idblock.Block, fromTick, toTick int64) {
	chunkGroups := e.cfg.ExecBudget / idblock.Capacity
	if chunkGroups < 1 {
		chunkGroups = 1
	}
	if e.batches[pool] == nil {
		e.batches[pool] = make(map[common.Hash]*ExecBatch)
	}

	for start := 0; start < len(groups); start += chunkGroups {
		end := start + chunkGroups
		if end > len(groups) {
			end = len(groups)
		}
		chunk := append([]idblock.Block(nil), groups[start:end]...)
		key := batchDigest(chunk, fromTick, toTick)
		if _, dup := e.batches[pool][key]; dup {
			if e.log != nil {
				e.log.Warnw("deferred_batch_duplicate", "pool", pool.Hex(), "key", key.Hex())
			}
			continue
		}

		eb := &ExecBatch{Key: key, Groups: chunk, FromTick: fromTick, ToTick: toTick}
		e.batches[pool][key] = eb
		if err := e.store.SaveBatch(w, batchRecord(pool, eb)); err != nil && e.log != nil {
			e.log.Errorw("persist_batch_failed", "pool", pool.Hex(), "key", key.Hex(), "err", err)
		}

		e.met.IncBatchesDeferred()
		if e.log != nil {
			e.log.Infow("execution_deferred", "pool", pool.Hex(), "key", key.Hex(),
				"orders", eb.Orders(), "from_tick", fromTick, "to_tick", toTick)
		}
		e.emit("execution_deferred", BatchEvent{
			Pool: pool, Key: key, Orders: eb.Orders(),
			FromTick: fromTick, ToTick: toTick,
		})
	}
}

// ResolveExecution replays a deferred batch against the live price. An
// unreadable venue aborts with the batch still pending and retryable; once
// the replay runs, the batch removal commits with its side effects, so a
// second resolution of the same key fails with ErrBatchNotFound no matter
// how the first went.
func (e *Engine) ResolveExecution(pool common.Address, key common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	eb := e.batches[pool][key]
	if eb == nil {
		return ErrBatchNotFound
	}
	v, err := e.venues.Get(pool)
	if err != nil {
		return err
	}
	b := e.books[pool]
	if b == nil {
		if b, err = e.bookFor(pool); err != nil {
			return err
		}
	}

	w := e.store.NewBatch()
	if err := e.store.DeleteBatch(w, pool, key); err != nil {
		return err
	}
	if err := e.execute(w, v, pool, b, eb.Groups, eb.FromTick, eb.ToTick, false); err != nil {
		return err
	}
	delete(e.batches[pool], key)
	if err := e.store.Commit(w); err != nil {
		return err
	}

	e.met.IncBatchesResolved()
	if e.log != nil {
		e.log.Infow("execution_resolved", "pool", pool.Hex(), "key", key.Hex(),
			"orders", eb.Orders())
	}
	e.emit("execution_resolved", BatchEvent{
		Pool: pool, Key: key, Orders: eb.Orders(),
		FromTick: eb.FromTick, ToTick: eb.ToTick,
	})
	return nil
}

// pay moves amount of currency out of the venue's custody to recipient,
// converting a recoverable failure into a deferred payment obligation. The
// order lifecycle that owes the payment proceeds either way.
func (e *Engine) pay(w pebble.Writer, v venue.Venue, pool, currency, recipient common.Address, amount int64) {
	if amount <= 0 {
		return
	}
	err := v.Take(currency, recipient, amount)
	if err == nil {
		return
	}

	reason := PayCustodyShort
	if errors.Is(err, venue.ErrRecipientBlocked) {
		reason = PayRecipientBlocked
	}

	nonce := e.payNonce
	e.payNonce++
	key := paymentDigest(currency, amount, recipient, nonce, reason)
	p := &Payment{
		Key: key, Pool: pool, Currency: currency, Amount: amount,
		Recipient: recipient, Nonce: nonce, Reason: reason,
	}
	e.payments[key] = p
	e.totals[currency] += amount

	if perr := e.store.SavePayment(w, paymentRecord(p)); perr != nil && e.log != nil {
		e.log.Errorw("persist_payment_failed", "key", key.Hex(), "err", perr)
	}
	if perr := e.store.SaveDeferredTotal(w, currency, e.totals[currency]); perr != nil && e.log != nil {
		e.log.Errorw("persist_total_failed", "currency", currency.Hex(), "err", perr)
	}
	if perr := e.store.SavePayNonce(w, e.payNonce); perr != nil && e.log != nil {
		e.log.Errorw("persist_nonce_failed", "err", perr)
	}

	e.met.IncPaymentsDeferred()
	if e.log != nil {
		e.log.Warnw("payment_deferred", "key", key.Hex(), "currency", currency.Hex(),
			"recipient", recipient.Hex(), "amount", amount,
			"reason", reason.String(), "err", err)
	}
	e.emit("payment_deferred", paymentEvent(p))
}

// ResolvePayment retries an outstanding deferred payment. A payment deferred
// because its recipient was blocked goes to the fallback recipient instead
// of the original one. The transfer runs before any bookkeeping changes, so
// a failed retry leaves the obligation outstanding and retryable.
func (e *Engine) ResolvePayment(key common.Hash) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.payments[key]
	if p == nil {
		return ErrPaymentNotFound
	}
	v, err := e.venues.Get(p.Pool)
	if err != nil {
		return err
	}

	recipient := p.Recipient
	if p.Reason == PayRecipientBlocked {
		recipient = e.cfg.FallbackRecipient
	}
	if err := v.Take(p.Currency, recipient, p.Amount); err != nil {
		return err
	}

	delete(e.payments, key)
	e.totals[p.Currency] -= p.Amount
	if e.totals[p.Currency] == 0 {
		delete(e.totals, p.Currency)
	}

	w := e.store.NewBatch()
	if err := e.store.DeletePayment(w, key); err != nil {
		return err
	}
	if err := e.store.SaveDeferredTotal(w, p.Currency, e.totals[p.Currency]); err != nil {
		return err
	}
	if err := e.store.Commit(w); err != nil {
		return err
	}

	e.met.IncPaymentsResolved()
	if e.log != nil {
		e.log.Infow("payment_resolved", "key", key.Hex(), "currency", p.Currency.Hex(),
			"recipient", recipient.Hex(), "amount", p.Amount, "reason", p.Reason.String())
	}
	e.emit("payment_resolved", paymentEvent(p))
	return nil
}

// DeferredBatches returns copies of a pool's pending execution batches.
func (e *Engine) DeferredBatches(pool common.Address) []ExecBatch {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []ExecBatch
	for _, eb := range e.batches[pool] {
		out = append(out, *eb)
	}
	return out
}

// GetPayment returns a copy of an outstanding deferred payment.
func (e *Engine) GetPayment(key common.Hash) (Payment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := e.payments[key]
	if p == nil {
		return Payment{}, false
	}
	return *p, true
}

// ListPayments returns copies of every outstanding deferred payment.
func (e *Engine) ListPayments() []Payment {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Payment
	for _, p := range e.payments {
		out = append(out, *p)
	}
	return out
}

// DeferredTotal returns the outstanding deferred amount for a currency.
func (e *Engine) DeferredTotal(currency common.Address) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals[currency]
}

func batchRecord(pool common.Address, eb *ExecBatch) storage.BatchRecord {
	groups := make([][]uint64, len(eb.Groups))
	for i := range eb.Groups {
		groups[i] = eb.Groups[i].IDs()
	}
	return storage.BatchRecord{
		Pool: pool, Key: eb.Key, Groups: groups,
		FromTick: eb.FromTick, ToTick: eb.ToTick,
	}
}

func batchFromRecord(rec storage.BatchRecord) *ExecBatch {
	eb := &ExecBatch{Key: rec.Key, FromTick: rec.FromTick, ToTick: rec.ToTick}
	eb.Groups = make([]idblock.Block, len(rec.Groups))
	for i, ids := range rec.Groups {
		for _, id := range ids {
			eb.Groups[i].Append(id)
		}
	}
	return eb
}

func paymentRecord(p *Payment) storage.PaymentRecord {
	return storage.PaymentRecord{
		Key:       p.Key,
		Pool:      p.Pool,
		Currency:  p.Currency,
		Amount:    p.Amount,
		Recipient: p.Recipient,
		Nonce:     p.Nonce,
		Reason:    uint8(p.Reason),
	}
}

func paymentFromRecord(rec storage.PaymentRecord) *Payment {
	return &Payment{
		Key:       rec.Key,
		Pool:      rec.Pool,
		Currency:  rec.Currency,
		Amount:    rec.Amount,
		Recipient: rec.Recipient,
		Nonce:     rec.Nonce,
		Reason:    PayReason(rec.Reason),
	}
}

func paymentEvent(p *Payment) PaymentEvent {
	return PaymentEvent{
		Key:       p.Key,
		Pool:      p.Pool,
		Currency:  p.Currency,
		Amount:    p.Amount,
		Recipient: p.Recipient,
		Reason:    p.Reason.String(),
	}
}
