// Package storage persists the engine's durable state in Pebble: order
// records, per-pool id counters, deferred execution batches, deferred
// payments and their per-currency totals. Values are JSON; every engine
// operation stages its writes in one Pebble batch so a crash never leaves a
// half-applied operation on disk.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
)

// OrderRecord is the durable form of a resting order.
type OrderRecord struct {
	Pool      common.Address `json:"pool"`
	ID        uint64         `json:"id"`
	Owner     common.Address `json:"owner"`
	Direction uint8          `json:"direction"`
	Lower     int64          `json:"lower"`
	Upper     int64          `json:"upper"`
	Liquidity int64          `json:"liquidity"`
	Partial   bool           `json:"partial"`
}

// BatchRecord is the durable form of a deferred execution batch.
type BatchRecord struct {
	Pool     common.Address `json:"pool"`
	Key      common.Hash    `json:"key"`
	Groups   [][]uint64     `json:"groups"`
	FromTick int64          `json:"fromTick"`
	ToTick   int64          `json:"toTick"`
}

// PaymentRecord is the durable form of a deferred payment obligation.
type PaymentRecord struct {
	Key       common.Hash    `json:"key"`
	Pool      common.Address `json:"pool"`
	Currency  common.Address `json:"currency"`
	Amount    int64          `json:"amount"`
	Recipient common.Address `json:"recipient"`
	Nonce     uint64         `json:"nonce"`
	Reason    uint8          `json:"reason"`
}

// Store wraps a Pebble database.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a store at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenMemory opens a store backed by an in-memory filesystem. Used in tests
// and throwaway dev runs.
func OpenMemory() (*Store, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("open in-memory pebble: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// NewBatch starts a write batch. Commit it with Commit; batches are the unit
// of crash atomicity.
func (s *Store) NewBatch() *pebble.Batch { return s.db.NewBatch() }

// Commit durably applies a batch.
func (s *Store) Commit(b *pebble.Batch) error {
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func setJSON(w pebble.Writer, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	return w.Set(key, data, pebble.Sync)
}

// SaveOrder stages an order record.
func (s *Store) SaveOrder(w pebble.Writer, rec OrderRecord) error {
	return setJSON(w, orderKey(rec.Pool, rec.ID), rec)
}

// DeleteOrder stages removal of an order record.
func (s *Store) DeleteOrder(w pebble.Writer, pool common.Address, id uint64) error {
	return w.Delete(orderKey(pool, id), pebble.Sync)
}

// LoadOrders returns every stored order record.
func (s *Store) LoadOrders() ([]OrderRecord, error) {
	var out []OrderRecord
	err := s.scan(orderPrefix(), func(_, val []byte) error {
		var rec OrderRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("unmarshal order: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// SaveNextID stages a pool's order id counter.
func (s *Store) SaveNextID(w pebble.Writer, pool common.Address, next uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	return w.Set(seqKey(pool), buf[:], pebble.Sync)
}

// LoadNextIDs returns the id counter of every pool seen so far.
func (s *Store) LoadNextIDs() (map[common.Address]uint64, error) {
	out := make(map[common.Address]uint64)
	err := s.scan(seqPrefix(), func(key, val []byte) error {
		if len(key) != 2+20 || len(val) != 8 {
			return fmt.Errorf("corrupt seq entry %x", key)
		}
		var pool common.Address
		copy(pool[:], key[2:])
		out[pool] = binary.BigEndian.Uint64(val)
		return nil
	})
	return out, err
}

// SaveBatch stages a deferred execution batch.
func (s *Store) SaveBatch(w pebble.Writer, rec BatchRecord) error {
	return setJSON(w, batchKey(rec.Pool, rec.Key), rec)
}

// DeleteBatch stages removal of a deferred execution batch.
func (s *Store) DeleteBatch(w pebble.Writer, pool common.Address, key common.Hash) error {
	return w.Delete(batchKey(pool, key), pebble.Sync)
}

// LoadBatches returns every stored deferred execution batch.
func (s *Store) LoadBatches() ([]BatchRecord, error) {
	var out []BatchRecord
	err := s.scan(batchPrefix(), func(_, val []byte) error {
		var rec BatchRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("unmarshal batch: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// SavePayment stages a deferred payment record.
func (s *Store) SavePayment(w pebble.Writer, rec PaymentRecord) error {
	return setJSON(w, paymentKey(rec.Key), rec)
}

// DeletePayment stages removal of a deferred payment record.
func (s *Store) DeletePayment(w pebble.Writer, key common.Hash) error {
	return w.Delete(paymentKey(key), pebble.Sync)
}

// LoadPayments returns every stored deferred payment.
func (s *Store) LoadPayments() ([]PaymentRecord, error) {
	var out []PaymentRecord
	err := s.scan(paymentPrefix(), func(_, val []byte) error {
		var rec PaymentRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("unmarshal payment: %w", err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// SaveDeferredTotal stages a currency's outstanding deferred total.
// A zero total deletes the entry.
func (s *Store) SaveDeferredTotal(w pebble.Writer, currency common.Address, amount int64) error {
	if amount == 0 {
		return w.Delete(totalKey(currency), pebble.Sync)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(amount))
	return w.Set(totalKey(currency), buf[:], pebble.Sync)
}

// LoadDeferredTotals returns every currency's outstanding deferred total.
func (s *Store) LoadDeferredTotals() (map[common.Address]int64, error) {
	out := make(map[common.Address]int64)
	err := s.scan(totalPrefix(), func(key, val []byte) error {
		if len(key) != 2+20 || len(val) != 8 {
			return fmt.Errorf("corrupt total entry %x", key)
		}
		var cur common.Address
		copy(cur[:], key[2:])
		out[cur] = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return out, err
}

// SavePayNonce stages the deferred payment counter.
func (s *Store) SavePayNonce(w pebble.Writer, nonce uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	return w.Set(payNonceKey(), buf[:], pebble.Sync)
}

// LoadPayNonce returns the deferred payment counter, zero if unset.
func (s *Store) LoadPayNonce() (uint64, error) {
	val, closer, err := s.db.Get(payNonceKey())
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get pay nonce: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("corrupt pay nonce")
	}
	return binary.BigEndian.Uint64(val), nil
}

func (s *Store) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
