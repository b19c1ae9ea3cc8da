package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Key layout:
//   o:<pool 20><id 8>   order record
//   q:<pool 20>         per-pool order id counter
//   x:<pool 20><key 32> deferred execution batch
//   p:<key 32>          deferred payment
//   t:<currency 20>     outstanding deferred total per currency
//   n:                  deferred payment uniquifying counter

func orderKey(pool common.Address, id uint64) []byte {
	k := make([]byte, 0, 2+20+8)
	k = append(k, 'o', ':')
	k = append(k, pool.Bytes()...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(k, buf[:]...)
}

func orderPrefix() []byte { return []byte("o:") }

func seqKey(pool common.Address) []byte {
	return append([]byte("q:"), pool.Bytes()...)
}

func seqPrefix() []byte { return []byte("q:") }

func batchKey(pool common.Address, key common.Hash) []byte {
	k := make([]byte, 0, 2+20+32)
	k = append(k, 'x', ':')
	k = append(k, pool.Bytes()...)
	return append(k, key.Bytes()...)
}

func batchPrefix() []byte { return []byte("x:") }

func paymentKey(key common.Hash) []byte {
	return append([]byte("p:"), key.Bytes()...)
}

func paymentPrefix() []byte { return []byte("p:") }

func totalKey(currency common.Address) []byte {
	return append([]byte("t:"), currency.Bytes()...)
}

func totalPrefix() []byte { return []byte("t:") }

func payNonceKey() []byte { return []byte("n:") }

// keyUpperBound returns the smallest key greater than every key with the
// given prefix, for use as an iterator upper bound.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}
