package venue

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	pool1  = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	baseC  = common.HexToAddress("0x00000000000000000000000000000000000000B1")
	quoteC = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	holder = common.HexToAddress("0x00000000000000000000000000000000000000D1")
)

func newPool(t *testing.T, price int64) *DevPool {
	t.Helper()
	d := NewDevPool()
	if err := d.AddPool(pool1, baseC, quoteC, 10, price); err != nil {
		t.Fatalf("add pool: %v", err)
	}
	return d
}

// A position of size L over [lower, upper) is worth exactly L at every
// price; only the base/quote split changes as the price traverses the range.
func TestQuotePositionValueModel(t *testing.T) {
	tests := []struct {
		price       int64
		base, quote int64
	}{
		{50, 1000, 0},    // below range: all base
		{100, 1000, 0},   // at lower edge
		{150, 500, 500},  // midway
		{155, 500, 500},  // quantized down to 150
		{170, 300, 700},  // seven spacings in
		{200, 0, 1000},   // at upper edge: all quote
		{250, 0, 1000},   // beyond range
		{-50, 1000, 0},   // negative price clamps to lower
	}
	for _, tt := range tests {
		d := newPool(t, tt.price)
		amts, err := d.QuotePosition(pool1, 100, 200, 1000)
		if err != nil {
			t.Fatalf("price %d: %v", tt.price, err)
		}
		if amts.Base != tt.base || amts.Quote != tt.quote {
			t.Errorf("price %d: split = %+v, want {%d %d}", tt.price, amts, tt.base, tt.quote)
		}
		if amts.Total() != 1000 {
			t.Errorf("price %d: total = %d, want 1000", tt.price, amts.Total())
		}
	}
}

// The size LiquidityFor returns must never cost more than the deposit that
// bought it.
func TestLiquidityForNeverOvercharges(t *testing.T) {
	tests := []struct {
		price        int64
		dir          Direction
		lower, upper int64
		amount       int64
	}{
		{50, Rising, 100, 200, 1000},
		{50, Rising, 100, 200, 999},
		{50, Rising, 100, 170, 37},
		{175, Falling, 100, 200, 1000},
		{175, Falling, 100, 200, 41},
		{250, Falling, 100, 200, 7},
	}
	for _, tt := range tests {
		d := newPool(t, tt.price)
		liq, err := d.LiquidityFor(pool1, tt.lower, tt.upper, tt.dir, tt.amount)
		if err != nil {
			t.Fatalf("liquidity: %v", err)
		}
		if liq <= 0 {
			t.Fatalf("price %d amount %d: no size", tt.price, tt.amount)
		}
		owed, err := d.OpenPosition(pool1, tt.lower, tt.upper, liq, 1)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		entry := owed.Base
		if tt.dir == Falling {
			entry = owed.Quote
		}
		if entry > tt.amount {
			t.Errorf("price %d dir %s: entry cost %d exceeds deposit %d",
				tt.price, tt.dir, entry, tt.amount)
		}
	}
}

func TestClosePositionAccounting(t *testing.T) {
	d := newPool(t, 50)
	if _, err := d.OpenPosition(pool1, 100, 200, 1000, 7); err != nil {
		t.Fatal(err)
	}

	// Closing more than held, or the same range under a different salt, fails.
	if _, err := d.ClosePosition(pool1, 100, 200, 1001, 7); err == nil {
		t.Fatal("overclose accepted")
	}
	if _, err := d.ClosePosition(pool1, 100, 200, 1000, 8); err == nil {
		t.Fatal("wrong salt accepted")
	}

	if _, err := d.ClosePosition(pool1, 100, 200, 400, 7); err != nil {
		t.Fatalf("partial close: %v", err)
	}
	if _, err := d.ClosePosition(pool1, 100, 200, 600, 7); err != nil {
		t.Fatalf("final close: %v", err)
	}
	if _, err := d.ClosePosition(pool1, 100, 200, 1, 7); err == nil {
		t.Fatal("close of emptied position accepted")
	}
}

func TestCustodyFlow(t *testing.T) {
	d := newPool(t, 50)
	d.Credit(baseC, holder, 500)

	if err := d.Settle(baseC, holder, 600); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overdraw settle: got %v", err)
	}
	if err := d.Settle(baseC, holder, 500); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := d.Balance(baseC, holder); got != 0 {
		t.Fatalf("holder balance = %d, want 0", got)
	}
	if got := d.Reserve(baseC); got != 500 {
		t.Fatalf("reserve = %d, want 500", got)
	}

	if err := d.Take(baseC, holder, 600); !errors.Is(err, ErrInsufficientCustody) {
		t.Fatalf("overdraw take: got %v", err)
	}
	d.SetBlocked(holder, true)
	if err := d.Take(baseC, holder, 100); !errors.Is(err, ErrRecipientBlocked) {
		t.Fatalf("blocked take: got %v", err)
	}
	d.SetBlocked(holder, false)
	if err := d.Take(baseC, holder, 500); err != nil {
		t.Fatalf("take: %v", err)
	}
	if got := d.Balance(baseC, holder); got != 500 {
		t.Fatalf("holder balance = %d, want 500", got)
	}
	if got := d.Reserve(baseC); got != 0 {
		t.Fatalf("reserve = %d, want 0", got)
	}
}

func TestSetPriceNotifiesOnce(t *testing.T) {
	d := newPool(t, 50)
	var calls int
	var lastFrom, lastTo int64
	d.OnMove(func(_ common.Address, from, to int64) {
		calls++
		lastFrom, lastTo = from, to
	})

	if err := d.SetPrice(pool1, 250); err != nil {
		t.Fatal(err)
	}
	if calls != 1 || lastFrom != 50 || lastTo != 250 {
		t.Fatalf("hook calls=%d from=%d to=%d", calls, lastFrom, lastTo)
	}

	// Unchanged price must not notify.
	if err := d.SetPrice(pool1, 250); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("no-op move notified, calls=%d", calls)
	}

	if err := d.SetPrice(common.HexToAddress("0xEE"), 10); !errors.Is(err, ErrUnknownPool) {
		t.Fatalf("unknown pool: got %v", err)
	}
}
