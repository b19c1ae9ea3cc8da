package venue

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// DevPool is an in-memory venue used by the dev node and the test suite.
// Positions follow a linear range-value model: a position of size L over
// [lower, upper) is worth exactly L across both legs at every price, with the
// split between base and quote determined by how far the quantized price has
// travelled through the range. The model keeps every settlement exact in
// integer arithmetic, which is what the engine's conservation guarantees are
// tested against.
type DevPool struct {
	mu    sync.Mutex
	pools map[common.Address]*poolState

	// Custody ledger. Settle moves payer balance into reserves, Take moves
	// reserves out to a recipient balance.
	balances map[common.Address]map[common.Address]int64 // currency -> holder
	reserves map[common.Address]int64                    // currency -> custodied
	blocked  map[common.Address]bool

	// moveHook is the engine's price-move entry point. Called exactly once
	// per price-changing operation.
	moveHook func(pool common.Address, fromTick, toTick int64)
}

type posKey struct {
	lower, upper int64
	salt         uint64
}

type poolState struct {
	base, quote common.Address
	spacing     int64
	price       int64
	positions   map[posKey]int64
}

// NewDevPool creates an empty dev venue.
func NewDevPool() *DevPool {
	return &DevPool{
		pools:    make(map[common.Address]*poolState),
		balances: make(map[common.Address]map[common.Address]int64),
		reserves: make(map[common.Address]int64),
		blocked:  make(map[common.Address]bool),
	}
}

// AddPool registers a pool with a fixed pair, spacing and starting price.
func (d *DevPool) AddPool(pool, base, quote common.Address, spacing, price int64) error {
	if spacing <= 0 {
		return fmt.Errorf("spacing must be positive, got %d", spacing)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.pools[pool]; exists {
		return fmt.Errorf("pool %s already exists", pool.Hex())
	}
	d.pools[pool] = &poolState{
		base:      base,
		quote:     quote,
		spacing:   spacing,
		price:     price,
		positions: make(map[posKey]int64),
	}
	return nil
}

// OnMove installs the engine's price-move notification hook.
func (d *DevPool) OnMove(hook func(pool common.Address, fromTick, toTick int64)) {
	d.mu.Lock()
	d.moveHook = hook
	d.mu.Unlock()
}

// SetPrice moves the pool price and notifies the engine once.
func (d *DevPool) SetPrice(pool common.Address, price int64) error {
	d.mu.Lock()
	ps, ok := d.pools[pool]
	if !ok {
		d.mu.Unlock()
		return ErrUnknownPool
	}
	from := ps.price
	ps.price = price
	hook := d.moveHook
	d.mu.Unlock()

	if hook != nil && from != price {
		hook(pool, from, price)
	}
	return nil
}

func (d *DevPool) pool(pool common.Address) (*poolState, error) {
	ps, ok := d.pools[pool]
	if !ok {
		return nil, ErrUnknownPool
	}
	return ps, nil
}

// Spacing implements Venue.
func (d *DevPool) Spacing(pool common.Address) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, err := d.pool(pool)
	if err != nil {
		return 0, err
	}
	return ps.spacing, nil
}

// CurrentTick implements Venue.
func (d *DevPool) CurrentTick(pool common.Address) (int64, error) {
	return d.CurrentPrice(pool)
}

// CurrentPrice implements Venue. The dev pool keeps price and tick on the
// same axis with no sub-tick precision.
func (d *DevPool) CurrentPrice(pool common.Address) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, err := d.pool(pool)
	if err != nil {
		return 0, err
	}
	return ps.price, nil
}

// Pair implements Venue.
func (d *DevPool) Pair(pool common.Address) (common.Address, common.Address, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, err := d.pool(pool)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return ps.base, ps.quote, nil
}

func floorToSpacing(v, spacing int64) int64 {
	q := v / spacing
	if v%spacing != 0 && v < 0 {
		q--
	}
	return q * spacing
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// split returns the (base, quote) composition of a position of size liq over
// [lower, upper) at the pool's quantized price.
func (ps *poolState) split(lower, upper, liq int64) Amounts {
	x := clamp(floorToSpacing(ps.price, ps.spacing), lower, upper)
	base := liq * (upper - x) / (upper - lower)
	return Amounts{Base: base, Quote: liq - base}
}

// LiquidityFor implements Venue. The returned size is rounded down so the
// entry-side cost of opening it never exceeds amount; a deposit too small to
// buy one unit of size yields zero.
func (d *DevPool) LiquidityFor(pool common.Address, lower, upper int64, dir Direction, amount int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, err := d.pool(pool)
	if err != nil {
		return 0, err
	}
	if upper <= lower {
		return 0, fmt.Errorf("invalid range [%d,%d)", lower, upper)
	}
	if amount <= 0 {
		return 0, nil
	}

	w := upper - lower
	x := clamp(floorToSpacing(ps.price, ps.spacing), lower, upper)
	var share int64
	if dir == Rising {
		share = upper - x // unconverted base share
	} else {
		share = x - lower // unconverted quote share
	}
	if share <= 0 {
		return 0, nil
	}
	return amount * w / share, nil
}

// QuotePosition implements Venue.
func (d *DevPool) QuotePosition(pool common.Address, lower, upper, liquidity int64) (Amounts, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, err := d.pool(pool)
	if err != nil {
		return Amounts{}, err
	}
	return ps.split(lower, upper, liquidity), nil
}

// OpenPosition implements Venue.
func (d *DevPool) OpenPosition(pool common.Address, lower, upper, liquidity int64, salt uint64) (Amounts, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, err := d.pool(pool)
	if err != nil {
		return Amounts{}, err
	}
	if liquidity <= 0 {
		return Amounts{}, fmt.Errorf("open with non-positive liquidity %d", liquidity)
	}
	ps.positions[posKey{lower, upper, salt}] += liquidity
	return ps.split(lower, upper, liquidity), nil
}

// ClosePosition implements Venue.
func (d *DevPool) ClosePosition(pool common.Address, lower, upper, liquidity int64, salt uint64) (Amounts, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ps, err := d.pool(pool)
	if err != nil {
		return Amounts{}, err
	}
	key := posKey{lower, upper, salt}
	held := ps.positions[key]
	if liquidity <= 0 || held < liquidity {
		return Amounts{}, fmt.Errorf("close %d exceeds held liquidity %d", liquidity, held)
	}
	if held == liquidity {
		delete(ps.positions, key)
	} else {
		ps.positions[key] = held - liquidity
	}
	return ps.split(lower, upper, liquidity), nil
}

// Take implements Venue.
func (d *DevPool) Take(currency, recipient common.Address, amount int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if amount <= 0 {
		return nil
	}
	if d.blocked[recipient] {
		return ErrRecipientBlocked
	}
	if d.reserves[currency] < amount {
		return ErrInsufficientCustody
	}
	d.reserves[currency] -= amount
	d.credit(currency, recipient, amount)
	return nil
}

// Settle implements Venue.
func (d *DevPool) Settle(currency, payer common.Address, amount int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if amount <= 0 {
		return nil
	}
	if d.balances[currency][payer] < amount {
		return ErrInsufficientFunds
	}
	d.balances[currency][payer] -= amount
	d.reserves[currency] += amount
	return nil
}

func (d *DevPool) credit(currency, holder common.Address, amount int64) {
	m := d.balances[currency]
	if m == nil {
		m = make(map[common.Address]int64)
		d.balances[currency] = m
	}
	m[holder] += amount
}

// Credit funds a holder's balance, standing in for a bridge deposit.
func (d *DevPool) Credit(currency, holder common.Address, amount int64) {
	d.mu.Lock()
	d.credit(currency, holder, amount)
	d.mu.Unlock()
}

// Balance returns a holder's balance of currency.
func (d *DevPool) Balance(currency, holder common.Address) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.balances[currency][holder]
}

// Reserve returns the venue's custodied amount of currency.
func (d *DevPool) Reserve(currency common.Address) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reserves[currency]
}

// SetBlocked marks or unmarks a recipient as unable to receive assets.
func (d *DevPool) SetBlocked(addr common.Address, blocked bool) {
	d.mu.Lock()
	d.blocked[addr] = blocked
	d.mu.Unlock()
}

// DrainReserve removes amount from custody, simulating a temporary
// shortfall.
func (d *DevPool) DrainReserve(currency common.Address, amount int64) {
	d.mu.Lock()
	d.reserves[currency] -= amount
	d.mu.Unlock()
}

var _ Venue = (*DevPool)(nil)
