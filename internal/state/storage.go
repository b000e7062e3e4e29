package state

import (
	"math/big"

	"TickVault/internal/hugeint"

	"github.com/holiman/uint256"
)

// Storage is the mutable protocol state block. Every engine operation
// receives it explicitly; nothing in the module mutates it ambiently.
type Storage struct {
	// BalanceLong and BalanceVault are the two sides' collateral, always
	// non-negative after bad-debt clamping.
	BalanceLong  *uint256.Int
	BalanceVault *uint256.Int

	// TotalExpo is the summed leveraged exposure of all live positions.
	TotalExpo *uint256.Int

	// LastPrice and LastUpdateTimestamp anchor funding/PnL application.
	LastPrice           *uint256.Int
	LastUpdateTimestamp int64

	// EMA and LastFundingPerDay carry the funding state machine, at rate scale.
	EMA               *big.Int
	LastFundingPerDay *big.Int

	// Accumulator is the 512-bit liquidation-multiplier accumulator:
	// sum over live ticks of unadjustedLiqPrice(tick) * totalExpo(tick).
	Accumulator hugeint.Uint512

	// PendingBalanceVault tracks provisional vault flows from initiated
	// but not yet validated actions. Signed: deposits add, withdrawals
	// subtract.
	PendingBalanceVault *big.Int

	// StableTotalShares is the stable-token share supply minted against
	// the vault side.
	StableTotalShares *uint256.Int
}

// NewStorage returns an empty state block anchored at the given price and
// timestamp.
func NewStorage(price *uint256.Int, timestamp int64) *Storage {
	return &Storage{
		BalanceLong:         new(uint256.Int),
		BalanceVault:        new(uint256.Int),
		TotalExpo:           new(uint256.Int),
		LastPrice:           new(uint256.Int).Set(price),
		LastUpdateTimestamp: timestamp,
		EMA:                 new(big.Int),
		LastFundingPerDay:   new(big.Int),
		Accumulator:         hugeint.Zero(),
		PendingBalanceVault: new(big.Int),
		StableTotalShares:   new(uint256.Int),
	}
}

// LongTradingExpo is totalExpo - balanceLong, floored at zero.
func (s *Storage) LongTradingExpo() *uint256.Int {
	if s.TotalExpo.Lt(s.BalanceLong) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(s.TotalExpo, s.BalanceLong)
}

// VaultTradingExpo is the vault side's full balance.
func (s *Storage) VaultTradingExpo() *uint256.Int {
	return new(uint256.Int).Set(s.BalanceVault)
}

// TotalBalance is the pool's combined collateral.
func (s *Storage) TotalBalance() *uint256.Int {
	return new(uint256.Int).Add(s.BalanceLong, s.BalanceVault)
}

// VaultAvailable is the vault balance adjusted for provisional flows,
// floored at zero. Used to price stable-token shares.
func (s *Storage) VaultAvailable() *uint256.Int {
	v := new(big.Int).Add(s.BalanceVault.ToBig(), s.PendingBalanceVault)
	if v.Sign() <= 0 {
		return new(uint256.Int)
	}
	out, _ := uint256.FromBig(v)
	return out
}

// Snapshot is a point-in-time copy of the storage block, decoupled from
// the live pointers so later mutation cannot corrupt a persisted copy.
type Snapshot struct {
	BalanceLong         *uint256.Int
	BalanceVault        *uint256.Int
	TotalExpo           *uint256.Int
	LastPrice           *uint256.Int
	LastUpdateTimestamp int64
	EMA                 *big.Int
	LastFundingPerDay   *big.Int
	Accumulator         hugeint.Uint512
	PendingBalanceVault *big.Int
	StableTotalShares   *uint256.Int
}

// Snapshot deep-copies the storage block.
func (s *Storage) Snapshot() Snapshot {
	return Snapshot{
		BalanceLong:         new(uint256.Int).Set(s.BalanceLong),
		BalanceVault:        new(uint256.Int).Set(s.BalanceVault),
		TotalExpo:           new(uint256.Int).Set(s.TotalExpo),
		LastPrice:           new(uint256.Int).Set(s.LastPrice),
		LastUpdateTimestamp: s.LastUpdateTimestamp,
		EMA:                 new(big.Int).Set(s.EMA),
		LastFundingPerDay:   new(big.Int).Set(s.LastFundingPerDay),
		Accumulator:         s.Accumulator,
		PendingBalanceVault: new(big.Int).Set(s.PendingBalanceVault),
		StableTotalShares:   new(uint256.Int).Set(s.StableTotalShares),
	}
}

// Restore overwrites the storage block from a snapshot.
func (s *Storage) Restore(snap Snapshot) {
	s.BalanceLong = new(uint256.Int).Set(snap.BalanceLong)
	s.BalanceVault = new(uint256.Int).Set(snap.BalanceVault)
	s.TotalExpo = new(uint256.Int).Set(snap.TotalExpo)
	s.LastPrice = new(uint256.Int).Set(snap.LastPrice)
	s.LastUpdateTimestamp = snap.LastUpdateTimestamp
	s.EMA = new(big.Int).Set(snap.EMA)
	s.LastFundingPerDay = new(big.Int).Set(snap.LastFundingPerDay)
	s.Accumulator = snap.Accumulator
	s.PendingBalanceVault = new(big.Int).Set(snap.PendingBalanceVault)
	s.StableTotalShares = new(uint256.Int).Set(snap.StableTotalShares)
}
