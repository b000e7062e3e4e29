package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Params is the protocol configuration read by the engine. It is set at
// startup (or by an admin surface) and never mutated by the core.
type Params struct {
	// TickSpacing is the gap between usable ticks, in tick units.
	TickSpacing int32
	// LiquidationPenalty is the safety offset applied to liquidation
	// prices, expressed in multiples of TickSpacing.
	LiquidationPenalty uint8

	// MinLeverage and MaxLeverage bound position sizing, at leverage scale.
	MinLeverage *uint256.Int
	MaxLeverage *uint256.Int

	// FundingSF is the funding scaling factor at SF scale.
	FundingSF *big.Int
	// EMAPeriod is the funding EMA time constant in seconds.
	EMAPeriod int64

	// ValidatorDeadline is how long after initiation the assigned
	// validator keeps exclusive right to validate, in seconds.
	ValidatorDeadline int64
	// LowLatencyDeadline is the window during which low-latency price
	// data is accepted for validation, in seconds.
	LowLatencyDeadline int64

	// Imbalance limits per action direction, in basis points of the
	// reference expo. Zero disables the check for that direction.
	OpenExpoImbalanceLimitBps       int64
	DepositExpoImbalanceLimitBps    int64
	WithdrawalExpoImbalanceLimitBps int64
	CloseExpoImbalanceLimitBps      int64

	// RebalancerBonusBps is the share of a triggered rebalance paid from
	// the vault to the long side as an incentive.
	RebalancerBonusBps int64

	// MinLongPositionBps keeps the long side from absorbing its entire
	// trading expo: balanceLong is clamped below
	// totalExpo * (BPS - MinLongPositionBps) / BPS.
	MinLongPositionBps int64

	// MinPositionAmount is the smallest collateral accepted on open.
	MinPositionAmount *uint256.Int
	// PositionFeeBps is charged on open/close notional, credited to the vault.
	PositionFeeBps int64

	// MaxLiquidationIteration caps the number of ticks a single sweep may
	// clear, regardless of what the caller requests.
	MaxLiquidationIteration uint16

	// SecurityDeposit is the refundable amount locked with every
	// initiated action, in native units.
	SecurityDeposit *uint256.Int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		TickSpacing:        100,
		LiquidationPenalty: 2,

		MinLeverage: uint256.NewInt(1_000_000_000_000_000_000), // 1x
		MaxLeverage: uint256.NewInt(10_000_000_000_000_000_000), // 10x

		FundingSF: big.NewInt(12), // 0.012
		EMAPeriod: 5 * 86_400,

		ValidatorDeadline:  20 * 60,
		LowLatencyDeadline: 15 * 60,

		OpenExpoImbalanceLimitBps:       500,
		DepositExpoImbalanceLimitBps:    500,
		WithdrawalExpoImbalanceLimitBps: 600,
		CloseExpoImbalanceLimitBps:      600,

		RebalancerBonusBps: 800,
		MinLongPositionBps: 100,

		MinPositionAmount: uint256.NewInt(2_000_000_000_000_000), // 0.002
		PositionFeeBps:    4,

		MaxLiquidationIteration: 10,

		SecurityDeposit: uint256.NewInt(500_000_000_000_000_000), // 0.5
	}
}

// Validate rejects configurations the engine cannot run with.
func (p Params) Validate() error {
	if p.TickSpacing <= 0 {
		return fmt.Errorf("tick spacing must be positive, got %d", p.TickSpacing)
	}
	if p.MinLeverage == nil || p.MaxLeverage == nil || p.MinLeverage.IsZero() {
		return fmt.Errorf("leverage bounds must be set")
	}
	if p.MaxLeverage.Lt(p.MinLeverage) {
		return fmt.Errorf("max leverage %s below min leverage %s", p.MaxLeverage, p.MinLeverage)
	}
	if p.FundingSF == nil || p.FundingSF.Sign() < 0 {
		return fmt.Errorf("funding scaling factor must be non-negative")
	}
	if p.EMAPeriod <= 0 {
		return fmt.Errorf("EMA period must be positive, got %d", p.EMAPeriod)
	}
	if p.MaxLiquidationIteration == 0 {
		return fmt.Errorf("max liquidation iteration must be positive")
	}
	if p.MinLongPositionBps < 0 || p.MinLongPositionBps >= 10_000 {
		return fmt.Errorf("min long position bps out of range: %d", p.MinLongPositionBps)
	}
	return nil
}
