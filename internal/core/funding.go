package core

import (
	"math/big"

	"TickVault/internal/event"
	fpmath "TickVault/internal/math"

	"github.com/holiman/uint256"
)

// fundingAt computes (cumulativeFunding, fundingPerDay) for a timestamp
// without mutating state.
func (e *Engine) fundingAt(timestamp int64) (*big.Int, *big.Int, error) {
	if timestamp < e.storage.LastUpdateTimestamp {
		return nil, nil, ErrTimestampTooOld
	}
	if timestamp == e.storage.LastUpdateTimestamp {
		return new(big.Int), new(big.Int).Set(e.storage.EMA), nil
	}

	fundingPerDay := fpmath.FundingPerDay(
		e.storage.LongTradingExpo(),
		e.storage.VaultTradingExpo(),
		e.params.FundingSF,
		e.storage.EMA,
	)
	elapsed := timestamp - e.storage.LastUpdateTimestamp
	cumulative := fpmath.CumulativeFunding(fundingPerDay, elapsed)
	return cumulative, fundingPerDay, nil
}

// applyPnLAndFunding brings both balances current to (price, timestamp):
// price PnL moves value between the sides, funding transfers on top of it,
// then the EMA decays toward the new rate. Conservation holds throughout:
// long + vault is unchanged, bad debt is socialized to the counterparty
// and the long side is capped so its trading expo never reaches zero.
func (e *Engine) applyPnLAndFunding(price *uint256.Int, timestamp int64) error {
	cumulative, fundingPerDay, err := e.fundingAt(timestamp)
	if err != nil {
		return err
	}
	if timestamp == e.storage.LastUpdateTimestamp {
		return nil
	}
	elapsed := timestamp - e.storage.LastUpdateTimestamp

	fundingAsset := fpmath.FundingAsset(cumulative, e.storage.LongTradingExpo())

	newLong := fpmath.LongAssetAvailable(e.storage.TotalExpo, e.storage.BalanceLong, price, e.storage.LastPrice)
	newLong.Sub(newLong, fundingAsset)

	total := e.storage.TotalBalance().ToBig()

	// Bad-debt clamp: a negative side is zeroed, the counterparty absorbs.
	if newLong.Sign() < 0 {
		newLong.SetInt64(0)
	}
	if newLong.Cmp(total) > 0 {
		newLong.Set(total)
	}

	// The long side may never absorb its whole trading expo.
	maxLong := new(big.Int).Mul(e.storage.TotalExpo.ToBig(), big.NewInt(fpmath.BPSDivisor-e.params.MinLongPositionBps))
	maxLong.Quo(maxLong, big.NewInt(fpmath.BPSDivisor))
	if newLong.Cmp(maxLong) > 0 {
		newLong.Set(maxLong)
	}

	newVault := new(big.Int).Sub(total, newLong)

	e.storage.BalanceLong, _ = uint256.FromBig(newLong)
	e.storage.BalanceVault, _ = uint256.FromBig(newVault)
	e.storage.EMA = fpmath.UpdateEMA(fundingPerDay, e.storage.EMA, elapsed, e.params.EMAPeriod)
	e.storage.LastFundingPerDay = fundingPerDay
	e.storage.LastPrice = new(uint256.Int).Set(price)
	e.storage.LastUpdateTimestamp = timestamp

	e.emit(timestamp, &event.FundingApplied{
		FundingPerDay:     fundingPerDay.String(),
		CumulativeFunding: cumulative.String(),
		EMA:               e.storage.EMA.String(),
		BalanceLong:       e.storage.BalanceLong.Dec(),
		BalanceVault:      e.storage.BalanceVault.Dec(),
		Price:             price.Dec(),
		Timestamp:         timestamp,
	})

	if e.metrics != nil {
		e.metrics.FundingApplied.Inc()
		fpd, _ := new(big.Float).SetInt(fundingPerDay).Float64()
		ema, _ := new(big.Float).SetInt(e.storage.EMA).Float64()
		e.metrics.FundingPerDay.Set(fpd)
		e.metrics.FundingEMA.Set(ema)
	}
	return nil
}

// longAssetAvailableWithFunding previews the long balance at (price,
// timestamp) without mutating, already clamped the way
// applyPnLAndFunding would clamp it.
func (e *Engine) longAssetAvailableWithFunding(price *uint256.Int, timestamp int64) (*big.Int, error) {
	cumulative, _, err := e.fundingAt(timestamp)
	if err != nil {
		return nil, err
	}
	newLong := fpmath.LongAssetAvailable(e.storage.TotalExpo, e.storage.BalanceLong, price, e.storage.LastPrice)
	newLong.Sub(newLong, fpmath.FundingAsset(cumulative, e.storage.LongTradingExpo()))

	total := e.storage.TotalBalance().ToBig()
	if newLong.Sign() < 0 {
		newLong.SetInt64(0)
	}
	if newLong.Cmp(total) > 0 {
		newLong.Set(total)
	}
	maxLong := new(big.Int).Mul(e.storage.TotalExpo.ToBig(), big.NewInt(fpmath.BPSDivisor-e.params.MinLongPositionBps))
	maxLong.Quo(maxLong, big.NewInt(fpmath.BPSDivisor))
	if newLong.Cmp(maxLong) > 0 {
		newLong.Set(maxLong)
	}
	return newLong, nil
}

// vaultAssetAvailableWithFunding is the complement of the long-side
// preview, floored at zero.
func (e *Engine) vaultAssetAvailableWithFunding(price *uint256.Int, timestamp int64) (*big.Int, error) {
	long, err := e.longAssetAvailableWithFunding(price, timestamp)
	if err != nil {
		return nil, err
	}
	vault := new(big.Int).Sub(e.storage.TotalBalance().ToBig(), long)
	if vault.Sign() < 0 {
		vault.SetInt64(0)
	}
	return vault, nil
}
