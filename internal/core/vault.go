package core

import (
	"math/big"

	"TickVault/internal/event"
	fpmath "TickVault/internal/math"
	"TickVault/internal/oracle"
	"TickVault/internal/state"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// InitiateDeposit starts a two-phase vault deposit: collateral is pulled
// in and tracked provisionally; shares are minted at validation against a
// second price observation.
func (e *Engine) InitiateDeposit(user, to, validator uuid.UUID, amount *uint256.Int, timestamp int64, extraData []byte) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	price, err := e.oracle.GetPrice(oracle.ActionInitiateDeposit, timestamp, extraData)
	if err != nil {
		return err
	}
	if err := e.ensurePendingSlot(user, price.Timestamp); err != nil {
		return err
	}
	if err := e.applyPnLAndFunding(price.Price, price.Timestamp); err != nil {
		return err
	}
	e.sweep(price.Price, price.Timestamp, e.params.MaxLiquidationIteration)

	if err := e.checkImbalanceLimit(vaultHeavy, e.params.DepositExpoImbalanceLimitBps,
		amount.ToBig(), new(big.Int)); err != nil {
		return err
	}

	if err := e.custody.TransferIn(user, amount); err != nil {
		return err
	}
	if err := e.custody.TransferIn(user, e.params.SecurityDeposit); err != nil {
		return err
	}

	e.storage.PendingBalanceVault.Add(e.storage.PendingBalanceVault, amount.ToBig())
	action := &state.DepositAction{
		ActionInfo: state.ActionInfo{
			User:            user,
			To:              to,
			Validator:       validator,
			Timestamp:       price.Timestamp,
			SecurityDeposit: new(uint256.Int).Set(e.params.SecurityDeposit),
		},
		Amount:       new(uint256.Int).Set(amount),
		BalanceVault: e.depositPricingVault(amount),
		TotalShares:  new(uint256.Int).Set(e.storage.StableTotalShares),
	}
	if _, err := e.queue.Add(action); err != nil {
		// Unreachable: the slot was just ensured.
		return err
	}

	e.emit(price.Timestamp, &event.DepositInitiated{
		User:      user,
		To:        to,
		Amount:    amount.Dec(),
		Timestamp: price.Timestamp,
	})
	e.recordAction("initiate_deposit")
	return nil
}

// ValidateDeposit completes a deposit: shares are minted at the worse of
// the initiation and validation share prices, so a price move between the
// two phases cannot be gamed.
func (e *Engine) ValidateDeposit(user uuid.UUID, timestamp int64, extraData []byte) error {
	a, raw, err := e.queue.Require(user)
	if err != nil {
		return err
	}
	dep, ok := a.(*state.DepositAction)
	if !ok {
		return ErrActionMismatch
	}
	price, err := e.oracle.GetPrice(oracle.ActionValidateDeposit, timestamp, extraData)
	if err != nil {
		return err
	}
	if err := e.applyPnLAndFunding(price.Price, price.Timestamp); err != nil {
		return err
	}
	e.sweep(price.Price, price.Timestamp, e.params.MaxLiquidationIteration)

	sharesAtInit := fpmath.SharesForDeposit(dep.Amount, dep.TotalShares, dep.BalanceVault)
	sharesNow := fpmath.SharesForDeposit(dep.Amount, e.storage.StableTotalShares, e.depositPricingVault(dep.Amount))
	shares := sharesAtInit
	if sharesNow.Lt(shares) {
		shares = sharesNow
	}

	if err := e.custody.MintShares(dep.To, shares); err != nil {
		return err
	}
	if err := e.refundDeposit(dep.Validator, dep.SecurityDeposit); err != nil {
		return err
	}

	e.storage.PendingBalanceVault.Sub(e.storage.PendingBalanceVault, dep.Amount.ToBig())
	e.storage.BalanceVault.Add(e.storage.BalanceVault, dep.Amount)
	e.storage.StableTotalShares.Add(e.storage.StableTotalShares, shares)
	if err := e.queue.ClearAt(raw); err != nil {
		return err
	}

	e.emit(price.Timestamp, &event.DepositValidated{
		User:         user,
		To:           dep.To,
		Amount:       dep.Amount.Dec(),
		SharesMinted: shares.Dec(),
		Timestamp:    price.Timestamp,
	})
	e.maybeTriggerRebalancer(price.Price, price.Timestamp)
	e.recordAction("validate_deposit")
	return nil
}

// InitiateWithdrawal starts a two-phase share redemption: the shares go
// into escrow and the projected payout is reserved against the vault.
func (e *Engine) InitiateWithdrawal(user, to, validator uuid.UUID, shares *uint256.Int, timestamp int64, extraData []byte) error {
	if shares == nil || shares.IsZero() {
		return ErrZeroAmount
	}
	price, err := e.oracle.GetPrice(oracle.ActionInitiateWithdrawal, timestamp, extraData)
	if err != nil {
		return err
	}
	if err := e.ensurePendingSlot(user, price.Timestamp); err != nil {
		return err
	}
	if err := e.applyPnLAndFunding(price.Price, price.Timestamp); err != nil {
		return err
	}
	e.sweep(price.Price, price.Timestamp, e.params.MaxLiquidationIteration)

	vaultAvailable := e.storage.VaultAvailable()
	assets := fpmath.AssetsForShares(shares, e.storage.StableTotalShares, vaultAvailable)

	if err := e.checkImbalanceLimit(longHeavy, e.params.WithdrawalExpoImbalanceLimitBps,
		new(big.Int).Neg(assets.ToBig()), new(big.Int)); err != nil {
		return err
	}

	if err := e.custody.EscrowShares(user, shares); err != nil {
		return err
	}
	if err := e.custody.TransferIn(user, e.params.SecurityDeposit); err != nil {
		return err
	}

	e.storage.PendingBalanceVault.Sub(e.storage.PendingBalanceVault, assets.ToBig())
	action := &state.WithdrawalAction{
		ActionInfo: state.ActionInfo{
			User:            user,
			To:              to,
			Validator:       validator,
			Timestamp:       price.Timestamp,
			SecurityDeposit: new(uint256.Int).Set(e.params.SecurityDeposit),
		},
		Shares:       new(uint256.Int).Set(shares),
		BalanceVault: vaultAvailable,
		TotalShares:  new(uint256.Int).Set(e.storage.StableTotalShares),
	}
	if _, err := e.queue.Add(action); err != nil {
		return err
	}

	e.emit(price.Timestamp, &event.WithdrawalInitiated{
		User:      user,
		To:        to,
		Shares:    shares.Dec(),
		Timestamp: price.Timestamp,
	})
	e.recordAction("initiate_withdrawal")
	return nil
}

// ValidateWithdrawal completes a redemption at the worse of the two
// observed share prices, burns the escrowed shares and pays out.
func (e *Engine) ValidateWithdrawal(user uuid.UUID, timestamp int64, extraData []byte) error {
	a, raw, err := e.queue.Require(user)
	if err != nil {
		return err
	}
	wd, ok := a.(*state.WithdrawalAction)
	if !ok {
		return ErrActionMismatch
	}
	price, err := e.oracle.GetPrice(oracle.ActionValidateWithdrawal, timestamp, extraData)
	if err != nil {
		return err
	}
	if err := e.applyPnLAndFunding(price.Price, price.Timestamp); err != nil {
		return err
	}
	e.sweep(price.Price, price.Timestamp, e.params.MaxLiquidationIteration)

	assetsAtInit := fpmath.AssetsForShares(wd.Shares, wd.TotalShares, wd.BalanceVault)

	// Undo this withdrawal's own reservation before repricing.
	vaultNow := new(big.Int).Add(e.storage.VaultAvailable().ToBig(), assetsAtInit.ToBig())
	vaultNowU, _ := uint256.FromBig(vaultNow)
	assetsNow := fpmath.AssetsForShares(wd.Shares, e.storage.StableTotalShares, vaultNowU)

	assets := assetsAtInit
	if assetsNow.Lt(assets) {
		assets = assetsNow
	}
	if assets.Gt(e.storage.BalanceVault) {
		assets = new(uint256.Int).Set(e.storage.BalanceVault)
	}

	if err := e.custody.BurnEscrowedShares(wd.Shares); err != nil {
		return err
	}
	if err := e.custody.TransferOut(wd.To, assets); err != nil {
		return err
	}
	if err := e.refundDeposit(wd.Validator, wd.SecurityDeposit); err != nil {
		return err
	}

	e.storage.PendingBalanceVault.Add(e.storage.PendingBalanceVault, assetsAtInit.ToBig())
	e.storage.BalanceVault.Sub(e.storage.BalanceVault, assets)
	e.storage.StableTotalShares.Sub(e.storage.StableTotalShares, wd.Shares)
	if err := e.queue.ClearAt(raw); err != nil {
		return err
	}

	e.emit(price.Timestamp, &event.WithdrawalValidated{
		User:      user,
		To:        wd.To,
		Shares:    wd.Shares.Dec(),
		Assets:    assets.Dec(),
		Timestamp: price.Timestamp,
	})
	e.maybeTriggerRebalancer(price.Price, price.Timestamp)
	e.recordAction("validate_withdrawal")
	return nil
}

// depositPricingVault is the vault value a deposit is priced against: the
// available vault excluding the deposit's own provisional amount.
func (e *Engine) depositPricingVault(own *uint256.Int) *uint256.Int {
	v := new(big.Int).Sub(e.storage.VaultAvailable().ToBig(), own.ToBig())
	if v.Sign() <= 0 {
		return new(uint256.Int)
	}
	out, _ := uint256.FromBig(v)
	return out
}

func (e *Engine) recordAction(name string) {
	if e.metrics != nil {
		e.metrics.ActionsProcessed.WithLabelValues(name).Inc()
	}
	e.updateStateGauges()
}
