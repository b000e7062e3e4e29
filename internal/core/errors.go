package core

import "errors"

// Every operation is all-or-nothing: any of these errors means the
// action's effects were not applied. Funding application and liquidation
// sweeps that ran before the failure are independently valid state
// transitions and remain applied.
var (
	// ErrTimestampTooOld rejects price observations older than the last
	// recorded state update.
	ErrTimestampTooOld = errors.New("price timestamp precedes last update")

	// ErrInvalidLiquidationPrice rejects opens whose liquidation price
	// does not sit strictly below the entry price.
	ErrInvalidLiquidationPrice = errors.New("liquidation price must be below entry price")

	// ErrLeverageTooLow / ErrLeverageTooHigh reject position sizing
	// outside the configured bounds.
	ErrLeverageTooLow  = errors.New("leverage below protocol minimum")
	ErrLeverageTooHigh = errors.New("leverage above protocol maximum")

	// ErrAmountTooSmall rejects positions below the minimum size.
	ErrAmountTooSmall = errors.New("amount below minimum position size")

	// ErrZeroAmount rejects empty deposits, withdrawals and closes.
	ErrZeroAmount = errors.New("amount must be positive")

	// ErrCloseExceedsPosition rejects closes larger than the position.
	ErrCloseExceedsPosition = errors.New("close amount exceeds position size")

	// ErrImbalanceLimitReached rejects actions that would push the
	// long/vault imbalance past the configured limit for their direction.
	ErrImbalanceLimitReached = errors.New("pool imbalance limit reached")

	// ErrZeroTradingExpo means the check's reference side has no trading
	// expo to measure imbalance against.
	ErrZeroTradingExpo = errors.New("reference side has zero trading expo")

	// ErrActionMismatch means the user's pending action is of a different
	// kind than the validate call expects.
	ErrActionMismatch = errors.New("pending action kind mismatch")

	// ErrNotOwner rejects operations on positions held by someone else.
	ErrNotOwner = errors.New("caller does not own this position")

	// ErrUnauthorized gates admin recovery attempted before its deadline.
	ErrUnauthorized = errors.New("recovery deadline has not elapsed")

	// ErrRefundFailed aborts a recovery whose security-deposit transfer
	// was rejected. Nothing is applied.
	ErrRefundFailed = errors.New("security deposit refund failed")
)
