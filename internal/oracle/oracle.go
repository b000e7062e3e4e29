// Package oracle defines the price feed contract the engine depends on.
// Concrete feeds (low-latency attestations, on-chain medians) live behind
// this interface; the engine trusts whatever price it is handed.
package oracle

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Action tells the oracle which validation context a price is fetched
// for, so feeds that price initiate and validate differently can do so.
type Action uint8

const (
	ActionInitiateDeposit Action = iota
	ActionValidateDeposit
	ActionInitiateWithdrawal
	ActionValidateWithdrawal
	ActionInitiateOpen
	ActionValidateOpen
	ActionInitiateClose
	ActionValidateClose
	ActionLiquidation
)

// PriceInfo is a price observation with the feed's own timestamp.
type PriceInfo struct {
	Price     *uint256.Int
	Timestamp int64
}

// PriceOracle supplies price observations. ExtraData carries feed-specific
// material (e.g. a signed attestation) opaque to the engine.
type PriceOracle interface {
	GetPrice(action Action, timestamp int64, extraData []byte) (PriceInfo, error)
}

// Fixed is an oracle pinned to a settable price, for tests and local runs.
type Fixed struct {
	price     *uint256.Int
	timestamp int64
}

// NewFixed returns an oracle that always reports the given price.
func NewFixed(price *uint256.Int, timestamp int64) *Fixed {
	return &Fixed{price: new(uint256.Int).Set(price), timestamp: timestamp}
}

// Set repins the reported price and timestamp.
func (f *Fixed) Set(price *uint256.Int, timestamp int64) {
	f.price = new(uint256.Int).Set(price)
	f.timestamp = timestamp
}

// GetPrice implements PriceOracle.
func (f *Fixed) GetPrice(_ Action, _ int64, _ []byte) (PriceInfo, error) {
	if f.price == nil || f.price.IsZero() {
		return PriceInfo{}, fmt.Errorf("no price pinned")
	}
	return PriceInfo{Price: new(uint256.Int).Set(f.price), Timestamp: f.timestamp}, nil
}
