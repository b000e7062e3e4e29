package query

// Balances and exposures are decimal strings: the magnitudes are 256-bit
// and JSON numbers cannot carry them. Every response includes
// as_of_sequence for freshness semantics.

// PoolResponse is the aggregate pool state.
type PoolResponse struct {
	BalanceLong          string `json:"balance_long"`
	BalanceVault         string `json:"balance_vault"`
	TotalExpo            string `json:"total_expo"`
	LongTradingExpo      string `json:"long_trading_expo"`
	VaultAvailable       string `json:"vault_available"`
	PendingBalanceVault  string `json:"pending_balance_vault"`
	StableTotalShares    string `json:"stable_total_shares"`
	LastPrice            string `json:"last_price"`
	LastUpdateTimestamp  int64  `json:"last_update_timestamp"`
	FundingPerDay        string `json:"funding_per_day"`
	FundingEMA           string `json:"funding_ema"`
	HighestPopulatedTick int32  `json:"highest_populated_tick"`
	PendingActions       int    `json:"pending_actions"`
	AsOfSequence         int64  `json:"as_of_sequence"`
}

// TickResponse is one populated tick.
type TickResponse struct {
	Tick               int32  `json:"tick"`
	Version            uint64 `json:"version"`
	TotalExpo          string `json:"total_expo"`
	TotalPositions     uint32 `json:"total_positions"`
	LiquidationPenalty uint8  `json:"liquidation_penalty"`
	AsOfSequence       int64  `json:"as_of_sequence"`
}

// PositionResponse is one live position, addressed by its handle.
type PositionResponse struct {
	Tick         int32  `json:"tick"`
	Version      uint64 `json:"version"`
	Index        uint32 `json:"index"`
	User         string `json:"user"`
	Amount       string `json:"amount"`
	TotalExpo    string `json:"total_expo"`
	Timestamp    int64  `json:"timestamp"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// PendingResponse is a user's queued two-phase action.
type PendingResponse struct {
	Kind            string `json:"kind"`
	User            string `json:"user"`
	To              string `json:"to"`
	Validator       string `json:"validator"`
	Timestamp       int64  `json:"timestamp"`
	SecurityDeposit string `json:"security_deposit"`
	AsOfSequence    int64  `json:"as_of_sequence"`
}

// IntegrityReport is the result of a hash-chain verification over the
// event log.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	LatestSequence  int64   `json:"latest_sequence"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
